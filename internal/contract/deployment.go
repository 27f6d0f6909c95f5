package contract

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment is the record written at deploy time; the bot only consumes it
// to locate the flash-loan contract and its fee collector.
type Deployment struct {
	Network            string `json:"network"`
	ContractAddress    string `json:"contractAddress"`
	Deployer           string `json:"deployer"`
	FeeCollector       string `json:"feeCollector"`
	MinProfitThreshold string `json:"minProfitThreshold"`
	DeploymentTime     string `json:"deploymentTime"`
}

func LoadDeployment(path string) (*Deployment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment record: %w", err)
	}
	var d Deployment
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse deployment record: %w", err)
	}
	if !common.IsHexAddress(d.ContractAddress) {
		return nil, fmt.Errorf("deployment record has no valid contract address")
	}
	return &d, nil
}

func (d *Deployment) Address() common.Address {
	return common.HexToAddress(d.ContractAddress)
}
