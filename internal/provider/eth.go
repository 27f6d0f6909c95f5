package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Typed wrappers over Request so eth reads share the pool's budget and cache.

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// CallContract performs eth_call against the latest block.
func (p *Pool) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	raw, err := p.Request(ctx, "eth_call", callArgs{To: to.Hex(), Data: hexutil.Encode(data)}, "latest")
	if err != nil {
		return nil, err
	}
	return decodeHexResult(raw)
}

// GasPriceGwei returns the current eth_gasPrice estimate in gwei.
func (p *Pool) GasPriceGwei(ctx context.Context) (float64, error) {
	raw, err := p.Request(ctx, "eth_gasPrice")
	if err != nil {
		return 0, err
	}
	wei, err := decodeHexBig(raw)
	if err != nil {
		return 0, err
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return gwei, nil
}

// BalanceAt returns the wallet's latest balance in wei.
func (p *Pool) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	raw, err := p.Request(ctx, "eth_getBalance", addr.Hex(), "latest")
	if err != nil {
		return nil, err
	}
	return decodeHexBig(raw)
}

func decodeHexResult(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return hexutil.Decode(s)
}

func decodeHexBig(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("decode big: %w", err)
	}
	return v, nil
}
