package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Minimal ABI for the flash-loan arbitrage contract: the read-only profit
// estimator, the trade trigger and the completion event.
const arbitrageABI = `[
 {"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address","name":"router1","type":"address"},{"internalType":"address","name":"router2","type":"address"}],"name":"calculateArbitrageProfit","outputs":[{"internalType":"uint256","name":"profit","type":"uint256"},{"internalType":"bool","name":"profitable","type":"bool"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes","name":"params","type":"bytes"}],"name":"startArbitrage","outputs":[],"stateMutability":"nonpayable","type":"function"},
 {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"asset","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"profit","type":"uint256"}],"name":"ArbitrageExecuted","type":"event"}
]`

const receiptPollInterval = 3 * time.Second

// caller is the read path through the provider pool's rate budget.
type caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// backend is the write path: a dedicated submission endpoint outside the
// pool, since a stuck pool must never block a send already decided on.
type backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Client wraps the deployed flash-loan contract.
type Client struct {
	cfg    *config.Config
	pool   caller
	eth    backend
	cabi   abi.ABI
	pk     *ecdsa.PrivateKey
	sender common.Address
	addr   common.Address
	log    *zap.Logger
}

func NewClient(cfg *config.Config, pool caller, log *zap.Logger) (*Client, error) {
	dep, err := LoadDeployment(cfg.Contract.DeploymentFile)
	if err != nil {
		return nil, err
	}

	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	cabi, err := abi.JSON(strings.NewReader(arbitrageABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.WalletPK, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		pool:   pool,
		eth:    ec,
		cabi:   cabi,
		pk:     pk,
		sender: crypto.PubkeyToAddress(pk.PublicKey),
		addr:   dep.Address(),
		log:    log,
	}
	log.Info("contract client ready",
		zap.String("contract", c.addr.Hex()),
		zap.String("trader", c.sender.Hex()))
	return c, nil
}

func (c *Client) Sender() common.Address  { return c.sender }
func (c *Client) Address() common.Address { return c.addr }

// EstimateProfit asks the contract's own read-only estimator through the
// provider pool, so the call shares the pool's budget and cache.
func (c *Client) EstimateProfit(ctx context.Context, tokenA, tokenB common.Address, amountIn *big.Int, buyRouter, sellRouter common.Address) (*big.Int, bool, error) {
	data, err := c.cabi.Pack("calculateArbitrageProfit", tokenA, tokenB, amountIn, buyRouter, sellRouter)
	if err != nil {
		return nil, false, fmt.Errorf("pack calculateArbitrageProfit: %w", err)
	}
	raw, err := c.pool.CallContract(ctx, c.addr, data)
	if err != nil {
		return nil, false, err
	}
	outs, err := c.cabi.Methods["calculateArbitrageProfit"].Outputs.Unpack(raw)
	if err != nil || len(outs) != 2 {
		return nil, false, fmt.Errorf("decode calculateArbitrageProfit: %w", err)
	}
	profit, ok1 := outs[0].(*big.Int)
	profitable, ok2 := outs[1].(bool)
	if !ok1 || !ok2 {
		return nil, false, fmt.Errorf("unexpected calculateArbitrageProfit outputs")
	}
	return profit, profitable, nil
}

// EncodeTradeParams packs the tuple the contract decodes inside its flash
// loan callback.
func EncodeTradeParams(tokenA, tokenB common.Address, amountIn *big.Int, buyRouter, sellRouter common.Address, minProfitWei *big.Int) ([]byte, error) {
	tupleTy, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "tokenA", Type: "address"},
		{Name: "tokenB", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "router1", Type: "address"},
		{Name: "router2", Type: "address"},
		{Name: "minProfit", Type: "uint256"},
	})
	if err != nil {
		return nil, fmt.Errorf("build params type: %w", err)
	}
	args := abi.Arguments{{Type: tupleTy}}
	return args.Pack(struct {
		TokenA    common.Address
		TokenB    common.Address
		AmountIn  *big.Int
		Router1   common.Address
		Router2   common.Address
		MinProfit *big.Int
	}{tokenA, tokenB, amountIn, buyRouter, sellRouter, minProfitWei})
}

// TriggerTrade signs and submits startArbitrage with an explicit gas price
// and limit chosen by the executor.
func (c *Client) TriggerTrade(ctx context.Context, asset common.Address, amountWei *big.Int, encodedParams []byte, gasPriceGwei float64, gasLimit uint64) (common.Hash, error) {
	input, err := c.cabi.Pack("startArbitrage", asset, amountWei, encodedParams)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack startArbitrage: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPriceWei, _ := new(big.Float).Mul(
		big.NewFloat(gasPriceGwei), big.NewFloat(params.GWei),
	).Int(nil)

	chainID := big.NewInt(c.cfg.Chain.ChainID)
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPriceWei,
		Gas:      gasLimit,
		To:       &c.addr,
		Value:    big.NewInt(0),
		Data:     input,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), c.pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until ctx expires. A deadline hit maps to
// ErrTransactionTimeout; the transaction's on-chain fate stays unknown.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	t := time.NewTicker(receiptPollInterval)
	defer t.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, types.ErrTransactionTimeout
		case <-t.C:
		}
	}
}

// ParseExecutedProfit extracts the realized profit from the completion
// event. ok=false means the event was absent or undecodable and the caller
// should fall back to its estimate.
func (c *Client) ParseExecutedProfit(receipt *gethtypes.Receipt) (*big.Int, bool) {
	ev := c.cabi.Events["ArbitrageExecuted"]
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		outs, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(outs) != 2 {
			c.log.Warn("undecodable ArbitrageExecuted event", zap.Error(err))
			continue
		}
		if profit, ok := outs[1].(*big.Int); ok {
			return profit, true
		}
	}
	return nil, false
}
