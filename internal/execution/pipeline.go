package execution

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/you/flash-arb/internal/capital"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/contract"
	"github.com/you/flash-arb/internal/evaluator"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/tradelog"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// quoter re-fetches market data immediately before submission.
type quoter interface {
	RouterQuotes(ctx context.Context, pair types.PairSpec) (types.QuotePair, error)
	GasPriceGwei(ctx context.Context) float64
}

// trader is the contract surface the pipeline drives.
type trader interface {
	TriggerTrade(ctx context.Context, asset common.Address, amountWei *big.Int, encodedParams []byte, gasPriceGwei float64, gasLimit uint64) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	ParseExecutedProfit(receipt *gethtypes.Receipt) (*big.Int, bool)
}

// Result reports one execution attempt. Aborted is set for deliberate
// pre-submission no-ops; Failure only when a submitted trade went wrong.
type Result struct {
	Executed  bool
	DryRun    bool
	Aborted   types.AbortReason
	Success   bool
	ActualUSD float64
	GasUsed   uint64
	TxHash    string
	Failure   types.FailureKind
	Err       error
}

// Pipeline carries an opportunity from verdict to confirmed transaction.
// One attempt at a time; the scan loop guarantees no concurrent calls.
type Pipeline struct {
	cfg    *config.Config
	quotes quoter
	trader trader
	sizer  *capital.Sizer
	market *evaluator.MarketState
	trades *tradelog.Log
	log    *zap.Logger
	dryRun bool
}

func NewPipeline(cfg *config.Config, quotes quoter, trader trader, sizer *capital.Sizer, market *evaluator.MarketState, trades *tradelog.Log, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		quotes: quotes,
		trader: trader,
		sizer:  sizer,
		market: market,
		trades: trades,
		log:    log,
		dryRun: cfg.DryRun,
	}
}

// Execute re-verifies the opportunity on fresh quotes, submits the trade and
// interprets the outcome. A failed attempt is never retried here.
func (p *Pipeline) Execute(ctx context.Context, opp types.Opportunity, ethPriceUSD float64) Result {
	fresh, err := p.quotes.RouterQuotes(ctx, opp.Pair)
	if err != nil {
		p.log.Warn("pre-submission quote refresh failed",
			zap.String("pair", opp.Pair.Name), zap.Error(err))
		return Result{Aborted: types.AbortInsufficientSafetyMargin}
	}

	safetyMargin := p.cfg.Strategy.MinSpreadPct * 1.5 * p.market.SafetyMultiplier()
	if fresh.SpreadPct < safetyMargin {
		p.log.Info("trade canceled, market moved",
			zap.String("pair", opp.Pair.Name),
			zap.Float64("spread_pct", fresh.SpreadPct),
			zap.Float64("required_pct", safetyMargin))
		return Result{Aborted: types.AbortInsufficientSafetyMargin}
	}

	if opp.BorrowETH > p.cfg.Strategy.LargeTradeETH {
		required := p.cfg.Strategy.MinSpreadPct * 2.0
		if fresh.SpreadPct < required {
			p.log.Info("large trade canceled",
				zap.String("pair", opp.Pair.Name),
				zap.Float64("borrow_eth", opp.BorrowETH),
				zap.Float64("spread_pct", fresh.SpreadPct),
				zap.Float64("required_pct", required))
			return Result{Aborted: types.AbortLargeTradeSafetyCheck}
		}
	}

	// Re-derive the router ordering from the fresh quotes; the snapshot
	// that selected this opportunity may already be stale.
	buy, sell := opp.BuyRouter, opp.SellRouter
	direction := opp.Direction
	uniHigher := fresh.Price1 >= fresh.Price2
	if uniHigher != (direction == types.UniToSushi) {
		buy, sell = sell, buy
		if direction == types.UniToSushi {
			direction = types.SushiToUni
		} else {
			direction = types.UniToSushi
		}
		p.log.Info("router ordering flipped on fresh quotes",
			zap.String("pair", opp.Pair.Name), zap.String("direction", string(direction)))
	}

	amountWei := ethToWei(opp.BorrowETH)
	minProfitWei := ethToWei(p.cfg.Strategy.MinProfitFloorETH)
	encoded, err := contract.EncodeTradeParams(
		opp.Pair.BaseAddress(), opp.Pair.QuoteAddress(), amountWei, buy, sell, minProfitWei)
	if err != nil {
		return p.failed(ctx, opp, "", 0, err)
	}

	gasPrice := p.executionGasPrice(ctx, opp.BorrowETH, opp.Urgency)
	gasLimit := submissionGasLimit(opp.BorrowETH)

	if p.dryRun {
		p.log.Info("dry run, trade not submitted",
			zap.String("pair", opp.Pair.Name),
			zap.String("direction", string(direction)),
			zap.Float64("borrow_eth", opp.BorrowETH),
			zap.Float64("expected_usd", opp.NetUSD),
			zap.Float64("gas_gwei", gasPrice))
		return Result{DryRun: true}
	}

	p.log.Info("submitting arbitrage",
		zap.String("pair", opp.Pair.Name),
		zap.String("direction", string(direction)),
		zap.Float64("borrow_eth", opp.BorrowETH),
		zap.Float64("gas_gwei", gasPrice),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("urgency", opp.Urgency))

	txHash, err := p.trader.TriggerTrade(ctx, opp.Pair.BaseAddress(), amountWei, encoded, gasPrice, gasLimit)
	if err != nil {
		return p.failed(ctx, opp, "", 0, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecTimeout())
	defer cancel()
	receipt, err := p.trader.WaitMined(waitCtx, txHash)
	if err != nil {
		return p.failed(ctx, opp, txHash.Hex(), 0, err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return p.failed(ctx, opp, txHash.Hex(), receipt.GasUsed, types.ErrTransactionReverted)
	}

	actualUSD := opp.NetUSD
	if profitWei, ok := p.trader.ParseExecutedProfit(receipt); ok {
		actualUSD = weiToETH(profitWei) * ethPriceUSD
	} else {
		p.log.Warn("completion event missing, using estimate",
			zap.String("tx", txHash.Hex()))
	}

	p.sizer.Scale(true)
	p.market.ObserveResult(true)
	metrics.TradesTotal.WithLabelValues("success").Inc()
	metrics.ProfitUSD.Add(actualUSD)

	p.appendLog(ctx, opp, types.TradeLogEntry{
		TxHash:    txHash.Hex(),
		Success:   true,
		ActualUSD: actualUSD,
		GasUsed:   receipt.GasUsed,
	})

	p.log.Info("arbitrage confirmed",
		zap.String("pair", opp.Pair.Name),
		zap.String("tx", txHash.Hex()),
		zap.Float64("profit_usd", actualUSD),
		zap.Uint64("gas_used", receipt.GasUsed))

	return Result{Executed: true, Success: true, ActualUSD: actualUSD, GasUsed: receipt.GasUsed, TxHash: txHash.Hex()}
}

func (p *Pipeline) failed(ctx context.Context, opp types.Opportunity, txHash string, gasUsed uint64, err error) Result {
	kind := Classify(err)
	p.sizer.Scale(false)
	p.market.ObserveResult(false)
	metrics.TradesTotal.WithLabelValues(string(kind)).Inc()

	p.appendLog(ctx, opp, types.TradeLogEntry{
		TxHash:  txHash,
		Success: false,
		GasUsed: gasUsed,
		Error:   err.Error(),
	})

	p.log.Error("arbitrage failed",
		zap.String("pair", opp.Pair.Name),
		zap.String("tx", txHash),
		zap.String("kind", string(kind)),
		zap.Error(err))

	return Result{Executed: true, Failure: kind, GasUsed: gasUsed, TxHash: txHash, Err: err}
}

func (p *Pipeline) appendLog(ctx context.Context, opp types.Opportunity, partial types.TradeLogEntry) {
	partial.Timestamp = time.Now()
	partial.Pair = opp.Pair.Name
	partial.Direction = opp.Direction
	partial.BorrowETH = opp.BorrowETH
	partial.ExpectedUSD = opp.NetUSD
	partial.GasPriceGwei = opp.GasPriceGwei
	if err := p.trades.Append(ctx, partial); err != nil {
		p.log.Warn("trade log append failed", zap.Error(err))
	}
}

// executionGasPrice scales the current fee by trade size and urgency,
// capped at the configured ceiling.
func (p *Pipeline) executionGasPrice(ctx context.Context, borrowETH float64, urgency string) float64 {
	base := p.quotes.GasPriceGwei(ctx)

	multiplier := 1.0
	switch {
	case borrowETH > 20:
		multiplier = 1.5
	case borrowETH > 10:
		multiplier = 1.3
	case borrowETH > 5:
		multiplier = 1.2
	}
	switch urgency {
	case "high":
		multiplier *= 1.4
	case "low":
		multiplier *= 0.8
	}

	price := base * multiplier
	if price > p.cfg.Strategy.MaxGasPriceGwei {
		price = p.cfg.Strategy.MaxGasPriceGwei
	}
	return price
}

// submissionGasLimit tiers the limit by trade size; bigger swaps touch more
// pool state.
func submissionGasLimit(borrowETH float64) uint64 {
	switch {
	case borrowETH > 15:
		return 900_000
	case borrowETH > 10:
		return 800_000
	case borrowETH > 5:
		return 700_000
	default:
		return 600_000
	}
}

// Classify maps an execution error to a reporting bucket. Never used to
// decide a retry.
func Classify(err error) types.FailureKind {
	if err == nil {
		return FailNone
	}
	msg := strings.ToLower(err.Error())
	switch {
	case err == types.ErrTransactionTimeout || strings.Contains(msg, "timeout"):
		return types.FailTimeout
	case strings.Contains(msg, "insufficient funds"):
		return types.FailInsufficientFunds
	case strings.Contains(msg, "revert"):
		return types.FailReverted
	case strings.Contains(msg, "underpriced") || strings.Contains(msg, "fee too low"):
		return types.FailFeeTooLow
	default:
		return types.FailGeneric
	}
}

// FailNone marks a nil error passed to Classify.
const FailNone types.FailureKind = ""

func ethToWei(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(params.Ether)).Int(nil)
	return wei
}

func weiToETH(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return f
}
