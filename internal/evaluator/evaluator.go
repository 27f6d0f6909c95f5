package evaluator

import (
	"context"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// ProfitChecker is the on-chain contract's own read-only profit estimate.
type ProfitChecker interface {
	EstimateProfit(ctx context.Context, tokenA, tokenB common.Address, amountIn *big.Int, buyRouter, sellRouter common.Address) (*big.Int, bool, error)
}

// Evaluator turns router quote pairs into sized, fee-adjusted opportunities.
// One engine, many configs: every threshold comes from the strategy block.
type Evaluator struct {
	cfg     *config.Config
	market  *MarketState
	checker ProfitChecker
	log     *zap.Logger
}

func New(cfg *config.Config, market *MarketState, checker ProfitChecker, log *zap.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, market: market, checker: checker, log: log}
}

func (e *Evaluator) Market() *MarketState { return e.market }

// DynamicBuffer widens the profit target for tighter spreads, which tolerate
// less slippage before turning unprofitable.
func DynamicBuffer(spreadPct float64) float64 {
	switch {
	case spreadPct < 0.18:
		return 1.4
	case spreadPct < 0.25:
		return 1.3
	case spreadPct < 0.35:
		return 1.25
	default:
		return 1.2
	}
}

// OptimalBorrow inverts the spread-to-profit relationship for the configured
// target profit, clamped to the [min, max] borrow range.
func (e *Evaluator) OptimalBorrow(spreadPct, ethPriceUSD float64) float64 {
	if spreadPct <= 0 || ethPriceUSD <= 0 {
		return e.cfg.Strategy.MinBorrowETH
	}
	grossNeeded := e.cfg.Strategy.TargetProfitUSD * DynamicBuffer(spreadPct)
	requiredUSD := grossNeeded / (spreadPct / 100)
	requiredETH := requiredUSD / ethPriceUSD
	return clamp(requiredETH, e.cfg.Strategy.MinBorrowETH, e.cfg.Strategy.MaxBorrowETH)
}

// ExpectedSlippagePct models execution slippage as a base rate plus additive
// size and tight-spread penalties, capped at the configured maximum.
func (e *Evaluator) ExpectedSlippagePct(borrowETH, spreadPct float64) float64 {
	slippage := 0.05
	switch {
	case borrowETH > 25:
		slippage += 0.4
	case borrowETH > 15:
		slippage += 0.25
	case borrowETH > 10:
		slippage += 0.15
	case borrowETH > 5:
		slippage += 0.1
	}
	switch {
	case spreadPct < 0.2:
		slippage += 0.2
	case spreadPct < 0.3:
		slippage += 0.1
	}
	return math.Min(slippage, e.cfg.Strategy.MaxSlippagePct)
}

// SlippageTolerancePct is the execution-time tolerance: expected plus a 50%
// margin, still capped at the configured maximum.
func (e *Evaluator) SlippageTolerancePct(borrowETH, spreadPct float64) float64 {
	return math.Min(e.ExpectedSlippagePct(borrowETH, spreadPct)*1.5, e.cfg.Strategy.MaxSlippagePct)
}

// EstimateGasUnits is the size-tiered gas consumption used for cost
// estimation. The executor's submission limit is tiered separately.
func EstimateGasUnits(borrowETH float64) uint64 {
	switch {
	case borrowETH > 10:
		return 750_000
	case borrowETH > 5:
		return 650_000
	default:
		return 550_000
	}
}

// Urgency grades an opportunity by spread width; wider spreads justify
// paying for faster inclusion.
func Urgency(spreadPct float64) string {
	switch {
	case spreadPct > 0.3:
		return "high"
	case spreadPct > 0.2:
		return "normal"
	default:
		return "low"
	}
}

// Evaluate sizes and prices one pair's quote tuple. The returned Opportunity
// is complete even when unprofitable so callers can report the breakdown.
func (e *Evaluator) Evaluate(ctx context.Context, pair types.PairSpec, quotes types.QuotePair, ethPriceUSD, gasPriceGwei float64) types.Opportunity {
	borrowETH := e.OptimalBorrow(quotes.SpreadPct, ethPriceUSD)
	slippageTol := e.SlippageTolerancePct(borrowETH, quotes.SpreadPct)
	safetyMult := e.market.SafetyMultiplier()

	notionalUSD := borrowETH * ethPriceUSD
	grossUSD := notionalUSD * quotes.SpreadPct / 100

	gasCostETH := gasPriceGwei * float64(EstimateGasUnits(borrowETH)) / params.GWei
	fees := types.FeeBreakdown{
		FlashLoanUSD: notionalUSD * e.cfg.Strategy.FlashLoanFeePct / 100,
		ProtocolUSD:  grossUSD * e.cfg.Strategy.ProtocolFeePct / 100,
		GasUSD:       gasCostETH * ethPriceUSD,
		SlippageUSD:  grossUSD * slippageTol / 100,
		SafetyUSD:    grossUSD * (safetyMult - 1),
	}
	netUSD := grossUSD - fees.TotalUSD()

	profitPct := 0.0
	if notionalUSD > 0 {
		profitPct = netUSD / notionalUSD * 100
	}

	// Buy on the router showing the higher price, sell on the lower.
	direction := types.UniToSushi
	buy, sell := common.HexToAddress(e.cfg.Routers.Uniswap), common.HexToAddress(e.cfg.Routers.Sushiswap)
	if quotes.Price2 > quotes.Price1 {
		direction = types.SushiToUni
		buy, sell = sell, buy
	}

	opp := types.Opportunity{
		Pair:           pair,
		Direction:      direction,
		Quotes:         quotes,
		BuyRouter:      buy,
		SellRouter:     sell,
		BorrowETH:      borrowETH,
		GrossUSD:       grossUSD,
		NetUSD:         netUSD,
		ProfitPct:      profitPct,
		Fees:           fees,
		SlippageTolPct: slippageTol,
		GasPriceGwei:   gasPriceGwei,
		Urgency:        Urgency(quotes.SpreadPct),
		Ts:             time.Now(),
	}

	opp.Profitable = quotes.SpreadPct >= e.cfg.Strategy.MinSpreadPct &&
		netUSD >= e.cfg.Strategy.MinNetProfitUSD &&
		profitPct >= e.cfg.Strategy.MinProfitPct &&
		e.contractConfirms(ctx, opp)

	if opp.Profitable {
		metrics.OpportunitiesTotal.Inc()
	}
	return opp
}

// contractConfirms asks the contract's own estimator. An RPC failure does
// not veto the model's verdict; a definitive "not profitable" does.
func (e *Evaluator) contractConfirms(ctx context.Context, opp types.Opportunity) bool {
	if e.checker == nil {
		return true
	}
	amountWei, _ := new(big.Float).Mul(
		big.NewFloat(opp.BorrowETH), big.NewFloat(params.Ether),
	).Int(nil)
	_, ok, err := e.checker.EstimateProfit(ctx, opp.Pair.BaseAddress(), opp.Pair.QuoteAddress(), amountWei, opp.BuyRouter, opp.SellRouter)
	if err != nil {
		e.log.Warn("contract profit check unavailable",
			zap.String("pair", opp.Pair.Name), zap.Error(err))
		return true
	}
	if !ok {
		e.log.Debug("contract rejected opportunity", zap.String("pair", opp.Pair.Name))
	}
	return ok
}

// Rank orders profitable opportunities by profit percentage, best first.
func Rank(opps []types.Opportunity) []types.Opportunity {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ProfitPct > opps[j].ProfitPct
	})
	return opps
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
