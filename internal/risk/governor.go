package risk

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/tradelog"
	"go.uber.org/zap"
)

// PauseReason explains why a cycle runs observation-only.
type PauseReason string

const (
	PauseNone           PauseReason = ""
	PauseDailyTradeCap  PauseReason = "daily trade cap reached"
	PauseDailyProfitMet PauseReason = "daily profit target met"
	PauseCircuitBreaker PauseReason = "consecutive failure circuit breaker"
	PauseEmergencyStop  PauseReason = "emergency cumulative loss stop"
	PauseBalanceFloor   PauseReason = "wallet balance below gas reserve"
)

type balanceReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Snapshot is the cycle state the governor judges; the scan loop owns the
// counters and hands them over read-only.
type Snapshot struct {
	ConsecutiveFailures int
	SessionNetUSD       float64
}

// Governor decides before each cycle whether trading must pause. Most
// conditions re-evaluate every cycle; the circuit breaker and the emergency
// stop latch until the process restarts.
type Governor struct {
	cfg     *config.Config
	trades  *tradelog.Log
	chain   balanceReader
	wallet  common.Address
	log     *zap.Logger
	tripped PauseReason
}

func NewGovernor(cfg *config.Config, trades *tradelog.Log, chain balanceReader, wallet common.Address, log *zap.Logger) *Governor {
	return &Governor{cfg: cfg, trades: trades, chain: chain, wallet: wallet, log: log}
}

// ShouldPause checks every stop condition. Balance and daily-stat lookups
// that fail are treated as inconclusive, not as a pause.
func (g *Governor) ShouldPause(ctx context.Context, snap Snapshot) PauseReason {
	if g.tripped != PauseNone {
		return g.tripped
	}

	if snap.ConsecutiveFailures >= g.cfg.Targets.MaxFailures {
		g.trip(PauseCircuitBreaker,
			zap.Int("consecutive_failures", snap.ConsecutiveFailures))
		return g.tripped
	}
	if snap.SessionNetUSD <= -g.cfg.Targets.EmergencyStopUSD {
		g.trip(PauseEmergencyStop, zap.Float64("session_net_usd", snap.SessionNetUSD))
		return g.tripped
	}

	day, err := g.trades.Today(ctx)
	if err != nil {
		g.log.Warn("daily stats unavailable", zap.Error(err))
	} else {
		if day.Successes >= g.cfg.Targets.MaxDailyTrades {
			g.log.Info("trading paused", zap.String("reason", string(PauseDailyTradeCap)),
				zap.Int("trades_today", day.Successes))
			return PauseDailyTradeCap
		}
		if day.NetUSD >= g.cfg.Targets.DailyProfitUSD {
			g.log.Info("trading paused", zap.String("reason", string(PauseDailyProfitMet)),
				zap.Float64("profit_today_usd", day.NetUSD))
			return PauseDailyProfitMet
		}
	}

	if g.chain != nil {
		bal, err := g.chain.BalanceAt(ctx, g.wallet)
		if err != nil {
			g.log.Warn("balance check unavailable", zap.Error(err))
		} else if weiToETH(bal) < g.cfg.Targets.MinBalanceETH {
			g.log.Warn("trading paused", zap.String("reason", string(PauseBalanceFloor)),
				zap.Float64("balance_eth", weiToETH(bal)))
			return PauseBalanceFloor
		}
	}

	return PauseNone
}

// Tripped reports whether a latched condition has fired.
func (g *Governor) Tripped() PauseReason { return g.tripped }

func (g *Governor) trip(reason PauseReason, fields ...zap.Field) {
	g.tripped = reason
	g.log.Error("trading halted until restart",
		append([]zap.Field{zap.String("reason", string(reason))}, fields...)...)
}

func weiToETH(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei), big.NewFloat(params.Ether),
	).Float64()
	return f
}
