package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/capital"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/console"
	"github.com/you/flash-arb/internal/contract"
	"github.com/you/flash-arb/internal/evaluator"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/marketdata"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/pricefeed"
	"github.com/you/flash-arb/internal/provider"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/tradelog"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	maxRestarts    = 5
	restartBackoff = 10 * time.Second
)

type marketData interface {
	NativePrice(ctx context.Context) pricefeed.Quote
	GasPriceGwei(ctx context.Context) float64
	RouterQuotes(ctx context.Context, pair types.PairSpec) (types.QuotePair, error)
}

type executor interface {
	Execute(ctx context.Context, opp types.Opportunity, ethPriceUSD float64) execution.Result
}

type pauser interface {
	ShouldPause(ctx context.Context, snap risk.Snapshot) risk.PauseReason
	Tripped() risk.PauseReason
}

type providerStatus interface {
	Available() int
}

// Bot owns the scan loop: one cycle at a time, adaptive interval, a
// supervised restart policy instead of external process management.
type Bot struct {
	cfg      *config.Config
	log      *zap.Logger
	md       marketData
	eval     *evaluator.Evaluator
	exec     executor
	governor pauser
	pool     providerStatus
	streamer *pricefeed.Streamer
	trades   *tradelog.Log
	reporter *console.Reporter
	state    *State
}

// New wires every component from configuration. Initialization failures are
// fatal for the process; nothing here is retried.
func New(cfg *config.Config, log *zap.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := provider.NewPool(cfg, log)
	feed := pricefeed.New(cfg, log)

	var streamer *pricefeed.Streamer
	if cfg.PriceFeeds.WsURL != "" {
		streamer = pricefeed.NewStreamer(cfg.PriceFeeds.WsURL, feed, log)
	}

	md, err := marketdata.NewFetcher(cfg, pool, feed, log)
	if err != nil {
		return nil, err
	}

	trades := tradelog.New(cfg, log)
	market := evaluator.NewMarketState()
	sizer := capital.NewSizer(cfg, log)

	var client *contract.Client
	if cfg.Contract.DeploymentFile != "" {
		client, err = contract.NewClient(cfg, pool, log)
		if err != nil {
			return nil, err
		}
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("contract deployment file required outside dry run")
	}

	var checker evaluator.ProfitChecker
	if client != nil {
		checker = client
	}
	eval := evaluator.New(cfg, market, checker, log)

	pipe := execution.NewPipeline(cfg, md, client, sizer, market, trades, log)

	var governor *risk.Governor
	if client != nil {
		governor = risk.NewGovernor(cfg, trades, pool, client.Sender(), log)
	} else {
		governor = risk.NewGovernor(cfg, trades, nil, common.Address{}, log)
	}

	return &Bot{
		cfg:      cfg,
		log:      log,
		md:       md,
		eval:     eval,
		exec:     pipe,
		governor: governor,
		pool:     pool,
		streamer: streamer,
		trades:   trades,
		reporter: console.New(nil),
		state:    newState(cfg.ScanInterval()),
	}, nil
}

// Run drives the loop until stop, max runtime or a latched risk condition.
// The returned error is nil for every intentional completion.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			b.log.Warn("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.streamer != nil {
		go b.streamer.Run(ctx)
	}
	if addr := b.cfg.Metrics.ListenAddr; addr != "" {
		go metrics.Serve(ctx, addr, func() any { return b.state.snapshot() }, b.log)
	}

	b.reporter.Banner(len(b.cfg.Pairs), b.cfg.ScanInterval(), b.cfg.DryRun)
	deadline := b.state.StartTime.Add(b.cfg.MaxRuntime())

	var err error
	for {
		err = b.loop(ctx, deadline)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			err = nil
			break
		}

		var restarts int
		b.state.update(func(s *State) {
			s.Restarts++
			restarts = s.Restarts
		})
		if restarts > maxRestarts {
			b.log.Error("restart budget exhausted", zap.Error(err))
			break
		}

		backoff := restartBackoff * time.Duration(restarts)
		b.log.Warn("scan loop crashed, restarting",
			zap.Error(err), zap.Int("restart", restarts), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			err = nil
		case <-time.After(backoff):
			continue
		}
		break
	}

	snap := b.state.snapshot()
	b.reporter.Summary(time.Duration(snap.UptimeSec)*time.Second,
		snap.Scans, snap.Successes, snap.Failures, snap.SessionNetUSD)
	if cerr := b.trades.Close(); cerr != nil {
		b.log.Warn("trade log close failed", zap.Error(cerr))
	}
	return err
}

// loop runs cycles back to back, never overlapping: the next timer is armed
// only after the previous cycle has fully completed. A panic inside a cycle
// surfaces as an error for the supervised restart policy.
func (b *Bot) loop(ctx context.Context, deadline time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panic: %v", r)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Now().After(deadline) {
			b.log.Info("max runtime reached, stopping")
			return nil
		}

		if halted := b.cycle(ctx); halted {
			return nil
		}

		var interval time.Duration
		b.state.update(func(s *State) { interval = s.ScanInterval })
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// cycle runs one full scan. Returns true when a latched risk condition
// requires the loop to halt for good.
func (b *Bot) cycle(ctx context.Context) bool {
	b.state.update(func(s *State) {
		s.Scans++
		s.Phase = PhaseScanning
	})
	metrics.ScansTotal.Inc()
	if b.pool != nil {
		metrics.ProvidersAvailable.Set(float64(b.pool.Available()))
	}

	var snap risk.Snapshot
	b.state.update(func(s *State) {
		snap = risk.Snapshot{
			ConsecutiveFailures: s.ConsecutiveFailures,
			SessionNetUSD:       s.SessionNetUSD,
		}
	})

	if reason := b.governor.ShouldPause(ctx, snap); reason != risk.PauseNone {
		b.state.update(func(s *State) {
			s.Phase = PhasePaused
			s.PauseReason = string(reason)
			s.ScanInterval = b.cfg.SlowModeInterval()
		})
		b.reporter.Paused(string(reason))
		if b.governor.Tripped() != risk.PauseNone {
			b.log.Error("latched risk condition, stopping loop",
				zap.String("reason", string(reason)))
			return true
		}
		b.state.update(func(s *State) { s.Phase = PhaseIdle })
		return false
	}
	b.state.update(func(s *State) { s.PauseReason = "" })

	price := b.md.NativePrice(ctx)
	b.state.update(func(s *State) { s.EthPriceUSD = price.PriceUSD })

	gas := b.md.GasPriceGwei(ctx)
	b.eval.Market().ObserveGas(gas)
	if gas > b.cfg.Strategy.MaxGasPriceGwei {
		b.log.Info("gas too high, observation only",
			zap.Float64("gas_gwei", gas),
			zap.Float64("max_gwei", b.cfg.Strategy.MaxGasPriceGwei))
		b.idle(b.cfg.SlowModeInterval())
		return false
	}

	quotes := make(map[string]types.QuotePair, len(b.cfg.Pairs))
	spreads := make([]float64, 0, len(b.cfg.Pairs))
	providersExhausted := false
	for _, pair := range b.cfg.Pairs {
		qp, err := b.md.RouterQuotes(ctx, pair)
		if err != nil {
			if errors.Is(err, types.ErrNoProviderAvailable) {
				providersExhausted = true
			}
			b.log.Warn("pair skipped this cycle",
				zap.String("pair", pair.Name), zap.Error(err))
			continue
		}
		quotes[pair.Name] = qp
		spreads = append(spreads, qp.SpreadPct)
	}
	b.eval.Market().ObserveSpreads(spreads)

	b.state.update(func(s *State) { s.Phase = PhaseEvaluating })
	var profitable []types.Opportunity
	for _, pair := range b.cfg.Pairs {
		qp, ok := quotes[pair.Name]
		if !ok || qp.SpreadPct < b.cfg.Strategy.MinSpreadPct {
			continue
		}
		opp := b.eval.Evaluate(ctx, pair, qp, price.PriceUSD, gas)
		if opp.Profitable {
			profitable = append(profitable, opp)
		}
	}

	var scanNo int
	b.state.update(func(s *State) {
		s.Opportunities += len(profitable)
		scanNo = s.Scans
	})
	b.reporter.Cycle(scanNo, price.PriceUSD, gas, len(profitable))

	if len(profitable) == 0 {
		interval := b.cfg.ScanInterval()
		if providersExhausted {
			interval = b.cfg.SlowModeInterval()
		}
		b.idle(interval)
		return false
	}

	best := evaluator.Rank(profitable)[0]
	b.reporter.Opportunity(best)

	b.state.update(func(s *State) { s.Phase = PhaseExecuting })
	res := b.exec.Execute(ctx, best, price.PriceUSD)
	b.applyResult(best, res)
	return false
}

func (b *Bot) applyResult(opp types.Opportunity, res execution.Result) {
	switch {
	case res.DryRun:
		b.idle(b.cfg.ScanInterval())

	case res.Aborted != "":
		b.reporter.TradeAborted(opp.Pair.Name, res.Aborted)
		b.idle(b.cfg.ScanInterval())

	case res.Success:
		b.reporter.TradeSuccess(opp.Pair.Name, res.TxHash, res.ActualUSD)
		b.state.update(func(s *State) {
			s.Successes++
			s.ConsecutiveFailures = 0
			s.SessionNetUSD += res.ActualUSD
		})
		// A hit often means the window is still open; rescan sooner.
		b.idle(b.cfg.FastModeInterval())

	default:
		b.reporter.TradeFailure(opp.Pair.Name, res.Failure, res.Err)
		lossUSD := gasLossUSD(res.GasUsed, opp.GasPriceGwei, b.state.snapshot().EthPriceUSD)
		b.state.update(func(s *State) {
			s.Failures++
			s.ConsecutiveFailures++
			s.SessionNetUSD -= lossUSD
		})
		b.idle(b.cfg.ScanInterval())
	}
}

func (b *Bot) idle(interval time.Duration) {
	b.state.update(func(s *State) {
		s.Phase = PhaseIdle
		s.ScanInterval = interval
	})
}

// gasLossUSD estimates the cost burned by a failed attempt.
func gasLossUSD(gasUsed uint64, gasPriceGwei, ethPriceUSD float64) float64 {
	return float64(gasUsed) * gasPriceGwei * 1e-9 * ethPriceUSD
}

// Status returns the current state snapshot.
func (b *Bot) Status() Snapshot { return b.state.snapshot() }

// NewLogger builds the production JSON logger used by both binaries.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
