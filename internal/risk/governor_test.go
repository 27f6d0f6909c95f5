package risk

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/tradelog"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

type fakeChain struct {
	balance *big.Int
	err     error
}

func (f *fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return f.balance, f.err
}

func eth(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e18)).Int(nil)
	return wei
}

func governorFixture(t *testing.T, chain *fakeChain) (*Governor, *tradelog.Log) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Targets.MaxDailyTrades = 5
	cfg.Targets.DailyProfitUSD = 30
	cfg.Targets.MaxFailures = 3
	cfg.Targets.EmergencyStopUSD = 20
	cfg.Targets.MinBalanceETH = 0.005
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Stream = "trades:stream"
	cfg.TradeLogFile = filepath.Join(t.TempDir(), "trades.jsonl")

	trades := tradelog.New(cfg, zap.NewNop())
	t.Cleanup(func() { _ = trades.Close() })

	wallet := common.HexToAddress("0x4444444444444444444444444444444444444444")
	return NewGovernor(cfg, trades, chain, wallet, zap.NewNop()), trades
}

func logTrades(t *testing.T, trades *tradelog.Log, n int, eachUSD float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, trades.Append(context.Background(), types.TradeLogEntry{
			Timestamp: time.Now(),
			Pair:      "WETH/USDC",
			ActualUSD: eachUSD,
			Success:   true,
			TxHash:    fmt.Sprintf("0x%02d", i),
		}))
	}
}

func TestShouldPause_AllClear(t *testing.T) {
	g, trades := governorFixture(t, &fakeChain{balance: eth(1)})
	logTrades(t, trades, 4, 1.0)

	reason := g.ShouldPause(context.Background(), Snapshot{})
	assert.Equal(t, PauseNone, reason)
}

func TestShouldPause_DailyTradeCap(t *testing.T) {
	g, trades := governorFixture(t, &fakeChain{balance: eth(1)})
	logTrades(t, trades, 5, 1.0)

	reason := g.ShouldPause(context.Background(), Snapshot{})
	assert.Equal(t, PauseDailyTradeCap, reason)

	// Not sticky: the check re-evaluates every cycle.
	assert.Equal(t, PauseNone, g.Tripped())
}

func TestShouldPause_DailyProfitTarget(t *testing.T) {
	g, trades := governorFixture(t, &fakeChain{balance: eth(1)})
	logTrades(t, trades, 2, 16.0)

	reason := g.ShouldPause(context.Background(), Snapshot{})
	assert.Equal(t, PauseDailyProfitMet, reason)
}

func TestShouldPause_CircuitBreakerLatches(t *testing.T) {
	g, _ := governorFixture(t, &fakeChain{balance: eth(1)})

	reason := g.ShouldPause(context.Background(), Snapshot{ConsecutiveFailures: 3})
	assert.Equal(t, PauseCircuitBreaker, reason)

	// Latched even when the next snapshot looks healthy.
	reason = g.ShouldPause(context.Background(), Snapshot{ConsecutiveFailures: 0})
	assert.Equal(t, PauseCircuitBreaker, reason)
	assert.Equal(t, PauseCircuitBreaker, g.Tripped())
}

func TestShouldPause_EmergencyStopLatches(t *testing.T) {
	g, _ := governorFixture(t, &fakeChain{balance: eth(1)})

	reason := g.ShouldPause(context.Background(), Snapshot{SessionNetUSD: -25})
	assert.Equal(t, PauseEmergencyStop, reason)

	reason = g.ShouldPause(context.Background(), Snapshot{SessionNetUSD: 100})
	assert.Equal(t, PauseEmergencyStop, reason)
}

func TestShouldPause_BalanceFloor(t *testing.T) {
	g, _ := governorFixture(t, &fakeChain{balance: eth(0.004)})

	reason := g.ShouldPause(context.Background(), Snapshot{})
	assert.Equal(t, PauseBalanceFloor, reason)
}

func TestShouldPause_BalanceCheckFailureIsInconclusive(t *testing.T) {
	g, _ := governorFixture(t, &fakeChain{err: fmt.Errorf("rpc down")})

	reason := g.ShouldPause(context.Background(), Snapshot{})
	assert.Equal(t, PauseNone, reason)
}
