package tradelog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

func testLog(t *testing.T) (*Log, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Stream = "trades:stream"
	cfg.TradeLogFile = filepath.Join(t.TempDir(), "trades.jsonl")

	l := New(cfg, zap.NewNop())
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func entry(ts time.Time, success bool, net float64) types.TradeLogEntry {
	return types.TradeLogEntry{
		Timestamp: ts,
		Pair:      "WETH/USDC",
		Direction: types.UniToSushi,
		BorrowETH: 1.5,
		ActualUSD: net,
		Success:   success,
		TxHash:    "0xabc",
	}
}

func TestAppendAndToday(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, entry(now, true, 25.0)))
	require.NoError(t, l.Append(ctx, entry(now, false, -3.0)))
	require.NoError(t, l.Append(ctx, entry(now.Add(-48*time.Hour), true, 99.0)))

	stats, err := l.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Trades)
	assert.Equal(t, 1, stats.Successes)
	assert.InDelta(t, 22.0, stats.NetUSD, 1e-9)
}

func TestAppend_MirrorsToFile(t *testing.T) {
	l, _ := testLog(t)
	require.NoError(t, l.Append(context.Background(), entry(time.Now(), true, 10)))
	require.NoError(t, l.Append(context.Background(), entry(time.Now(), false, -1)))

	b, err := os.ReadFile(l.file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"pair":"WETH/USDC"`)
}

func TestRecent_NewestFirst(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		e := entry(base.Add(time.Duration(i)*time.Minute), true, float64(i))
		require.NoError(t, l.Append(ctx, e))
	}

	got, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 4.0, got[0].ActualUSD)
	assert.Equal(t, 2.0, got[2].ActualUSD)
}

func TestToday_WithoutRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.TradeLogFile = filepath.Join(t.TempDir(), "trades.jsonl")
	l := New(cfg, zap.NewNop())

	require.NoError(t, l.Append(context.Background(), entry(time.Now(), true, 5)))
	stats, err := l.Today(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Trades)

	_, err = os.Stat(cfg.TradeLogFile)
	assert.NoError(t, err)
}

func TestStreamCapped(t *testing.T) {
	l, mr := testLog(t)
	ctx := context.Background()
	for i := 0; i < maxStreamLen+100; i++ {
		require.NoError(t, l.Append(ctx, entry(time.Now(), true, 1)))
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	n, err := rdb.XLen(ctx, "trades:stream").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(maxStreamLen+100))
	assert.GreaterOrEqual(t, n, int64(maxStreamLen))
}
