package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
dry_run: true
providers:
  - name: alchemy
    url: https://eth-mainnet.example/v2/key
    max_requests: 100
    window_ms: 60000
routers:
  uniswap: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
  sushiswap: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"
pairs:
  - name: WETH/USDC
    base_addr: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    quote_addr: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    quote_decimals: 6
strategy:
  min_spread_pct: 0.25
timing:
  scan_interval_ms: 30000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, 0.25, cfg.Strategy.MinSpreadPct, "explicit value kept")
	assert.Equal(t, 30*time.Second, cfg.ScanInterval())

	// everything unset falls back to the shipped defaults
	assert.Equal(t, 500.0, cfg.Strategy.TargetProfitUSD)
	assert.Equal(t, 1.1, cfg.Strategy.ScaleFactor)
	assert.Equal(t, 0.09, cfg.Strategy.FlashLoanFeePct)
	assert.Equal(t, 45*time.Second, cfg.FastModeInterval())
	assert.Equal(t, 90*time.Second, cfg.SlowModeInterval())
	assert.Equal(t, 24*time.Hour, cfg.MaxRuntime())
	assert.Equal(t, 15, cfg.Targets.MaxDailyTrades)
	assert.Equal(t, "trades:stream", cfg.Redis.Stream)
	assert.Equal(t, 1.0, cfg.Chain.FallbackGasGwei)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "providers: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	noProviders := *cfg
	noProviders.Providers = nil
	assert.ErrorContains(t, noProviders.Validate(), "provider")

	noPairs := *cfg
	noPairs.Pairs = nil
	assert.ErrorContains(t, noPairs.Validate(), "pair")

	noRouter := *cfg
	noRouter.Routers.Sushiswap = ""
	assert.ErrorContains(t, noRouter.Validate(), "router")

	inverted := *cfg
	inverted.Strategy.MinBorrowETH = 10
	inverted.Strategy.MaxBorrowETH = 5
	assert.ErrorContains(t, inverted.Validate(), "min_borrow_eth")
}
