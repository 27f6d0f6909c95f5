package config

import (
	"fmt"
	"os"
	"time"

	"github.com/you/flash-arb/internal/types"
	"gopkg.in/yaml.v3"
)

type ProviderCfg struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	MaxRequests int    `yaml:"max_requests"`
	WindowMs    int    `yaml:"window_ms"`
}

type PriceFeedCfg struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Config struct {
	DryRun bool `yaml:"dry_run"`

	Providers []ProviderCfg `yaml:"providers"`

	PriceFeeds struct {
		Sources    []PriceFeedCfg `yaml:"sources"`
		WsURL      string         `yaml:"ws_url"`
		MinSaneUSD float64        `yaml:"min_sane_usd"`
		MaxSaneUSD float64        `yaml:"max_sane_usd"`
		TTLMs      int            `yaml:"ttl_ms"`
	} `yaml:"price_feeds"`

	Chain struct {
		WalletPK        string  `yaml:"wallet_pk"`
		ChainID         int64   `yaml:"chain_id"`
		RPCHTTP         string  `yaml:"rpc_http"` // submission endpoint, outside the pool's budget
		FallbackGasGwei float64 `yaml:"fallback_gas_gwei"`
		GasTTLMs        int     `yaml:"gas_ttl_ms"`
	} `yaml:"chain"`

	Contract struct {
		DeploymentFile string `yaml:"deployment_file"`
	} `yaml:"contract"`

	Routers struct {
		Uniswap   string `yaml:"uniswap"`
		Sushiswap string `yaml:"sushiswap"`
	} `yaml:"routers"`

	Pairs []types.PairSpec `yaml:"pairs"`

	Strategy struct {
		TargetProfitUSD   float64 `yaml:"target_profit_usd"`
		BaseBorrowETH     float64 `yaml:"base_borrow_eth"`
		MinBorrowETH      float64 `yaml:"min_borrow_eth"`
		MaxBorrowETH      float64 `yaml:"max_borrow_eth"`
		ScaleFactor       float64 `yaml:"scale_factor"`
		MinSpreadPct      float64 `yaml:"min_spread_pct"`
		MinNetProfitUSD   float64 `yaml:"min_net_profit_usd"`
		MinProfitPct      float64 `yaml:"min_profit_pct"`
		MaxGasPriceGwei   float64 `yaml:"max_gas_price_gwei"`
		MaxSlippagePct    float64 `yaml:"max_slippage_pct"`
		LargeTradeETH     float64 `yaml:"large_trade_eth"`
		FlashLoanFeePct   float64 `yaml:"flash_loan_fee_pct"`
		ProtocolFeePct    float64 `yaml:"protocol_fee_pct"`
		MinProfitFloorETH float64 `yaml:"min_profit_floor_eth"`
	} `yaml:"strategy"`

	Timing struct {
		ScanIntervalMs  int `yaml:"scan_interval_ms"`
		FastModeMs      int `yaml:"fast_mode_ms"`
		SlowModeMs      int `yaml:"slow_mode_ms"`
		QuoteTTLMs      int `yaml:"quote_ttl_ms"`
		RPCCacheTTLMs   int `yaml:"rpc_cache_ttl_ms"`
		ExecTimeoutMs   int `yaml:"exec_timeout_ms"`
		MaxRuntimeHours int `yaml:"max_runtime_hours"`
	} `yaml:"timing"`

	Targets struct {
		DailyProfitUSD   float64 `yaml:"daily_profit_usd"`
		MaxDailyTrades   int     `yaml:"max_daily_trades"`
		MaxFailures      int     `yaml:"max_failures"`
		EmergencyStopUSD float64 `yaml:"emergency_stop_usd"`
		MinBalanceETH    float64 `yaml:"min_balance_eth"`
	} `yaml:"targets"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	TradeLogFile string `yaml:"trade_log_file"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.PriceFeeds.MinSaneUSD == 0 {
		c.PriceFeeds.MinSaneUSD = 1000
	}
	if c.PriceFeeds.MaxSaneUSD == 0 {
		c.PriceFeeds.MaxSaneUSD = 8000
	}
	if c.PriceFeeds.TTLMs == 0 {
		c.PriceFeeds.TTLMs = 20_000
	}
	if c.Chain.FallbackGasGwei == 0 {
		c.Chain.FallbackGasGwei = 1.0
	}
	if c.Chain.GasTTLMs == 0 {
		c.Chain.GasTTLMs = 30_000
	}
	if c.Strategy.TargetProfitUSD == 0 {
		c.Strategy.TargetProfitUSD = 500
	}
	if c.Strategy.BaseBorrowETH == 0 {
		c.Strategy.BaseBorrowETH = 1.0
	}
	if c.Strategy.MinBorrowETH == 0 {
		c.Strategy.MinBorrowETH = 0.5
	}
	if c.Strategy.MaxBorrowETH == 0 {
		c.Strategy.MaxBorrowETH = 50.0
	}
	if c.Strategy.ScaleFactor == 0 {
		c.Strategy.ScaleFactor = 1.1
	}
	if c.Strategy.MinSpreadPct == 0 {
		c.Strategy.MinSpreadPct = 0.15
	}
	if c.Strategy.MinNetProfitUSD == 0 {
		c.Strategy.MinNetProfitUSD = 400
	}
	if c.Strategy.MaxGasPriceGwei == 0 {
		c.Strategy.MaxGasPriceGwei = 1.5
	}
	if c.Strategy.MaxSlippagePct == 0 {
		c.Strategy.MaxSlippagePct = 1.2
	}
	if c.Strategy.LargeTradeETH == 0 {
		c.Strategy.LargeTradeETH = 2.0
	}
	if c.Strategy.FlashLoanFeePct == 0 {
		c.Strategy.FlashLoanFeePct = 0.09
	}
	if c.Strategy.ProtocolFeePct == 0 {
		c.Strategy.ProtocolFeePct = 0.1
	}
	if c.Strategy.MinProfitFloorETH == 0 {
		c.Strategy.MinProfitFloorETH = 0.0005
	}
	if c.Timing.ScanIntervalMs == 0 {
		c.Timing.ScanIntervalMs = 60_000
	}
	if c.Timing.FastModeMs == 0 {
		c.Timing.FastModeMs = 45_000
	}
	if c.Timing.SlowModeMs == 0 {
		c.Timing.SlowModeMs = 90_000
	}
	if c.Timing.QuoteTTLMs == 0 {
		c.Timing.QuoteTTLMs = 12_000
	}
	if c.Timing.RPCCacheTTLMs == 0 {
		c.Timing.RPCCacheTTLMs = 15_000
	}
	if c.Timing.ExecTimeoutMs == 0 {
		c.Timing.ExecTimeoutMs = 40_000
	}
	if c.Timing.MaxRuntimeHours == 0 {
		c.Timing.MaxRuntimeHours = 24
	}
	if c.Targets.DailyProfitUSD == 0 {
		c.Targets.DailyProfitUSD = 30
	}
	if c.Targets.MaxDailyTrades == 0 {
		c.Targets.MaxDailyTrades = 15
	}
	if c.Targets.MaxFailures == 0 {
		c.Targets.MaxFailures = 5
	}
	if c.Targets.EmergencyStopUSD == 0 {
		c.Targets.EmergencyStopUSD = 20
	}
	if c.Targets.MinBalanceETH == 0 {
		c.Targets.MinBalanceETH = 0.005
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "trades:stream"
	}
}

func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one rpc provider required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair required")
	}
	if c.Routers.Uniswap == "" || c.Routers.Sushiswap == "" {
		return fmt.Errorf("both router addresses required")
	}
	if c.Strategy.MinBorrowETH > c.Strategy.MaxBorrowETH {
		return fmt.Errorf("min_borrow_eth exceeds max_borrow_eth")
	}
	return nil
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Timing.ScanIntervalMs) * time.Millisecond
}
func (c *Config) FastModeInterval() time.Duration {
	return time.Duration(c.Timing.FastModeMs) * time.Millisecond
}
func (c *Config) SlowModeInterval() time.Duration {
	return time.Duration(c.Timing.SlowModeMs) * time.Millisecond
}
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Timing.QuoteTTLMs) * time.Millisecond
}
func (c *Config) RPCCacheTTL() time.Duration {
	return time.Duration(c.Timing.RPCCacheTTLMs) * time.Millisecond
}
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Timing.ExecTimeoutMs) * time.Millisecond
}
func (c *Config) MaxRuntime() time.Duration {
	return time.Duration(c.Timing.MaxRuntimeHours) * time.Hour
}
func (c *Config) PriceTTL() time.Duration {
	return time.Duration(c.PriceFeeds.TTLMs) * time.Millisecond
}
func (c *Config) GasTTL() time.Duration {
	return time.Duration(c.Chain.GasTTLMs) * time.Millisecond
}
