package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_scans_total",
		Help: "Number of completed scan cycles",
	})

	OpportunitiesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_opportunities_total",
		Help: "Number of profitable opportunities detected",
	})

	TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trades_total",
		Help: "Executed trade attempts by outcome",
	}, []string{"outcome"})

	ProfitUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_session_profit_usd",
		Help: "Cumulative realized profit (USD) this session",
	})

	EthPriceUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_eth_price_usd",
		Help: "Last known native asset price (USD)",
	})

	GasPriceGwei = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_gas_price_gwei",
		Help: "Last fetched network gas price (gwei)",
	})

	SpreadPct = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_spread_pct",
		Help: "Latest router spread per pair (percent)",
	}, []string{"pair"})

	ProvidersAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_providers_available",
		Help: "RPC providers currently eligible for requests",
	})

	BorrowSizeETH = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_borrow_size_eth",
		Help: "Current adaptive borrow size (ETH)",
	})
)

func init() {
	prometheus.MustRegister(
		ScansTotal,
		OpportunitiesTotal,
		TradesTotal,
		ProfitUSD,
		EthPriceUSD,
		GasPriceGwei,
		SpreadPct,
		ProvidersAvailable,
		BorrowSizeETH,
	)
}
