package evaluator

import (
	"math"
	"sync"
)

const (
	spreadWindow = 10
	gasWindow    = 20
	resultWindow = 10
)

// MarketState is a rolling picture of recent market behavior used to size
// the dynamic safety multiplier. Observations arrive from the scan loop and
// the executor; reads happen during evaluation and pre-submission checks.
type MarketState struct {
	mu      sync.Mutex
	spreads []float64
	gas     []float64
	results []bool
}

func NewMarketState() *MarketState {
	return &MarketState{}
}

func (m *MarketState) ObserveSpreads(spreads []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spreads = append(m.spreads, spreads...)
	if n := len(m.spreads); n > spreadWindow {
		m.spreads = m.spreads[n-spreadWindow:]
	}
}

func (m *MarketState) ObserveGas(gwei float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gas = append(m.gas, gwei)
	if n := len(m.gas); n > gasWindow {
		m.gas = m.gas[n-gasWindow:]
	}
}

func (m *MarketState) ObserveResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, success)
	if n := len(m.results); n > resultWindow {
		m.results = m.results[n-resultWindow:]
	}
}

// Volatility classifies recent spread movement by coefficient of variation.
// Returns "unknown" until at least 3 spreads have been observed.
func (m *MarketState) Volatility() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volatilityLocked()
}

func (m *MarketState) volatilityLocked() string {
	if len(m.spreads) < 3 {
		return "unknown"
	}
	var sum float64
	for _, s := range m.spreads {
		sum += s
	}
	avg := sum / float64(len(m.spreads))
	if avg == 0 {
		return "unknown"
	}
	var variance float64
	for _, s := range m.spreads {
		variance += (s - avg) * (s - avg)
	}
	variance /= float64(len(m.spreads))
	cov := math.Sqrt(variance) / avg

	switch {
	case cov > 0.5:
		return "high"
	case cov > 0.2:
		return "medium"
	default:
		return "low"
	}
}

// gasStableLocked reports whether the last 5 gas samples stayed within a
// 1.5x max/min band. Too few samples counts as unstable.
func (m *MarketState) gasStableLocked() bool {
	if len(m.gas) <= 5 {
		return false
	}
	recent := m.gas[len(m.gas)-5:]
	lo, hi := recent[0], recent[0]
	for _, g := range recent[1:] {
		lo = math.Min(lo, g)
		hi = math.Max(hi, g)
	}
	if lo == 0 {
		return false
	}
	return hi/lo < 1.5
}

func (m *MarketState) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureRateLocked()
}

func (m *MarketState) failureRateLocked() float64 {
	if len(m.results) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range m.results {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(m.results))
}

// SafetyMultiplier starts at 1.0 and accumulates additive penalties for
// spread volatility, gas instability and a high recent failure rate.
func (m *MarketState) SafetyMultiplier() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	multiplier := 1.0
	switch m.volatilityLocked() {
	case "high":
		multiplier += 0.8
	case "medium":
		multiplier += 0.4
	}
	if !m.gasStableLocked() {
		multiplier += 0.3
	}
	if m.failureRateLocked() > 0.3 {
		multiplier += 0.5
	}
	return multiplier
}
