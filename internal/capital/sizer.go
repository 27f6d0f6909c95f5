package capital

import (
	"sync"

	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/metrics"
	"go.uber.org/zap"
)

// Sizer owns the adaptive borrow size: grow after a success, shrink after a
// failure, always within [base, max]. The evaluator's per-opportunity
// target-profit sizing overrides this value for a single trade; Sizer only
// tracks the baseline.
type Sizer struct {
	mu      sync.Mutex
	current float64
	base    float64
	max     float64
	factor  float64
	log     *zap.Logger
}

func NewSizer(cfg *config.Config, log *zap.Logger) *Sizer {
	s := &Sizer{
		current: cfg.Strategy.BaseBorrowETH,
		base:    cfg.Strategy.BaseBorrowETH,
		max:     cfg.Strategy.MaxBorrowETH,
		factor:  cfg.Strategy.ScaleFactor,
		log:     log,
	}
	metrics.BorrowSizeETH.Set(s.current)
	return s
}

func (s *Sizer) Current() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Scale moves the baseline one step up or down by the configured factor.
func (s *Sizer) Scale(success bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	if success {
		s.current *= s.factor
		if s.current > s.max {
			s.current = s.max
		}
	} else {
		s.current /= s.factor
		if s.current < s.base {
			s.current = s.base
		}
	}

	if s.current != prev {
		s.log.Info("borrow size rescaled",
			zap.Bool("success", success),
			zap.Float64("from_eth", prev),
			zap.Float64("to_eth", s.current))
	}
	metrics.BorrowSizeETH.Set(s.current)
	return s.current
}
