package bot

import (
	"sync"
	"time"
)

// Phase is the scan loop's position in its state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseEvaluating Phase = "evaluating"
	PhaseExecuting  Phase = "executing"
	PhasePaused     Phase = "paused"
)

// State is the process-wide bot state. Only the scan loop mutates it; the
// mutex exists for the /status endpoint reading from another goroutine.
type State struct {
	mu sync.Mutex

	StartTime           time.Time
	Phase               Phase
	Scans               int
	Opportunities       int
	Successes           int
	Failures            int
	ConsecutiveFailures int
	SessionNetUSD       float64
	EthPriceUSD         float64
	ScanInterval        time.Duration
	Restarts            int
	PauseReason         string
}

// Snapshot is the read-only copy served over /status and printed at
// shutdown.
type Snapshot struct {
	UptimeSec           int64   `json:"uptime_sec"`
	Phase               string  `json:"phase"`
	Scans               int     `json:"scans"`
	Opportunities       int     `json:"opportunities"`
	Successes           int     `json:"successes"`
	Failures            int     `json:"failures"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	SessionNetUSD       float64 `json:"session_net_usd"`
	EthPriceUSD         float64 `json:"eth_price_usd"`
	ScanIntervalMs      int64   `json:"scan_interval_ms"`
	Restarts            int     `json:"restarts"`
	PauseReason         string  `json:"pause_reason,omitempty"`
}

func newState(interval time.Duration) *State {
	return &State{
		StartTime:    time.Now(),
		Phase:        PhaseIdle,
		ScanInterval: interval,
	}
}

func (s *State) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *State) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		UptimeSec:           int64(time.Since(s.StartTime).Seconds()),
		Phase:               string(s.Phase),
		Scans:               s.Scans,
		Opportunities:       s.Opportunities,
		Successes:           s.Successes,
		Failures:            s.Failures,
		ConsecutiveFailures: s.ConsecutiveFailures,
		SessionNetUSD:       s.SessionNetUSD,
		EthPriceUSD:         s.EthPriceUSD,
		ScanIntervalMs:      s.ScanInterval.Milliseconds(),
		Restarts:            s.Restarts,
		PauseReason:         s.PauseReason,
	}
}
