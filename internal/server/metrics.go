package server

import (
	"sync/atomic"
	"time"
)

// Metrics counts the run-time events worth watching. Written from the run
// loop and connection goroutines, read by the metrics endpoint.
type Metrics struct {
	Clients           atomic.Int64
	Ticks             atomic.Int64
	InputsApplied     atomic.Int64
	InputsStale       atomic.Int64
	InputsRejected    atomic.Int64
	InputsRateLimited atomic.Int64
	InputsDropped     atomic.Int64
	SendsDropped      atomic.Int64
	tickNanos         atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.Ticks.Add(1)
	m.tickNanos.Add(d.Nanoseconds())
}

// Snapshot returns a read-only copy for HTTP output.
func (m *Metrics) Snapshot() map[string]any {
	ticks := m.Ticks.Load()
	var avgMs float64
	if ticks > 0 {
		avgMs = float64(m.tickNanos.Load()) / float64(ticks) / 1e6
	}
	return map[string]any{
		"clients":             m.Clients.Load(),
		"ticks":               ticks,
		"inputs_applied":      m.InputsApplied.Load(),
		"inputs_stale":        m.InputsStale.Load(),
		"inputs_rejected":     m.InputsRejected.Load(),
		"inputs_rate_limited": m.InputsRateLimited.Load(),
		"inputs_dropped":      m.InputsDropped.Load(),
		"sends_dropped":       m.SendsDropped.Load(),
		"avg_tick_ms":         avgMs,
	}
}
