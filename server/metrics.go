package main

import (
	"sync/atomic"
	"time"
)

// Metrics counts server activity. Every field is updated atomically so the
// pumps and the hub loop can share one instance.
type Metrics struct {
	TickCount      int64
	TotalTickNs    int64
	FramesIn       int64
	FramesDropped  int64 // send queue full
	RateLimited    int64
	Evictions      int64 // missed heartbeat
	Persisted      int64
	PersistFailed  int64
	ConnsRefused   int64
	UpgradesFailed int64
}

func (m *Metrics) IncFramesIn() { atomic.AddInt64(&m.FramesIn, 1) }
func (m *Metrics) IncFramesDropped() { atomic.AddInt64(&m.FramesDropped, 1) }
func (m *Metrics) IncRateLimited() { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) IncEvictions() { atomic.AddInt64(&m.Evictions, 1) }
func (m *Metrics) IncPersisted() { atomic.AddInt64(&m.Persisted, 1) }
func (m *Metrics) IncPersistFailed() { atomic.AddInt64(&m.PersistFailed, 1) }
func (m *Metrics) IncConnsRefused() { atomic.AddInt64(&m.ConnsRefused, 1) }
func (m *Metrics) IncUpgradesFailed() { atomic.AddInt64(&m.UpgradesFailed, 1) }

func (m *Metrics) AddTick(d time.Duration) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, int64(d))
}

// MetricsSnapshot is a point-in-time copy for /status
type MetricsSnapshot struct {
	TickCount      int64   `json:"tick_count"`
	AvgTickMs      float64 `json:"avg_tick_ms"`
	FramesIn       int64   `json:"frames_in"`
	FramesDropped  int64   `json:"frames_dropped"`
	RateLimited    int64   `json:"rate_limited"`
	Evictions      int64   `json:"evictions"`
	Persisted      int64   `json:"persisted"`
	PersistFailed  int64   `json:"persist_failed"`
	ConnsRefused   int64   `json:"conns_refused"`
	UpgradesFailed int64   `json:"upgrades_failed"`
}

// Snapshot returns a read-only copy
func (m *Metrics) Snapshot() MetricsSnapshot {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return MetricsSnapshot{
		TickCount:      tick,
		AvgTickMs:      avgMs,
		FramesIn:       atomic.LoadInt64(&m.FramesIn),
		FramesDropped:  atomic.LoadInt64(&m.FramesDropped),
		RateLimited:    atomic.LoadInt64(&m.RateLimited),
		Evictions:      atomic.LoadInt64(&m.Evictions),
		Persisted:      atomic.LoadInt64(&m.Persisted),
		PersistFailed:  atomic.LoadInt64(&m.PersistFailed),
		ConnsRefused:   atomic.LoadInt64(&m.ConnsRefused),
		UpgradesFailed: atomic.LoadInt64(&m.UpgradesFailed),
	}
}
