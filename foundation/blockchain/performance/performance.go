// Package performance tracks the throughput and latency of committed
// transactions over a trailing window.
package performance

import (
	"sync"
	"time"
)

// Default settings for the monitor.
const (
	DefaultWindow   = 10 * time.Second
	DefaultCapacity = 4096
)

// Config represents the settings for the monitor.
type Config struct {
	Window   time.Duration // Trailing window used for CurrentTPS.
	Capacity int           // Number of block commits remembered.
}

// Stats represents the totals recorded by the monitor.
type Stats struct {
	TotalTransactions uint64        `json:"total_transactions"`
	TotalBlocks       uint64        `json:"total_blocks"`
	CurrentTPS        float64       `json:"current_tps"`
	PeakTPS           float64       `json:"peak_tps"`
	AverageLatency    time.Duration `json:"average_latency"`
}

// sample is one block commit.
type sample struct {
	at    time.Time
	count int
}

// Monitor keeps a ring buffer of block commits. It is purely observational.
type Monitor struct {
	mu           sync.Mutex
	window       time.Duration
	samples      []sample
	next         int
	totalTx      uint64
	totalBlocks  uint64
	totalLatency time.Duration
	peakTPS      float64
}

// New constructs a monitor for use.
func New(cfg Config) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	return &Monitor{
		window:  cfg.Window,
		samples: make([]sample, 0, cfg.Capacity),
	}
}

// RecordCommitted records a block of count transactions committed at the
// specified time. The latency is the average time the transactions waited
// between admission and commit.
func (m *Monitor) RecordCommitted(count int, latency time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := sample{at: at, count: count}
	switch {
	case len(m.samples) < cap(m.samples):
		m.samples = append(m.samples, s)
	default:
		m.samples[m.next] = s
	}
	m.next = (m.next + 1) % cap(m.samples)

	m.totalTx += uint64(count)
	m.totalBlocks++
	m.totalLatency += latency * time.Duration(count)

	if tps := m.tps(m.window, at); tps > m.peakTPS {
		m.peakTPS = tps
	}
}

// CurrentTPS returns the transactions committed per second over the
// configured window ending now.
func (m *Monitor) CurrentTPS() float64 {
	return m.TPS(m.window, time.Now())
}

// TPS returns the transactions committed per second over the window
// ending at the specified time.
func (m *Monitor) TPS(window time.Duration, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tps(window, now)
}

// Stats returns the totals recorded so far.
func (m *Monitor) Stats() Stats {
	tps := m.CurrentTPS()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalTransactions: m.totalTx,
		TotalBlocks:       m.totalBlocks,
		CurrentTPS:        tps,
		PeakTPS:           m.peakTPS,
	}

	if m.totalTx > 0 {
		stats.AverageLatency = m.totalLatency / time.Duration(m.totalTx)
	}

	return stats
}

// tps sums the samples inside the window. The caller must hold the lock.
func (m *Monitor) tps(window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}

	cutoff := now.Add(-window)

	var total int
	for _, s := range m.samples {
		if s.at.After(cutoff) && !s.at.After(now) {
			total += s.count
		}
	}

	return float64(total) / window.Seconds()
}
