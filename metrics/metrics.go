package metrics

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks admission statistics in process, per key class.
type Metrics struct {
	totalRequests    atomic.Int64
	allowedRequests  atomic.Int64
	rejectedRequests atomic.Int64
	degradedRequests atomic.Int64

	mu         sync.RWMutex
	classStats map[string]*ClassStats
	startTime  time.Time
}

// ClassStats tracks statistics for one key class
type ClassStats struct {
	Class            string    `json:"class"`
	TotalRequests    int64     `json:"total_requests"`
	AllowedRequests  int64     `json:"allowed_requests"`
	RejectedRequests int64     `json:"rejected_requests"`
	DegradedRequests int64     `json:"degraded_requests"`
	LastRequestAt    time.Time `json:"last_request_at"`
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		classStats: make(map[string]*ClassStats),
		startTime:  time.Now(),
	}
}

// RecordDecision records a decision made from store state.
func (m *Metrics) RecordDecision(_ context.Context, class string, allowed bool, _ time.Duration) {
	m.record(class, allowed, false)
}

// RecordFallback records a decision made by the failure policy.
func (m *Metrics) RecordFallback(_ context.Context, class string, allowed bool) {
	m.record(class, allowed, true)
}

func (m *Metrics) record(class string, allowed, degraded bool) {
	m.totalRequests.Add(1)
	if allowed {
		m.allowedRequests.Add(1)
	} else {
		m.rejectedRequests.Add(1)
	}
	if degraded {
		m.degradedRequests.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.classStats[class]
	if !exists {
		stats = &ClassStats{Class: class}
		m.classStats[class] = stats
	}

	stats.TotalRequests++
	if allowed {
		stats.AllowedRequests++
	} else {
		stats.RejectedRequests++
	}
	if degraded {
		stats.DegradedRequests++
	}
	stats.LastRequestAt = time.Now()
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	classes := make([]ClassStats, 0, len(m.classStats))
	for _, stats := range m.classStats {
		classes = append(classes, *stats)
	}
	m.mu.RUnlock()

	// Busiest classes first
	slices.SortFunc(classes, func(a, b ClassStats) int {
		if a.TotalRequests != b.TotalRequests {
			return int(b.TotalRequests - a.TotalRequests)
		}
		if a.Class < b.Class {
			return -1
		}
		return 1
	})

	return &Snapshot{
		TotalRequests:    m.totalRequests.Load(),
		AllowedRequests:  m.allowedRequests.Load(),
		RejectedRequests: m.rejectedRequests.Load(),
		DegradedRequests: m.degradedRequests.Load(),
		Classes:          classes,
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		StartTime:        m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests    int64        `json:"total_requests"`
	AllowedRequests  int64        `json:"allowed_requests"`
	RejectedRequests int64        `json:"rejected_requests"`
	DegradedRequests int64        `json:"degraded_requests"`
	Classes          []ClassStats `json:"classes"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	StartTime        time.Time    `json:"start_time"`
}
