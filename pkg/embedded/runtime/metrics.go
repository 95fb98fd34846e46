package runtime

import (
	"sync/atomic"
	"time"
)

// DefaultMetricsCollector is a thread-safe implementation of MetricsCollector.
type DefaultMetricsCollector struct {
	processed        atomic.Int64
	errors           atomic.Int64
	skipped          atomic.Int64
	items            atomic.Int64
	totalProcessTime atomic.Int64
	workers          atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(workers int) *DefaultMetricsCollector {
	m := &DefaultMetricsCollector{}
	m.workers.Store(int64(workers))
	return m
}

// RecordProcessed records a successful merge.
func (m *DefaultMetricsCollector) RecordProcessed(durationNs int64, items int) {
	m.processed.Add(1)
	m.items.Add(int64(items))
	m.totalProcessTime.Add(durationNs)
}

// RecordError records a failed merge.
func (m *DefaultMetricsCollector) RecordError() {
	m.errors.Add(1)
}

// RecordSkipped records a skipped slot.
func (m *DefaultMetricsCollector) RecordSkipped() {
	m.skipped.Add(1)
}

// GetMetrics returns the current metrics.
func (m *DefaultMetricsCollector) GetMetrics() Metrics {
	return Metrics{
		TotalProcessed:    m.processed.Load(),
		TotalErrors:       m.errors.Load(),
		TotalSkipped:      m.skipped.Load(),
		TotalItems:        m.items.Load(),
		ProcessingTimeNs:  m.totalProcessTime.Load(),
		ConcurrentWorkers: int(m.workers.Load()),
	}
}

// Reset resets all counters. The worker count is kept.
func (m *DefaultMetricsCollector) Reset() {
	m.processed.Store(0)
	m.errors.Store(0)
	m.skipped.Store(0)
	m.items.Store(0)
	m.totalProcessTime.Store(0)
}

// AverageProcessingTime returns the average processing time per merge.
func (m *DefaultMetricsCollector) AverageProcessingTime() time.Duration {
	processed := m.processed.Load()
	if processed == 0 {
		return 0
	}
	return time.Duration(m.totalProcessTime.Load() / processed)
}

// ErrorRate returns the error rate as a percentage.
func (m *DefaultMetricsCollector) ErrorRate() float64 {
	processed := m.processed.Load()
	errors := m.errors.Load()
	total := processed + errors
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total) * 100
}

// Ensure DefaultMetricsCollector implements MetricsCollector
var _ MetricsCollector = (*DefaultMetricsCollector)(nil)

// NoOpMetricsCollector is a metrics collector that does nothing.
type NoOpMetricsCollector struct{}

func (m *NoOpMetricsCollector) RecordProcessed(durationNs int64, items int) {}
func (m *NoOpMetricsCollector) RecordError()                                {}
func (m *NoOpMetricsCollector) RecordSkipped()                              {}
func (m *NoOpMetricsCollector) GetMetrics() Metrics                         { return Metrics{} }
func (m *NoOpMetricsCollector) Reset()                                      {}

// Ensure NoOpMetricsCollector implements MetricsCollector
var _ MetricsCollector = (*NoOpMetricsCollector)(nil)
