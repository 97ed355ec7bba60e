package treemem

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see the
// metrics/prometheus package for a Prometheus implementation.
type MetricsCollector interface {
	// RecordSetup is called after each Setup. depth is the resolved tree
	// depth (0 for flat memory or on failure).
	RecordSetup(items, depth int, duration time.Duration, err error)

	// RecordRetrieve is called after each Retrieve.
	RecordRetrieve(mode Mode, duration time.Duration, err error)

	// RecordEstimatorLoss is called after every estimator update in train mode.
	RecordEstimatorLoss(level int, loss float64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSetup(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRetrieve(Mode, time.Duration, error)  {}
func (NoopMetricsCollector) RecordEstimatorLoss(int, float64)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SetupCount          atomic.Int64
	SetupErrors         atomic.Int64
	SetupItems          atomic.Int64
	RetrieveCount       atomic.Int64
	RetrieveTrainCount  atomic.Int64
	RetrieveErrors      atomic.Int64
	RetrieveTotalNanos  atomic.Int64
	EstimatorLossUpdate atomic.Int64

	mu       sync.Mutex
	lastLoss map[int]float64
}

// RecordSetup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSetup(items, _ int, _ time.Duration, err error) {
	b.SetupCount.Add(1)
	b.SetupItems.Add(int64(items))
	if err != nil {
		b.SetupErrors.Add(1)
	}
}

// RecordRetrieve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrieve(mode Mode, duration time.Duration, err error) {
	b.RetrieveCount.Add(1)
	b.RetrieveTotalNanos.Add(duration.Nanoseconds())
	if mode == ModeTrain {
		b.RetrieveTrainCount.Add(1)
	}
	if err != nil {
		b.RetrieveErrors.Add(1)
	}
}

// RecordEstimatorLoss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEstimatorLoss(level int, loss float64) {
	b.EstimatorLossUpdate.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastLoss == nil {
		b.lastLoss = make(map[int]float64)
	}
	b.lastLoss[level] = loss
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	b.mu.Lock()
	last := make(map[int]float64, len(b.lastLoss))
	for k, v := range b.lastLoss {
		last[k] = v
	}
	b.mu.Unlock()

	return BasicMetricsStats{
		SetupCount:           b.SetupCount.Load(),
		SetupErrors:          b.SetupErrors.Load(),
		SetupItems:           b.SetupItems.Load(),
		RetrieveCount:        b.RetrieveCount.Load(),
		RetrieveTrainCount:   b.RetrieveTrainCount.Load(),
		RetrieveErrors:       b.RetrieveErrors.Load(),
		RetrieveAvgNanos:     b.getAvgRetrieveNanos(),
		EstimatorLossUpdates: b.EstimatorLossUpdate.Load(),
		LastEstimatorLoss:    last,
	}
}

func (b *BasicMetricsCollector) getAvgRetrieveNanos() int64 {
	count := b.RetrieveCount.Load()
	if count == 0 {
		return 0
	}
	return b.RetrieveTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SetupCount           int64
	SetupErrors          int64
	SetupItems           int64
	RetrieveCount        int64
	RetrieveTrainCount   int64
	RetrieveErrors       int64
	RetrieveAvgNanos     int64
	EstimatorLossUpdates int64
	LastEstimatorLoss    map[int]float64
}
