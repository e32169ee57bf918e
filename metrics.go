package voroclust

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline stage names passed to MetricsCollector.RecordStage.
const (
	StageShuffle     = "shuffle"
	StageCover       = "cover"
	StageInterior    = "interior"
	StageGraph       = "graph"
	StagePropagation = "propagation"
	StageLabeling    = "labeling"
)

// MetricsCollector receives timing and size information from Execute and
// the labeling calls. Implement it to feed a monitoring system such as
// Prometheus.
type MetricsCollector interface {
	// RecordStage is called after each pipeline stage with its wall time.
	RecordStage(stage string, elapsed time.Duration)

	// RecordRun is called once per Execute. err is nil on success.
	RecordRun(spheres, clusters int, elapsed time.Duration, err error)
}

// NoopMetricsCollector discards everything.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStage(string, time.Duration)        {}
func (NoopMetricsCollector) RecordRun(int, int, time.Duration, error) {}

// BasicMetricsCollector keeps in-memory totals. Safe for concurrent use.
type BasicMetricsCollector struct {
	Runs         atomic.Int64
	RunErrors    atomic.Int64
	RunNanos     atomic.Int64
	LastSpheres  atomic.Int64
	LastClusters atomic.Int64

	mu     sync.Mutex
	stages map[string]time.Duration
}

// RecordStage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStage(stage string, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stages == nil {
		b.stages = make(map[string]time.Duration)
	}
	b.stages[stage] += elapsed
}

// RecordRun implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRun(spheres, clusters int, elapsed time.Duration, err error) {
	b.Runs.Add(1)
	b.RunNanos.Add(elapsed.Nanoseconds())
	if err != nil {
		b.RunErrors.Add(1)
		return
	}
	b.LastSpheres.Store(int64(spheres))
	b.LastClusters.Store(int64(clusters))
}

// StageTotal returns the accumulated time spent in stage.
func (b *BasicMetricsCollector) StageTotal(stage string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stages[stage]
}
