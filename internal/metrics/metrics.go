// Package metrics records sync engine counters and timings through an
// OpenTelemetry meter.
//
// A Registry owns its own MeterProvider with a ManualReader, so the values
// recorded by the engine and gateway can be collected on demand for the HTTP
// metrics endpoint without running an exporter. A Registry is safe for
// concurrent use.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "github.com/roach88/ynab-sync"

// Metric names recorded by the engine and gateway.
const (
	SyncStarted    = "sync.started"
	SyncCompleted  = "sync.completed"
	SyncFailed     = "sync.failed"
	SyncDuration   = "sync.duration_ms"
	ItemsStaged    = "items.staged"
	ItemsProcessed = "items.processed"
	ItemsFailed    = "items.failed"
	ItemsRequeued  = "items.requeued"
	RemoteAttempts = "remote.attempts"
	RemoteRetries  = "remote.retries"
	RemoteFailures = "remote.failures"
	RemoteLatency  = "remote.latency_ms"
	CleanupRuns    = "cleanup.runs_deleted"
	CleanupItems   = "cleanup.items_deleted"
)

var counterNames = []string{
	SyncStarted, SyncCompleted, SyncFailed,
	ItemsStaged, ItemsProcessed, ItemsFailed, ItemsRequeued,
	RemoteAttempts, RemoteRetries, RemoteFailures,
	CleanupRuns, CleanupItems,
}

var histogramNames = []string{SyncDuration, RemoteLatency}

// Timing aggregates observed values of one histogram.
type Timing struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Counters map[string]int64  `json:"counters"`
	Timings  map[string]Timing `json:"timings"`
}

// Registry records named counters and histograms on an OpenTelemetry meter.
type Registry struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	meter    metric.Meter
	logger   *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger logs every recorded value at debug level, and instrument
// creation failures at warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry with the engine's instruments registered.
func New(opts ...Option) *Registry {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := &Registry{
		provider:   provider,
		reader:     reader,
		meter:      provider.Meter(MeterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, name := range counterNames {
		r.counter(name)
	}
	for _, name := range histogramNames {
		r.histogram(name)
	}
	return r
}

// Shutdown flushes and stops the provider. Recording afterwards is a no-op.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

func (r *Registry) counter(name string) metric.Int64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c, err := r.meter.Int64Counter(name)
	if err != nil {
		r.warn("create counter", name, err)
	}
	if c == nil {
		c = noop.Int64Counter{}
	}
	r.counters[name] = c
	return c
}

func (r *Registry) histogram(name string) metric.Float64Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h, err := r.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		r.warn("create histogram", name, err)
	}
	if h == nil {
		h = noop.Float64Histogram{}
	}
	r.histograms[name] = h
	return h
}

func (r *Registry) warn(op, name string, err error) {
	if r.logger != nil {
		r.logger.Warn("metrics: "+op+" failed", "name", name, "error", err)
	}
}

// Inc adds one to a counter.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add adds n to a counter. A nil registry ignores the call.
func (r *Registry) Add(name string, n int64) {
	if r == nil {
		return
	}
	r.counter(name).Add(context.Background(), n)

	if r.logger != nil {
		r.logger.Debug("metric incremented", "name", name, "by", n)
	}
}

// Record adds one observation to a histogram.
func (r *Registry) Record(name string, value float64) {
	if r == nil {
		return
	}
	r.histogram(name).Record(context.Background(), value)

	if r.logger != nil {
		r.logger.Debug("metric recorded", "name", name, "value", value)
	}
}

// Observe records d in milliseconds.
func (r *Registry) Observe(name string, d time.Duration) {
	r.Record(name, float64(d)/float64(time.Millisecond))
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) int64 {
	return r.Snapshot().Counters[name]
}

// Timing returns the aggregate for name and whether it has any observations.
func (r *Registry) Timing(name string) (Timing, bool) {
	t, ok := r.Snapshot().Timings[name]
	return t, ok
}

// Snapshot collects every metric from the reader. Counters that were never
// incremented read as zero.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Counters: map[string]int64{},
		Timings:  map[string]Timing{},
	}
	if r == nil {
		return snap
	}
	for _, name := range counterNames {
		snap.Counters[name] = 0
	}

	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.warn("collect", "", err)
		return snap
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				snap.Counters[m.Name] = total
			case metricdata.Histogram[float64]:
				if t, ok := timingOf(data); ok {
					snap.Timings[m.Name] = t
				}
			}
		}
	}
	return snap
}

func timingOf(h metricdata.Histogram[float64]) (Timing, bool) {
	var t Timing
	first := true
	for _, dp := range h.DataPoints {
		if dp.Count == 0 {
			continue
		}
		t.Count += int64(dp.Count)
		t.Sum += dp.Sum
		lo, okLo := dp.Min.Value()
		hi, okHi := dp.Max.Value()
		if okLo && (first || lo < t.Min) {
			t.Min = lo
		}
		if okHi && (first || hi > t.Max) {
			t.Max = hi
		}
		first = false
	}
	if t.Count == 0 {
		return Timing{}, false
	}
	t.Average = t.Sum / float64(t.Count)
	return t, true
}
