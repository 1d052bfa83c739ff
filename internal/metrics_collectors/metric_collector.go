package metrics_collectors

import "context"

// MetricCollector collects one value for the status report.
type MetricCollector interface {
	Name() string                    // key in the report, e.g. "goroutines"
	Collect(ctx context.Context) any // nil when the value is unavailable
	Unit() string                    // e.g. "count", "bytes"
}

// MetricsRegistry keeps collectors in registration order.
type MetricsRegistry struct {
	names      []string
	collectors map[string]MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
	}
}

// Register adds a collector. A collector with the same name is replaced.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	name := collector.Name()
	if _, exists := r.collectors[name]; !exists {
		r.names = append(r.names, name)
	}
	r.collectors[name] = collector
}

// Collectors returns the registered collectors in registration order.
func (r *MetricsRegistry) Collectors() []MetricCollector {
	out := make([]MetricCollector, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.collectors[name])
	}
	return out
}
