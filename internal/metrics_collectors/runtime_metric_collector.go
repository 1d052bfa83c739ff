package metrics_collectors

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
)

// RuntimeMetrics describes the Go runtime of the sync daemon.
type RuntimeMetrics struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

// RuntimeMetricCollector reads goroutine and heap statistics.
type RuntimeMetricCollector struct {
	Logger zerolog.Logger
}

func (r *RuntimeMetricCollector) Name() string {
	return "runtime"
}

func (r *RuntimeMetricCollector) Collect(context.Context) any {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m := RuntimeMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		NumGC:          ms.NumGC,
	}
	r.Logger.Debug().Int("goroutines", m.Goroutines).Uint64("heap_alloc", m.HeapAllocBytes).Msg("Runtime stats collected")
	return m
}

func (r *RuntimeMetricCollector) Unit() string {
	return "varied (count, bytes)"
}
