package metrics_collectors

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// ProcessMetrics describes the sync daemon's own process.
type ProcessMetrics struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads,omitempty"`
}

// ProcessMetricCollector collects resource usage of the current process.
type ProcessMetricCollector struct {
	Logger zerolog.Logger
	PID    int32
}

// NewProcessMetricCollector targets the running process.
func NewProcessMetricCollector(logger zerolog.Logger) *ProcessMetricCollector {
	return &ProcessMetricCollector{Logger: logger, PID: int32(os.Getpid())}
}

func (p *ProcessMetricCollector) Name() string {
	return "process"
}

func (p *ProcessMetricCollector) Collect(ctx context.Context) any {
	proc, err := process.NewProcess(p.PID)
	if err != nil {
		p.Logger.Error().Err(err).Int32("pid", p.PID).Msg("Failed to open process")
		return nil
	}

	metrics := ProcessMetrics{}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		metrics.RSSBytes = memInfo.RSS
	} else {
		p.Logger.Warn().Err(err).Int32("pid", p.PID).Msg("Failed to get memory information")
	}
	if cpuPercent, err := proc.CPUPercentWithContext(ctx); err == nil {
		metrics.CPUPercent = cpuPercent
	} else {
		p.Logger.Warn().Err(err).Int32("pid", p.PID).Msg("Failed to get CPU usage")
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		metrics.Threads = threads
	}
	return metrics
}

func (p *ProcessMetricCollector) Unit() string {
	return "varied (memory: bytes, cpu: %)"
}
