package metrics_collectors

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/mem"
)

// HostMemory is a summary of the host's virtual memory.
type HostMemory struct {
	UsedPercent    float64 `json:"used_percent"`
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
}

// HostMemoryMetricCollector reports host memory usage.
type HostMemoryMetricCollector struct {
	Logger zerolog.Logger
}

func (h *HostMemoryMetricCollector) Name() string {
	return "host_memory"
}

func (h *HostMemoryMetricCollector) Collect(ctx context.Context) any {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to retrieve memory statistics")
		return nil
	}
	return HostMemory{
		UsedPercent:    vm.UsedPercent,
		AvailableBytes: vm.Available,
		TotalBytes:     vm.Total,
	}
}

func (h *HostMemoryMetricCollector) Unit() string {
	return "varied (percentage, bytes)"
}
