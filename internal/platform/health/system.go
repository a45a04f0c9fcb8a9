package health

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/platform/metrics"
)

// SystemSampler periodically samples host and runtime statistics into
// the system gauges.
type SystemSampler struct {
	metrics  *metrics.Metrics
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewSystemSampler creates a sampler publishing to m every interval.
func NewSystemSampler(m *metrics.Metrics, log logger.Logger, interval time.Duration) *SystemSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SystemSampler{
		metrics:  m,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling until the context is cancelled or Stop is
// called.
func (s *SystemSampler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop halts sampling.
func (s *SystemSampler) Stop() {
	close(s.stopCh)
}

func (s *SystemSampler) sample() {
	if percent, err := cpu.Percent(0, false); err != nil {
		s.logger.Warn("Failed to sample CPU usage", "error", err)
	} else if len(percent) > 0 {
		s.metrics.SystemCPUUsage.Set(percent[0])
	}

	if v, err := mem.VirtualMemory(); err != nil {
		s.logger.Warn("Failed to sample memory usage", "error", err)
	} else {
		s.metrics.SystemMemoryUsage.Set(v.UsedPercent)
	}

	s.metrics.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
