package hardware

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/stats"
)

// Monitor periodically samples host hardware and feeds snapshots to the
// stats aggregator. Readings are display-only; nothing in scheduling
// consumes them.
type Monitor struct {
	log      *zap.Logger
	agg      *stats.Aggregator
	interval time.Duration
}

func NewMonitor(log *zap.Logger, agg *stats.Aggregator, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{log: log, agg: agg, interval: interval}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.agg.Publish(m.sample(ctx))
		}
	}
}

func (m *Monitor) sample(ctx context.Context) stats.HardwareSnapshot {
	snap := stats.HardwareSnapshot{Taken: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else if err != nil {
		m.log.Debug("cpu sample failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsed = vm.Used
	} else {
		m.log.Debug("memory sample failed", zap.Error(err))
	}

	// Sensors are unavailable on many platforms; temperature stays zero.
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			if t.Temperature > snap.TemperatureC {
				snap.TemperatureC = t.Temperature
			}
		}
	}

	return snap
}
