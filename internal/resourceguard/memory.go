// Package resourceguard implements the MemoryMonitor and RateLimiter global
// guards of spec.md §4.12: resident-set sampling that drives backpressure in
// the PipelineExecutor, and call pacing for the external fingerprinter.
package resourceguard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/tphakala/musiccleanup/internal/logging"
)

// MemoryLevel is the PipelineExecutor's backpressure signal.
type MemoryLevel int

const (
	MemoryNormal MemoryLevel = iota
	MemorySoftLimit
	MemoryHardLimit
)

// MemoryMonitor periodically samples process RSS and reports a MemoryLevel.
// It mirrors the teacher's SystemMonitor polling loop, narrowed to the
// single resource the core cares about.
type MemoryMonitor struct {
	softLimitBytes uint64
	hardLimitBytes uint64
	interval       time.Duration
	pid            int32

	rssBytes atomic.Uint64
	level    atomic.Int32

	log *slog.Logger
}

// NewMemoryMonitor builds a monitor for the current process with soft/hard
// limits in megabytes, matching config.Settings.MemoryLimitMB / HardMemoryLimitMB.
func NewMemoryMonitor(softLimitMB, hardLimitMB int, interval time.Duration) *MemoryMonitor {
	return &MemoryMonitor{
		softLimitBytes: uint64(softLimitMB) * 1024 * 1024,
		hardLimitBytes: uint64(hardLimitMB) * 1024 * 1024,
		interval:       interval,
		pid:            int32(currentPID()),
		log:            logging.ForComponent("resourceguard"),
	}
}

// Run samples memory on the configured interval until ctx is cancelled.
func (m *MemoryMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *MemoryMonitor) sample() {
	rss, err := m.readRSS()
	if err != nil {
		m.log.Warn("failed to sample memory", "error", err)
		return
	}
	m.rssBytes.Store(rss)

	switch {
	case rss >= m.hardLimitBytes:
		m.level.Store(int32(MemoryHardLimit))
	case rss >= m.softLimitBytes:
		m.level.Store(int32(MemorySoftLimit))
	default:
		m.level.Store(int32(MemoryNormal))
	}
}

func (m *MemoryMonitor) readRSS() (uint64, error) {
	if m.pid != 0 {
		proc, err := process.NewProcess(m.pid)
		if err == nil {
			if info, merr := proc.MemoryInfo(); merr == nil {
				return info.RSS, nil
			}
		}
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Used, nil
}

// Level returns the most recently sampled backpressure level.
func (m *MemoryMonitor) Level() MemoryLevel {
	return MemoryLevel(m.level.Load())
}

// RSSBytes returns the most recently sampled resident-set size.
func (m *MemoryMonitor) RSSBytes() uint64 {
	return m.rssBytes.Load()
}
