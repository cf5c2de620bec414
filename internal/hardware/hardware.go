// Package hardware collects a cached HardwareSummary (CPU, memory, host
// facts) so questions like "how much RAM do I have?" can be answered with
// zero probes, per spec.md §4.5 scenario 1. It is backed by
// github.com/shirou/gopsutil/v4, the same library the infrastructure-
// monitoring assistant in the example pack uses for host inventory.
package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jjgarcianorway/anna/internal/clock"
)

// Summary is a point-in-time snapshot of host hardware facts.
type Summary struct {
	CPUModel      string  `json:"cpu_model"`
	CPUCores      int     `json:"cpu_cores"`
	TotalMemoryMB uint64  `json:"total_memory_mb"`
	AvailMemoryMB uint64  `json:"avail_memory_mb"`
	HostID        string  `json:"host_id"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version"`
	Uptime        uint64  `json:"uptime_seconds"`
	CollectedAt   int64   `json:"collected_at_unix"`
	GPUModel      string  `json:"gpu_model,omitempty"`
	GPUVRAMMB     uint64  `json:"gpu_vram_mb,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
}

// Collector refreshes a Summary on demand and caches it for a short TTL so
// a burst of concurrent "how much RAM" questions does not each reissue a
// full host inventory.
type Collector struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	cached  *Summary
	asOf    time.Time
	collect func(ctx context.Context) (Summary, error)
}

// DefaultTTL bounds how stale a cached Summary may be before Get refreshes
// it; hardware facts change rarely enough that a generous TTL is safe.
const DefaultTTL = 30 * time.Second

// NewCollector builds a Collector backed by the real gopsutil calls.
func NewCollector(c clock.Clock) *Collector {
	if c == nil {
		c = clock.System{}
	}
	col := &Collector{clock: c, ttl: DefaultTTL}
	col.collect = col.collectReal
	return col
}

// NewTestCollector returns a Collector that shares base's clock and TTL
// but calls collect instead of gopsutil, for use in other packages' tests
// that need a fixed Summary without touching the real host.
func NewTestCollector(base *Collector, collect func(ctx context.Context) (Summary, error)) *Collector {
	return &Collector{clock: base.clock, ttl: base.ttl, collect: collect}
}

// Get returns the current Summary, refreshing it if the cached copy is
// older than the TTL or has never been collected.
func (c *Collector) Get(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	if c.cached != nil && c.clock.Now().Sub(c.asOf) <= c.ttl {
		s := *c.cached
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.collect(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("hardware: collect: %w", err)
	}
	s.CollectedAt = c.clock.Now().Unix()

	c.mu.Lock()
	c.cached = &s
	c.asOf = c.clock.Now()
	c.mu.Unlock()
	return s, nil
}

func (c *Collector) collectReal(ctx context.Context) (Summary, error) {
	var s Summary

	cpuInfos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("cpu.Info: %w", err)
	}
	if len(cpuInfos) > 0 {
		s.CPUModel = cpuInfos[0].ModelName
	}
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return s, fmt.Errorf("cpu.Counts: %w", err)
	}
	s.CPUCores = counts

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("mem.VirtualMemory: %w", err)
	}
	s.TotalMemoryMB = vm.Total / (1024 * 1024)
	s.AvailMemoryMB = vm.Available / (1024 * 1024)
	s.MemoryUsedPct = vm.UsedPercent

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("host.Info: %w", err)
	}
	s.HostID = info.HostID
	s.Platform = info.Platform
	s.KernelVersion = info.KernelVersion
	s.Uptime = info.Uptime

	return s, nil
}
