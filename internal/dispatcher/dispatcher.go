// Package dispatcher resolves a Ticket's probe specifiers to concrete
// shell commands and runs them with a bounded fan-out, consulting the
// Evidence Cache so identical commands in flight are deduplicated.
//
// The bounded-worker-pool-plus-join-before-returning shape generalizes the
// teacher's single-supervised-subprocess-at-a-time scheduling
// (internal/scheduler) to N-way concurrent fan-out while keeping its
// "join before responding" discipline intact.
package dispatcher

import (
	"context"
	"strings"
	"sync"

	"github.com/jjgarcianorway/anna/internal/evidence"
	"github.com/jjgarcianorway/anna/internal/probe"
	"github.com/jjgarcianorway/anna/internal/protocol"
)

// DefaultFanout is the worker-pool width, per spec.md §6 (probe_fanout=4).
const DefaultFanout = 4

// allowedBinaries is the static allowlist of binaries a raw (non-catalog)
// probe specifier may begin with, per spec.md §4.4.
var allowedBinaries = map[string]bool{
	"lscpu": true, "free": true, "df": true, "lsblk": true, "lspci": true,
	"ip": true, "ps": true, "systemctl": true, "journalctl": true,
	"pacman": true, "uname": true, "systemd-analyze": true, "sh": true,
}

// Catalog maps a symbolic probe id to its concrete command string.
type Catalog map[string]string

// DefaultCatalog is the static probe-id table referenced throughout §4 of
// the specification and exercised by the pattern table's NeedsProbes
// entries.
var DefaultCatalog = Catalog{
	"disk_usage":            "df -h",
	"top_memory_procs":      "ps aux --sort=-%mem",
	"failed_services":       "systemctl --failed",
	"memory_summary":        "free -h",
	"recent_journal_errors": "journalctl -p err -n 50 --no-pager",
	"block_devices":         "lsblk",
	"network_interfaces":    "ip addr show",
	"cpu_info":              "lscpu",
	"boot_analysis":         "systemd-analyze blame",
}

// Summary is the count record the Dispatcher reports alongside an
// Evidence Bundle, per spec.md §4.4's closing sentence.
type Summary struct {
	Planned      int
	Executed     int
	Succeeded    int
	Unresolvable int
}

// Dispatcher resolves and runs probes.
type Dispatcher struct {
	Catalog Catalog
	Cache   *evidence.Cache
	Executor *probe.Executor
	Fanout   int
}

// New builds a Dispatcher with the default catalog and fanout.
func New(cache *evidence.Cache, executor *probe.Executor) *Dispatcher {
	return &Dispatcher{
		Catalog:  DefaultCatalog,
		Cache:    cache,
		Executor: executor,
		Fanout:   DefaultFanout,
	}
}

// Resolve maps one probe specifier to a concrete command string, or
// reports that it is unresolvable, per spec.md §4.4's three-way rule.
func (d *Dispatcher) Resolve(specifier string) (command string, resolvable bool) {
	if cmd, ok := d.Catalog[specifier]; ok {
		return cmd, true
	}
	first := strings.Fields(specifier)
	if len(first) > 0 && allowedBinaries[first[0]] {
		return specifier, true
	}
	if strings.ContainsAny(specifier, "|> ") {
		return specifier, true
	}
	return "", false
}

// Run resolves and executes every specifier in needsProbes, preserving
// ticket order in the returned slice regardless of completion order, and
// returns a Summary of counts per spec.md §4.4 and §5.
func (d *Dispatcher) Run(ctx context.Context, needsProbes []string) ([]protocol.ProbeResult, Summary) {
	results := make([]protocol.ProbeResult, len(needsProbes))
	summary := Summary{Planned: len(needsProbes)}

	fanout := d.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}

	jobs := make(chan int, len(needsProbes))
	for i := range needsProbes {
		jobs <- i
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	workers := fanout
	if workers > len(needsProbes) {
		workers = len(needsProbes)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				specifier := needsProbes[i]
				command, ok := d.Resolve(specifier)
				if !ok {
					results[i] = probe.Unresolvable(specifier)
					mu.Lock()
					summary.Unresolvable++
					mu.Unlock()
					continue
				}
				result := d.Cache.Fetch(command, func() protocol.ProbeResult {
					return d.Executor.Run(ctx, command)
				})
				results[i] = result
				mu.Lock()
				summary.Executed++
				if result.Succeeded() {
					summary.Succeeded++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return results, summary
}
