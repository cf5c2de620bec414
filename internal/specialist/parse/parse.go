// Package parse contains small, independently-tested pure functions that
// turn the plain-text output of common diagnostic commands (df, free,
// lsblk, ps, systemctl, ip, lscpu) into structured values the Specialist
// Synthesizer's generators can reason about without re-shelling out for a
// JSON-capable variant.
//
// This plain-text-first approach is grounded on the original Rust
// source's probe_answers.rs / probe_runner.rs, which parse the same
// command families the same way.
package parse

import (
	"strconv"
	"strings"
)

// DiskLine is one parsed row of `df -h` output.
type DiskLine struct {
	Filesystem string
	Size       string
	Used       string
	Avail      string
	UsePercent int
	MountedOn  string
}

// DiskUsage parses `df -h` stdout into one DiskLine per filesystem row,
// skipping the header.
func DiskUsage(stdout string) []DiskLine {
	var out []DiskLine
	for _, line := range splitNonEmptyLines(stdout) {
		fields := strings.Fields(line)
		if len(fields) < 6 || fields[0] == "Filesystem" {
			continue
		}
		pct := strings.TrimSuffix(fields[4], "%")
		n, err := strconv.Atoi(pct)
		if err != nil {
			continue
		}
		out = append(out, DiskLine{
			Filesystem: fields[0],
			Size:       fields[1],
			Used:       fields[2],
			Avail:      fields[3],
			UsePercent: n,
			MountedOn:  strings.Join(fields[5:], " "),
		})
	}
	return out
}

// MemorySummary is the parsed first data row of `free -h`/`free -b`.
type MemorySummary struct {
	Total     string
	Used      string
	Free      string
	Available string
}

// Memory parses `free` stdout (any unit flag) for the Mem: row.
func Memory(stdout string) (MemorySummary, bool) {
	for _, line := range splitNonEmptyLines(stdout) {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Mem") {
			continue
		}
		m := MemorySummary{Total: fields[1], Used: fields[2], Free: fields[3]}
		if len(fields) >= 7 {
			m.Available = fields[6]
		}
		return m, true
	}
	return MemorySummary{}, false
}

// ProcessMem is one row of `ps aux --sort=-%mem` output.
type ProcessMem struct {
	User    string
	PID     string
	MemPct  string
	Command string
}

// TopMemoryProcs parses up to limit process rows from `ps aux
// --sort=-%mem` stdout, skipping the header, in the order the probe
// already sorted them.
func TopMemoryProcs(stdout string, limit int) []ProcessMem {
	var out []ProcessMem
	for _, line := range splitNonEmptyLines(stdout) {
		fields := strings.Fields(line)
		if len(fields) < 11 || fields[0] == "USER" {
			continue
		}
		out = append(out, ProcessMem{
			User:    fields[0],
			PID:     fields[1],
			MemPct:  fields[3],
			Command: strings.Join(fields[10:], " "),
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// FailedUnit is one row of `systemctl --failed` output.
type FailedUnit struct {
	Unit        string
	Load        string
	Active      string
	Sub         string
	Description string
}

// FailedServices parses `systemctl --failed` stdout. An empty result
// (aside from the trailing unit-count line) means no failed services.
func FailedServices(stdout string) []FailedUnit {
	var out []FailedUnit
	for _, line := range splitNonEmptyLines(stdout) {
		line = strings.TrimPrefix(line, "● ")
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ".service") && !strings.Contains(fields[0], ".") {
			continue
		}
		if fields[0] == "UNIT" {
			continue
		}
		desc := ""
		if len(fields) > 4 {
			desc = strings.Join(fields[4:], " ")
		}
		out = append(out, FailedUnit{
			Unit:        fields[0],
			Load:        fields[1],
			Active:      fields[2],
			Sub:         fields[3],
			Description: desc,
		})
	}
	return out
}

// CPUInfo is the subset of `lscpu` output the hardware-adjacent generators
// care about.
type CPUInfo struct {
	ModelName string
	CPUs      string
}

// LSCPU parses `lscpu` stdout's "Key:   Value" lines.
func LSCPU(stdout string) CPUInfo {
	var info CPUInfo
	for _, line := range splitNonEmptyLines(stdout) {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		switch key {
		case "Model name":
			info.ModelName = val
		case "CPU(s)":
			info.CPUs = val
		}
	}
	return info
}

// IPAddr reports the non-loopback IPv4 addresses found in `ip addr show`
// stdout.
func IPAddr(stdout string) []string {
	var addrs []string
	for _, line := range splitNonEmptyLines(stdout) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr := fields[1]
		if strings.HasPrefix(addr, "127.") {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// BlockDevice is one row of `lsblk` output.
type BlockDevice struct {
	Name string
	Size string
	Type string
	Mount string
}

// BlockDevices parses `lsblk` stdout (default columns: NAME SIZE TYPE
// MOUNTPOINTS, with tree-drawing prefixes on NAME).
func BlockDevices(stdout string) []BlockDevice {
	var out []BlockDevice
	for _, line := range splitNonEmptyLines(stdout) {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] == "NAME" {
			continue
		}
		bd := BlockDevice{
			Name: strings.TrimFunc(fields[0], func(r rune) bool {
				return r == '├' || r == '└' || r == '─' || r == '│'
			}),
			Size: fields[1],
			Type: fields[2],
		}
		if len(fields) > 3 {
			bd.Mount = strings.Join(fields[3:], " ")
		}
		out = append(out, bd)
	}
	return out
}

func splitNonEmptyLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
