// Package specialist implements the Specialist Synthesizer: one generator
// per domain, selected through a plain dispatch table (no interface
// hierarchy, per spec.md §9's design note), each a pure function from
// (ticket, probe results, hardware summary) to an answer and an optional
// Change Plan.
//
// Deterministic-first is the core rule: a generator that can mechanically
// answer the question from parsed evidence MUST do so and must never
// consult the language-model capability; only a genuinely open-ended
// question reaches Translate's LLM fallback path here too.
package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jjgarcianorway/anna/internal/hardware"
	"github.com/jjgarcianorway/anna/internal/llm"
	"github.com/jjgarcianorway/anna/internal/protocol"
	"github.com/jjgarcianorway/anna/internal/recipe"
	"github.com/jjgarcianorway/anna/internal/specialist/parse"
)

// DefaultTimeout bounds an open-ended language-model synthesis call, per
// spec.md §6 (synthesizer_timeout_secs=30).
const DefaultTimeout = 30 * time.Second

// Result is everything one Synthesize call produces.
type Result struct {
	Answer       string
	Plan         *protocol.ChangePlan
	UsedHardware bool
	UsedLLM      bool

	// Grounding carries the raw deterministic facts the answer's claims
	// were derived from (e.g. a hardware summary's MB counts), for the
	// Reliability Supervisor's answer_grounded check when those facts
	// never passed through a probe's stdout.
	Grounding string
}

// Generator produces a Result from a ticket and the evidence gathered for
// it. probeByCommand lets a generator look up a specific probe's output
// without caring what position it landed at in the Evidence Bundle.
type Generator func(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result

// Synthesizer dispatches to domain-specific generators.
type Synthesizer struct {
	LLM       llm.Client
	Hardware  *hardware.Collector
	Manager   recipe.PackageManager
	Timeout   time.Duration
	table     map[protocol.Domain]Generator
}

// New builds a Synthesizer with the default generator table.
func New(llmClient llm.Client, hw *hardware.Collector, manager recipe.PackageManager) *Synthesizer {
	s := &Synthesizer{LLM: llmClient, Hardware: hw, Manager: manager, Timeout: DefaultTimeout}
	s.table = map[protocol.Domain]Generator{
		protocol.DomainHardware:    hardwareGenerator,
		protocol.DomainStorage:     storageGenerator,
		protocol.DomainPerformance: performanceGenerator,
		protocol.DomainServices:    servicesGenerator,
		protocol.DomainGeneral:     generalGenerator,
	}
	return s
}

// Synthesize selects a generator by ticket.Domain, falling back to the
// general-domain/LLM path for anything not in the table (network,
// security, desktop, logs generalize to the same open-ended handling in
// this implementation's scope).
func (s *Synthesizer) Synthesize(ctx context.Context, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	if ticket.Intent == protocol.IntentActionRequest {
		return actionGenerator(ctx, s, ticket, probes)
	}
	gen, ok := s.table[ticket.Domain]
	if !ok {
		gen = generalGenerator
	}
	return gen(ctx, s, ticket, probes)
}

func probeByCommand(probes []protocol.ProbeResult, command string) (protocol.ProbeResult, bool) {
	for _, p := range probes {
		if p.Command == command {
			return p, true
		}
	}
	return protocol.ProbeResult{}, false
}

func answerShape(summary, details, commands string) string {
	var b strings.Builder
	b.WriteString("[SUMMARY]\n")
	b.WriteString(summary)
	b.WriteString("\n[DETAILS]\n")
	b.WriteString(details)
	b.WriteString("\n[COMMANDS]\n")
	b.WriteString(commands)
	return b.String()
}

func hardwareGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, _ []protocol.ProbeResult) Result {
	if s.Hardware == nil {
		return openEndedFallback(ctx, s, ticket, nil)
	}
	hw, err := s.Hardware.Get(ctx)
	if err != nil {
		return openEndedFallback(ctx, s, ticket, nil)
	}

	for _, e := range ticket.Entities {
		switch e {
		case "ram":
			gb := float64(hw.TotalMemoryMB) / 1024.0
			summary := fmt.Sprintf("You have %.0f GB of RAM (%.0f GB available).", gb, float64(hw.AvailMemoryMB)/1024.0)
			details := fmt.Sprintf("Total: %d MB. Available: %d MB. Used: %.1f%%.", hw.TotalMemoryMB, hw.AvailMemoryMB, hw.MemoryUsedPct)
			return Result{Answer: answerShape(summary, details, "free -h"), UsedHardware: true, Grounding: summary + " " + details}
		case "cpu":
			summary := fmt.Sprintf("Your CPU is a %s with %d cores.", hw.CPUModel, hw.CPUCores)
			details := fmt.Sprintf("Model: %s. Cores: %d.", hw.CPUModel, hw.CPUCores)
			return Result{Answer: answerShape(summary, details, "lscpu"), UsedHardware: true, Grounding: summary + " " + details}
		}
	}
	return openEndedFallback(ctx, s, ticket, nil)
}

func storageGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	p, ok := probeByCommand(probes, "df -h")
	if !ok || !p.Succeeded() {
		return openEndedFallback(ctx, s, ticket, probes)
	}
	lines := parse.DiskUsage(p.Stdout)
	if len(lines) == 0 {
		return Result{Answer: answerShape("No filesystem data available.", p.Stdout, "df -h")}
	}
	root := lines[0]
	for _, l := range lines {
		if l.MountedOn == "/" {
			root = l
			break
		}
	}
	summary := fmt.Sprintf("Your root filesystem is %d%% full (%s used of %s).", root.UsePercent, root.Used, root.Size)
	var details strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&details, "%s mounted at %s: %s used of %s (%d%%).\n", l.Filesystem, l.MountedOn, l.Used, l.Size, l.UsePercent)
	}
	return Result{Answer: answerShape(summary, strings.TrimSpace(details.String()), "df -h")}
}

func performanceGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	p, ok := probeByCommand(probes, "ps aux --sort=-%mem")
	if !ok || !p.Succeeded() {
		return openEndedFallback(ctx, s, ticket, probes)
	}
	procs := parse.TopMemoryProcs(p.Stdout, 10)
	if len(procs) == 0 {
		return Result{Answer: answerShape("No process data available.", p.Stdout, "ps aux --sort=-%mem")}
	}
	names := make([]string, 0, len(procs))
	var details strings.Builder
	for _, proc := range procs {
		names = append(names, proc.Command)
		fmt.Fprintf(&details, "%s (pid %s): %s%% memory.\n", proc.Command, proc.PID, proc.MemPct)
	}
	summary := fmt.Sprintf("The process using the most memory is %s.", names[0])
	return Result{Answer: answerShape(summary, strings.TrimSpace(details.String()), "ps aux --sort=-%mem")}
}

func servicesGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	p, ok := probeByCommand(probes, "systemctl --failed")
	if !ok || !p.Succeeded() {
		return openEndedFallback(ctx, s, ticket, probes)
	}
	failed := parse.FailedServices(p.Stdout)
	if len(failed) == 0 {
		return Result{Answer: answerShape("No failed services; everything looks healthy.", "systemctl --failed reported zero failed units.", "systemctl --failed")}
	}
	names := make([]string, 0, len(failed))
	var details strings.Builder
	for _, f := range failed {
		names = append(names, f.Unit)
		fmt.Fprintf(&details, "%s is %s/%s: %s\n", f.Unit, f.Active, f.Sub, f.Description)
	}
	summary := fmt.Sprintf("%d service(s) have failed: %s.", len(failed), strings.Join(names, ", "))
	return Result{Answer: answerShape(summary, strings.TrimSpace(details.String()), "systemctl --failed")}
}

func generalGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	if len(ticket.NeedsProbes) == 0 {
		return openEndedFallback(ctx, s, ticket, probes)
	}
	return fullDiagnostic(ctx, s, ticket, probes)
}

// fullDiagnostic covers the "run full diagnostic" scenario (spec.md §8
// scenario 5): it aggregates disk, services, memory, and journal probes
// into one answer without ever calling the language-model capability.
func fullDiagnostic(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	var issues []string
	var details strings.Builder
	var commands []string

	if p, ok := probeByCommand(probes, "df -h"); ok {
		commands = append(commands, p.Command)
		if p.Succeeded() {
			for _, l := range parse.DiskUsage(p.Stdout) {
				fmt.Fprintf(&details, "%s at %s: %d%% used.\n", l.Filesystem, l.MountedOn, l.UsePercent)
				if l.UsePercent >= 90 {
					issues = append(issues, fmt.Sprintf("%s is %d%% full", l.MountedOn, l.UsePercent))
				}
			}
		}
	}
	if p, ok := probeByCommand(probes, "systemctl --failed"); ok {
		commands = append(commands, p.Command)
		if p.Succeeded() {
			failed := parse.FailedServices(p.Stdout)
			if len(failed) == 0 {
				details.WriteString("No failed services.\n")
			} else {
				for _, f := range failed {
					issues = append(issues, fmt.Sprintf("%s has failed", f.Unit))
					fmt.Fprintf(&details, "%s is failed.\n", f.Unit)
				}
			}
		}
	}
	if p, ok := probeByCommand(probes, "free -h"); ok {
		commands = append(commands, p.Command)
		if p.Succeeded() {
			if m, ok := parse.Memory(p.Stdout); ok {
				fmt.Fprintf(&details, "Memory: %s used of %s.\n", m.Used, m.Total)
			}
		}
	}
	if p, ok := probeByCommand(probes, "journalctl -p err -n 50 --no-pager"); ok {
		commands = append(commands, p.Command)
		if p.Succeeded() && strings.TrimSpace(p.Stdout) != "" {
			issues = append(issues, "recent journal errors were found")
		}
	}

	var summary string
	if len(issues) == 0 {
		summary = "Diagnostic complete: no critical issues found."
	} else {
		summary = fmt.Sprintf("Diagnostic complete: found %d issue(s): %s.", len(issues), strings.Join(issues, "; "))
	}
	return Result{Answer: answerShape(summary, strings.TrimSpace(details.String()), strings.Join(commands, "\n"))}
}

// openEndedFallback bundles the ticket and evidence into a prompt and
// invokes the language-model capability, per spec.md §4.5's "only when
// the question is open-ended" rule.
func openEndedFallback(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, probes []protocol.ProbeResult) Result {
	if s.LLM == nil {
		return Result{Answer: ""}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	llmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var evidenceText strings.Builder
	for _, p := range probes {
		fmt.Fprintf(&evidenceText, "$ %s (exit %d)\n%s\n%s\n", p.Command, p.ExitCode, p.Stdout, p.Stderr)
	}
	prompt := fmt.Sprintf(
		"Answer the user's question using only the evidence below. Reply as plain text with "+
			"three sections labelled [SUMMARY], [DETAILS], and [COMMANDS].\n\nQuestion: %s\n\nEvidence:\n%s",
		strings.Join(ticket.Entities, " "), evidenceText.String(),
	)
	out, err := s.LLM.Complete(llmCtx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		return Result{Answer: ""}
	}
	return Result{Answer: out, UsedLLM: true}
}

// actionGenerator resolves an action_request ticket against the recipe
// table, per spec.md §4.5's recipe rule.
func actionGenerator(ctx context.Context, s *Synthesizer, ticket protocol.Ticket, _ []protocol.ProbeResult) Result {
	if len(ticket.Entities) == 0 {
		return Result{Answer: answerShape("I couldn't tell what to act on.", "No entity was extracted from the request.", "")}
	}
	target := ticket.Entities[0]

	switch ticket.Domain {
	case protocol.DomainServices:
		if recipe.IsProtected(target) {
			summary := fmt.Sprintf("%s is a protected system service; I will not restart or stop it.", target)
			return Result{Answer: answerShape(summary, "This unit is on the protected-services list and is refused deterministically.", "")}
		}
		// The Translator's pattern table threads the restart-vs-stop verb
		// through as the ticket's second entity.
		action := "restart"
		if len(ticket.Entities) > 1 && ticket.Entities[1] == "stop" {
			action = "stop"
		}
		var plan protocol.ChangePlan
		var ok bool
		if action == "stop" {
			plan, ok = recipe.StopService(target)
		} else {
			plan, ok = recipe.RestartService(target)
		}
		if !ok {
			summary := fmt.Sprintf("%s is a protected system service; I will not %s it.", target, action)
			return Result{Answer: answerShape(summary, "This unit is on the protected-services list and is refused deterministically.", "")}
		}
		summary := fmt.Sprintf("Ready to %s %s. Confirm to proceed.", action, target)
		return Result{Answer: answerShape(summary, plan.Description, ""), Plan: &plan}
	default:
		manager := s.Manager
		if manager == "" {
			manager = recipe.ManagerPacman
		}
		plan := recipe.InstallPackage(manager, target)
		summary := fmt.Sprintf("Ready to install %s. Confirm to proceed.", target)
		return Result{Answer: answerShape(summary, plan.Description, ""), Plan: &plan}
	}
}
