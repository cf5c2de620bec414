// Package recipe holds the static, parameterized Change Plan templates the
// Specialist Synthesizer emits for action_request tickets, plus the
// protected-service list that causes service-mutating recipes to refuse
// deterministically.
//
// The protected-unit notion is grounded directly on the risk classifier in
// the original Rust source's execution_safety.rs, carried into Go as a
// plain set lookup rather than a rule engine.
package recipe

import (
	"fmt"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

// ProtectedServices names systemd units that restart_service and
// stop_service recipes refuse to touch under any circumstances.
var ProtectedServices = map[string]bool{
	"dbus":             true,
	"dbus.service":     true,
	"systemd-logind":   true,
	"NetworkManager":   true,
	"systemd-journald": true,
	"systemd-udevd":    true,
}

// IsProtected reports whether unit names a protected service, matching
// with or without a trailing ".service" suffix.
func IsProtected(unit string) bool {
	if ProtectedServices[unit] {
		return true
	}
	return ProtectedServices[unit+".service"]
}

// PackageManager is the host's detected package manager, resolved once at
// daemon startup (spec.md §4.7's "resolved from the host's detected
// package manager" note).
type PackageManager string

const (
	ManagerPacman PackageManager = "pacman"
	ManagerApt    PackageManager = "apt"
	ManagerDNF    PackageManager = "dnf"
)

// InstallPackage builds the Change Plan for "install X", per spec.md §4.5
// and scenario 3.
func InstallPackage(manager PackageManager, pkg string) protocol.ChangePlan {
	return protocol.ChangePlan{
		Description: fmt.Sprintf("Install package %q using %s", pkg, manager),
		Operation: protocol.Operation{
			Kind:    protocol.OpPackageAction,
			Manager: string(manager),
			Package: pkg,
			Verb:    "install",
		},
		Risk:   protocol.RiskMedium,
		Phrase: fmt.Sprintf("install %s", pkg),
		State:  protocol.PlanProposed,
	}
}

// RestartService builds the Change Plan for "restart X", refusing
// deterministically if unit is protected.
func RestartService(unit string) (protocol.ChangePlan, bool) {
	if IsProtected(unit) {
		return protocol.ChangePlan{}, false
	}
	return protocol.ChangePlan{
		Description: fmt.Sprintf("Restart service %q", unit),
		Operation: protocol.Operation{
			Kind:   protocol.OpServiceAction,
			Unit:   unit,
			Action: "restart",
		},
		Risk:   protocol.RiskMedium,
		Phrase: fmt.Sprintf("restart %s", unit),
		State:  protocol.PlanProposed,
	}, true
}

// StopService builds the Change Plan for "stop X", refusing
// deterministically if unit is protected.
func StopService(unit string) (protocol.ChangePlan, bool) {
	if IsProtected(unit) {
		return protocol.ChangePlan{}, false
	}
	return protocol.ChangePlan{
		Description: fmt.Sprintf("Stop service %q", unit),
		Operation: protocol.Operation{
			Kind:   protocol.OpServiceAction,
			Unit:   unit,
			Action: "stop",
		},
		Risk:   protocol.RiskMedium,
		Phrase: fmt.Sprintf("stop %s", unit),
		State:  protocol.PlanProposed,
	}, true
}
