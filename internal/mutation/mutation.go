// Package mutation implements the Mutation Engine: the state machine that
// previews, executes, backs up, verifies, and rolls back Change Plans. No
// mutation ever executes without a confirmation request whose phrase
// matches the plan's phrase byte-exactly, per spec.md §3's closing
// invariant.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jjgarcianorway/anna/internal/checksum"
	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/evidence"
	"github.com/jjgarcianorway/anna/internal/fsutil"
	"github.com/jjgarcianorway/anna/internal/protocol"
)

// Sentinel errors mapped to wire error codes at the rpcserver boundary,
// per spec.md §7.
var (
	ErrPhraseMismatch   = errors.New("mutation: confirmation phrase does not match")
	ErrPlanExpired      = errors.New("mutation: plan id is not current")
	ErrPreflightFailed  = errors.New("mutation: pre-flight checks failed")
	ErrVerificationFail = errors.New("mutation: post-execution verification failed")
)

// DefaultPlanTTL bounds how long a PROPOSED plan remains confirmable.
const DefaultPlanTTL = 5 * time.Minute

// Runner spawns the concrete commands ServiceAction, PackageAction, and
// RunPrivilegedCommand operations need. The default implementation shells
// out via os/exec with an optional "sudo -n" privilege-escalation prefix;
// tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout, stderr string, exitCode int)
}

// ExecRunner is the real Runner, grounded on the same process-group
// subprocess discipline as internal/probe, generalized from a read-only
// probe to a (potentially privileged) mutating command.
type ExecRunner struct {
	// SudoPrefix is prepended to argv when the daemon is not running as
	// root. A nil/empty prefix with IsRoot false makes every mutation
	// fail pre-flight, per spec.md §4.7's privilege-escalation note.
	SudoPrefix []string
	IsRoot     bool
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, argv []string) (string, string, int) {
	full := argv
	if !r.IsRoot {
		full = append(append([]string{}, r.SudoPrefix...), argv...)
	}
	if len(full) == 0 {
		return "", "no command to run", -1
	}
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return stdout.String(), stderr.String(), exitCode
}

// Engine holds the PREPARED-plan table and drives every plan's state
// machine. It is the only writer of the Evidence Cache's Invalidate call
// outside of tests.
type Engine struct {
	mu    sync.Mutex // guards plans
	execMu sync.Mutex // exclusive PREPARED->terminal transition lock, per spec.md §5

	plans map[string]*protocol.ChangePlan
	backups map[string]protocol.RollbackToken

	clock           clock.Clock
	cache           *evidence.Cache
	runner          Runner
	backupDir       string
	allowedPrefixes []string
	planTTL         time.Duration
}

// New builds an Engine. backupDir is the process-owned directory backups
// are written under (${STATE_DIR}/backups). allowedPrefixes restricts
// which target paths a file-modifying plan may touch.
func New(c clock.Clock, cache *evidence.Cache, runner Runner, backupDir string, allowedPrefixes []string) *Engine {
	if c == nil {
		c = clock.System{}
	}
	return &Engine{
		plans:           make(map[string]*protocol.ChangePlan),
		backups:         make(map[string]protocol.RollbackToken),
		clock:           c,
		cache:           cache,
		runner:          runner,
		backupDir:       backupDir,
		allowedPrefixes: allowedPrefixes,
		planTTL:         DefaultPlanTTL,
	}
}

// Propose registers a new Change Plan in state PROPOSED, assigning it an
// id and a confirmation phrase derived from its recipe-supplied phrase
// seed (recipes already set Phrase; Propose only assigns identity).
func (e *Engine) Propose(plan protocol.ChangePlan) protocol.ChangePlan {
	plan.ID = uuid.NewString()
	plan.State = protocol.PlanProposed
	plan.CreatedAt = e.clock.Now()

	e.mu.Lock()
	e.plans[plan.ID] = &plan
	e.mu.Unlock()
	return plan
}

// Reject discards a PROPOSED plan.
func (e *Engine) Reject(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[planID]
	if !ok || p.State.Terminal() {
		return false
	}
	p.State = protocol.PlanDiscarded
	return true
}

// lockedCurrent returns the plan if it exists, has not expired, and is
// still in PROPOSED state. Expired PROPOSED plans are discarded lazily.
func (e *Engine) lockedCurrent(planID string) (*protocol.ChangePlan, error) {
	p, ok := e.plans[planID]
	if !ok {
		return nil, ErrPlanExpired
	}
	if p.State != protocol.PlanProposed {
		return nil, ErrPlanExpired
	}
	if e.clock.Now().Sub(p.CreatedAt) > e.planTTL {
		p.State = protocol.PlanDiscarded
		return nil, ErrPlanExpired
	}
	return p, nil
}

// Confirm drives a PROPOSED plan through PREPARED -> BACKED_UP -> VERIFIED
// -> COMMITTED (or the corresponding failure branches), returning the
// plan's final state and, for a terminal outcome, a Rollback Token.
//
// Confirmation phrase matching is byte-exact and never normalized, per
// spec.md §4.7.
func (e *Engine) Confirm(ctx context.Context, planID, phrase string) (protocol.ChangePlan, *protocol.RollbackToken, error) {
	e.mu.Lock()
	plan, err := e.lockedCurrent(planID)
	if err != nil {
		e.mu.Unlock()
		return protocol.ChangePlan{}, nil, err
	}
	if phrase != plan.Phrase {
		e.mu.Unlock()
		return protocol.ChangePlan{}, nil, ErrPhraseMismatch
	}
	plan.State = protocol.PlanPrepared
	planCopy := *plan
	e.mu.Unlock()

	// The full PREPARED -> terminal transition is exclusive: two
	// mutations cannot interleave, per spec.md §5.
	e.execMu.Lock()
	defer e.execMu.Unlock()

	token, runErr := e.run(ctx, &planCopy)

	e.mu.Lock()
	if p, ok := e.plans[planID]; ok {
		p.State = planCopy.State
		p.BackupPath = planCopy.BackupPath
	}
	e.mu.Unlock()

	if planCopy.State == protocol.PlanCommitted || planCopy.State == protocol.PlanRolledBack {
		e.cache.Invalidate()
	}

	return planCopy, token, runErr
}

// run executes the PREPARED -> terminal transition for plan in place,
// mutating plan.State as it progresses.
func (e *Engine) run(ctx context.Context, plan *protocol.ChangePlan) (*protocol.RollbackToken, error) {
	if err := e.preflight(plan); err != nil {
		plan.State = protocol.PlanAborted
		return nil, fmt.Errorf("%w: %v", ErrPreflightFailed, err)
	}

	token, err := e.backup(plan)
	if err != nil {
		plan.State = protocol.PlanAborted
		return nil, fmt.Errorf("%w: %v", ErrPreflightFailed, err)
	}
	plan.State = protocol.PlanBackedUp

	execErr := e.execute(ctx, plan)
	if execErr != nil {
		e.rollback(ctx, plan, token)
		plan.State = protocol.PlanRolledBack
		token.FinalState = protocol.PlanRolledBack
		return token, execErr
	}
	plan.State = protocol.PlanVerified

	if err := e.verify(ctx, plan); err != nil {
		e.rollback(ctx, plan, token)
		plan.State = protocol.PlanRolledBack
		token.FinalState = protocol.PlanRolledBack
		return token, fmt.Errorf("%w: %v", ErrVerificationFail, err)
	}

	plan.State = protocol.PlanCommitted
	token.FinalState = protocol.PlanCommitted
	token.ExecutedAtUTC = e.clock.Now()
	return token, nil
}

// preflight implements spec.md §4.7's PREPARED -> BACKED_UP checks.
func (e *Engine) preflight(plan *protocol.ChangePlan) error {
	if plan.IsNoop {
		return errors.New("plan is a no-op against current state")
	}
	switch plan.Operation.Kind {
	case protocol.OpEnsureLine, protocol.OpWriteFile:
		if plan.TargetPath == "" {
			return errors.New("target path is required")
		}
		if !e.withinAllowedPrefix(plan.TargetPath) {
			return fmt.Errorf("target path %q is outside allowed prefixes", plan.TargetPath)
		}
	case protocol.OpRunPrivilegedCommand:
		if len(plan.Operation.Argv) == 0 {
			return errors.New("argv is required")
		}
		if !allowlistedBinary(plan.Operation.Argv[0]) {
			return fmt.Errorf("binary %q is not in the mutation allowlist", plan.Operation.Argv[0])
		}
	case protocol.OpServiceAction, protocol.OpPackageAction:
		// No filesystem target to validate; privilege is checked below.
	default:
		return fmt.Errorf("unknown operation kind %q", plan.Operation.Kind)
	}

	if runner, ok := e.runner.(ExecRunner); ok {
		if !runner.IsRoot && len(runner.SudoPrefix) == 0 {
			return errors.New("no non-interactive privilege-escalation helper is configured")
		}
	}
	return nil
}

func (e *Engine) withinAllowedPrefix(path string) bool {
	for _, prefix := range e.allowedPrefixes {
		if prefix == "" {
			continue
		}
		rel, err := filepath.Rel(prefix, path)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true
		}
	}
	return false
}

// mutationAllowlist names binaries RunPrivilegedCommand may invoke.
var mutationAllowlist = map[string]bool{
	"systemctl": true, "pacman": true, "apt": true, "apt-get": true, "dnf": true,
}

func allowlistedBinary(bin string) bool {
	return mutationAllowlist[filepath.Base(bin)]
}

// backup implements spec.md §4.7's backup step, writing original bytes
// (or their hash, if absent) under a versioned, process-owned directory
// using the checksum package exactly as the teacher uses it for build
// artifacts, here hashing mutation targets instead.
func (e *Engine) backup(plan *protocol.ChangePlan) (*protocol.RollbackToken, error) {
	token := &protocol.RollbackToken{PlanID: plan.ID}

	switch plan.Operation.Kind {
	case protocol.OpEnsureLine, protocol.OpWriteFile:
		planDir := filepath.Join(e.backupDir, plan.ID)
		if err := os.MkdirAll(planDir, 0o700); err != nil {
			return nil, fmt.Errorf("create backup dir: %w", err)
		}
		backupPath := filepath.Join(planDir, "original")

		original, err := os.ReadFile(plan.TargetPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read target: %w", err)
			}
			token.OriginalStateHash = checksum.SHA256Bytes(nil)
			token.UndoOperation = protocol.Operation{Kind: protocol.OpRunPrivilegedCommand, Argv: []string{"rm", "-f", plan.TargetPath}}
		} else {
			if err := fsutil.AtomicWrite(backupPath, original); err != nil {
				return nil, fmt.Errorf("write backup: %w", err)
			}
			token.BackupPath = backupPath
			token.OriginalStateHash = checksum.SHA256Bytes(original)
			token.UndoOperation = protocol.Operation{Kind: plan.Operation.Kind, Bytes: original}
		}
		plan.BackupPath = backupPath

	case protocol.OpServiceAction:
		isActive, isEnabled := e.serviceState(plan.Operation.Unit)
		token.UndoOperation = protocol.Operation{
			Kind:   protocol.OpServiceAction,
			Unit:   plan.Operation.Unit,
			Action: undoServiceAction(isActive, isEnabled),
		}

	case protocol.OpPackageAction:
		token.UndoOperation = protocol.Operation{
			Kind:    protocol.OpPackageAction,
			Manager: plan.Operation.Manager,
			Package: plan.Operation.Package,
			Verb:    inverseVerb(plan.Operation.Verb),
		}

	case protocol.OpRunPrivilegedCommand:
		// No generic undo is derivable for an arbitrary privileged
		// command; the recipe that proposed it is responsible for
		// supplying its own ServiceAction/PackageAction plan instead
		// when rollback matters.
	}

	return token, nil
}

func undoServiceAction(wasActive, wasEnabled bool) string {
	if wasActive {
		return "start"
	}
	return "stop"
}

func inverseVerb(verb string) string {
	switch verb {
	case "install":
		return "remove"
	case "remove":
		return "install"
	default:
		return verb
	}
}

// serviceState queries systemctl for a unit's current is-active/is-enabled
// flags so the original state can be recorded before mutating it.
func (e *Engine) serviceState(unit string) (isActive, isEnabled bool) {
	stdout, _, _ := e.runner.Run(context.Background(), []string{"systemctl", "is-active", unit})
	isActive = strings.TrimSpace(stdout) == "active"
	stdout, _, _ = e.runner.Run(context.Background(), []string{"systemctl", "is-enabled", unit})
	isEnabled = strings.TrimSpace(stdout) == "enabled"
	return
}

// execute implements spec.md §4.7's execute step.
func (e *Engine) execute(ctx context.Context, plan *protocol.ChangePlan) error {
	switch plan.Operation.Kind {
	case protocol.OpWriteFile:
		return fsutil.AtomicWrite(plan.TargetPath, plan.Operation.Bytes)
	case protocol.OpEnsureLine:
		return ensureLine(plan.TargetPath, plan.Operation.Line)
	case protocol.OpServiceAction:
		_, stderr, code := e.runner.Run(ctx, []string{"systemctl", plan.Operation.Action, plan.Operation.Unit})
		if code != 0 {
			return fmt.Errorf("systemctl %s %s: %s", plan.Operation.Action, plan.Operation.Unit, stderr)
		}
		return nil
	case protocol.OpPackageAction:
		argv := packageArgv(plan.Operation.Manager, plan.Operation.Verb, plan.Operation.Package)
		_, stderr, code := e.runner.Run(ctx, argv)
		if code != 0 {
			return fmt.Errorf("%s: %s", strings.Join(argv, " "), stderr)
		}
		return nil
	case protocol.OpRunPrivilegedCommand:
		_, stderr, code := e.runner.Run(ctx, plan.Operation.Argv)
		if code != 0 {
			return fmt.Errorf("%s: %s", strings.Join(plan.Operation.Argv, " "), stderr)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation kind %q", plan.Operation.Kind)
	}
}

func ensureLine(path, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	content := string(existing)
	for _, l := range strings.Split(content, "\n") {
		if l == line {
			return nil
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	return fsutil.AtomicWrite(path, []byte(content))
}

func packageArgv(manager, verb, pkg string) []string {
	switch manager {
	case "pacman":
		if verb == "install" {
			return []string{"pacman", "-S", "--noconfirm", pkg}
		}
		return []string{"pacman", "-R", "--noconfirm", pkg}
	case "apt":
		if verb == "install" {
			return []string{"apt-get", "install", "-y", pkg}
		}
		return []string{"apt-get", "remove", "-y", pkg}
	case "dnf":
		if verb == "install" {
			return []string{"dnf", "install", "-y", pkg}
		}
		return []string{"dnf", "remove", "-y", pkg}
	default:
		return []string{manager, verb, pkg}
	}
}

// verify implements spec.md §4.7's per-operation post-check.
func (e *Engine) verify(ctx context.Context, plan *protocol.ChangePlan) error {
	switch plan.Operation.Kind {
	case protocol.OpServiceAction:
		if plan.Operation.Action != "restart" && plan.Operation.Action != "start" {
			return nil
		}
		stdout, _, _ := e.runner.Run(ctx, []string{"systemctl", "is-active", plan.Operation.Unit})
		if strings.TrimSpace(stdout) != "active" {
			return fmt.Errorf("service %s is not active after %s", plan.Operation.Unit, plan.Operation.Action)
		}
		return nil
	case protocol.OpWriteFile, protocol.OpEnsureLine:
		if _, err := os.Stat(plan.TargetPath); err != nil {
			return fmt.Errorf("target path missing after write: %w", err)
		}
		return nil
	default:
		return nil
	}
}

// rollback implements spec.md §4.7's rollback step. Rollback is
// idempotent: running it twice against the same token never errors
// differently the second time.
func (e *Engine) rollback(ctx context.Context, plan *protocol.ChangePlan, token *protocol.RollbackToken) {
	switch token.UndoOperation.Kind {
	case protocol.OpWriteFile, protocol.OpEnsureLine:
		if token.BackupPath != "" {
			_ = checksum.VerifyFile(token.BackupPath, token.OriginalStateHash)
			original, err := os.ReadFile(token.BackupPath)
			if err == nil {
				_ = fsutil.AtomicWrite(plan.TargetPath, original)
			}
		}
	case protocol.OpRunPrivilegedCommand:
		e.runner.Run(ctx, token.UndoOperation.Argv)
	case protocol.OpServiceAction:
		e.runner.Run(ctx, []string{"systemctl", token.UndoOperation.Action, token.UndoOperation.Unit})
	case protocol.OpPackageAction:
		argv := packageArgv(token.UndoOperation.Manager, token.UndoOperation.Verb, token.UndoOperation.Package)
		e.runner.Run(ctx, argv)
	}
}

// Get returns a read-only copy of a plan by id, if it exists.
func (e *Engine) Get(planID string) (protocol.ChangePlan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[planID]
	if !ok {
		return protocol.ChangePlan{}, false
	}
	return *p, true
}
