package mutation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jjgarcianorway/anna/internal/clock"
	"github.com/jjgarcianorway/anna/internal/evidence"
	"github.com/jjgarcianorway/anna/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls    [][]string
	exitCode int
	stdout   string
}

func (f *fakeRunner) Run(_ context.Context, argv []string) (string, string, int) {
	f.calls = append(f.calls, argv)
	if len(argv) >= 2 && argv[0] == "systemctl" && argv[1] == "is-active" {
		return f.stdout, "", 0
	}
	if len(argv) >= 2 && argv[0] == "systemctl" && argv[1] == "is-enabled" {
		return "enabled", "", 0
	}
	return "", "", f.exitCode
}

func newTestEngine(t *testing.T, runner Runner) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	c := clock.NewFake(time.Unix(0, 0))
	cache := evidence.New(c, 0, 0)
	e := New(c, cache, runner, filepath.Join(dir, "backups"), []string{dir})
	return e, dir
}

func TestConfirmWriteFileRoundTrip(t *testing.T) {
	e, dir := newTestEngine(t, &fakeRunner{})
	target := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(target, []byte("old\n"), 0o644))

	plan := e.Propose(protocol.ChangePlan{
		Description: "write config",
		Operation:   protocol.Operation{Kind: protocol.OpWriteFile, Bytes: []byte("new\n")},
		TargetPath:  target,
		Risk:        protocol.RiskLow,
		Phrase:      "confirm write config",
	})
	assert.Equal(t, protocol.PlanProposed, plan.State)

	final, token, err := e.Confirm(context.Background(), plan.ID, "confirm write config")
	require.NoError(t, err)
	assert.Equal(t, protocol.PlanCommitted, final.State)
	require.NotNil(t, token)
	assert.Equal(t, protocol.PlanCommitted, token.FinalState)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(got))
}

func TestConfirmPhraseMismatchRejected(t *testing.T) {
	e, dir := newTestEngine(t, &fakeRunner{})
	target := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(target, []byte("old\n"), 0o644))

	plan := e.Propose(protocol.ChangePlan{
		Operation:  protocol.Operation{Kind: protocol.OpWriteFile, Bytes: []byte("new\n")},
		TargetPath: target,
		Phrase:     "confirm write config",
	})

	_, _, err := e.Confirm(context.Background(), plan.ID, "Confirm write config")
	assert.ErrorIs(t, err, ErrPhraseMismatch)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(got), "no mutation should occur on a phrase mismatch")
}

func TestConfirmOutsideAllowedPrefixFailsPreflight(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{})
	plan := e.Propose(protocol.ChangePlan{
		Operation:  protocol.Operation{Kind: protocol.OpWriteFile, Bytes: []byte("x")},
		TargetPath: "/root/not-allowed.txt",
		Phrase:     "go",
	})

	final, _, err := e.Confirm(context.Background(), plan.ID, "go")
	assert.ErrorIs(t, err, ErrPreflightFailed)
	assert.Equal(t, protocol.PlanAborted, final.State)
}

func TestConfirmUnknownPlanIDExpired(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{})
	_, _, err := e.Confirm(context.Background(), "does-not-exist", "go")
	assert.ErrorIs(t, err, ErrPlanExpired)
}

func TestConfirmServiceActionRollsBackOnFailure(t *testing.T) {
	runner := &fakeRunner{exitCode: 1, stdout: "active"}
	e, _ := newTestEngine(t, runner)

	plan := e.Propose(protocol.ChangePlan{
		Operation: protocol.Operation{Kind: protocol.OpServiceAction, Unit: "foo.service", Action: "restart"},
		Phrase:    "restart foo",
	})

	final, token, err := e.Confirm(context.Background(), plan.ID, "restart foo")
	require.Error(t, err)
	assert.Equal(t, protocol.PlanRolledBack, final.State)
	require.NotNil(t, token)
	assert.Equal(t, protocol.PlanRolledBack, token.FinalState)

	var sawRestart, sawUndo bool
	for _, call := range runner.calls {
		if len(call) >= 2 && call[0] == "systemctl" && call[1] == "restart" {
			sawRestart = true
		}
		if len(call) >= 2 && call[0] == "systemctl" && call[1] == "start" {
			sawUndo = true
		}
	}
	assert.True(t, sawRestart)
	assert.True(t, sawUndo, "rollback should restore the prior active state")
}

func TestConfirmProtectedServiceStillRunsWhenPlannedDirectly(t *testing.T) {
	// The Mutation Engine itself does not special-case protected units —
	// that refusal happens upstream in internal/recipe before a plan is
	// ever proposed. A plan that reaches Confirm executes.
	runner := &fakeRunner{stdout: "active"}
	e, _ := newTestEngine(t, runner)

	plan := e.Propose(protocol.ChangePlan{
		Operation: protocol.Operation{Kind: protocol.OpServiceAction, Unit: "sshd", Action: "restart"},
		Phrase:    "restart sshd",
	})
	final, _, err := e.Confirm(context.Background(), plan.ID, "restart sshd")
	require.NoError(t, err)
	assert.Equal(t, protocol.PlanCommitted, final.State)
}

func TestRejectDiscardsProposedPlan(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRunner{})
	plan := e.Propose(protocol.ChangePlan{Phrase: "go"})
	assert.True(t, e.Reject(plan.ID))

	_, _, err := e.Confirm(context.Background(), plan.ID, "go")
	assert.ErrorIs(t, err, ErrPlanExpired)
}

func TestConfirmExpiredPlanIsRejected(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	cache := evidence.New(c, 0, 0)
	dir := t.TempDir()
	e := New(c, cache, &fakeRunner{}, filepath.Join(dir, "backups"), []string{dir})
	e.planTTL = time.Second

	plan := e.Propose(protocol.ChangePlan{Phrase: "go"})
	c.Advance(2 * time.Second)

	_, _, err := e.Confirm(context.Background(), plan.ID, "go")
	assert.ErrorIs(t, err, ErrPlanExpired)
}

func TestRollbackIsIdempotent(t *testing.T) {
	e, dir := newTestEngine(t, &fakeRunner{})
	target := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	plan := &protocol.ChangePlan{ID: "p1", TargetPath: target, Operation: protocol.Operation{Kind: protocol.OpWriteFile}}
	token, err := e.backup(plan)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("mutated"), 0o644))
	e.rollback(context.Background(), plan, token)
	got, _ := os.ReadFile(target)
	assert.Equal(t, "original", string(got))

	// Running rollback again against the same token is a no-op, not an error.
	e.rollback(context.Background(), plan, token)
	got, _ = os.ReadFile(target)
	assert.Equal(t, "original", string(got))
}

func TestPackageActionInverseVerb(t *testing.T) {
	assert.Equal(t, "remove", inverseVerb("install"))
	assert.Equal(t, "install", inverseVerb("remove"))
}

func TestIsNoopPlanAborted(t *testing.T) {
	e, dir := newTestEngine(t, &fakeRunner{})
	plan := e.Propose(protocol.ChangePlan{
		Operation:  protocol.Operation{Kind: protocol.OpWriteFile, Bytes: []byte("x")},
		TargetPath: filepath.Join(dir, "f.txt"),
		IsNoop:     true,
		Phrase:     "go",
	})
	final, _, err := e.Confirm(context.Background(), plan.ID, "go")
	assert.ErrorIs(t, err, ErrPreflightFailed)
	assert.Equal(t, protocol.PlanAborted, final.State)
}
