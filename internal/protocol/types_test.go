package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTicketNeedsClarification(t *testing.T) {
	clear := Ticket{Intent: IntentSystemQuery, Domain: DomainHardware, Confidence: 1.0}
	if clear.NeedsClarification() {
		t.Errorf("ticket with no clarification question should not need clarification")
	}

	ambiguous := Ticket{Intent: IntentUnknown, ClarificationQuestion: "which disk do you mean?"}
	if !ambiguous.NeedsClarification() {
		t.Errorf("ticket with a clarification question should need clarification")
	}
}

func TestTicketSerialization(t *testing.T) {
	tk := Ticket{
		Intent:      IntentFixIt,
		Domain:      DomainStorage,
		Entities:    []string{"/var/log"},
		NeedsProbes: []string{"df -h"},
		Risk:        RiskMedium,
		Confidence:  0.92,
	}

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal ticket: %v", err)
	}

	var decoded Ticket
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal ticket: %v", err)
	}

	if diff := cmp.Diff(tk, decoded); diff != "" {
		t.Errorf("ticket mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeResultSucceeded(t *testing.T) {
	ok := ProbeResult{Command: "df -h", ExitCode: 0}
	if !ok.Succeeded() {
		t.Errorf("exit code 0 should report success")
	}

	failed := ProbeResult{Command: "systemctl status sshd", ExitCode: 3}
	if failed.Succeeded() {
		t.Errorf("non-zero exit code should not report success")
	}
}

func TestPlanStateTerminal(t *testing.T) {
	terminal := []PlanState{PlanRolledBack, PlanCommitted, PlanDiscarded, PlanAborted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("state %s should be terminal", s)
		}
	}

	nonTerminal := []PlanState{PlanProposed, PlanPrepared, PlanBackedUp, PlanVerified}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("state %s should not be terminal", s)
		}
	}
}

func TestChangePlanSerialization(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plan := ChangePlan{
		ID:          "plan-0001",
		Description: "enable and start sshd",
		Operation: Operation{
			Kind:   OpServiceAction,
			Unit:   "sshd.service",
			Action: "start",
		},
		Risk:      RiskMedium,
		Phrase:    "yes, start sshd",
		State:     PlanProposed,
		CreatedAt: createdAt,
	}

	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal change plan: %v", err)
	}

	var decoded ChangePlan
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal change plan: %v", err)
	}

	if diff := cmp.Diff(plan, decoded); diff != "" {
		t.Errorf("change plan mismatch (-want +got):\n%s", diff)
	}
}

func TestRollbackTokenSerialization(t *testing.T) {
	tok := RollbackToken{
		PlanID:        "plan-0001",
		ExecutedAtUTC: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		BackupPath:    "/var/lib/annad/backups/plan-0001",
		UndoOperation: Operation{Kind: OpServiceAction, Unit: "sshd.service", Action: "stop"},
		FinalState:    PlanCommitted,
	}

	data, err := json.Marshal(tok)
	if err != nil {
		t.Fatalf("marshal rollback token: %v", err)
	}

	var decoded RollbackToken
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal rollback token: %v", err)
	}

	if diff := cmp.Diff(tok, decoded); diff != "" {
		t.Errorf("rollback token mismatch (-want +got):\n%s", diff)
	}
}

func TestCaseFileSerialization(t *testing.T) {
	cf := CaseFile{
		RequestID: "req-0001",
		Utterance: "how much ram do I have",
		Ticket:    Ticket{Intent: IntentSystemQuery, Domain: DomainHardware, Confidence: 1.0},
		Evidence: EvidenceBundle{
			Ticket:       Ticket{Intent: IntentSystemQuery, Domain: DomainHardware, Confidence: 1.0},
			ProbeResults: []ProbeResult{{Command: "free -m", ExitCode: 0, Stdout: "..."}},
		},
		Answer:     "you have 16 GB of RAM",
		Score:      92,
		Outcome:    OutcomeDeterministic,
		TimingsMS:  map[string]int64{"total": 12},
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(cf)
	if err != nil {
		t.Fatalf("marshal case file: %v", err)
	}

	var decoded CaseFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal case file: %v", err)
	}

	if diff := cmp.Diff(cf, decoded); diff != "" {
		t.Errorf("case file mismatch (-want +got):\n%s", diff)
	}
}
