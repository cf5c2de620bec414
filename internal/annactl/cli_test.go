package annactl

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

func runCLI(t *testing.T, sockPath string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--socket", sockPath}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestAskCommandPrintsAnswerAndScore(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "annad.sock")
	fakeDaemon(t, sockPath, protocol.AskResult{Answer: "you have 16 GB of RAM", Score: 90}, nil)

	out, err := runCLI(t, sockPath, "ask", "how", "much", "ram")
	require.NoError(t, err)
	assert.Contains(t, out, "16 GB of RAM")
	assert.Contains(t, out, "90/100")
}

func TestAskCommandPrintsProposedPlan(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "annad.sock")
	fakeDaemon(t, sockPath, protocol.AskResult{
		Answer: "disk is full",
		Score:  70,
		ProposedPlan: &protocol.ChangePlan{
			ID:          "plan-1",
			Description: "remove old logs",
			Phrase:      "yes do it",
		},
	}, nil)

	out, err := runCLI(t, sockPath, "ask", "is", "my", "disk", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "plan-1")
	assert.Contains(t, out, "yes do it")
}

func TestConfirmCommandPrintsState(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "annad.sock")
	fakeDaemon(t, sockPath, protocol.ConfirmResult{State: protocol.PlanCommitted}, nil)

	out, err := runCLI(t, sockPath, "confirm", "plan-1", "yes do it")
	require.NoError(t, err)
	assert.Contains(t, out, "COMMITTED")
}

func TestStatusCommandPrintsFields(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "annad.sock")
	fakeDaemon(t, sockPath, protocol.StatusResult{UptimeS: 100, InFlight: 2, CacheSize: 5, RecentScoreAvg: 88.5}, nil)

	out, err := runCLI(t, sockPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "uptime")
	assert.Contains(t, out, "88.5")
}

func TestLogsCommandPrintsTailOfCasesFile(t *testing.T) {
	stateDir := t.TempDir()
	auditDir := filepath.Join(stateDir, "audit")
	require.NoError(t, os.MkdirAll(auditDir, 0o755))

	var content bytes.Buffer
	for i := 0; i < 5; i++ {
		cf := protocol.CaseFile{RequestID: "req-" + string(rune('a'+i))}
		data, err := json.Marshal(cf)
		require.NoError(t, err)
		content.Write(data)
		content.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(auditDir, "cases.jsonl"), content.Bytes(), 0o600))

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--state-dir", stateDir, "logs", "cases", "-n", "2"})
	require.NoError(t, rootCmd.Execute())

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "request_id"))
}
