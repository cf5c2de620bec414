package annactl

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs [cases|mutations]",
	Short: "Print the tail of annad's audit logs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

var logsTailLines int

func init() {
	logsCmd.Flags().IntVarP(&logsTailLines, "lines", "n", 20, "Number of trailing lines to print")
}

func runLogs(cmd *cobra.Command, args []string) error {
	which := "cases"
	if len(args) == 1 {
		which = args[0]
	}

	var filename string
	switch which {
	case "cases":
		filename = "cases.jsonl"
	case "mutations":
		filename = "mutations.jsonl"
	default:
		return fmt.Errorf("annactl: unknown log %q, expected 'cases' or 'mutations'", which)
	}

	stateDir, err := cmd.Flags().GetString("state-dir")
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, "audit", filename)

	lines, err := tailLines(path, logsTailLines)
	if err != nil {
		return fmt.Errorf("annactl: read %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}

// tailLines returns the last n lines of path.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
