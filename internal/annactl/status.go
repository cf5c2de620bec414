package annactl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report annad's current operating state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client, err := clientFromFlags(cmd)
	if err != nil {
		return err
	}

	var result protocol.StatusResult
	if err := client.Call(protocol.MethodStatus, struct{}{}, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "uptime:            %.0fs\n", result.UptimeS)
	fmt.Fprintf(out, "in-flight requests: %d\n", result.InFlight)
	fmt.Fprintf(out, "evidence cache:    %d entries\n", result.CacheSize)
	fmt.Fprintf(out, "recent score avg:  %.1f/100\n", result.RecentScoreAvg)
	return nil
}
