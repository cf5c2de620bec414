package annactl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm [plan-id] [phrase]",
	Short: "Confirm a pending change plan by repeating its confirmation phrase",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfirm,
}

func runConfirm(cmd *cobra.Command, args []string) error {
	client, err := clientFromFlags(cmd)
	if err != nil {
		return err
	}

	var result protocol.ConfirmResult
	params := protocol.ConfirmParams{PlanID: args[0], Phrase: args[1]}
	if err := client.Call(protocol.MethodConfirm, params, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "plan %s: %s\n", args[0], result.State)
	if result.RollbackToken != nil {
		fmt.Fprintln(out, "a rollback token was recorded in the audit log")
	}
	return nil
}
