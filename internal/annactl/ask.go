package annactl

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

var askCmd = &cobra.Command{
	Use:   "ask [utterance]",
	Short: "Ask annad a question about this machine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	client, err := clientFromFlags(cmd)
	if err != nil {
		return err
	}

	var result protocol.AskResult
	params := protocol.AskParams{Utterance: strings.Join(args, " ")}
	if err := client.Call(protocol.MethodAsk, params, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Answer)
	fmt.Fprintf(out, "\n(reliability score: %d/100)\n", result.Score)
	if result.ProposedPlan != nil {
		fmt.Fprintf(out, "\nProposed change: %s\nRun `annactl confirm %s \"%s\"` to apply it.\n",
			result.ProposedPlan.Description, result.ProposedPlan.ID, result.ProposedPlan.Phrase)
	}
	return nil
}
