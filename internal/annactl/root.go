package annactl

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "annactl",
	Short:         "Command-line front-end for annad",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("socket", "s", "", "Path to annad's request socket (default: "+DefaultSocketPath+")")
	rootCmd.PersistentFlags().String("state-dir", "/var/lib/annad", "Daemon state directory, for 'logs'")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func clientFromFlags(cmd *cobra.Command) (*Client, error) {
	socketPath, err := cmd.Flags().GetString("socket")
	if err != nil {
		return nil, err
	}
	return NewClient(socketPath), nil
}
