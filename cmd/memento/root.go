package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "memento",
		Short:         "Team chat with an assistant that remembers",
		Long:          "memento serves real-time team chat over websockets, answers questions with an AI assistant, and extracts meetings, deadlines and decisions from conversations.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newTokenCmd(),
		newRecallCmd(),
	)
	return rootCmd
}
