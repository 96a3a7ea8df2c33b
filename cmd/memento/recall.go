package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/store"
)

func newRecallCmd() *cobra.Command {
	var (
		typ    string
		days   int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "recall <userId>",
		Short: "Print a user's recent memories",
		Long:  "Print the memories recorded for a user within the trailing days, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if dbPath == "" {
				dbPath = config.StringOr("MEMENTO_DB", "memento.db")
			}

			var category core.Category
			if typ != "" {
				c, ok := core.ParseCategory(typ)
				if !ok {
					return fmt.Errorf("unknown memory type %q", typ)
				}
				category = c
			}

			st, err := store.New(dbPath)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			defer st.Close()

			memories, err := memory.NewManager(st).Recall(cmd.Context(), args[0], category, days)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			if len(memories) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), memory.FormatMemories(memories))
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "meeting, deadline, decision or other")
	cmd.Flags().IntVar(&days, "days", memory.DefaultRecallDays, "trailing window in days")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides MEMENTO_DB)")
	return cmd
}
