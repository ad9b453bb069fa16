package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var deleteCmd = &cobra.Command{
	Use:   "delete <flow-id>",
	Short: "Soft-delete a flow",
	Long: `Mark a flow deleted on both its master and child records. Deletion
is sticky: no later update can revive the flow. The tenant's pooled agents
are released.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.DeleteFlow(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted flow %s\n", args[0])
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove soft-deleted flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.db.PurgeDeletedFlows(purgeOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d flows\n", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Only purge flows deleted at least this long ago")
	rootCmd.AddCommand(purgeCmd)
}
