package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <flow-id>",
	Short: "Pause a running flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.PauseFlow(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Paused flow %s\n", args[0])
		return nil
	},
}
