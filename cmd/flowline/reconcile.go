package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <flow-id>",
	Short: "Re-derive a flow's master status from its child record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.Reconcile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if result.Changed {
			fmt.Printf("Reconciled %s: %s -> %s\n", result.FlowID,
				result.PreviousStatus, color.GreenString(string(result.DerivedStatus)))
		} else {
			fmt.Printf("Flow %s is consistent (%s)\n", result.FlowID, result.PreviousStatus)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a tenant-wide flow health check",
	Long: `Check every flow of the tenant for master/child drift, reconciling
where the derived status differs from the stored one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine.MonitorHealth(cmd.Context(), tenant())
		if err != nil {
			return err
		}

		fmt.Printf("Tenant %s: %d flows checked\n", report.Tenant, report.TotalFlows)
		for _, id := range report.ReconciledFlows {
			fmt.Printf("  %s %s\n", color.GreenString("reconciled"), id)
		}
		for _, inc := range report.Inconsistencies {
			fmt.Printf("  %s %s\n", color.RedString("inconsistent"), inc)
		}
		if len(report.ReconciledFlows) == 0 && len(report.Inconsistencies) == 0 {
			fmt.Println("All flows healthy")
		}
		return nil
	},
}
