package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowline/flowline/internal/engine"
	"github.com/flowline/flowline/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <flow-id>",
	Short: "Show combined status for a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.engine.GetFlowStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printFlowStatus(status)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		flows, err := a.engine.ListFlows(tenant())
		if err != nil {
			return err
		}
		if len(flows) == 0 {
			fmt.Printf("No flows for tenant %s\n", tenant())
			return nil
		}

		for _, f := range flows {
			fmt.Printf("%s  %-18s %s  %s\n",
				f.FlowID, f.FlowType, statusColor(f.Status), f.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func printFlowStatus(s *engine.FlowStatus) {
	fmt.Printf("Flow:     %s (%s)\n", s.FlowID, s.FlowType)
	fmt.Printf("Tenant:   %s\n", s.Tenant)
	fmt.Printf("Master:   %s\n", statusColor(s.MasterStatus))
	fmt.Printf("Child:    %s\n", string(s.ChildStatus))
	if s.Progress.TotalPhases > 0 {
		fmt.Printf("Phase:    %s (%d/%d, %.0f%%)\n",
			s.Progress.CurrentPhase, s.Progress.CompletedPhases, s.Progress.TotalPhases, s.Progress.ProgressPercentage)
		if s.Progress.ExecutionHalted {
			fmt.Println(color.YellowString("Halted:   waiting for user input"))
		}
	}
}

func statusColor(s models.MasterStatus) string {
	switch s {
	case models.MasterRunning:
		return color.GreenString(string(s))
	case models.MasterPaused:
		return color.YellowString(string(s))
	case models.MasterCompleted:
		return color.CyanString(string(s))
	case models.MasterFailed:
		return color.RedString(string(s))
	case models.MasterDeleted:
		return color.New(color.Faint).Sprint(string(s))
	default:
		return string(s)
	}
}
