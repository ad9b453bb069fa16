package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resumePhase   string
	resumeApprove bool
	resumeInput   []string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <flow-id>",
	Short: "Resume a paused or halted flow",
	Long: `Resume a flow at the given phase. For approval phases, --approve
records the approval and execution jumps past the gate; without it the
phase re-runs with the provided input.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumePhase, "phase", "", "Phase to resume from (default: snapshotted current phase)")
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "Approve the pending approval phase")
	resumeCmd.Flags().StringArrayVar(&resumeInput, "input", nil, "User input as key=value (repeatable)")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	flowID := args[0]

	phase := resumePhase
	if phase == "" {
		status, err := a.engine.GetFlowStatus(cmd.Context(), flowID)
		if err != nil {
			return err
		}
		phase = status.Progress.CurrentPhase
		if phase == "" {
			return fmt.Errorf("flow %s has no snapshot; specify --phase", flowID)
		}
	}

	userInput, err := parseMeta(resumeInput)
	if err != nil {
		return err
	}
	if resumeApprove {
		if userInput == nil {
			userInput = make(map[string]any)
		}
		userInput["approved"] = true
	}

	if err := a.engine.ResumeFlow(cmd.Context(), flowID, phase, userInput); err != nil {
		return err
	}

	status, err := a.engine.GetFlowStatus(cmd.Context(), flowID)
	if err != nil {
		return err
	}
	printFlowStatus(status)
	return nil
}
