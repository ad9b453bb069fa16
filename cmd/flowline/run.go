package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runMeta []string

var runCmd = &cobra.Command{
	Use:   "run <flow-type>",
	Short: "Create and start a new flow",
	Long: `Create a new flow of the given type for the tenant and execute it
until it completes, fails, or halts waiting for user input.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runMeta, "meta", nil, "Flow metadata as key=value (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	metadata, err := parseMeta(runMeta)
	if err != nil {
		return err
	}

	flowID, err := a.engine.CreateFlow(cmd.Context(), args[0], tenant(), metadata)
	if err != nil {
		return err
	}

	status, err := a.engine.GetFlowStatus(cmd.Context(), flowID)
	if err != nil {
		return err
	}

	fmt.Printf("Created flow %s\n", color.CyanString(flowID))
	printFlowStatus(status)
	if status.ChildStatus == "waiting_for_approval" {
		fmt.Printf("\nResume with: flowline resume %s --phase %s --approve\n", flowID, status.Progress.CurrentPhase)
	}
	return nil
}

// parseMeta converts key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", pair)
		}
		metadata[k] = v
	}
	return metadata, nil
}
