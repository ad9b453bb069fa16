package main

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/flowline/flowline/internal/agentpool"
	"github.com/flowline/flowline/internal/config"
	"github.com/flowline/flowline/internal/engine"
	"github.com/flowline/flowline/internal/flow"
	"github.com/flowline/flowline/internal/reconcile"
	"github.com/flowline/flowline/internal/registry"
	"github.com/flowline/flowline/pkg/models"
)

// demoFlowType is the built-in document-review flow: two automatic phases,
// an approval gate, and a finalize phase.
const demoFlowType = "document-review"

func demoFlowConfig() *models.FlowTypeConfig {
	return &models.FlowTypeConfig{
		Name:    demoFlowType,
		Version: "1.0.0",
		Phases: []models.PhaseConfig{
			{
				Name:        "intake",
				DisplayName: "Document Intake",
				CanPause:    true,
			},
			{
				Name:         "analysis",
				DisplayName:  "Analysis",
				Dependencies: []string{"intake"},
				CanPause:     true,
			},
			{
				Name:              "approval",
				DisplayName:       "Reviewer Approval",
				Dependencies:      []string{"analysis"},
				RequiresUserInput: true,
			},
			{
				Name:         "finalize",
				DisplayName:  "Finalize",
				Dependencies: []string{"approval"},
			},
		},
	}
}

func demoHandlers() flow.HandlerTable {
	return flow.HandlerTable{
		"intake": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			return &models.PhaseExecutionResult{
				Status:    models.PhaseStatusCompleted,
				NextPhase: "analysis",
				Data:      map[string]any{"received_at": time.Now().UTC().Format(time.RFC3339)},
			}, nil
		},
		"analysis": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			data := map[string]any{"analyzed": true}
			if previous != nil {
				for k, v := range previous.Data {
					data[k] = v
				}
			}
			return &models.PhaseExecutionResult{
				Status:    models.PhaseStatusCompleted,
				NextPhase: "approval",
				Data:      data,
			}, nil
		},
		"approval": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			return &models.PhaseExecutionResult{
				Status:            models.PhaseStatusWaitingApproval,
				RequiresUserInput: true,
			}, nil
		},
		"finalize": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			data := map[string]any{"finalized_at": time.Now().UTC().Format(time.RFC3339)}
			if previous != nil {
				for k, v := range previous.Data {
					data[k] = v
				}
			}
			return &models.PhaseExecutionResult{
				Status: models.PhaseStatusCompleted,
				Data:   data,
			}, nil
		},
	}
}

func registerDemoFlowType(eng *engine.Engine, pool *agentpool.Pool) error {
	if err := eng.RegisterFlowType(demoFlowConfig(), demoHandlers()); err != nil {
		return err
	}
	// A finalized demo flow counts as verified when its child record marks
	// every phase complete.
	eng.RegisterVerifier(demoFlowType, verifyAllPhasesComplete())
	return nil
}

func verifyAllPhasesComplete() reconcile.StateVerifier {
	return reconcile.VerifierFunc(func(ctx context.Context, flowID string, child *models.ChildFlow) (bool, error) {
		for _, p := range demoFlowConfig().Phases {
			if !child.IsPhaseComplete(p.Name) {
				return false, nil
			}
		}
		return true, nil
	})
}

// llmModel maps the configured model string onto the SDK type, defaulting
// when unset.
func llmModel(cfg *config.Config) anthropic.Model {
	if cfg.Anthropic.Model == "" {
		return ""
	}
	return anthropic.Model(cfg.Anthropic.Model)
}

var flowTypesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the flow type directory and hot-reload definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.FlowTypes.Dir == "" {
			return fmt.Errorf("no flow_types.dir configured")
		}
		w, err := registry.NewWatcher(a.engine.Registry(), a.cfg.FlowTypes.Dir)
		if err != nil {
			return err
		}
		defer w.Close()

		fmt.Printf("Watching %s for flow type changes (ctrl-c to stop)\n", a.cfg.FlowTypes.Dir)
		<-cmd.Context().Done()
		return nil
	},
}

var flowTypesCmd = &cobra.Command{
	Use:   "flow-types",
	Short: "List registered flow types",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, name := range a.engine.Registry().ListFlowTypes() {
			cfg, err := a.engine.Registry().GetConfig(name)
			if err != nil {
				continue
			}
			fmt.Printf("%s (v%s, %d phases)\n", name, cfg.Version, len(cfg.Phases))
			for _, p := range cfg.Phases {
				marker := " "
				if p.RequiresUserInput {
					marker = "⏸"
				}
				fmt.Printf("  %s %s\n", marker, p.Name)
			}
		}
		return nil
	},
}

func init() {
	flowTypesCmd.AddCommand(flowTypesWatchCmd)
}
