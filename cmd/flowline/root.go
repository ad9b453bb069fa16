package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowline/flowline/internal/agentpool"
	"github.com/flowline/flowline/internal/config"
	"github.com/flowline/flowline/internal/engine"
	"github.com/flowline/flowline/internal/lifecycle"
	"github.com/flowline/flowline/internal/llm"
	"github.com/flowline/flowline/internal/registry"
	"github.com/flowline/flowline/internal/state"
	"github.com/flowline/flowline/pkg/models"
)

var (
	clientID     string
	engagementID string
)

var rootCmd = &cobra.Command{
	Use:   "flowline",
	Short: "Multi-tenant pausable workflow engine",
	Long: `Flowline runs multi-phase workflows ("flows") that can pause for
user approval and resume later, with per-tenant isolation.

Each flow has a type-agnostic master record tracking its lifecycle and a
flow-type-specific child record tracking its phases. Status transitions
are synchronized atomically under a per-flow lock, and a reconciliation
pass self-heals any drift between the two.`,
}

// Execute runs the root command
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "default", "Tenant client ID")
	rootCmd.PersistentFlags().StringVar(&engagementID, "engagement", "default", "Tenant engagement ID")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(flowTypesCmd)
	rootCmd.AddCommand(versionCmd)
}

// tenant builds the tenant key from the persistent flags.
func tenant() models.TenantKey {
	return models.TenantKey{ClientID: clientID, EngagementID: engagementID}
}

// app bundles everything a command needs. Close releases the database.
type app struct {
	cfg    *config.Config
	db     *state.DB
	engine *engine.Engine
	pool   *agentpool.Pool
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildApp loads config, opens and migrates the database, and wires the
// engine with the demo flow type plus any YAML-defined flow types.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	pool := agentpool.New(agentFactory(cfg), cfg.Pool.AgentTypes...)

	eng, err := engine.New(
		engine.RequiredConfig{Store: db},
		engine.WithAgentPool(pool),
		engine.WithLifecycleOptions(
			lifecycle.WithLockTTL(cfg.Locks.TTL),
			lifecycle.WithRetryDelay(cfg.Locks.RetryDelay),
			lifecycle.WithCacheTTL(cfg.Cache.TTL),
		),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := registerDemoFlowType(eng, pool); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.FlowTypes.Dir != "" {
		if _, err := registry.RegisterDir(eng.Registry(), cfg.FlowTypes.Dir); err != nil {
			db.Close()
			return nil, fmt.Errorf("load flow types from %s: %w", cfg.FlowTypes.Dir, err)
		}
	}

	return &app{cfg: cfg, db: db, engine: eng, pool: pool}, nil
}

// agentFactory builds the pool's agent factory. Without an API key the
// factory still works; agents are created lazily and a flow type that
// never calls the model never needs one.
func agentFactory(cfg *config.Config) agentpool.AgentFactory {
	return agentpool.FactoryFunc(func(t models.TenantKey, agentType string) (any, error) {
		client, err := llm.NewClient(llm.ClientConfig{
			Model:         llmModel(cfg),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return llm.NewFactory(client).NewAgent(t, agentType)
	})
}
