package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var poolMaxIdle time.Duration

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show agent pool statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.pool.GetPoolStatistics()
		if len(stats) == 0 {
			fmt.Println("Agent pool is empty")
			return nil
		}
		for t, n := range stats {
			fmt.Printf("%-40s %d agents\n", t, n)
		}
		return nil
	},
}

var poolCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict idle pooled agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		maxIdle := poolMaxIdle
		if maxIdle == 0 {
			maxIdle = a.cfg.Pool.MaxIdle
		}
		evicted := a.pool.CleanupIdlePools(maxIdle)
		fmt.Printf("Evicted %d agents\n", evicted)
		return nil
	},
}

func init() {
	poolCleanupCmd.Flags().DurationVar(&poolMaxIdle, "max-idle", 0, "Idle threshold (default: configured pool.max_idle)")
	poolCmd.AddCommand(poolCleanupCmd)
}
