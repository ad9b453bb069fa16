package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowline/flowline/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flowline version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowline %s\n", version.Get())
	},
}
