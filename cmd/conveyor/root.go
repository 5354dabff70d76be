package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Workflow automation engine",
		Long: `conveyor executes declarative workflows against events, schedules,
webhooks, and manual requests, producing durable run records.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./conveyor.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newValidateCmd())

	return root
}
