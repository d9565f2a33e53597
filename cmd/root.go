package cmd

import (
	"github.com/spf13/cobra"
	"interview-orchestrator/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "interview-orchestrator",
		Short:         "avatar and recording job orchestration for video interviews",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config), reconcile(config), purge(config))
	return rootCmd
}
