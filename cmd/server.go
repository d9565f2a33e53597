package cmd

import (
	"github.com/spf13/cobra"
	"interview-orchestrator/config"
	server2 "interview-orchestrator/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, dispatcher and reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}
