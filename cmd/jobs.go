package cmd

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"interview-orchestrator/config"
	server2 "interview-orchestrator/server"
)

// reconcile runs a single submit-only sweep: due jobs are published to the
// rabbitmq exchange for the running server to pick up under its own slot
// guard. With the memory transport nothing would leave this process, so the
// command refuses to run.
func reconcile(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "resubmit due jobs to the running server and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Dispatcher.Transport != config.TransportRabbitMQ {
				return fmt.Errorf("reconcile needs the %s transport, the server sweeps on its own with %q", config.TransportRabbitMQ, cfg.Dispatcher.Transport)
			}
			ctx := server2.SetupLogger(cfg)
			app, err := server2.Build(ctx, cfg, server2.Options{Detached: true})
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().
				Int("checks", res.Polled).
				Int("resubmitted", res.Resubmitted).
				Int("resumes", res.Resumed).
				Int("busy", res.Busy).
				Int("failed", res.Failed).
				Int("spool_files", res.SpoolFiles).
				Msg("sweep finished")
			return nil
		},
	}
}

func purge(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <interview-id>",
		Short: "delete an interview with its questions, responses and stored recordings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid interview id %q: %w", args[0], err)
			}
			ctx := server2.SetupLogger(cfg)
			app, err := server2.Build(ctx, cfg, server2.Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Interviews.PurgeInterview(ctx, id); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Str("interview_id", id.String()).Msg("interview purged")
			return nil
		},
	}
}
