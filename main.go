// Package main runs the Authrax backend: the trending, insights and
// recommendation API, the voice-analysis webhook and the scheduled jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"authrax/config"
	"authrax/jobs"
	"github.com/spf13/cobra"
)

var errNoLLM = errors.New("GEMINI_API_KEY is not set")

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command serves HTTP.
func newRootCmd(getenv func(string) string) *cobra.Command {
	root := &cobra.Command{
		Use:           "authrax",
		Short:         "Authrax content backend",
		Long:          "authrax serves trending content, topic insights and recommended posts, and ingests voice-analysis webhooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), getenv, serve)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  root.RunE,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old and used recommended posts once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), getenv, func(ctx context.Context, a *app) error {
				deleted, err := a.cleanup.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d recommended posts\n", deleted)
				return nil
			})
		},
	}

	warmCmd := &cobra.Command{
		Use:   "warm-topics",
		Short: "Generate insights for the most recommended topics once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), getenv, func(ctx context.Context, a *app) error {
				if !a.generator.Configured() {
					return errNoLLM
				}
				report, err := a.topicWorker.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "generated %d, skipped %d, failed %d\n", report.Generated, report.Skipped, report.Failed)
				return nil
			})
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay-voice <user-id>",
		Short: "Re-apply the newest archived voice payload of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), getenv, func(ctx context.Context, a *app) error {
				p, err := a.replayLatest(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile %s is now version %.1f\n", p.ID, p.Version)
				return nil
			})
		},
	}

	root.AddCommand(serveCmd, cleanupCmd, warmCmd, replayCmd)
	return root
}

// withApp loads configuration, wires the services and runs fn until an
// interrupt or termination signal arrives.
func withApp(parent context.Context, getenv func(string) string, fn func(context.Context, *app) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return err
	}
	logger := newLogger(cfg.LogLevel)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Error("Command failed", "error", err)
		return err
	}
	return nil
}

func serve(ctx context.Context, a *app) error {
	if a.cfg.LocalScheduler {
		a.logger.Info("Running scheduled jobs in process")
		go jobs.RunEvery(ctx, a.logger, "cleanup", jobs.CleanupInterval, func(ctx context.Context) error {
			_, err := a.cleanup.Run(ctx)
			return err
		})
		go jobs.RunEvery(ctx, a.logger, "topic-worker", jobs.TopicWorkerInterval, func(ctx context.Context) error {
			_, err := a.topicWorker.Run(ctx)
			return err
		})
	}
	return a.server().ListenAndServe(ctx, a.cfg.Port)
}
