package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adda-Baaj/discuz-sentinel/internal/app"
	"github.com/Adda-Baaj/discuz-sentinel/internal/config"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("configuration check failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCheckFailed) {
			fmt.Fprintf(os.Stderr, "sentinel failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Watch Discuz! forum sections and forward new posts to chat channels.",
		Long: `sentinel polls the configured forum sections with a logged-in session,
normalizes every new post and delivers it to DingTalk, Feishu or event sinks.
Configuration comes from the environment and configs/.env.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSentinel(cmd.Context())
		},
	}
	cmd.AddCommand(newRunCmd(), newCheckConfigCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitor loop (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSentinel(cmd.Context())
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the cookie, sections and channels without polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			report := app.CheckConfig(cfg, config.EnvFile)
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if report.Failed() {
				return errCheckFailed
			}
			return nil
		},
	}
}

func runSentinel(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("sentinel starting", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sentinel, err := app.NewSentinel(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize sentinel", "error", err)
		return err
	}

	if err := sentinel.Run(ctx); err != nil {
		return fmt.Errorf("sentinel run: %w", err)
	}
	return nil
}
