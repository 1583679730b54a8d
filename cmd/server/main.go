package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threatlens/internal/config"
	"threatlens/internal/logging"
	"threatlens/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "ThreatLens evidence service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)
	root.AddCommand(newLedgerCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// setup loads configuration and builds the logger every command shares.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging, cfg.Environment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting ThreatLens evidence service",
		zap.String("environment", cfg.Environment),
		zap.Bool("debug", cfg.Debug),
		zap.String("version", server.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger)
	if err := srv.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize server", zap.Error(err))
		return err
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return err
	}

	logger.Info("ThreatLens evidence service stopped")
	return nil
}
