package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threatlens/internal/server"
)

func newLedgerCmd() *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the evidence ledger",
	}
	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the configured ledger backend",
		RunE:  runLedgerVerify,
	})
	return ledgerCmd
}

func runLedgerVerify(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := server.OpenBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	report, verifyErr := backends.Ledger.Verify(ctx)
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if verifyErr != nil {
		logger.Error("Ledger verification failed", zap.Error(verifyErr))
		return verifyErr
	}
	logger.Info("Ledger verified", zap.Int64("height", report.Height), zap.String("head", report.Head))
	return nil
}
