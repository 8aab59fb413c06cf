package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the consumer group and the ledger schema if they are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			rdb, err := newRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			streamLog := newStreamLog(cfg, rdb)
			result, err := streamLog.EnsureGroup(ctx)
			if err != nil {
				return err
			}
			logger.Info("Consumer group provisioned",
				zap.String("stream", streamLog.Stream()),
				zap.String("group", streamLog.Group()),
				zap.Stringer("result", result))

			_, closeLedger, err := openLedger(ctx, cfg, rdb, logger)
			if err != nil {
				return err
			}
			closeLedger()
			logger.Info("Ledger ready", zap.String("backend", cfg.Ledger.Backend))
			return nil
		},
	}
}
