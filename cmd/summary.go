package main

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"rinha-relay/service"
)

func newSummaryCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the per-processor totals recorded in the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromTime, err := optionalInstant(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toTime, err := optionalInstant(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

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

			ledger, closeLedger, err := openLedger(ctx, cfg, rdb, logger)
			if err != nil {
				return err
			}
			defer closeLedger()

			summary, err := service.NewSummaryService(ledger).Summary(ctx, fromTime, toTime)
			if err != nil {
				return err
			}

			out, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "RFC3339 lower bound (default: epoch)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 upper bound (default: now)")
	return cmd
}

func optionalInstant(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
