package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rinha-relay/adapter"
	"rinha-relay/config"
	"rinha-relay/model"
	"rinha-relay/utils"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "rinha-relay",
		Short:         "Relays payments through a redis stream to the payment processors",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c",
		utils.GetEnvOrDefault("CONFIG_PATH", "config.yaml"), "path to an optional YAML config file")

	root.AddCommand(newServeCmd(), newProvisionCmd(), newSummaryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		PoolSize:              cfg.PoolSize,
		MinIdleConns:          10,
		ConnMaxIdleTime:       5 * time.Minute,
		DialTimeout:           time.Second,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

type ledgerStore interface {
	Append(ctx context.Context, record model.LedgerRecord) error
	Range(ctx context.Context, fromMillis, toMillis int64) ([]model.LedgerRecord, error)
	Purge(ctx context.Context) error
}

// openLedger returns the configured ledger backend and a function releasing
// whatever it holds beyond the shared redis client.
func openLedger(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (ledgerStore, func(), error) {
	if cfg.Ledger.Backend != config.LedgerPostgres {
		return adapter.NewRedisLedger(rdb, cfg.Ledger.Key, logger), func() {}, nil
	}

	pool, err := adapter.NewPostgresPool(ctx, cfg.Ledger.PostgresDSN, 0)
	if err != nil {
		return nil, nil, err
	}
	ledger := adapter.NewPostgresLedger(pool, logger)
	if err := ledger.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return ledger, pool.Close, nil
}

func newStreamLog(cfg *config.Config, rdb redis.UniversalClient) *adapter.StreamLog {
	return adapter.NewStreamLog(rdb, cfg.Stream.Name, cfg.Stream.Group,
		adapter.WithDeleteOnAck(cfg.Stream.DeleteOnAck))
}
