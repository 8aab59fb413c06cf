package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-relay/model"
)

const (
	ledgerSchema = `create table if not exists payments_ledger (
			id bigserial primary key,
			correlation_id text not null,
			amount numeric not null,
			processor text not null,
			requested_at timestamptz not null
		);
		create index if not exists payments_ledger_requested_at_idx on payments_ledger (requested_at);`

	ledgerInsert = `insert into payments_ledger (correlation_id, amount, processor, requested_at)
			values ($1, $2::text::numeric, $3, $4)`

	ledgerRange = `select correlation_id, amount::text, processor, requested_at
			from payments_ledger
			where requested_at between $1 and $2
			order by requested_at`
)

// PostgresLedger is the relational alternative to RedisLedger, for
// deployments that keep the outcome history in a database.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}
	return pool, nil
}

func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, ledgerSchema)
	return err
}

func (l *PostgresLedger) Append(ctx context.Context, record model.LedgerRecord) error {
	_, err := l.pool.Exec(ctx, ledgerInsert,
		record.CorrelationId, record.Amount.String(), record.Processor, record.ScoreTime(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", model.ErrLedgerWrite, err)
	}
	return nil
}

func (l *PostgresLedger) Range(ctx context.Context, fromMillis, toMillis int64) ([]model.LedgerRecord, error) {
	rows, err := l.pool.Query(ctx, ledgerRange, time.UnixMilli(fromMillis).UTC(), time.UnixMilli(toMillis).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.LedgerRecord
	for rows.Next() {
		var (
			record model.LedgerRecord
			amount string
		)
		if err := rows.Scan(&record.CorrelationId, &amount, &record.Processor, &record.RequestedAt); err != nil {
			return nil, err
		}

		record.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			l.logger.Warn("Skipping ledger row with malformed amount",
				zap.String("correlationId", record.CorrelationId), zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (l *PostgresLedger) Purge(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, "truncate table payments_ledger")
	return err
}
