package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rinha-relay/model"
)

// RedisLedger keeps dispatch outcomes in a sorted set scored by the dispatch
// time in epoch milliseconds.
type RedisLedger struct {
	db     redis.UniversalClient
	key    string
	logger *zap.Logger
}

func NewRedisLedger(db redis.UniversalClient, key string, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{db: db, key: key, logger: logger}
}

func (l *RedisLedger) Append(ctx context.Context, record model.LedgerRecord) error {
	member, err := record.EncodeMember()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrLedgerWrite, err)
	}

	err = l.db.ZAdd(ctx, l.key, redis.Z{
		Score:  float64(record.Score()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: zadd: %v", model.ErrLedgerWrite, err)
	}
	return nil
}

// Range returns the records scored within [fromMillis, toMillis]. Members that
// cannot be decoded are skipped.
func (l *RedisLedger) Range(ctx context.Context, fromMillis, toMillis int64) ([]model.LedgerRecord, error) {
	members, err := l.db.ZRangeByScore(ctx, l.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(fromMillis, 10),
		Max: strconv.FormatInt(toMillis, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", l.key, err)
	}

	records := make([]model.LedgerRecord, 0, len(members))
	for _, member := range members {
		record, err := model.DecodeLedgerMember(member)
		if err != nil {
			l.logger.Warn("Skipping malformed ledger member", zap.String("member", member), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (l *RedisLedger) Purge(ctx context.Context) error {
	return l.db.Del(ctx, l.key).Err()
}
