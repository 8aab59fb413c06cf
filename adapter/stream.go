package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"rinha-relay/model"
)

const (
	FieldCorrelationId = "correlationId"
	FieldAmount        = "amount"
	FieldRequestedAt   = "requestedAt"
)

type ProvisionResult int

const (
	GroupProvisionFailed ProvisionResult = iota
	GroupCreated
	GroupAlreadyPresent
)

func (r ProvisionResult) String() string {
	switch r {
	case GroupCreated:
		return "created"
	case GroupAlreadyPresent:
		return "already-present"
	default:
		return "failed"
	}
}

// StreamLog is the payments event log: a redis stream read through a single
// consumer group.
type StreamLog struct {
	db          redis.UniversalClient
	stream      string
	group       string
	deleteOnAck bool
	// idleBlock caps a single XREADGROUP when the caller asks to wait
	// forever; redis only honors context deadlines, not cancellation.
	idleBlock time.Duration
}

type StreamOption func(*StreamLog)

// WithDeleteOnAck removes entries from the stream once they are acknowledged.
func WithDeleteOnAck(enabled bool) StreamOption {
	return func(s *StreamLog) {
		s.deleteOnAck = enabled
	}
}

func NewStreamLog(db redis.UniversalClient, stream, group string, opts ...StreamOption) *StreamLog {
	s := &StreamLog{db: db, stream: stream, group: group, idleBlock: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StreamLog) Stream() string { return s.stream }
func (s *StreamLog) Group() string  { return s.group }

// EnsureGroup creates the consumer group at the start of the stream, creating
// the stream when needed. An existing group is reported, not treated as an error.
func (s *StreamLog) EnsureGroup(ctx context.Context) (ProvisionResult, error) {
	present, err := s.groupExists(ctx)
	if err != nil {
		return GroupProvisionFailed, fmt.Errorf("%w: %v", model.ErrGroupProvisioning, err)
	}
	if present {
		return GroupAlreadyPresent, nil
	}

	createErr := s.db.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if createErr == nil {
		return GroupCreated, nil
	}

	// another instance may have won the race between the check and the create
	if present, err := s.groupExists(ctx); err == nil && present {
		return GroupAlreadyPresent, nil
	}
	return GroupProvisionFailed, fmt.Errorf("%w: %v", model.ErrGroupProvisioning, createErr)
}

func (s *StreamLog) groupExists(ctx context.Context) (bool, error) {
	n, err := s.db.Exists(ctx, s.stream).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	groups, err := s.db.XInfoGroups(ctx, s.stream).Result()
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.Name == s.group {
			return true, nil
		}
	}
	return false, nil
}

// Append adds an entry with the given field/value pairs and returns the id
// assigned by redis.
func (s *StreamLog) Append(ctx context.Context, fields map[string]string) (string, error) {
	values := make([]interface{}, 0, len(fields)*2)
	for _, key := range []string{FieldCorrelationId, FieldAmount, FieldRequestedAt} {
		if v, ok := fields[key]; ok {
			values = append(values, key, v)
		}
	}
	for k, v := range fields {
		switch k {
		case FieldCorrelationId, FieldAmount, FieldRequestedAt:
			continue
		}
		values = append(values, k, v)
	}

	id, err := s.db.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd: %v", model.ErrLogUnavailable, err)
	}
	return id, nil
}

// ReadGroup waits up to block (0 waits until entries arrive or ctx ends) for
// entries never delivered to the group and claims at most count of them for
// consumer. A timeout yields an empty slice and no error.
func (s *StreamLog) ReadGroup(ctx context.Context, consumer string, block time.Duration, count int64) ([]model.PaymentEvent, error) {
	if block > 0 {
		return s.readGroup(ctx, consumer, block, count)
	}

	for {
		events, err := s.readGroup(ctx, consumer, s.idleBlock, count)
		if err != nil || len(events) > 0 {
			return events, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *StreamLog) readGroup(ctx context.Context, consumer string, block time.Duration, count int64) ([]model.PaymentEvent, error) {
	streams, err := s.db.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: xreadgroup: %v", model.ErrLogUnavailable, err)
	}

	var events []model.PaymentEvent
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			events = append(events, ParseEvent(msg))
		}
	}
	return events, nil
}

// Acknowledge clears the pending entry for id. Unknown or already
// acknowledged ids are not errors.
func (s *StreamLog) Acknowledge(ctx context.Context, id string) error {
	var err error
	if s.deleteOnAck {
		_, err = s.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAck(ctx, s.stream, s.group, id)
			pipe.XDel(ctx, s.stream, id)
			return nil
		})
	} else {
		err = s.db.XAck(ctx, s.stream, s.group, id).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: xack %s: %v", model.ErrLogUnavailable, id, err)
	}
	return nil
}

// Pending returns how many delivered entries of the group are not yet acknowledged.
func (s *StreamLog) Pending(ctx context.Context) (int64, error) {
	pending, err := s.db.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xpending: %v", model.ErrLogUnavailable, err)
	}
	return pending.Count, nil
}

// ParseEvent maps a stream message to a payment event. Missing or malformed
// fields are left empty instead of failing the whole batch.
func ParseEvent(msg redis.XMessage) model.PaymentEvent {
	event := model.PaymentEvent{ID: msg.ID}

	if v, ok := msg.Values[FieldCorrelationId].(string); ok {
		event.CorrelationId = v
	}
	if v, ok := msg.Values[FieldAmount].(string); ok {
		if amount, err := decimal.NewFromString(v); err == nil {
			event.Amount = decimal.NewNullDecimal(amount)
		}
	}
	if v, ok := msg.Values[FieldRequestedAt].(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.EnqueuedAt = time.UnixMilli(ms).UTC()
		}
	}

	return event
}
