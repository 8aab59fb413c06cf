package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rinha-relay/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:                  mr.Addr(),
		Protocol:              2,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func paymentFields(correlationId, amount string) map[string]string {
	return map[string]string{
		FieldCorrelationId: correlationId,
		FieldAmount:        amount,
		FieldRequestedAt:   "1700000000000",
	}
}

func TestEnsureGroup(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	result, err := log.EnsureGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, GroupCreated, result)

	result, err = log.EnsureGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, GroupAlreadyPresent, result)

	groups, err := rdb.XInfoGroups(ctx, "payments_stream").Result()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "payments_group", groups[0].Name)
}

func TestEnsureGroupOnExistingStream(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	// entries appended before the group exists are still delivered
	_, err := log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "10.00"))
	require.NoError(t, err)

	result, err := log.EnsureGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, GroupCreated, result)

	events, err := log.ReadGroup(ctx, "c1", 50*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestEnsureGroupRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	mr.Close()

	result, err := log.EnsureGroup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGroupProvisioning)
	assert.Equal(t, GroupProvisionFailed, result)
	assert.Equal(t, "failed", result.String())
}

func TestAppendAndReadGroup(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)

	firstID, err := log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "19.90"))
	require.NoError(t, err)
	secondID, err := log.Append(ctx, paymentFields("22222222-2222-2222-2222-222222222222", "0.10"))
	require.NoError(t, err)

	events, err := log.ReadGroup(ctx, "c1", 50*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, firstID, events[0].ID)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", events[0].CorrelationId)
	assert.True(t, events[0].Amount.Valid)
	assert.True(t, decimal.RequireFromString("19.90").Equal(events[0].Amount.Decimal))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), events[0].EnqueuedAt)
	assert.Equal(t, secondID, events[1].ID)

	// delivered entries are not handed out again
	events, err = log.ReadGroup(ctx, "c2", 50*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadGroupRespectsCount(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "1"))
		require.NoError(t, err)
	}

	events, err := log.ReadGroup(ctx, "c1", 50*time.Millisecond, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReadGroupTimeout(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)

	events, err := log.ReadGroup(ctx, "c1", 50*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadGroupWaitForeverStopsOnCancel(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	log.idleBlock = 50 * time.Millisecond

	_, err := log.EnsureGroup(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := log.ReadGroup(ctx, "c1", 0, 10)
		done <- err
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadGroup with block=0 did not return after cancel")
	}
}

func TestReadGroupWaitForeverReturnsEntries(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	log.idleBlock = 30 * time.Millisecond
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "1"))
	}()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	events, err := log.ReadGroup(readCtx, "c1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadGroupMissingGroup(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")

	_, err := log.ReadGroup(context.Background(), "c1", 50*time.Millisecond, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLogUnavailable)
}

func TestAcknowledge(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group")
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)
	id, err := log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "5"))
	require.NoError(t, err)

	_, err = log.ReadGroup(ctx, "c1", 50*time.Millisecond, 10)
	require.NoError(t, err)

	pending, err := log.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, log.Acknowledge(ctx, id))
	// a second ack of the same id is a no-op
	require.NoError(t, log.Acknowledge(ctx, id))
	require.NoError(t, log.Acknowledge(ctx, "0-1"))

	pending, err = log.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	length, err := rdb.XLen(ctx, "payments_stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestAcknowledgeDeletesEntry(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewStreamLog(rdb, "payments_stream", "payments_group", WithDeleteOnAck(true))
	ctx := context.Background()

	_, err := log.EnsureGroup(ctx)
	require.NoError(t, err)
	id, err := log.Append(ctx, paymentFields("11111111-1111-1111-1111-111111111111", "5"))
	require.NoError(t, err)
	_, err = log.ReadGroup(ctx, "c1", 50*time.Millisecond, 10)
	require.NoError(t, err)

	require.NoError(t, log.Acknowledge(ctx, id))

	length, err := rdb.XLen(ctx, "payments_stream").Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		values     map[string]interface{}
		wantID     string
		wantAmount bool
		wantTime   bool
	}{
		{
			name: "complete entry",
			values: map[string]interface{}{
				FieldCorrelationId: "11111111-1111-1111-1111-111111111111",
				FieldAmount:        "19.90",
				FieldRequestedAt:   "1700000000000",
			},
			wantID:     "11111111-1111-1111-1111-111111111111",
			wantAmount: true,
			wantTime:   true,
		},
		{
			name: "malformed amount",
			values: map[string]interface{}{
				FieldCorrelationId: "11111111-1111-1111-1111-111111111111",
				FieldAmount:        "abc",
				FieldRequestedAt:   "yesterday",
			},
			wantID: "11111111-1111-1111-1111-111111111111",
		},
		{
			name:   "empty entry",
			values: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := ParseEvent(redis.XMessage{ID: "1-0", Values: tt.values})

			assert.Equal(t, "1-0", event.ID)
			assert.Equal(t, tt.wantID, event.CorrelationId)
			assert.Equal(t, tt.wantAmount, event.Amount.Valid)
			assert.Equal(t, tt.wantTime, !event.EnqueuedAt.IsZero())
		})
	}
}
