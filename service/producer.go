package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-relay/adapter"
	"rinha-relay/metrics"
)

type EventAppender interface {
	Append(ctx context.Context, fields map[string]string) (string, error)
}

// Producer appends accepted payments to the event log without making the
// caller wait for the append.
type Producer struct {
	log           EventAppender
	logger        *zap.Logger
	appendTimeout time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
}

func NewProducer(log EventAppender, logger *zap.Logger) *Producer {
	return &Producer{
		log:           log,
		logger:        logger,
		appendTimeout: 5 * time.Second,
		now:           time.Now,
	}
}

// Create schedules the append and returns at once. A failed append is logged
// and the payment is dropped.
func (p *Producer) Create(correlationId string, amount decimal.Decimal) {
	fields := map[string]string{
		adapter.FieldCorrelationId: correlationId,
		adapter.FieldAmount:        amount.String(),
		adapter.FieldRequestedAt:   strconv.FormatInt(p.now().UnixMilli(), 10),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.appendTimeout)
		defer cancel()

		id, err := p.log.Append(ctx, fields)
		if err != nil {
			metrics.EnqueueErrors.Inc()
			p.logger.Error("Error appending payment to stream",
				zap.String("correlationId", correlationId), zap.Error(err))
			return
		}

		metrics.EventsEnqueued.Inc()
		p.logger.Debug("Payment appended to stream",
			zap.String("id", id), zap.String("correlationId", correlationId))
	}()
}

// Close waits for appends that are still running.
func (p *Producer) Close() {
	p.wg.Wait()
}
