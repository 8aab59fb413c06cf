package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rinha-relay/metrics"
	"rinha-relay/model"
	"rinha-relay/worker"
)

type (
	GroupReader interface {
		ReadGroup(ctx context.Context, consumer string, block time.Duration, count int64) ([]model.PaymentEvent, error)
		Acknowledge(ctx context.Context, id string) error
	}

	PaymentDispatcher interface {
		Dispatch(ctx context.Context, req model.DispatchRequest) (Outcome, error)
	}

	TaskSubmitter interface {
		Submit(ctx context.Context, task worker.Task) error
	}

	ConsumerConfig struct {
		Name  string
		Block time.Duration
		Count int64
		// AckBeforeDispatch acknowledges an entry as soon as it is handed to
		// the pool. Otherwise the entry is acknowledged once the dispatcher
		// reports an outcome, successful or not.
		AckBeforeDispatch bool
		ErrorBackoffMin   time.Duration
		ErrorBackoffMax   time.Duration
	}

	// Consumer reads the payments stream through the consumer group and hands
	// every entry to the dispatcher.
	Consumer struct {
		cfg        ConsumerConfig
		log        GroupReader
		dispatcher PaymentDispatcher
		pool       TaskSubmitter
		logger     *zap.Logger
		now        func() time.Time
		ackTimeout time.Duration
	}
)

func NewConsumer(cfg ConsumerConfig, log GroupReader, dispatcher PaymentDispatcher, pool TaskSubmitter, logger *zap.Logger) *Consumer {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.ErrorBackoffMin <= 0 {
		cfg.ErrorBackoffMin = 50 * time.Millisecond
	}
	if cfg.ErrorBackoffMax < cfg.ErrorBackoffMin {
		cfg.ErrorBackoffMax = cfg.ErrorBackoffMin
	}
	return &Consumer{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger.With(zap.String("consumer", cfg.Name)),
		now:        time.Now,
		ackTimeout: 2 * time.Second,
	}
}

// Run polls until ctx is cancelled and then returns ctx.Err(). Read failures
// are logged and retried after a bounded exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started",
		zap.Duration("block", c.cfg.Block),
		zap.Int64("count", c.cfg.Count),
		zap.Bool("ackBeforeDispatch", c.cfg.AckBeforeDispatch))

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("Consumer stopped")
			return err
		}

		events, err := c.log.ReadGroup(ctx, c.cfg.Name, c.cfg.Block, c.cfg.Count)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.PollErrors.Inc()
			delay := c.backoff(failures)
			failures++
			c.logger.Error("Error reading group", zap.Error(err), zap.Duration("retryIn", delay))

			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		metrics.EventsDelivered.Add(float64(len(events)))
		for _, event := range events {
			if err := c.handle(ctx, event); err != nil {
				if ctx.Err() != nil {
					break
				}
				c.logger.Info("Consumer stopped", zap.Error(err))
				return err
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, event model.PaymentEvent) error {
	if c.cfg.AckBeforeDispatch {
		err := c.pool.Submit(ctx, func(taskCtx context.Context) {
			c.dispatch(taskCtx, event)
		})
		if err != nil {
			return err
		}
		c.ack(event.ID)
		return nil
	}

	return c.pool.Submit(ctx, func(taskCtx context.Context) {
		c.dispatch(taskCtx, event)
		c.ack(event.ID)
	})
}

// dispatch stamps the request when a worker picks it up, so time spent
// waiting for a free worker is not part of requestedAt.
func (c *Consumer) dispatch(ctx context.Context, event model.PaymentEvent) {
	req := model.DispatchRequest{
		CorrelationId: event.CorrelationId,
		Amount:        event.Amount,
		RequestedAt:   c.now().UTC(),
	}

	outcome, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		c.logger.Warn("Dispatch finished without processing",
			zap.String("id", event.ID),
			zap.String("correlationId", event.CorrelationId),
			zap.Stringer("outcome", outcome),
			zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("id", event.ID),
		zap.String("correlationId", event.CorrelationId),
		zap.Stringer("outcome", outcome),
	}
	if !event.EnqueuedAt.IsZero() {
		fields = append(fields, zap.Duration("queueLatency", req.RequestedAt.Sub(event.EnqueuedAt)))
	}
	c.logger.Debug("Payment dispatched", fields...)
}

// ack runs on its own context so entries handed over before shutdown still
// get acknowledged.
func (c *Consumer) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()

	if err := c.log.Acknowledge(ctx, id); err != nil {
		c.logger.Error("Error acking event", zap.String("id", id), zap.Error(err))
		return
	}
	metrics.EventsAcked.Inc()
}

func (c *Consumer) backoff(failures int) time.Duration {
	delay := c.cfg.ErrorBackoffMin
	for i := 0; i < failures && delay < c.cfg.ErrorBackoffMax; i++ {
		delay *= 2
	}
	if delay > c.cfg.ErrorBackoffMax {
		delay = c.cfg.ErrorBackoffMax
	}
	return delay
}
