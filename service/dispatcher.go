package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rinha-relay/metrics"
	"rinha-relay/model"
)

type (
	Outcome int

	ProcessorClient interface {
		Name() string
		Send(ctx context.Context, payload model.ProcessorPayload) (int, error)
	}

	LedgerWriter interface {
		Append(ctx context.Context, record model.LedgerRecord) error
	}

	Dispatcher struct {
		primary        ProcessorClient
		fallback       ProcessorClient
		ledger         LedgerWriter
		logger         *zap.Logger
		strictFallback bool
		ledgerTimeout  time.Duration
	}

	DispatcherOption func(*Dispatcher)
)

const (
	OutcomeRejected Outcome = iota
	OutcomeFailed
	OutcomeDefault
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDefault:
		return model.ProcessorDefault
	case OutcomeFallback:
		return model.ProcessorFallback
	case OutcomeFailed:
		return "failed"
	default:
		return "rejected"
	}
}

// WithStrictFallback makes a non-200 answer from the fallback processor a
// failure. By default only transport errors fail the fallback call.
func WithStrictFallback(strict bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.strictFallback = strict
	}
}

func NewDispatcher(primary, fallback ProcessorClient, ledger LedgerWriter, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		primary:       primary,
		fallback:      fallback,
		ledger:        ledger,
		logger:        logger,
		ledgerTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends the payment to the default processor and, if that fails, to
// the fallback one. The returned error is nil for OutcomeDefault and
// OutcomeFallback, even when recording the outcome in the ledger failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.DispatchRequest) (Outcome, error) {
	if req.CorrelationId == "" || !req.Amount.Valid || req.Amount.Decimal.IsNegative() {
		d.logger.Warn("Rejecting malformed payment",
			zap.String("correlationId", req.CorrelationId),
			zap.Bool("amountValid", req.Amount.Valid))
		metrics.Dispatches.WithLabelValues(OutcomeRejected.String()).Inc()
		return OutcomeRejected, model.ErrInvalidPayment
	}

	payload := model.NewProcessorPayload(req)

	err := d.sendDefault(ctx, payload)
	if err == nil {
		d.record(ctx, req, model.ProcessorDefault)
		metrics.Dispatches.WithLabelValues(OutcomeDefault.String()).Inc()
		return OutcomeDefault, nil
	}

	d.logger.Warn("Default processor failed, trying fallback",
		zap.String("correlationId", req.CorrelationId), zap.Error(err))

	if err := d.sendFallback(ctx, payload); err != nil {
		d.logger.Error("Payment dropped, both processors failed",
			zap.String("correlationId", req.CorrelationId),
			zap.String("amount", req.Amount.Decimal.String()),
			zap.Error(err))
		metrics.Dispatches.WithLabelValues(OutcomeFailed.String()).Inc()
		return OutcomeFailed, err
	}

	d.record(ctx, req, model.ProcessorFallback)
	metrics.Dispatches.WithLabelValues(OutcomeFallback.String()).Inc()
	return OutcomeFallback, nil
}

func (d *Dispatcher) sendDefault(ctx context.Context, payload model.ProcessorPayload) error {
	status, err := d.primary.Send(ctx, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %s answered %d", model.ErrProcessorRejected, d.primary.Name(), status)
	}
	return nil
}

func (d *Dispatcher) sendFallback(ctx context.Context, payload model.ProcessorPayload) error {
	status, err := d.fallback.Send(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrFallbackFailed, err)
	}
	if status != http.StatusOK {
		if d.strictFallback {
			return fmt.Errorf("%w: %s answered %d", model.ErrFallbackFailed, d.fallback.Name(), status)
		}
		d.logger.Warn("Fallback processor answered non-200, recording as processed",
			zap.String("correlationId", payload.CorrelationId), zap.Int("status", status))
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, req model.DispatchRequest, processor string) {
	record := model.LedgerRecord{
		CorrelationId: req.CorrelationId,
		Amount:        req.Amount.Decimal,
		Processor:     processor,
		RequestedAt:   req.RequestedAt,
	}

	// the payment already went through; the ledger write must not inherit a
	// deadline that the processor call used up
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ledgerTimeout)
	defer cancel()

	if err := d.ledger.Append(ledgerCtx, record); err != nil {
		metrics.LedgerErrors.Inc()
		if !errors.Is(err, model.ErrLedgerWrite) {
			err = fmt.Errorf("%w: %v", model.ErrLedgerWrite, err)
		}
		d.logger.Error("Payment processed but not recorded",
			zap.String("correlationId", req.CorrelationId),
			zap.String("processor", processor),
			zap.Error(err))
		return
	}

	d.logger.Debug("Payment recorded",
		zap.String("correlationId", req.CorrelationId),
		zap.String("processor", processor),
		zap.String("amount", req.Amount.Decimal.String()))
}
