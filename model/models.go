package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ProcessorDefault  = "default"
	ProcessorFallback = "fallback"
)

type PaymentRequest struct {
	CorrelationId string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

func (p PaymentRequest) Validate() error {
	if _, err := uuid.Parse(p.CorrelationId); err != nil {
		return ErrInvalidRequest
	}
	if p.Amount.IsNegative() {
		return ErrInvalidRequest
	}
	return nil
}

// PaymentEvent is one entry read back from the payments stream. Amount is
// invalid when the field was missing or could not be parsed.
type PaymentEvent struct {
	ID            string
	CorrelationId string
	Amount        decimal.NullDecimal
	EnqueuedAt    time.Time
}

type DispatchRequest struct {
	CorrelationId string
	Amount        decimal.NullDecimal
	RequestedAt   time.Time
}

// ProcessorPayload is the body posted to both payment processors.
type ProcessorPayload struct {
	CorrelationId string        `json:"correlationId"`
	Amount        NumericAmount `json:"amount"`
	RequestedAt   string        `json:"requestedAt"`
}

func NewProcessorPayload(req DispatchRequest) ProcessorPayload {
	return ProcessorPayload{
		CorrelationId: req.CorrelationId,
		Amount:        NumericAmount{req.Amount.Decimal},
		RequestedAt:   FormatInstant(req.RequestedAt),
	}
}

// NumericAmount is a decimal that encodes as a bare JSON number. Decoding
// accepts both numbers and quoted strings.
type NumericAmount struct {
	decimal.Decimal
}

func (a NumericAmount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *NumericAmount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

type ProcessorSummary struct {
	TotalRequests int     `json:"totalRequests"`
	TotalAmount   float64 `json:"totalAmount"`
}

type SummaryResponse struct {
	DefaultSummary  ProcessorSummary `json:"default"`
	FallbackSummary ProcessorSummary `json:"fallback"`
}

// FormatInstant renders t as an ISO-8601 UTC instant with millisecond precision.
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidPayment = errors.New("invalid payment")

	ErrGroupProvisioning    = errors.New("consumer group provisioning failed")
	ErrLogUnavailable       = errors.New("event log unavailable")
	ErrProcessorUnreachable = errors.New("payment processor unreachable")
	ErrProcessorRejected    = errors.New("payment processor rejected payment")
	ErrFallbackFailed       = errors.New("fallback processor failed")
	ErrLedgerWrite          = errors.New("ledger write failed")
)
