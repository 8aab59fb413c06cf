package model

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// LedgerRecord is the outcome of one successfully dispatched payment.
type LedgerRecord struct {
	CorrelationId string
	Amount        decimal.Decimal
	Processor     string
	RequestedAt   time.Time
}

// Score is the sort key of the record in the ledger timeline.
func (r LedgerRecord) Score() int64 {
	return r.RequestedAt.UnixMilli()
}

// ScoreTime is RequestedAt truncated to the millisecond resolution of Score.
func (r LedgerRecord) ScoreTime() time.Time {
	return time.UnixMilli(r.Score()).UTC()
}

type ledgerMember struct {
	CorrelationId string        `json:"correlationId"`
	Amount        NumericAmount `json:"amount"`
	Processor     string        `json:"processor"`
	RequestedAt   string        `json:"requestedAt"`
}

// EncodeMember renders the record as the JSON member stored in the ledger.
func (r LedgerRecord) EncodeMember() (string, error) {
	raw, err := sonic.Marshal(ledgerMember{
		CorrelationId: r.CorrelationId,
		Amount:        NumericAmount{r.Amount},
		Processor:     r.Processor,
		RequestedAt:   FormatInstant(r.RequestedAt),
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeLedgerMember parses a ledger member produced by EncodeMember.
func DecodeLedgerMember(member string) (LedgerRecord, error) {
	var m ledgerMember
	if err := sonic.UnmarshalString(member, &m); err != nil {
		return LedgerRecord{}, fmt.Errorf("decode ledger member: %w", err)
	}
	if m.Processor != ProcessorDefault && m.Processor != ProcessorFallback {
		return LedgerRecord{}, fmt.Errorf("decode ledger member: unknown processor %q", m.Processor)
	}

	requestedAt, err := time.Parse(time.RFC3339Nano, m.RequestedAt)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("decode ledger member: %w", err)
	}

	return LedgerRecord{
		CorrelationId: m.CorrelationId,
		Amount:        m.Amount.Decimal,
		Processor:     m.Processor,
		RequestedAt:   requestedAt,
	}, nil
}
