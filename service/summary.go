package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"rinha-relay/model"
)

type LedgerReader interface {
	Range(ctx context.Context, fromMillis, toMillis int64) ([]model.LedgerRecord, error)
}

type SummaryService struct {
	ledger LedgerReader
	now    func() time.Time
}

func NewSummaryService(ledger LedgerReader) *SummaryService {
	return &SummaryService{ledger: ledger, now: time.Now}
}

// Summary aggregates the ledger records dispatched within [from, to]. A nil
// from means the epoch, a nil to means now. Amounts are summed exactly and
// only converted to float64 for the response.
func (s *SummaryService) Summary(ctx context.Context, from, to *time.Time) (model.SummaryResponse, error) {
	var fromMillis int64
	if from != nil {
		fromMillis = from.UnixMilli()
	}
	toMillis := s.now().UnixMilli()
	if to != nil {
		toMillis = to.UnixMilli()
	}

	records, err := s.ledger.Range(ctx, fromMillis, toMillis)
	if err != nil {
		return model.SummaryResponse{}, err
	}

	var (
		defaultCount, fallbackCount int
		defaultTotal, fallbackTotal = decimal.Zero, decimal.Zero
	)
	for _, r := range records {
		switch r.Processor {
		case model.ProcessorDefault:
			defaultCount++
			defaultTotal = defaultTotal.Add(r.Amount)
		case model.ProcessorFallback:
			fallbackCount++
			fallbackTotal = fallbackTotal.Add(r.Amount)
		}
	}

	return model.SummaryResponse{
		DefaultSummary: model.ProcessorSummary{
			TotalRequests: defaultCount,
			TotalAmount:   defaultTotal.InexactFloat64(),
		},
		FallbackSummary: model.ProcessorSummary{
			TotalRequests: fallbackCount,
			TotalAmount:   fallbackTotal.InexactFloat64(),
		},
	}, nil
}
