package handler

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-relay/model"
)

type (
	PaymentCreator interface {
		Create(correlationId string, amount decimal.Decimal)
	}

	SummaryProvider interface {
		Summary(ctx context.Context, from, to *time.Time) (model.SummaryResponse, error)
	}

	LedgerPurger interface {
		Purge(ctx context.Context) error
	}

	PaymentHandler struct {
		producer PaymentCreator
		summary  SummaryProvider
		purger   LedgerPurger
		logger   *zap.Logger
	}
)

func NewPaymentHandler(producer PaymentCreator, summary SummaryProvider, purger LedgerPurger, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{producer: producer, summary: summary, purger: purger, logger: logger}
}

func (h *PaymentHandler) Register(app *fiber.App) {
	app.Post("/payments", h.Process)
	app.Get("/payments-summary", h.Summary)
	app.Post("/purge-payments", h.Purge)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

// Process accepts a payment and queues it. The caller gets 200 as soon as the
// request is valid; what happens afterwards is never reported back.
func (h *PaymentHandler) Process(c *fiber.Ctx) error {
	var req model.PaymentRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if err := req.Validate(); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	h.producer.Create(req.CorrelationId, req.Amount)
	return c.SendStatus(fiber.StatusOK)
}

func (h *PaymentHandler) Summary(c *fiber.Ctx) error {
	from, err := parseInstant(c.Query("from"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid from"})
	}
	to, err := parseInstant(c.Query("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid to"})
	}

	summary, err := h.summary.Summary(c.UserContext(), from, to)
	if err != nil {
		h.logger.Error("Error while fetching payments summary", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(summary)
}

func (h *PaymentHandler) Purge(c *fiber.Ctx) error {
	if err := h.purger.Purge(c.UserContext()); err != nil {
		h.logger.Error("Error purging ledger", zap.Error(err))
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusOK)
}

func parseInstant(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
