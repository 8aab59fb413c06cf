package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rinha-relay/adapter"
	"rinha-relay/config"
	"rinha-relay/handler"
	"rinha-relay/model"
	"rinha-relay/service"
	"rinha-relay/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake and the stream consumer",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := newRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Redis failed", zap.Error(err))
		return err
	}
	defer rdb.Close()

	streamLog := newStreamLog(cfg, rdb)
	result, err := streamLog.EnsureGroup(ctx)
	if err != nil {
		logger.Error("Consumer group is not available", zap.Error(err))
		return err
	}
	logger.Info("Consumer group ready",
		zap.String("stream", streamLog.Stream()),
		zap.String("group", streamLog.Group()),
		zap.Stringer("result", result))

	ledger, closeLedger, err := openLedger(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Error("Ledger failed", zap.Error(err))
		return err
	}
	defer closeLedger()

	httpClient := adapter.NewHTTPClient(cfg.Consumer.Workers * 2)
	dispatcher := service.NewDispatcher(
		adapter.NewProcessorClient(model.ProcessorDefault, cfg.Processor.DefaultURL, httpClient, cfg.Processor.Timeout),
		adapter.NewProcessorClient(model.ProcessorFallback, cfg.Processor.FallbackURL, httpClient, cfg.Processor.Timeout),
		ledger,
		logger.Named("dispatcher"),
		service.WithStrictFallback(cfg.Dispatch.FallbackStrictStatus),
	)

	pool := worker.NewPool(cfg.Consumer.Workers, cfg.Consumer.QueueSize, logger.Named("pool"))
	pool.Start()

	consumer := service.NewConsumer(service.ConsumerConfig{
		Name:              cfg.Consumer.Name,
		Block:             cfg.Consumer.Block,
		Count:             cfg.Consumer.Count,
		AckBeforeDispatch: cfg.Consumer.AckMode == config.AckBeforeDispatch,
		ErrorBackoffMin:   cfg.Consumer.ErrorBackoffMin,
		ErrorBackoffMax:   cfg.Consumer.ErrorBackoffMax,
	}, streamLog, dispatcher, pool, logger.Named("consumer"))

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Consumer exited", zap.Error(err))
			stop()
		}
	}()

	producer := service.NewProducer(streamLog, logger.Named("producer"))
	paymentHandler := handler.NewPaymentHandler(producer, service.NewSummaryService(ledger), ledger, logger.Named("http"))

	app := fiber.New(fiber.Config{
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	paymentHandler.Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server running", zap.String("port", cfg.Server.Port))
		serverErr <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
		stop()
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	<-consumerDone
	pool.Stop()
	producer.Close()

	logger.Info("Server exiting")
	return nil
}
