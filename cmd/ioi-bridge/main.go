package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/bootstrap"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/journal"
	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
	"github.com/ismaiel54/ioi-session-client/internal/observability"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

func main() {
	cfg := config.LoadConfig("ioi-bridge")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting ioi-bridge service",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("endpoint", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.String("transport", cfg.Transport),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("data_dir", cfg.DataDir),
	)

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Fatal("failed to open journal", zap.Error(err))
	}
	defer store.Close()
	logger.Info("journal opened", zap.String("path", cfg.JournalPath()))

	// Responses to commands sent by an earlier run can no longer arrive
	failed, err := store.FailPending(context.Background(), "bridge restarted before the response arrived")
	if err != nil {
		logger.Fatal("failed to recover pending commands", zap.Error(err))
	}
	if failed > 0 {
		logger.Warn("failed commands left pending by an earlier run", zap.Int("count", failed))
	}

	healthChecker := observability.NewHealthChecker(logger)
	metrics := observability.NewMetrics(healthChecker)
	healthChecker.Handle("/metrics", metrics.Handler())

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	transport, err := bootstrap.NewTransport(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create transport", zap.Error(err))
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	client, err := bootstrap.Connect(connectCtx, cfg, transport, []string{cfg.RequestService},
		session.Options{Recorder: metrics}, logger)
	connectCancel()
	if err != nil {
		logger.Fatal("failed to connect session", zap.Error(err))
	}

	requester := ioi.NewRequester(client, cfg.RequestService, nil, logger)
	b := newBridge(store, requester, cfg.RequestTimeout, metrics.Commands, logger)

	kafkaCfg := msg.LoadConfig()
	producer, err := msg.NewProducer(kafkaCfg, logger)
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	consumer, err := msg.NewConsumer(kafkaCfg, "ioi-bridge-v1", []string{msg.TopicIOICommands}, logger)
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()
	healthChecker.SetKafkaReady(true)

	publisher := journal.NewPublisher(store, producer, logger)
	publisherCtx, publisherCancel := context.WithCancel(context.Background())
	defer publisherCancel()
	go func() {
		if err := publisher.Run(publisherCtx); err != nil && err != context.Canceled {
			logger.Error("outbox publisher stopped", zap.Error(err))
		}
	}()

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	consumerErrCh := make(chan error, 1)
	go func() {
		if err := consumer.Run(consumerCtx, b.handle); err != nil && err != context.Canceled {
			consumerErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-consumerErrCh:
		logger.Error("consumer error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	case <-client.Done():
		logger.Error("session ended", zap.Error(client.Err()))
	}

	logger.Info("shutting down gracefully...")
	healthChecker.SetKafkaReady(false)

	consumerCancel()
	consumer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stopping the session fails whatever is still in flight
	if err := client.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping session", zap.Error(err))
	}
	b.wait()

	publisherCancel()
	if n, err := publisher.PublishBatch(shutdownCtx); err != nil {
		logger.Error("final outbox flush failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("flushed outbox", zap.Int("published", n))
	}

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}

	logger.Info("ioi-bridge service stopped")
}
