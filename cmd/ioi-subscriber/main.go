package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/bootstrap"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
	"github.com/ismaiel54/ioi-session-client/internal/observability"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

func main() {
	publish := flag.Bool("publish", false, "Republish updates to the ioi.data topic")
	flag.Parse()

	cfg := config.LoadConfig("ioi-subscriber")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting ioi-subscriber service",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("subscription_service", cfg.SubscriptionService),
		zap.String("transport", cfg.Transport),
		zap.Bool("publish", *publish),
	)

	healthChecker := observability.NewHealthChecker(logger)
	metrics := observability.NewMetrics(healthChecker)
	healthChecker.Handle("/metrics", metrics.Handler())

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Updates are handed off so the dispatch goroutine never waits on Kafka
	var (
		data     chan ioi.Update
		dropped  atomic.Int64
		producer *msg.Producer
	)
	publishDone := make(chan struct{})
	stopPublish := make(chan struct{})
	if *publish {
		producer, err = msg.NewProducer(msg.LoadConfig(), logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()
		healthChecker.SetKafkaReady(true)

		data = make(chan ioi.Update, 1024)
		go func() {
			defer close(publishDone)
			publishOne := func(u ioi.Update) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := producer.ProduceJSON(ctx, msg.TopicIOIData, u.Handle, msg.NewDataMsg(u)); err != nil {
					logger.Error("failed to publish ioi update", zap.String("handle", u.Handle), zap.Error(err))
				}
			}
			for {
				select {
				case u := <-data:
					publishOne(u)
				case <-stopPublish:
					for {
						select {
						case u := <-data:
							publishOne(u)
						default:
							return
						}
					}
				}
			}
		}()
	} else {
		close(publishDone)
	}

	transport, err := bootstrap.NewTransport(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create transport", zap.Error(err))
	}

	opts := session.Options{
		Recorder: metrics,
		Handlers: session.Handlers{
			Admin: func(m event.Message) {
				logger.Info("admin message", zap.String("message", m.Name))
			},
		},
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	client, err := bootstrap.Connect(connectCtx, cfg, transport, []string{cfg.SubscriptionService}, opts, logger)
	if err != nil {
		connectCancel()
		logger.Fatal("failed to connect session", zap.Error(err))
	}

	var identity *event.Identity
	if cfg.AuthRequired {
		identity = client.Identity()
	}
	sub, err := ioi.Subscribe(client, cfg.SubscriptionService, identity,
		func(u ioi.Update) {
			metrics.Updates.WithLabelValues(u.Change).Inc()
			logger.Info("ioi update",
				zap.String("handle", u.Handle),
				zap.String("change", u.Change),
				zap.String("instrument", u.InstrumentType),
				zap.String("ticker", u.StockTicker),
				zap.Int64("bid_qty", u.Bid.Quantity),
				zap.Float64("bid_price", u.Bid.FixedPrice),
				zap.Int64("offer_qty", u.Offer.Quantity),
				zap.Float64("offer_price", u.Offer.FixedPrice),
				zap.Time("good_until", u.GoodUntil),
			)
			if data == nil {
				return
			}
			select {
			case data <- u:
			default:
				dropped.Add(1)
			}
		},
		func(err error) {
			logger.Warn("undecodable ioi update", zap.Error(err))
		},
	)
	if err != nil {
		connectCancel()
		logger.Fatal("failed to subscribe", zap.Error(err))
	}
	if _, err := sub.Started().Wait(connectCtx); err != nil {
		connectCancel()
		logger.Fatal("subscription did not start", zap.Error(err))
	}
	connectCancel()
	logger.Info("subscribed", zap.String("topic", ioi.Topic(cfg.SubscriptionService)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-sub.Done():
		logger.Error("subscription ended", zap.Error(sub.Err()))
		exitCode = 1
	case <-client.Done():
		logger.Error("session ended", zap.Error(client.Err()))
		exitCode = 1
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
		exitCode = 1
	}

	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping session", zap.Error(err))
	}
	close(stopPublish)
	select {
	case <-publishDone:
	case <-shutdownCtx.Done():
		logger.Warn("gave up draining ioi updates")
	}
	if n := dropped.Load(); n > 0 {
		logger.Warn("ioi updates dropped while publishing fell behind", zap.Int64("count", n))
	}

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}

	logger.Info("ioi-subscriber service stopped")
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
