package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ismaiel54/ioi-session-client/internal/bootstrap"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/logging"
	"github.com/ismaiel54/ioi-session-client/internal/observability"
	"github.com/ismaiel54/ioi-session-client/internal/session"
	"github.com/ismaiel54/ioi-session-client/internal/transport/grpcwire"
)

func main() {
	cfg := config.LoadConfig("ioi-gateway")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ioi-gateway service",
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("request_service", cfg.RequestService),
		zap.String("subscription_service", cfg.SubscriptionService),
		zap.Bool("auth_required", cfg.AuthRequired),
	)

	// Every remote session gets its own transport over one shared book
	svc := bootstrap.SimService(cfg, logger)
	gateway := grpcwire.NewGateway(func() (session.Transport, error) {
		return svc.NewTransport(), nil
	}, logger)

	healthChecker := observability.NewHealthChecker(logger)
	metrics := observability.NewMetrics(nil)
	metrics.GaugeFunc("gateway", "sessions", "Remote sessions being served", func() float64 {
		return float64(gateway.Active())
	})
	metrics.GaugeFunc("gateway", "book_size", "Live IOIs in the simulated book", func() float64 {
		return float64(len(svc.Handles()))
	})
	healthChecker.Handle("/metrics", metrics.Handler())

	grpcServer := grpc.NewServer(grpc.StreamInterceptor(grpcwire.StreamServerLogger(logger)))
	healthChecker.RegisterGRPC(grpcServer)
	gateway.Register(grpcServer)
	healthChecker.SetServing(grpcwire.ServiceDesc.ServiceName, true)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}

	// Open session streams only end when their clients close them
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	logger.Info("ioi-gateway service stopped")
}
