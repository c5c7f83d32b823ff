// Package observability serves gRPC and HTTP health, readiness bound to the
// session state, and Prometheus metrics.
package observability

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ismaiel54/ioi-session-client/internal/session"
)

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth   *health.Server
	httpServer   *http.Server
	mux          *http.ServeMux
	logger       *zap.Logger
	mu           sync.RWMutex
	ready        bool
	kafkaReady   bool
	usesKafka    bool
	sessionState session.State
	usesSession  bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthChecker{
		grpcHealth: health.NewServer(),
		mux:        http.NewServeMux(),
		logger:     logger,
		ready:      true,
	}
	h.mux.HandleFunc("/healthz", h.handleHealthz)
	return h
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetServing reports the serving status of one gRPC service
func (h *HealthChecker) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus(service, status)
}

// Handle adds an HTTP route next to /healthz
func (h *HealthChecker) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Handler is the HTTP handler serving /healthz and any added routes
func (h *HealthChecker) Handler() http.Handler {
	return h.mux
}

// StartHTTPServer starts the HTTP health check server
func (h *HealthChecker) StartHTTPServer(addr string) error {
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.mux,
	}

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return h.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.grpcHealth.Shutdown()
	h.mu.Unlock()

	if h.httpServer != nil {
		return h.httpServer.Shutdown(ctx)
	}
	return nil
}

// SetKafkaReady sets the Kafka client readiness status
func (h *HealthChecker) SetKafkaReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kafkaReady = ready
	h.usesKafka = true
}

// SetSessionState ties readiness to the session being started
func (h *HealthChecker) SetSessionState(state session.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionState = state
	h.usesSession = true
}

// Ready reports whether /healthz currently answers OK
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready &&
		(!h.usesKafka || h.kafkaReady) &&
		(!h.usesSession || h.sessionState == session.Started)
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.Ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	h.mu.RLock()
	state := h.sessionState
	usesSession := h.usesSession
	h.mu.RUnlock()

	w.WriteHeader(http.StatusServiceUnavailable)
	if usesSession && state != session.Started {
		w.Write([]byte("NOT_READY: session " + state.String()))
		return
	}
	w.Write([]byte("NOT_READY"))
}
