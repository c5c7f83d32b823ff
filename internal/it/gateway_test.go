package it

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ismaiel54/ioi-session-client/internal/bootstrap"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/observability"
	"github.com/ismaiel54/ioi-session-client/internal/session"
	"github.com/ismaiel54/ioi-session-client/internal/transport/grpcwire"
)

// startGateway serves a simulated IOI service on a loopback port and
// points the client configuration at it.
func startGateway(t *testing.T) (*config.Config, *grpcwire.Gateway, *observability.HealthChecker) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port

	t.Setenv("IOI_TRANSPORT", "grpc")
	t.Setenv("IOI_HOST", "127.0.0.1")
	t.Setenv("IOI_PORT", strconv.Itoa(port))
	t.Setenv("IOI_AUTH_REQUIRED", "true")
	t.Setenv("IOI_AUTH_USER", "trader1")
	t.Setenv("SIM_AUTHORIZED_USERS", "trader1,trader2")
	t.Setenv("CHAOS_ENABLED", "false")
	cfg := config.LoadConfig("it")
	require.NoError(t, cfg.Validate())

	logger := zaptest.NewLogger(t)
	svc := bootstrap.SimService(cfg, logger)
	gw := grpcwire.NewGateway(func() (session.Transport, error) { return svc.NewTransport(), nil }, logger)

	healthChecker := observability.NewHealthChecker(logger)
	srv := grpc.NewServer(grpc.StreamInterceptor(grpcwire.StreamServerLogger(logger)))
	healthChecker.RegisterGRPC(srv)
	gw.Register(srv)
	healthChecker.SetServing(grpcwire.ServiceDesc.ServiceName, true)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return cfg, gw, healthChecker
}

func connect(t *testing.T, cfg *config.Config, services ...string) *session.Client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	transport, err := bootstrap.NewTransport(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := bootstrap.Connect(ctx, cfg, transport, services, session.Options{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return client
}

func nextUpdate(t *testing.T, ch <-chan ioi.Update) ioi.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ioi update")
		return ioi.Update{}
	}
}

func TestEndToEnd_GatewayOverTCP(t *testing.T) {
	cfg, gw, _ := startGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	subscriber := connect(t, cfg, cfg.SubscriptionService)
	updates := make(chan ioi.Update, 16)
	sub, err := ioi.Subscribe(subscriber, cfg.SubscriptionService, nil,
		func(u ioi.Update) { updates <- u },
		func(err error) { t.Error(err) })
	require.NoError(t, err)
	_, err = sub.Started().Wait(ctx)
	require.NoError(t, err)

	requester := connect(t, cfg, cfg.RequestService)
	assert.True(t, requester.Identity().Authorized())
	assert.Equal(t, int64(2), gw.Active())

	r := ioi.NewRequester(requester, cfg.RequestService, nil, nil)
	price := decimal.RequireFromString("99.75")
	body := ioi.IOI{
		GoodUntil:  time.Now().Add(time.Hour).UTC(),
		Instrument: ioi.Instrument{Stock: &ioi.Stock{Ticker: "MSFT US Equity"}},
		Offer:      &ioi.Quote{Price: ioi.Price{Fixed: &price, FixedCurrency: "USD"}, Quantity: 300},
	}

	handle, err := r.Create(ctx, body)
	require.NoError(t, err)
	u := nextUpdate(t, updates)
	assert.Equal(t, ioi.ChangeNew, u.Change)
	assert.Equal(t, handle, u.Handle)
	assert.Equal(t, 99.75, u.Offer.FixedPrice)

	body.Offer.Quantity = 600
	_, err = r.Update(ctx, handle, body)
	require.NoError(t, err)
	u = nextUpdate(t, updates)
	assert.Equal(t, ioi.ChangeUpdated, u.Change)
	assert.Equal(t, int64(600), u.Offer.Quantity)

	_, err = r.Cancel(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, ioi.ChangeCanceled, nextUpdate(t, updates).Change)

	require.NoError(t, requester.Stop(ctx))
	require.Eventually(t, func() bool { return gw.Active() == 1 }, 10*time.Second, 20*time.Millisecond)
}

func TestEndToEnd_UnauthorizedUserRejected(t *testing.T) {
	cfg, _, _ := startGateway(t)
	cfg.AuthUser = "intruder"

	transport, err := bootstrap.NewTransport(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = bootstrap.Connect(ctx, cfg, transport, []string{cfg.RequestService}, session.Options{}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, session.ErrAuthorization)
}

func TestEndToEnd_GatewayHealth(t *testing.T) {
	cfg, _, _ := startGateway(t)

	conn, err := grpc.NewClient(cfg.Host+":"+strconv.Itoa(cfg.Port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: grpcwire.ServiceDesc.ServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
