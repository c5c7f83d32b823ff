package grpcwire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/session"
	"github.com/ismaiel54/ioi-session-client/internal/transport/sim"
)

type testGateway struct {
	svc *sim.Service
	gw  *Gateway
	lis *bufconn.Listener
}

func newTestGateway(t *testing.T, cfg sim.Config) *testGateway {
	t.Helper()
	svc := sim.NewService(cfg, nil, nil)
	gw := NewGateway(func() (session.Transport, error) { return svc.NewTransport(), nil }, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.StreamInterceptor(StreamServerLogger(zap.NewNop())))
	gw.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &testGateway{svc: svc, gw: gw, lis: lis}
}

func (g *testGateway) transport() *Transport {
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return g.lis.DialContext(ctx)
	})
	return NewTransport("passthrough:///bufnet", nil, dialer)
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startRemote(t *testing.T, g *testGateway, services ...string) (*session.Client, *Transport) {
	t.Helper()
	tr := g.transport()
	c := session.New(tr, session.Options{Endpoint: event.Endpoint{Host: "localhost", Port: 8194}})
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	started, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = started.Wait(waitCtx(t))
	require.NoError(t, err)
	for _, name := range services {
		_, err := c.OpenService(name).Wait(waitCtx(t))
		require.NoError(t, err, name)
	}
	return c, tr
}

func TestElementCodec_PreservesKinds(t *testing.T) {
	sent := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	root := element.New("createIoi")
	body := root.Element("ioi")
	body.Set("goodUntil", sent)
	body.Element("instrument").SetChoice("stock").Element("security").Set("ticker", "VOD LN Equity")
	bid := body.Element("bid")
	bid.Element("size").SetChoice("quantity").SetValue(int64(1) << 60)
	bid.Element("price").SetChoice("fixed").Set("price", 226.5)
	bid.Set("firm", true)
	bid.Element("qualifiers").AppendValue("AON").AppendValue("IOC")
	bid.Set("notes", nil)

	decoded, err := DecodeElement(EncodeElement(root))
	require.NoError(t, err)
	assert.Equal(t, root.String(), decoded.String())

	qty, ok := decoded.Path("ioi", "bid", "size")
	require.True(t, ok)
	assert.Equal(t, element.KindChoice, qty.Kind())
	n, err := qty.Choice().AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<60, n)

	until, err := decoded.Element("ioi").GetTime("goodUntil")
	require.NoError(t, err)
	assert.True(t, sent.Equal(until))

	quals, _ := decoded.Path("ioi", "bid", "qualifiers")
	assert.Equal(t, element.KindArray, quals.Kind())
	assert.Equal(t, 2, quals.Len())
}

func TestEventCodec(t *testing.T) {
	msg := event.NewMessage(event.SubscriptionStarted.String(), 7, 9)
	msg.Root().Set("topic", "//blp-test/ioisub-beta/ioi")
	ev := event.NewEvent(event.SubscriptionStatus, msg, event.NewMessage(event.SubscriptionTerminated.String(), 11))

	decoded, err := DecodeEvent(EncodeEvent(ev))
	require.NoError(t, err)
	assert.Equal(t, event.SubscriptionStatus, decoded.Type)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, event.SubscriptionStarted, decoded.Messages[0].Type)
	assert.Equal(t, []event.CorrelationID{7, 9}, decoded.Messages[0].CorrelationIDs)
	topic, err := decoded.Messages[0].Root().GetString("topic")
	require.NoError(t, err)
	assert.Equal(t, "//blp-test/ioisub-beta/ioi", topic)
	assert.Equal(t, event.SubscriptionTerminated, decoded.Messages[1].Type)

	_, err = DecodeEvent(newFrame(opOpen, nil))
	assert.Error(t, err)
}

func TestGateway_RequestAndSubscriptionRoundTrip(t *testing.T) {
	g := newTestGateway(t, sim.Config{})

	subscriber, _ := startRemote(t, g, ioi.DefaultSubscriptionService)
	updates := make(chan ioi.Update, 8)
	sub, err := ioi.Subscribe(subscriber, "", nil, func(u ioi.Update) { updates <- u }, func(err error) { t.Error(err) })
	require.NoError(t, err)
	_, err = sub.Started().Wait(waitCtx(t))
	require.NoError(t, err)

	requester, _ := startRemote(t, g, ioi.DefaultRequestService)
	r := ioi.NewRequester(requester, "", nil, nil)
	price := decimal.RequireFromString("101.25")
	handle, err := r.Create(waitCtx(t), ioi.IOI{
		GoodUntil:  time.Now().Add(time.Hour).UTC(),
		Instrument: ioi.Instrument{Stock: &ioi.Stock{Ticker: "AAPL US Equity"}},
		Offer:      &ioi.Quote{Price: ioi.Price{Fixed: &price}, Quantity: 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{handle}, g.svc.Handles())

	select {
	case u := <-updates:
		assert.Equal(t, handle, u.Handle)
		assert.Equal(t, ioi.ChangeNew, u.Change)
		assert.Equal(t, "AAPL US Equity", u.StockTicker)
		assert.Equal(t, int64(5000), u.Offer.Quantity)
		assert.Equal(t, 101.25, u.Offer.FixedPrice)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ioi update")
	}

	_, err = r.Cancel(waitCtx(t), "no-such-handle")
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, int64(sim.CodeUnknownHandle), reqErr.Code)
}

func TestGateway_UnknownServiceFailsToOpen(t *testing.T) {
	g := newTestGateway(t, sim.Config{})
	c, _ := startRemote(t, g)

	_, err := c.OpenService("//blp/unknown").Wait(waitCtx(t))
	require.ErrorIs(t, err, session.ErrServiceOpen)
	assert.Equal(t, session.ServiceOpenFailed, c.ServiceStatus("//blp/unknown"))
}

func TestGateway_BackendStartupFailure(t *testing.T) {
	g := newTestGateway(t, sim.Config{Unreachable: true})
	tr := g.transport()
	c := session.New(tr, session.Options{Endpoint: event.Endpoint{Host: "nowhere", Port: 1}})

	started, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = started.Wait(waitCtx(t))
	var connErr *session.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, session.Failed, c.State())

	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transport did not release the connection")
	}
}

func TestTransport_GatewayUnreachable(t *testing.T) {
	g := newTestGateway(t, sim.Config{})
	require.NoError(t, g.lis.Close())

	c := session.New(g.transport(), session.Options{Endpoint: event.Endpoint{Host: "localhost", Port: 8194}})
	started, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = started.Wait(waitCtx(t))
	require.ErrorIs(t, err, session.ErrConnection)
}

func TestTransport_StopEndsGatewaySession(t *testing.T) {
	g := newTestGateway(t, sim.Config{})
	c, tr := startRemote(t, g, ioi.DefaultSubscriptionService)
	require.Equal(t, int64(1), g.gw.Active())

	sub, err := ioi.Subscribe(c, "", nil, func(ioi.Update) {}, nil)
	require.NoError(t, err)
	_, err = sub.Started().Wait(waitCtx(t))
	require.NoError(t, err)

	require.NoError(t, c.Stop(waitCtx(t)))
	assert.ErrorIs(t, sub.Err(), session.ErrSessionLost)

	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not finish the stream")
	}
	require.Eventually(t, func() bool { return g.gw.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, tr.OpenService(ioi.DefaultRequestService), ErrClosed)
}
