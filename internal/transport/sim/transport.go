package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrClosed         = errors.New("session closed")
	ErrServiceNotOpen = errors.New("service not open")
)

// Transport is one simulated session. Events are queued and delivered to
// the sink by a single goroutine, in order.
type Transport struct {
	svc    *Service
	logger *zap.Logger

	mu       sync.Mutex
	sink     session.Sink
	started  bool
	closed   bool
	queue    []event.Event
	opened   map[string]bool
	subs     map[event.CorrelationID]string
	slow     bool
	wake     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

var _ session.Transport = (*Transport)(nil)

func newTransport(svc *Service) *Transport {
	return &Transport{
		svc:     svc,
		logger:  svc.logger,
		opened:  make(map[string]bool),
		subs:    make(map[event.CorrelationID]string),
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

func (t *Transport) Start(ctx context.Context, endpoint event.Endpoint, sink session.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("session already started")
	}
	t.started = true
	t.sink = sink

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(runCtx)

	if t.svc.cfg.Unreachable {
		t.closed = true
		t.enqueueLocked(event.NewEvent(event.SessionStatus,
			reasonMessage(event.SessionStartupFailure.String(), fmt.Sprintf("failed to connect to %s", endpoint.Addr()))))
		return nil
	}

	t.svc.attach(t)
	t.logger.Info("Simulated session started", zap.String("endpoint", endpoint.Addr()))
	t.enqueueLocked(event.NewEvent(event.SessionStatus,
		event.NewMessage(event.SessionConnectionUp.String()),
		event.NewMessage(event.SessionStarted.String()),
	))
	return nil
}

func (t *Transport) OpenService(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return err
	}

	var msg event.Message
	if t.svc.knownService(name) {
		t.opened[name] = true
		msg = event.NewMessage(event.ServiceOpened.String())
	} else {
		msg = reasonMessage(event.ServiceOpenFailure.String(), "Service not found")
	}
	msg.Root().Set("serviceName", name)
	t.enqueueLocked(event.NewEvent(event.ServiceStatus, msg))
	return nil
}

func (t *Transport) SendAuthorization(req event.Request, id event.CorrelationID, identity *event.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return err
	}
	if !t.opened[t.svc.cfg.AuthService] {
		return fmt.Errorf("%w: %s", ErrServiceNotOpen, t.svc.cfg.AuthService)
	}

	params := req.Payload
	if params == nil {
		params = element.New("request")
	}
	var msg event.Message
	if ok, reason := t.svc.authorize(params, identity); ok {
		msg = event.NewMessage(event.AuthorizationSuccess.String(), id)
		msg.Root().Set("seatType", t.svc.cfg.SeatType)
	} else {
		msg = reasonMessage(event.AuthorizationFailure.String(), reason, id)
		msg.Root().Element("reason").Set("category", "NOT_AUTHORIZED")
	}
	t.enqueueLocked(event.NewEvent(event.Response, msg))
	return nil
}

func (t *Transport) SendRequest(req event.Request, id event.CorrelationID, identity *event.Identity) error {
	t.mu.Lock()
	if err := t.usableLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	if !t.opened[req.Service] {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotOpen, req.Service)
	}
	t.mu.Unlock()

	var resp event.Message
	switch {
	case req.Service != t.svc.cfg.RequestService:
		resp = errorInfo(id, CodeBadRequest, fmt.Sprintf("service %s does not accept requests", req.Service))
	case !t.svc.isAuthorized(identity):
		resp = errorInfo(id, CodeUnauthorized, "identity is not authorized")
	default:
		// Book changes publish through every session, including this one,
		// before the response is queued.
		resp = t.svc.execute(req, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.enqueueLocked(event.NewEvent(event.Response, resp))
	return nil
}

func (t *Transport) Subscribe(subs []event.SubscriptionRequest, identity *event.Identity) error {
	t.mu.Lock()
	if err := t.usableLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	topic := ioi.Topic(t.svc.cfg.SubscriptionService)
	var accepted []event.CorrelationID
	for _, sub := range subs {
		switch {
		case sub.Topic != topic:
			t.enqueueLocked(event.NewEvent(event.SubscriptionStatus,
				reasonMessage(event.SubscriptionFailure.String(), "unknown topic "+sub.Topic, sub.CorrelationID)))
		case !t.svc.isAuthorized(identity) && identity != nil:
			t.enqueueLocked(event.NewEvent(event.SubscriptionStatus,
				reasonMessage(event.SubscriptionFailure.String(), "identity is not authorized", sub.CorrelationID)))
		default:
			t.subs[sub.CorrelationID] = sub.Topic
			accepted = append(accepted, sub.CorrelationID)
			t.enqueueLocked(event.NewEvent(event.SubscriptionStatus,
				event.NewMessage(event.SubscriptionStarted.String(), sub.CorrelationID)))
		}
	}
	t.mu.Unlock()

	if len(accepted) == 0 {
		return nil
	}
	// Initial image of the book for the new subscriptions.
	now := t.svc.cfg.Now()
	var msgs []event.Message
	for _, entry := range t.svc.snapshot() {
		msgs = append(msgs, ioi.NewUpdateMessage(entry.handle, entry.ioi, ioi.ChangeSnapshot, now, accepted...))
	}
	if len(msgs) > 0 {
		t.mu.Lock()
		if !t.closed {
			t.enqueueLocked(event.NewEvent(event.SubscriptionData, msgs...))
		}
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Unsubscribe(ids []event.CorrelationID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.subs, id)
	}
	return nil
}

// Close ends the session. SessionConnectionDown and SessionTerminated are
// delivered after everything already queued.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.closed = true
		t.stopOnce.Do(func() { close(t.drained) })
		return nil
	}
	if t.closed {
		return nil
	}
	t.closed = true
	t.svc.detach(t)
	t.enqueueLocked(event.NewEvent(event.SessionStatus,
		event.NewMessage(event.SessionConnectionDown.String()),
		reasonMessage(event.SessionTerminated.String(), "session closed by client"),
	))
	return nil
}

// Drained is closed once the final event has been delivered.
func (t *Transport) Drained() <-chan struct{} { return t.drained }

// publish fans a book change out to every matching subscription of this
// session as a single message carrying all of their correlation ids.
func (t *Transport) publish(handle string, ioiElem *element.Element, change string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.subs) == 0 {
		return
	}
	topic := ioi.Topic(t.svc.cfg.SubscriptionService)
	var ids []event.CorrelationID
	for id, subTopic := range t.subs {
		if subTopic == topic {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	t.enqueueLocked(event.NewEvent(event.SubscriptionData, ioi.NewUpdateMessage(handle, ioiElem, change, now, ids...)))
}

func (t *Transport) usableLocked() error {
	if !t.started {
		return ErrNotStarted
	}
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *Transport) enqueueLocked(ev event.Event) {
	t.queue = append(t.queue, ev)
	if th := t.svc.cfg.SlowConsumerThreshold; th > 0 && !t.slow && len(t.queue) >= th {
		t.slow = true
		t.queue = append(t.queue, event.NewEvent(event.Admin, event.NewMessage(event.SlowConsumerWarning.String())))
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) next() (event.Event, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return event.Event{}, false, t.closed
	}
	ev := t.queue[0]
	t.queue[0] = event.Event{}
	t.queue = t.queue[1:]
	if th := t.svc.cfg.SlowConsumerThreshold; t.slow && len(t.queue) <= th/2 {
		t.slow = false
		t.queue = append(t.queue, event.NewEvent(event.Admin, event.NewMessage(event.SlowConsumerWarningCleared.String())))
	}
	return ev, true, false
}

func (t *Transport) run(ctx context.Context) {
	defer t.stopOnce.Do(func() { close(t.drained) })
	defer t.cancel()

	for {
		ev, ok, finished := t.next()
		if finished {
			return
		}
		if !ok {
			select {
			case <-t.wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		t.deliver(ctx, ev)
	}
}

func (t *Transport) deliver(ctx context.Context, ev event.Event) {
	target := ev.Type.String()
	// Only data may be lost; status and responses are always delivered.
	if ev.Type == event.SubscriptionData && t.svc.chaos.MaybeDrop(target, "deliver") {
		return
	}
	if err := t.svc.chaos.MaybeDelay(ctx, target, "deliver"); err != nil {
		return
	}
	t.sink(ev)
}
