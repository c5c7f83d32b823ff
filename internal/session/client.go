// Package session implements the event-driven IOI session client: session
// and service lifecycle, identity authorization, request correlation and
// subscription demultiplexing on top of a Transport.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// AuthorizationOperation is the operation name of authorization requests.
const AuthorizationOperation = "authorizationRequest"

type serviceEntry struct {
	state   ServiceState
	err     error
	sent    bool
	opened  *Future[struct{}]
	waiters []func(error)
}

// Client owns one session and everything correlated with it.
type Client struct {
	transport Transport
	opts      Options
	logger    *zap.Logger
	recorder  Recorder

	// dispatchMu serialises Dispatch; mu guards the tables below.
	dispatchMu sync.Mutex
	mu         sync.Mutex

	state         State
	started       *Future[struct{}]
	ended         *Future[struct{}]
	services      map[string]*serviceEntry
	requiresAuth  map[string]bool
	identity      *event.Identity
	requests      map[event.CorrelationID]*Call
	subscriptions map[event.CorrelationID]*Subscription
	nextRequestID uint64
	nextSubID     uint64
}

// New creates a client bound to transport. Nothing is sent until Start.
func New(transport Transport, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.AuthService == "" {
		opts.AuthService = DefaultAuthService
	}

	c := &Client{
		transport:     transport,
		opts:          opts,
		logger:        opts.Logger,
		recorder:      opts.Recorder,
		started:       newFuture[struct{}](),
		ended:         newFuture[struct{}](),
		services:      make(map[string]*serviceEntry),
		requiresAuth:  make(map[string]bool),
		identity:      event.NewIdentity(),
		requests:      make(map[event.CorrelationID]*Call),
		subscriptions: make(map[event.CorrelationID]*Subscription),
	}
	for _, svc := range opts.Services {
		if svc.RequiresAuth {
			c.requiresAuth[svc.Name] = true
		}
	}
	return c
}

// Start submits the connect and returns immediately. The returned future
// resolves on SessionStarted or fails with a *ConnectionError.
func (c *Client) Start(ctx context.Context) (*Future[struct{}], error) {
	c.mu.Lock()
	if c.state != NotStarted {
		state := c.state
		c.mu.Unlock()
		return nil, &PreconditionError{Op: "start", Reason: "session is " + state.String()}
	}
	c.setStateLocked(Starting)
	c.mu.Unlock()

	c.logger.Info("Starting session", zap.String("endpoint", c.opts.Endpoint.Addr()))

	if err := c.transport.Start(ctx, c.opts.Endpoint, c.Dispatch); err != nil {
		msg := event.NewMessage(event.SessionStartupFailure.String())
		msg.Root().Element("reason").Set("description", err.Error())
		c.Dispatch(event.NewEvent(event.SessionStatus, msg))
	}
	return c.started, nil
}

// Stop closes the transport and fails everything outstanding with a
// *SessionLostError.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if !state.Alive() {
		c.terminate(Terminated, &SessionLostError{Reason: "client stopped"})
		return nil
	}

	c.logger.Info("Stopping session")
	closeErr := c.transport.Close()
	c.terminate(Terminated, &SessionLostError{Reason: "client stopped"})

	select {
	case <-c.ended.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close transport: %w", closeErr)
	}
	return nil
}

// Done is closed when the session has terminated or failed.
func (c *Client) Done() <-chan struct{} { return c.ended.Done() }

// Err returns why the session ended, or nil while it is alive.
func (c *Client) Err() error {
	_, err := c.ended.Result()
	if err == ErrPending {
		return nil
	}
	return err
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outstanding returns the sizes of the request and subscription tables.
func (c *Client) Outstanding() (requests, subscriptions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests), len(c.subscriptions)
}

// Identity is the client's identity. It is authorized only after a
// successful Authorize.
func (c *Client) Identity() *event.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) ServiceStatus(name string) ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.services[name]; ok {
		return s.state
	}
	return ServiceUnknown
}

// OpenService requests activation of name. Before the session has started
// the open is queued and submitted on SessionStarted.
func (c *Client) OpenService(name string) *Future[struct{}] {
	c.mu.Lock()
	if !c.state.Alive() && c.state != NotStarted {
		state := c.state
		c.mu.Unlock()
		return resolvedFuture(struct{}{}, &PreconditionError{Op: "open service " + name, Reason: "session is " + state.String()})
	}

	s, ok := c.services[name]
	if ok && (s.state == ServiceOpened || s.state == ServiceOpening) {
		c.mu.Unlock()
		return s.opened
	}
	if !ok {
		s = &serviceEntry{}
		c.services[name] = s
	}
	s.state = ServiceOpening
	s.err = nil
	s.sent = c.state == Started
	s.opened = newFuture[struct{}]()
	fut, send := s.opened, s.sent
	c.mu.Unlock()

	if send {
		c.submitOpen(name)
	}
	return fut
}

func (c *Client) submitOpen(name string) {
	c.logger.Info("Opening service", zap.String("service", name))
	if err := c.transport.OpenService(name); err != nil {
		c.serviceOpenResult(name, &ServiceOpenError{Service: name, Reason: err.Error()})
	}
}

// WhenOpened runs fn once name has opened or failed to open, opening it if
// needed. fn runs immediately when the outcome is already known.
func (c *Client) WhenOpened(name string, fn func(error)) {
	c.mu.Lock()
	if s, ok := c.services[name]; ok && s.state == ServiceOpened {
		c.mu.Unlock()
		c.safeInvoke("service waiter", func() { fn(nil) })
		return
	}
	if !c.state.Alive() && c.state != NotStarted {
		state := c.state
		c.mu.Unlock()
		err := &PreconditionError{Op: "open service " + name, Reason: "session is " + state.String()}
		c.safeInvoke("service waiter", func() { fn(err) })
		return
	}
	s, ok := c.services[name]
	if ok && s.state == ServiceOpening {
		s.waiters = append(s.waiters, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Unknown, failed or closed: (re)open and queue behind it.
	c.OpenService(name)
	c.mu.Lock()
	s = c.services[name]
	if s.state != ServiceOpening {
		state, err := s.state, s.err
		c.mu.Unlock()
		if state != ServiceOpened && err == nil {
			err = &ServiceOpenError{Service: name, Reason: "service is " + state.String()}
		}
		c.safeInvoke("service waiter", func() { fn(err) })
		return
	}
	s.waiters = append(s.waiters, fn)
	c.mu.Unlock()
}

// Authorize opens the auth service if needed and sends an authorization
// request built from params (emrsId or authId, ipAddress). On success the
// client identity is marked authorized and attached to later requests.
func (c *Client) Authorize(params *element.Element) (*Future[*event.Identity], error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if !state.Alive() {
		return nil, &PreconditionError{Op: "authorize", Reason: "session is " + state.String()}
	}
	if params == nil {
		params = element.New("request")
	}

	result := newFuture[*event.Identity]()
	authService := c.opts.AuthService
	c.WhenOpened(authService, func(err error) {
		if err != nil {
			result.resolve(nil, &AuthorizationError{Reason: err.Error(), Err: err})
			return
		}
		_, err = c.send(kindAuthorize, authService, AuthorizationOperation, params, nil, requestOptions{
			handler: func(_ event.Message, err error) {
				if err != nil {
					result.resolve(nil, err)
					return
				}
				result.resolve(c.Identity(), nil)
			},
		})
		if err != nil {
			result.resolve(nil, err)
		}
	})
	return result, nil
}

// SendRequest submits operation against an opened service and returns the
// outstanding call. A nil identity falls back to the client identity.
func (c *Client) SendRequest(service, operation string, payload *element.Element, identity *event.Identity, opts ...RequestOption) (*Call, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return c.send(kindRequest, service, operation, payload, identity, o)
}

func (c *Client) send(kind callKind, service, operation string, payload *element.Element, identity *event.Identity, o requestOptions) (*Call, error) {
	op := "send " + operation
	c.mu.Lock()
	if c.state != Started {
		state := c.state
		c.mu.Unlock()
		return nil, &PreconditionError{Op: op, Reason: "session is " + state.String()}
	}
	s, ok := c.services[service]
	if !ok || s.state != ServiceOpened {
		state := ServiceUnknown
		if ok {
			state = s.state
		}
		c.mu.Unlock()
		return nil, &PreconditionError{Op: op, Reason: fmt.Sprintf("service %s is %s", service, state)}
	}
	if identity == nil {
		identity = c.identity
	}
	if kind == kindRequest && c.requiresAuth[service] && !identity.Authorized() {
		c.mu.Unlock()
		return nil, &PreconditionError{Op: op, Reason: "service " + service + " requires an authorized identity"}
	}

	id := o.id
	if id == 0 {
		id = c.nextFreeLocked(&c.nextRequestID, func(id event.CorrelationID) bool { _, used := c.requests[id]; return used })
	} else if _, used := c.requests[id]; used {
		c.mu.Unlock()
		return nil, &PreconditionError{Op: op, Reason: fmt.Sprintf("correlation id %d is already outstanding", id)}
	}

	call := &Call{
		ID:        id,
		Service:   service,
		Operation: operation,
		kind:      kind,
		handler:   o.handler,
		result:    newFuture[event.Message](),
	}
	call.abandon = func(cause error) {
		if err := c.abandon(call, cause); err != nil {
			c.invokeCallHandler(call, err)
		}
	}
	c.requests[id] = call
	c.recordOutstandingLocked()
	c.mu.Unlock()

	if payload == nil {
		payload = element.New(operation)
	}
	req := event.Request{Service: service, Operation: operation, Payload: payload}

	var err error
	if kind == kindAuthorize {
		err = c.transport.SendAuthorization(req, id, identity)
	} else {
		err = c.transport.SendRequest(req, id, identity)
	}
	if err != nil {
		c.mu.Lock()
		c.takeLocked(call)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s: %w", operation, err)
	}

	if o.timeout > 0 {
		c.mu.Lock()
		if c.requests[id] == call {
			call.timer = time.AfterFunc(o.timeout, func() {
				err := c.abandon(call, context.DeadlineExceeded)
				if err == nil || call.handler == nil {
					return
				}
				c.dispatchMu.Lock()
				defer c.dispatchMu.Unlock()
				c.invokeCallHandler(call, err)
			})
		}
		c.mu.Unlock()
	}

	c.logger.Debug("Request sent",
		zap.String("service", service),
		zap.String("operation", operation),
		zap.Uint64("correlation_id", uint64(id)),
	)
	return call, nil
}

// Subscribe registers handler for data on topic and returns immediately.
func (c *Client) Subscribe(topic string, opts SubscribeOptions, handler func(event.Message)) (*Subscription, error) {
	c.mu.Lock()
	if c.state != Started {
		state := c.state
		c.mu.Unlock()
		return nil, &PreconditionError{Op: "subscribe " + topic, Reason: "session is " + state.String()}
	}
	id := opts.CorrelationID
	if id == 0 {
		id = c.nextFreeLocked(&c.nextSubID, func(id event.CorrelationID) bool { _, used := c.subscriptions[id]; return used })
	} else if _, used := c.subscriptions[id]; used {
		c.mu.Unlock()
		return nil, &PreconditionError{Op: "subscribe " + topic, Reason: fmt.Sprintf("correlation id %d is already subscribed", id)}
	}

	sub := &Subscription{
		ID:      id,
		Topic:   topic,
		handler: handler,
		started: newFuture[struct{}](),
		ended:   newFuture[struct{}](),
	}
	c.subscriptions[id] = sub
	c.recordOutstandingLocked()
	c.mu.Unlock()

	req := event.SubscriptionRequest{Topic: topic, CorrelationID: id, Fields: opts.Fields, Options: opts.Options}
	if err := c.transport.Subscribe([]event.SubscriptionRequest{req}, opts.Identity); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, id)
		c.recordOutstandingLocked()
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.logger.Info("Subscribed", zap.String("topic", topic), zap.Uint64("correlation_id", uint64(id)))
	return sub, nil
}

// Unsubscribe stops delivery for id. Data arriving for id afterwards is
// reported as an unexpected message, including later correlation ids of a
// message being dispatched. When called from another goroutine, a handler
// invocation that already began on the dispatch goroutine may still run
// to completion.
func (c *Client) Unsubscribe(id event.CorrelationID) error {
	c.mu.Lock()
	sub, ok := c.subscriptions[id]
	if !ok {
		c.mu.Unlock()
		return &PreconditionError{Op: "unsubscribe", Reason: fmt.Sprintf("no subscription with correlation id %d", id)}
	}
	delete(c.subscriptions, id)
	c.recordOutstandingLocked()
	c.mu.Unlock()

	sub.end(nil)
	c.logger.Info("Unsubscribed", zap.String("topic", sub.Topic), zap.Uint64("correlation_id", uint64(id)))

	if err := c.transport.Unsubscribe([]event.CorrelationID{id}); err != nil {
		return fmt.Errorf("failed to unsubscribe %d: %w", id, err)
	}
	return nil
}

// takeLocked removes call from the request table if it is still there.
func (c *Client) takeLocked(call *Call) bool {
	if cur, ok := c.requests[call.ID]; !ok || cur != call {
		return false
	}
	delete(c.requests, call.ID)
	if call.timer != nil {
		call.timer.Stop()
	}
	c.recordOutstandingLocked()
	return true
}

// abandon resolves a still outstanding call with a *TimeoutError and
// returns it. It returns nil when a response or session loss got there
// first. The caller invokes the call handler.
func (c *Client) abandon(call *Call, cause error) *TimeoutError {
	c.mu.Lock()
	taken := c.takeLocked(call)
	c.mu.Unlock()
	if !taken {
		return nil
	}

	err := &TimeoutError{Service: call.Service, Operation: call.Operation, CorrelationID: call.ID, Err: cause}
	c.logger.Warn("Request abandoned",
		zap.String("service", call.Service),
		zap.String("operation", call.Operation),
		zap.Uint64("correlation_id", uint64(call.ID)),
		zap.Error(cause),
	)
	call.result.resolve(event.Message{}, err)
	return err
}

func (c *Client) invokeCallHandler(call *Call, err error) {
	if call.handler != nil {
		c.safeInvoke(call.kind.String()+" handler", func() { call.handler(event.Message{}, err) })
	}
}

// nextFreeLocked advances a monotonic counter, skipping zero and ids still in use.
func (c *Client) nextFreeLocked(counter *uint64, inUse func(event.CorrelationID) bool) event.CorrelationID {
	for {
		*counter++
		id := event.CorrelationID(*counter)
		if id != 0 && !inUse(id) {
			return id
		}
	}
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.recorder.SessionState(s)
}

func (c *Client) recordOutstandingLocked() {
	c.recorder.Outstanding(len(c.requests), len(c.subscriptions))
}
