package session

import (
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Dispatch classifies one inbound event and applies it to the client tables.
// It is the Sink handed to the transport. Calls are serialised, and a panic
// while handling one event never stops later events from being dispatched.
func (c *Client) Dispatch(ev event.Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.recorder.EventDispatched(ev.Type)
	c.safeInvoke("dispatch "+ev.Type.String(), func() {
		switch ev.Type {
		case event.SessionStatus:
			for _, msg := range ev.Messages {
				c.handleSessionStatus(msg)
			}
		case event.ServiceStatus:
			for _, msg := range ev.Messages {
				c.handleServiceStatus(ev.Type, msg)
			}
		case event.AuthorizationStatus, event.Response:
			for _, msg := range ev.Messages {
				c.handleResponse(ev.Type, msg)
			}
		case event.SubscriptionStatus:
			for _, msg := range ev.Messages {
				c.handleSubscriptionStatus(ev.Type, msg)
			}
		case event.SubscriptionData:
			for _, msg := range ev.Messages {
				c.handleSubscriptionData(ev.Type, msg)
			}
		case event.Admin:
			for _, msg := range ev.Messages {
				c.handleAdmin(msg)
			}
		default:
			c.logger.Debug("Unhandled event", zap.String("event_type", ev.Type.String()), zap.Int("messages", len(ev.Messages)))
			if c.opts.Handlers.Other != nil {
				c.safeInvoke("other", func() { c.opts.Handlers.Other(ev) })
			}
		}
	})
}

func (c *Client) handleSessionStatus(msg event.Message) {
	switch msg.Type {
	case event.SessionStarted:
		c.onSessionStarted()
	case event.SessionStartupFailure:
		reason := reasonOf(msg)
		c.logger.Error("Session startup failed", zap.String("endpoint", c.opts.Endpoint.Addr()), zap.String("reason", reason))
		c.terminate(Failed, &ConnectionError{Endpoint: c.opts.Endpoint.Addr(), Reason: reason})
	case event.SessionTerminated:
		reason := reasonOf(msg)
		c.logger.Warn("Session terminated", zap.String("reason", reason))
		c.terminate(Terminated, &SessionLostError{Reason: reason})
	case event.SessionConnectionUp:
		c.logger.Info("Session connection up", zap.String("endpoint", c.opts.Endpoint.Addr()))
	case event.SessionConnectionDown:
		c.logger.Warn("Session connection down", zap.String("endpoint", c.opts.Endpoint.Addr()))
	default:
		c.logger.Debug("Session status", zap.String("message", msg.Name))
	}

	if c.opts.Handlers.Session != nil {
		c.safeInvoke("session", func() { c.opts.Handlers.Session(msg) })
	}
}

func (c *Client) onSessionStarted() {
	c.mu.Lock()
	if c.state != Starting {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("Ignoring SessionStarted", zap.String("state", state.String()))
		return
	}
	c.setStateLocked(Started)
	var queued []string
	for name, s := range c.services {
		if s.state == ServiceOpening && !s.sent {
			s.sent = true
			queued = append(queued, name)
		}
	}
	c.mu.Unlock()

	c.logger.Info("Session started", zap.String("endpoint", c.opts.Endpoint.Addr()))
	c.started.resolve(struct{}{}, nil)

	for _, name := range queued {
		c.submitOpen(name)
	}
	for _, svc := range c.opts.Services {
		c.OpenService(svc.Name)
	}
}

func (c *Client) handleServiceStatus(t event.EventType, msg event.Message) {
	name, err := msg.Root().GetString("serviceName")
	if err != nil {
		c.unexpected(t, msg, 0)
		return
	}
	switch msg.Type {
	case event.ServiceOpened:
		c.serviceOpenResult(name, nil)
	case event.ServiceOpenFailure:
		c.serviceOpenResult(name, &ServiceOpenError{Service: name, Reason: reasonOf(msg)})
	default:
		c.logger.Debug("Service status", zap.String("service", name), zap.String("message", msg.Name))
	}
}

func (c *Client) serviceOpenResult(name string, err error) {
	c.mu.Lock()
	s, ok := c.services[name]
	if !ok {
		s = &serviceEntry{opened: newFuture[struct{}]()}
		c.services[name] = s
	}
	if err != nil {
		s.state = ServiceOpenFailed
	} else {
		s.state = ServiceOpened
	}
	s.err = err
	waiters := s.waiters
	s.waiters = nil
	fut := s.opened
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Service open failed", zap.String("service", name), zap.Error(err))
	} else {
		c.logger.Info("Service opened", zap.String("service", name))
	}
	fut.resolve(struct{}{}, err)
	for _, fn := range waiters {
		c.safeInvoke("service waiter", func() { fn(err) })
	}
}

func (c *Client) handleResponse(t event.EventType, msg event.Message) {
	if len(msg.CorrelationIDs) == 0 {
		c.unexpected(t, msg, 0)
		return
	}
	for _, id := range msg.CorrelationIDs {
		c.mu.Lock()
		call, ok := c.requests[id]
		if ok {
			c.takeLocked(call)
		}
		c.mu.Unlock()

		if !ok {
			if msg.Type == event.AuthorizationRevoked {
				c.Identity().SetAuthorized(false, "")
				c.logger.Warn("Authorization revoked", zap.Uint64("correlation_id", uint64(id)), zap.String("reason", reasonOf(msg)))
				continue
			}
			c.unexpected(t, msg, id)
			continue
		}
		c.complete(call, msg)
	}
}

func (c *Client) complete(call *Call, msg event.Message) {
	var err error
	switch call.kind {
	case kindAuthorize:
		switch msg.Type {
		case event.AuthorizationSuccess:
			seat, _ := msg.Root().GetString("seatType")
			c.Identity().SetAuthorized(true, seat)
			c.logger.Info("Authorization succeeded", zap.Uint64("correlation_id", uint64(call.ID)))
		case event.AuthorizationFailure, event.AuthorizationRevoked, event.ErrorInfo:
			err = &AuthorizationError{Reason: reasonOf(msg)}
		default:
			err = &AuthorizationError{Reason: "unexpected response " + msg.Name}
		}
		if err != nil {
			c.logger.Error("Authorization failed", zap.Uint64("correlation_id", uint64(call.ID)), zap.Error(err))
		}
	default:
		if msg.Type == event.ErrorInfo {
			code, _ := msg.Root().GetInt("code")
			text, _ := msg.Root().GetString("message")
			err = &RequestError{Service: call.Service, Operation: call.Operation, Code: code, Message: text}
			c.logger.Warn("Request rejected", zap.Uint64("correlation_id", uint64(call.ID)), zap.Error(err))
		}
	}

	call.result.resolve(msg, err)
	if call.handler != nil {
		c.safeInvoke(call.kind.String()+" handler", func() { call.handler(msg, err) })
	}
}

func (c *Client) handleSubscriptionStatus(t event.EventType, msg event.Message) {
	if len(msg.CorrelationIDs) == 0 {
		c.unexpected(t, msg, 0)
		return
	}
	for _, id := range msg.CorrelationIDs {
		c.mu.Lock()
		sub, ok := c.subscriptions[id]
		if ok && msg.Type.Terminal() {
			delete(c.subscriptions, id)
			c.recordOutstandingLocked()
		}
		c.mu.Unlock()

		if !ok {
			c.unexpected(t, msg, id)
			continue
		}
		switch msg.Type {
		case event.SubscriptionStarted:
			c.logger.Info("Subscription started", zap.String("topic", sub.Topic), zap.Uint64("correlation_id", uint64(id)))
			sub.started.resolve(struct{}{}, nil)
		case event.SubscriptionFailure, event.SubscriptionTerminated:
			err := &SubscriptionError{Topic: sub.Topic, Reason: reasonOf(msg)}
			c.logger.Warn("Subscription ended", zap.String("topic", sub.Topic), zap.Uint64("correlation_id", uint64(id)), zap.Error(err))
			sub.end(err)
		default:
			c.logger.Debug("Subscription status", zap.String("topic", sub.Topic), zap.String("message", msg.Name))
		}
	}
}

func (c *Client) handleSubscriptionData(t event.EventType, msg event.Message) {
	if len(msg.CorrelationIDs) == 0 {
		c.unexpected(t, msg, 0)
		return
	}
	subs := make([]*Subscription, len(msg.CorrelationIDs))
	c.mu.Lock()
	for i, id := range msg.CorrelationIDs {
		subs[i] = c.subscriptions[id]
	}
	c.mu.Unlock()

	for i, id := range msg.CorrelationIDs {
		sub := subs[i]
		// An earlier handler for this message may have unsubscribed id.
		if sub == nil || !c.subscribed(sub) {
			c.unexpected(t, msg, id)
			continue
		}
		if sub.handler != nil {
			c.safeInvoke("subscription handler", func() { sub.handler(msg) })
		}
	}
}

func (c *Client) subscribed(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[sub.ID] == sub
}

func (c *Client) handleAdmin(msg event.Message) {
	switch msg.Type {
	case event.SlowConsumerWarning:
		c.logger.Warn("Slow consumer warning")
	case event.SlowConsumerWarningCleared:
		c.logger.Info("Slow consumer warning cleared")
	default:
		c.logger.Debug("Admin message", zap.String("message", msg.Name))
	}
	if c.opts.Handlers.Admin != nil {
		c.safeInvoke("admin", func() { c.opts.Handlers.Admin(msg) })
	}
}

func (c *Client) unexpected(t event.EventType, msg event.Message, id event.CorrelationID) {
	err := &UnexpectedMessageError{EventType: t, Message: msg.Name, CorrelationID: id}
	c.logger.Warn("Unexpected message",
		zap.String("event_type", t.String()),
		zap.String("message", msg.Name),
		zap.Uint64("correlation_id", uint64(id)),
	)
	c.recorder.UnexpectedMessage(t)
	if c.opts.Handlers.Unexpected != nil {
		c.safeInvoke("unexpected", func() { c.opts.Handlers.Unexpected(err) })
	}
}

// terminate ends the session once, failing every outstanding request,
// subscription and service waiter with err.
func (c *Client) terminate(state State, err error) {
	c.mu.Lock()
	if !c.state.Alive() && c.state != NotStarted {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(state)

	calls := make([]*Call, 0, len(c.requests))
	for _, call := range c.requests {
		if call.timer != nil {
			call.timer.Stop()
		}
		calls = append(calls, call)
	}
	subs := make([]*Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	var waiters []func(error)
	var pending []*Future[struct{}]
	for _, s := range c.services {
		waiters = append(waiters, s.waiters...)
		s.waiters = nil
		if s.state == ServiceOpening {
			pending = append(pending, s.opened)
		}
		s.state = ServiceClosed
		s.err = err
	}
	c.requests = make(map[event.CorrelationID]*Call)
	c.subscriptions = make(map[event.CorrelationID]*Subscription)
	c.recordOutstandingLocked()
	identity := c.identity
	c.mu.Unlock()

	identity.SetAuthorized(false, "")
	if len(calls) > 0 || len(subs) > 0 {
		c.logger.Warn("Failing outstanding work", zap.Int("requests", len(calls)), zap.Int("subscriptions", len(subs)), zap.Error(err))
	}

	c.started.resolve(struct{}{}, err)
	for _, f := range pending {
		f.resolve(struct{}{}, err)
	}
	for _, fn := range waiters {
		c.safeInvoke("service waiter", func() { fn(err) })
	}
	for _, call := range calls {
		call.result.resolve(event.Message{}, err)
		if call.handler != nil {
			c.safeInvoke(call.kind.String()+" handler", func() { call.handler(event.Message{}, err) })
		}
	}
	for _, sub := range subs {
		sub.end(err)
	}
	c.ended.resolve(struct{}{}, err)
}

// safeInvoke runs fn, recovering and logging a panic.
func (c *Client) safeInvoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", zap.String("handler", name), zap.Any("panic", r), zap.Stack("stack"))
			c.recorder.HandlerPanic(name)
		}
	}()
	fn()
}

// reasonOf extracts a human readable failure reason from a status message.
func reasonOf(msg event.Message) string {
	root := msg.Root()
	for _, path := range [][]string{{"reason", "description"}, {"description"}, {"message"}, {"reason"}} {
		if e, ok := root.Path(path...); ok {
			if s, err := e.AsString(); err == nil && s != "" {
				return s
			}
		}
	}
	return msg.Name
}
