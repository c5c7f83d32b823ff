package session

import (
	"context"
	"time"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

type callKind int

const (
	kindRequest callKind = iota
	kindAuthorize
)

func (k callKind) String() string {
	if k == kindAuthorize {
		return "authorize"
	}
	return "request"
}

// Call is an outstanding request. It resolves exactly once with the
// terminal response message or an error.
type Call struct {
	ID        event.CorrelationID
	Service   string
	Operation string

	kind    callKind
	handler func(event.Message, error)
	result  *Future[event.Message]
	abandon func(cause error)
	// timer is guarded by Client.mu.
	timer   *time.Timer
}

func (c *Call) Done() <-chan struct{} { return c.result.Done() }

// Wait blocks until the response arrives or the session is lost. If ctx
// ends first the request is abandoned: it stops counting as outstanding,
// resolves with a *TimeoutError and a late reply for its id is reported
// as unexpected.
func (c *Call) Wait(ctx context.Context) (event.Message, error) {
	select {
	case <-c.result.Done():
	case <-ctx.Done():
		if c.abandon == nil {
			return event.Message{}, ctx.Err()
		}
		c.abandon(ctx.Err())
		// A reply taken off the table just before abandon resolves shortly.
		<-c.result.Done()
	}
	return c.result.Result()
}

// Result returns the outcome without blocking, or ErrPending.
func (c *Call) Result() (event.Message, error) {
	return c.result.Result()
}

// RequestOption customises SendRequest.
type RequestOption func(*requestOptions)

type requestOptions struct {
	id      event.CorrelationID
	handler func(event.Message, error)
	timeout time.Duration
}

// WithCorrelationID uses a caller-supplied id. It must not collide with an
// outstanding request.
func WithCorrelationID(id event.CorrelationID) RequestOption {
	return func(o *requestOptions) { o.id = id }
}

// WithResponseHandler registers a continuation invoked from the dispatch
// goroutine with the terminal response.
func WithResponseHandler(fn func(event.Message, error)) RequestOption {
	return func(o *requestOptions) { o.handler = fn }
}

// WithTimeout abandons the request when no response arrived within d. The
// call and its handler then see a *TimeoutError wrapping
// context.DeadlineExceeded.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// SubscribeOptions configures Subscribe
type SubscribeOptions struct {
	// CorrelationID is client-generated when zero.
	CorrelationID event.CorrelationID
	Fields        []string
	Options       []string
	// Identity subscribes on behalf of an authorized user.
	Identity *event.Identity
}

// Subscription is a standing registration for a topic. Data messages are
// delivered to its handler in arrival order until Unsubscribe or session loss.
type Subscription struct {
	ID    event.CorrelationID
	Topic string

	handler func(event.Message)
	started *Future[struct{}]
	ended   *Future[struct{}]
}

// Started resolves when the service confirms the subscription, or fails
// with a *SubscriptionError or *SessionLostError.
func (s *Subscription) Started() *Future[struct{}] { return s.started }

// Done is closed once the subscription has ended for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.ended.Done() }

// Err is nil while active and after a clean Unsubscribe.
func (s *Subscription) Err() error {
	_, err := s.ended.Result()
	if err == ErrPending {
		return nil
	}
	return err
}

// Wait blocks until the subscription ends.
func (s *Subscription) Wait(ctx context.Context) error {
	_, err := s.ended.Wait(ctx)
	return err
}

func (s *Subscription) end(err error) {
	s.started.resolve(struct{}{}, err)
	s.ended.resolve(struct{}{}, err)
}
