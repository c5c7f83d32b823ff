package ioi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

// Session is the part of session.Client the IOI helpers need.
type Session interface {
	SendRequest(service, operation string, payload *element.Element, identity *event.Identity, opts ...session.RequestOption) (*session.Call, error)
	Subscribe(topic string, opts session.SubscribeOptions, handler func(event.Message)) (*session.Subscription, error)
}

// Requester sends typed IOI commands to the request service
type Requester struct {
	sess     Session
	service  string
	identity *event.Identity
	logger   *zap.Logger
}

// NewRequester binds to service. A nil identity uses the session identity.
func NewRequester(sess Session, service string, identity *event.Identity, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if service == "" {
		service = DefaultRequestService
	}
	return &Requester{sess: sess, service: service, identity: identity, logger: logger}
}

// Submit sends cmd and calls onDone with the resulting handle once the
// service answers. onDone runs on the dispatch goroutine.
func (r *Requester) Submit(cmd Command, onDone func(handle string, err error)) (*session.Call, error) {
	payload, err := cmd.Build()
	if err != nil {
		return nil, err
	}

	var opts []session.RequestOption
	if onDone != nil {
		opts = append(opts, session.WithResponseHandler(func(msg event.Message, err error) {
			if err != nil {
				onDone("", err)
				return
			}
			onDone(HandleFrom(msg))
		}))
	}

	call, err := r.sess.SendRequest(r.service, cmd.Operation, payload, r.identity, opts...)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("IOI command submitted",
		zap.String("operation", cmd.Operation),
		zap.String("handle", cmd.Handle),
		zap.Uint64("correlation_id", uint64(call.ID)),
	)
	return call, nil
}

// Do sends cmd and waits for the handle.
func (r *Requester) Do(ctx context.Context, cmd Command) (string, error) {
	call, err := r.Submit(cmd, nil)
	if err != nil {
		return "", err
	}
	msg, err := call.Wait(ctx)
	if err != nil {
		return "", err
	}
	return HandleFrom(msg)
}

func (r *Requester) Create(ctx context.Context, ioi IOI) (string, error) {
	return r.Do(ctx, Command{Operation: OpCreate, IOI: &ioi})
}

func (r *Requester) Update(ctx context.Context, handle string, ioi IOI) (string, error) {
	return r.Do(ctx, Command{Operation: OpUpdate, Handle: handle, IOI: &ioi})
}

func (r *Requester) Cancel(ctx context.Context, handle string) (string, error) {
	return r.Do(ctx, Command{Operation: OpCancel, Handle: handle})
}

// Subscribe subscribes to the IOI topic of service and decodes each
// Ioidata message. Messages that fail to decode go to onError.
func Subscribe(sess Session, service string, identity *event.Identity, onUpdate func(Update), onError func(error)) (*session.Subscription, error) {
	if service == "" {
		service = DefaultSubscriptionService
	}
	topic := Topic(service)
	sub, err := sess.Subscribe(topic, session.SubscribeOptions{Identity: identity}, func(msg event.Message) {
		u, err := DecodeUpdate(msg)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onUpdate(u)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return sub, nil
}
