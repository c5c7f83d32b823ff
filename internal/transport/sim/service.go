// Package sim is an in-process IOI service. It implements session.Transport
// with the session, service, authorization, request and subscription
// behaviour of the real service, backed by an in-memory IOI book shared by
// every connected session.
package sim

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/chaos"
	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

// ErrorInfo codes returned by the request service.
const (
	CodeBadRequest    = 400
	CodeUnauthorized  = 401
	CodeUnknownHandle = 404
)

// Config describes the simulated service
type Config struct {
	RequestService      string
	SubscriptionService string
	AuthService         string
	// RequireAuth rejects requests from identities that have not authorized.
	RequireAuth bool
	// AuthorizedUsers lists the emrsId/authId values that may authorize.
	// Empty allows everyone.
	AuthorizedUsers []string
	SeatType        string
	// Unreachable makes every session fail to start.
	Unreachable bool
	// SlowConsumerThreshold is the queued event count that raises a
	// SlowConsumerWarning. Zero disables the warning.
	SlowConsumerThreshold int
	Now                   func() time.Time
}

func (c *Config) setDefaults() {
	if c.RequestService == "" {
		c.RequestService = ioi.DefaultRequestService
	}
	if c.SubscriptionService == "" {
		c.SubscriptionService = ioi.DefaultSubscriptionService
	}
	if c.AuthService == "" {
		c.AuthService = session.DefaultAuthService
	}
	if c.SeatType == "" {
		c.SeatType = "BPS"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type bookEntry struct {
	handle string
	ioi    *element.Element
}

// Service is the shared state behind every simulated session
type Service struct {
	cfg    Config
	logger *zap.Logger
	chaos  *chaos.Chaos

	mu         sync.Mutex
	book       map[string]*bookEntry
	order      []string
	authorized map[uuid.UUID]bool
	sessions   map[*Transport]struct{}
}

func NewService(cfg Config, ch *chaos.Chaos, logger *zap.Logger) *Service {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		chaos:      ch,
		book:       make(map[string]*bookEntry),
		authorized: make(map[uuid.UUID]bool),
		sessions:   make(map[*Transport]struct{}),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// NewTransport returns a fresh, unstarted session transport.
func (s *Service) NewTransport() *Transport {
	return newTransport(s)
}

// Handles lists the live IOI handles in creation order.
func (s *Service) Handles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

func (s *Service) knownService(name string) bool {
	return name == s.cfg.RequestService || name == s.cfg.SubscriptionService || name == s.cfg.AuthService
}

func (s *Service) attach(t *Transport) {
	s.mu.Lock()
	s.sessions[t] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) detach(t *Transport) {
	s.mu.Lock()
	delete(s.sessions, t)
	s.mu.Unlock()
}

// authorize checks params against the allow list and records the identity.
func (s *Service) authorize(params *element.Element, identity *event.Identity) (bool, string) {
	user, err := params.GetString("emrsId")
	if err != nil {
		user, _ = params.GetString("authId")
	}
	if len(s.cfg.AuthorizedUsers) > 0 && !slices.Contains(s.cfg.AuthorizedUsers, user) {
		return false, fmt.Sprintf("user %q is not entitled", user)
	}
	if identity != nil {
		s.mu.Lock()
		s.authorized[identity.ID] = true
		s.mu.Unlock()
	}
	return true, ""
}

func (s *Service) isAuthorized(identity *event.Identity) bool {
	if !s.cfg.RequireAuth {
		return true
	}
	if identity == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized[identity.ID]
}

// execute applies one IOI operation to the book and returns the response
// message for the caller. Book changes are published to every subscriber.
func (s *Service) execute(req event.Request, id event.CorrelationID) event.Message {
	payload := req.Payload
	if payload == nil {
		payload = element.New(req.Operation)
	}

	s.mu.Lock()
	var (
		handle  string
		change  string
		ioiElem *element.Element
		failure event.Message
		failed  bool
	)
	switch req.Operation {
	case ioi.OpCreate:
		ioiElem, _ = payload.Child("ioi")
		if err := ioi.CheckPayload(ioiElem); err != nil {
			failure, failed = errorInfo(id, CodeBadRequest, err.Error()), true
			break
		}
		handle, change = uuid.NewString(), ioi.ChangeNew
		s.book[handle] = &bookEntry{handle: handle, ioi: ioiElem}
		s.order = append(s.order, handle)
	case ioi.OpUpdate:
		var ok bool
		handle, ok = ioi.HandleOf(payload)
		entry := s.book[handle]
		if !ok || entry == nil {
			failure, failed = errorInfo(id, CodeUnknownHandle, fmt.Sprintf("unknown handle %q", handle)), true
			break
		}
		ioiElem, _ = payload.Child("ioi")
		if err := ioi.CheckPayload(ioiElem); err != nil {
			failure, failed = errorInfo(id, CodeBadRequest, err.Error()), true
			break
		}
		entry.ioi, change = ioiElem, ioi.ChangeUpdated
	case ioi.OpCancel:
		var ok bool
		handle, ok = ioi.HandleOf(payload)
		entry := s.book[handle]
		if !ok || entry == nil {
			failure, failed = errorInfo(id, CodeUnknownHandle, fmt.Sprintf("unknown handle %q", handle)), true
			break
		}
		delete(s.book, handle)
		s.order = slices.DeleteFunc(s.order, func(h string) bool { return h == handle })
		ioiElem, change = entry.ioi, ioi.ChangeCanceled
	default:
		failure, failed = errorInfo(id, CodeBadRequest, fmt.Sprintf("unknown operation %q", req.Operation)), true
	}
	sessions := make([]*Transport, 0, len(s.sessions))
	for t := range s.sessions {
		sessions = append(sessions, t)
	}
	s.mu.Unlock()

	if failed {
		return failure
	}

	s.logger.Info("IOI book changed", zap.String("operation", req.Operation), zap.String("handle", handle), zap.String("change", change))
	now := s.cfg.Now()
	for _, t := range sessions {
		t.publish(handle, ioiElem, change, now)
	}

	resp := event.NewMessage(event.Handle.String(), id)
	resp.Root().Set("value", handle)
	return resp
}

// snapshot returns the live book in creation order.
func (s *Service) snapshot() []bookEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bookEntry, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, *s.book[h])
	}
	return out
}

func errorInfo(id event.CorrelationID, code int64, text string) event.Message {
	m := event.NewMessage(event.ErrorInfo.String(), id)
	m.Root().Set("code", code).Set("message", text)
	return m
}

func reasonMessage(name string, description string, ids ...event.CorrelationID) event.Message {
	m := event.NewMessage(name, ids...)
	m.Root().Element("reason").Set("description", description).Set("source", "sim")
	return m
}
