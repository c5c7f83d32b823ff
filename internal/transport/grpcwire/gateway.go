// Package grpcwire carries session traffic over gRPC. A Gateway exposes any
// session.Transport backend on a bidirectional stream of structpb frames and
// Transport is the matching client side.
package grpcwire

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

const (
	serviceName   = "ioi.v1.SessionGateway"
	sessionMethod = "/ioi.v1.SessionGateway/Session"
)

// CodeUnavailable is the ErrorInfo code sent when the backend refuses a request.
const CodeUnavailable = 503

// SessionGatewayServer is the server API of the session gateway service
type SessionGatewayServer interface {
	Session(stream grpc.ServerStream) error
}

// ServiceDesc describes the session gateway service. Frames are
// google.protobuf.Struct messages in both directions.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SessionGatewayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ioi/v1/gateway.proto",
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionGatewayServer).Session(stream)
}

// BackendFactory returns a fresh, unstarted transport for one remote session
type BackendFactory func() (session.Transport, error)

// Gateway serves remote sessions, one backend transport per stream
type Gateway struct {
	factory BackendFactory
	logger  *zap.Logger
	active  atomic.Int64
}

// NewGateway creates a gateway that builds backends with factory
func NewGateway(factory BackendFactory, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{factory: factory, logger: logger}
}

// Register installs the gateway on s
func (g *Gateway) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, g)
}

// Active is the number of sessions currently being served
func (g *Gateway) Active() int64 {
	return g.active.Load()
}

// Session serves one remote session until it terminates or the client goes away
func (g *Gateway) Session(stream grpc.ServerStream) error {
	backend, err := g.factory()
	if err != nil {
		return status.Errorf(codes.Unavailable, "failed to create session backend: %v", err)
	}

	g.active.Add(1)
	defer g.active.Add(-1)

	ss := &serverSession{
		stream:     stream,
		backend:    backend,
		logger:     g.logger,
		identities: make(map[uuid.UUID]*event.Identity),
		terminal:   make(chan struct{}),
	}
	defer ss.finish()
	return ss.serve(stream.Context())
}

type serverSession struct {
	stream  grpc.ServerStream
	backend session.Transport
	logger  *zap.Logger

	identities map[uuid.UUID]*event.Identity

	sendMu       sync.Mutex
	finished     bool
	terminal     chan struct{}
	terminalOnce sync.Once
}

func (ss *serverSession) serve(ctx context.Context) error {
	frames := make(chan *structpb.Struct)
	recvErr := make(chan error, 1)
	go func() {
		for {
			in := new(structpb.Struct)
			if err := ss.stream.RecvMsg(in); err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case in := <-frames:
			ss.handle(ctx, in)
		case <-ss.terminal:
			ss.closeBackend()
			return nil
		case err := <-recvErr:
			ss.closeBackend()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			ss.closeBackend()
			return ctx.Err()
		}
	}
}

func (ss *serverSession) handle(ctx context.Context, in *structpb.Struct) {
	op := frameOp(in)
	switch op {
	case opStart:
		ep := endpointOf(in)
		if err := ss.backend.Start(ctx, ep, ss.forward); err != nil {
			ss.logger.Error("Backend failed to start", zap.String("endpoint", ep.Addr()), zap.Error(err))
			ss.forward(event.NewEvent(event.SessionStatus,
				reasonMessage(event.SessionStartupFailure.String(), err.Error())))
		}

	case opOpen:
		name := getString(in, "service")
		if err := ss.backend.OpenService(name); err != nil {
			msg := reasonMessage(event.ServiceOpenFailure.String(), err.Error())
			msg.Root().Set("serviceName", name)
			ss.forward(event.NewEvent(event.ServiceStatus, msg))
		}

	case opRequest, opAuthorize:
		req, id, err := requestOf(in)
		if err != nil {
			ss.logger.Warn("Dropping malformed request frame", zap.String("op", op), zap.Error(err))
			return
		}
		identity, err := ss.identity(in)
		if err != nil {
			ss.logger.Warn("Dropping request with bad identity", zap.Uint64("correlation_id", uint64(id)), zap.Error(err))
			return
		}
		if op == opAuthorize {
			err = ss.backend.SendAuthorization(req, id, identity)
		} else {
			err = ss.backend.SendRequest(req, id, identity)
		}
		if err != nil {
			ss.forward(event.NewEvent(event.Response, ss.refusal(op, id, err)))
		}

	case opSubscribe:
		subs, err := subscriptionsOf(in)
		if err != nil {
			ss.logger.Warn("Dropping malformed subscribe frame", zap.Error(err))
			return
		}
		identity, err := ss.identity(in)
		if err == nil {
			err = ss.backend.Subscribe(subs, identity)
		}
		if err != nil {
			msgs := make([]event.Message, 0, len(subs))
			for _, sub := range subs {
				msgs = append(msgs, reasonMessage(event.SubscriptionFailure.String(), err.Error(), sub.CorrelationID))
			}
			ss.forward(event.NewEvent(event.SubscriptionStatus, msgs...))
		}

	case opUnsubscribe:
		ids, err := idsOf(getList(in, "ids"))
		if err == nil {
			err = ss.backend.Unsubscribe(ids)
		}
		if err != nil {
			ss.logger.Warn("Unsubscribe failed", zap.Error(err))
		}

	case opClose:
		ss.closeBackend()

	default:
		ss.logger.Warn("Ignoring unknown frame", zap.String("op", op))
	}
}

func (ss *serverSession) refusal(op string, id event.CorrelationID, err error) event.Message {
	if op == opAuthorize {
		return reasonMessage(event.AuthorizationFailure.String(), err.Error(), id)
	}
	m := event.NewMessage(event.ErrorInfo.String(), id)
	m.Root().Set("code", CodeUnavailable).Set("message", err.Error())
	return m
}

// identity returns the per-session stand-in for the client's identity so
// that the backend sees the same pointer for the same id.
func (ss *serverSession) identity(in *structpb.Struct) (*event.Identity, error) {
	id, ok, err := identityID(in)
	if err != nil || !ok {
		return nil, err
	}
	if existing, found := ss.identities[id]; found {
		return existing, nil
	}
	identity := &event.Identity{ID: id}
	ss.identities[id] = identity
	return identity, nil
}

// forward is the backend sink. It relays ev to the remote client.
func (ss *serverSession) forward(ev event.Event) {
	ss.sendMu.Lock()
	defer ss.sendMu.Unlock()
	if ss.finished {
		return
	}
	if err := ss.stream.SendMsg(EncodeEvent(ev)); err != nil {
		ss.logger.Warn("Failed to forward event", zap.String("event_type", ev.Type.String()), zap.Error(err))
	}
	for _, m := range ev.Messages {
		if m.Type == event.SessionTerminated || m.Type == event.SessionStartupFailure {
			ss.terminalOnce.Do(func() { close(ss.terminal) })
		}
	}
}

func (ss *serverSession) closeBackend() {
	if err := ss.backend.Close(); err != nil {
		ss.logger.Warn("Failed to close backend", zap.Error(err))
	}
}

func (ss *serverSession) finish() {
	ss.sendMu.Lock()
	ss.finished = true
	ss.sendMu.Unlock()
}

// StreamServerLogger logs every session stream served
func StreamServerLogger(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logger.Info("gRPC stream finished",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", status.Code(err).String()),
		)
		return err
	}
}
