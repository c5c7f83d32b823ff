package grpcwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

var (
	ErrNotConnected = errors.New("gateway stream not established")
	ErrClosed       = errors.New("transport closed")
)

// closeGrace bounds how long a closed transport waits for the gateway to
// finish the stream before tearing the connection down.
const closeGrace = 5 * time.Second

// Transport is a session.Transport that talks to a Gateway over one
// bidirectional gRPC stream.
type Transport struct {
	target   string
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	mu      sync.Mutex
	sendMu  sync.Mutex
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	started bool
	closed  bool
	done    chan struct{}
}

var _ session.Transport = (*Transport)(nil)

// NewTransport returns a transport for the gateway at target. An empty
// target dials the session endpoint passed to Start.
func NewTransport(target string, logger *zap.Logger, opts ...grpc.DialOption) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		target:   target,
		dialOpts: opts,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (t *Transport) Start(ctx context.Context, endpoint event.Endpoint, sink session.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("transport already started")
	}
	t.started = true

	target := t.target
	if target == "" {
		target = endpoint.Addr()
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(streamClientLogger(t.logger)),
	}, t.dialOpts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		close(t.done)
		return fmt.Errorf("failed to create gateway client for %s: %w", target, err)
	}
	t.conn = conn

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(streamCtx, endpoint, sink)
	return nil
}

func (t *Transport) OpenService(name string) error {
	return t.send(newFrame(opOpen, fields{"service": structpb.NewStringValue(name)}))
}

func (t *Transport) SendRequest(req event.Request, id event.CorrelationID, identity *event.Identity) error {
	return t.send(requestFrame(opRequest, req, id, identity))
}

func (t *Transport) SendAuthorization(req event.Request, id event.CorrelationID, identity *event.Identity) error {
	return t.send(requestFrame(opAuthorize, req, id, identity))
}

func (t *Transport) Subscribe(subs []event.SubscriptionRequest, identity *event.Identity) error {
	return t.send(subscribeFrame(subs, identity))
}

func (t *Transport) Unsubscribe(ids []event.CorrelationID) error {
	return t.send(newFrame(opUnsubscribe, fields{"ids": idList(ids)}))
}

// Close asks the gateway to end the session. The gateway answers with the
// final session status events before finishing the stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started, stream := t.started, t.stream
	t.mu.Unlock()

	if !started {
		return nil
	}
	if stream != nil {
		t.closeSend(stream)
	}
	go func() {
		select {
		case <-t.done:
		case <-time.After(closeGrace):
			t.logger.Warn("Gateway did not finish the session stream, cancelling")
			t.cancel()
		}
	}()
	return nil
}

// Done is closed once the stream has ended and the connection is released.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) send(frame *structpb.Struct) error {
	t.mu.Lock()
	stream, closed := t.stream, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if stream == nil {
		return ErrNotConnected
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := stream.SendMsg(frame); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", frameOp(frame), err)
	}
	return nil
}

func (t *Transport) closeSend(stream grpc.ClientStream) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := stream.SendMsg(newFrame(opClose, nil)); err != nil {
		t.logger.Debug("failed to send close frame", zap.Error(err))
	}
	if err := stream.CloseSend(); err != nil {
		t.logger.Debug("failed to close send side", zap.Error(err))
	}
}

func (t *Transport) run(ctx context.Context, endpoint event.Endpoint, sink session.Sink) {
	defer close(t.done)
	defer func() {
		t.cancel()
		if err := t.conn.Close(); err != nil {
			t.logger.Debug("failed to close gateway connection", zap.Error(err))
		}
	}()

	stream, err := t.conn.NewStream(ctx, &ServiceDesc.Streams[0], sessionMethod)
	if err == nil {
		err = stream.SendMsg(startFrame(endpoint))
	}
	if err != nil {
		t.logger.Error("Failed to open gateway stream", zap.Error(err))
		sink(event.NewEvent(event.SessionStatus,
			reasonMessage(event.SessionStartupFailure.String(), "failed to reach gateway: "+status.Convert(err).Message())))
		return
	}

	t.mu.Lock()
	t.stream = stream
	closing := t.closed
	t.mu.Unlock()
	if closing {
		t.closeSend(stream)
	}

	var started, terminal bool
	for {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			if !terminal {
				reason := "gateway closed the session stream"
				if !errors.Is(err, io.EOF) {
					reason = status.Convert(err).Message()
				}
				name := event.SessionTerminated
				if !started {
					name = event.SessionStartupFailure
				}
				sink(event.NewEvent(event.SessionStatus, reasonMessage(name.String(), reason)))
			}
			return
		}

		ev, err := DecodeEvent(in)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		for _, m := range ev.Messages {
			switch m.Type {
			case event.SessionStarted:
				started = true
			case event.SessionTerminated, event.SessionStartupFailure:
				terminal = true
			}
		}
		sink(ev)
	}
}

func streamClientLogger(logger *zap.Logger) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		start := time.Now()
		cs, err := streamer(ctx, desc, cc, method, opts...)
		logger.Info("gRPC stream opened",
			zap.String("method", method),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", status.Code(err).String()),
		)
		return cs, err
	}
}
