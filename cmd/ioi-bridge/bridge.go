package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/ioi"
	"github.com/ismaiel54/ioi-session-client/internal/journal"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

const statusDuplicate = "DUPLICATE"

// bridge submits commands from ioi.commands and journals their outcomes.
// Each submitted command is awaited on its own goroutine so the consumer
// never blocks on a response.
type bridge struct {
	store     *journal.Store
	requester *ioi.Requester
	timeout   time.Duration
	commands  *prometheus.CounterVec
	logger    *zap.Logger
	inflight  sync.WaitGroup

	mu       sync.Mutex
	awaiting map[string]struct{}
}

func newBridge(store *journal.Store, requester *ioi.Requester, timeout time.Duration, commands *prometheus.CounterVec, logger *zap.Logger) *bridge {
	return &bridge{
		store:     store,
		requester: requester,
		timeout:   timeout,
		commands:  commands,
		logger:    logger,
		awaiting:  make(map[string]struct{}),
	}
}

// handle is the consumer handler. It returns once the command is journaled
// and sent, so the offset commits before the response arrives.
func (b *bridge) handle(ctx context.Context, rec msg.Record) error {
	var cmdMsg msg.IOICommandMsg
	if err := json.Unmarshal(rec.Value, &cmdMsg); err != nil {
		return fmt.Errorf("failed to unmarshal ioi command: %w", err)
	}
	if cmdMsg.CommandID == "" {
		return fmt.Errorf("command_id cannot be empty")
	}

	res, err := b.store.Begin(ctx, cmdMsg)
	if err != nil {
		return fmt.Errorf("failed to journal command: %w", err)
	}
	if res.Duplicate {
		if !b.unsent(cmdMsg.CommandID, res) {
			b.logger.Info("duplicate ioi command, skipping",
				zap.String("command_id", cmdMsg.CommandID),
				zap.String("status", res.Status),
			)
			b.commands.WithLabelValues(statusDuplicate).Inc()
			return nil
		}
		// An earlier attempt failed before the command reached the service.
		b.logger.Warn("resuming unsent ioi command", zap.String("command_id", cmdMsg.CommandID))
	}

	cmd, ok := cmdMsg.Command()
	if !ok {
		return b.complete(ctx, cmdMsg.CommandID, msg.StatusRejected, "", fmt.Sprintf("unknown operation %q", cmdMsg.Operation))
	}

	call, err := b.requester.Submit(cmd, nil)
	if err != nil {
		status, reason := outcomeOf(err)
		return b.complete(ctx, cmdMsg.CommandID, status, "", reason)
	}
	b.mu.Lock()
	b.awaiting[cmdMsg.CommandID] = struct{}{}
	b.mu.Unlock()

	if err := b.store.SetCorrelation(ctx, cmdMsg.CommandID, call.ID); err != nil {
		b.logger.Warn("failed to record correlation id",
			zap.String("command_id", cmdMsg.CommandID),
			zap.Error(err),
		)
	}

	b.inflight.Add(1)
	go b.await(cmdMsg, call)
	return nil
}

// unsent reports whether a journaled command is still pending without
// ever having been sent, so a redelivery must submit it again.
func (b *bridge) unsent(commandID string, res journal.BeginResult) bool {
	if res.Status != journal.StatusPending || res.Sent {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.awaiting[commandID]
	return !ok
}

func (b *bridge) await(cmdMsg msg.IOICommandMsg, call *session.Call) {
	defer b.inflight.Done()
	defer func() {
		b.mu.Lock()
		delete(b.awaiting, cmdMsg.CommandID)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	handle := cmdMsg.Handle
	reply, err := call.Wait(ctx)
	if err == nil {
		handle, err = ioi.HandleFrom(reply)
	}
	status, reason := outcomeOf(err)

	if err := b.complete(context.Background(), cmdMsg.CommandID, status, handle, reason); err != nil {
		b.logger.Error("failed to complete command",
			zap.String("command_id", cmdMsg.CommandID),
			zap.Error(err),
		)
	}
}

func (b *bridge) complete(ctx context.Context, commandID, status, handle, reason string) error {
	ev, err := b.store.Complete(ctx, commandID, status, handle, reason)
	if err != nil {
		return fmt.Errorf("failed to complete command: %w", err)
	}
	if ev == nil {
		return nil
	}
	b.commands.WithLabelValues(status).Inc()
	b.logger.Info("ioi command completed",
		zap.String("command_id", commandID),
		zap.String("status", status),
		zap.String("handle", handle),
		zap.String("reason", reason),
	)
	return nil
}

// wait blocks until every submitted command has an outcome
func (b *bridge) wait() {
	b.inflight.Wait()
}

// outcomeOf maps a request result onto an outcome status. The service
// refusing a command is a rejection; anything else that stops the command
// from completing is a failure.
func outcomeOf(err error) (status, reason string) {
	var reqErr *session.RequestError
	switch {
	case err == nil:
		return msg.StatusAccepted, "accepted"
	case errors.As(err, &reqErr), errors.Is(err, ioi.ErrInvalid):
		return msg.StatusRejected, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrTimeout):
		return msg.StatusFailed, "timed out waiting for response"
	default:
		return msg.StatusFailed, err.Error()
	}
}
