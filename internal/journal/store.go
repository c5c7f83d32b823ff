// Package journal records IOI commands by command id so that redelivered
// commands are not resubmitted, and writes each terminal outcome to a
// transactional outbox for publication.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/msg"
)

// StatusPending marks a command submitted but not yet answered.
const StatusPending = "PENDING"

// ErrUnknownCommand is returned for command ids that were never journaled.
var ErrUnknownCommand = errors.New("unknown command")

// Store provides command deduplication and the outcome outbox
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// BeginResult represents the result of journaling a command
type BeginResult struct {
	Duplicate bool
	Status    string
	Handle    string
	// Sent is set once a correlation id was recorded for the command.
	Sent      bool
}

// Command is one journaled command
type Command struct {
	CommandID           string
	Operation           string
	Handle              string
	CorrelationID       sql.NullInt64
	Status              string
	Reason              string
	FirstSeenUnixMillis int64
}

// OutboxEvent represents an event waiting to be published
type OutboxEvent struct {
	ID                  int64
	CommandID           string
	EventID             string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// Open creates or opens the journal at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers from the dispatch goroutine and the publisher.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS commands (
			command_id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			handle TEXT NOT NULL DEFAULT '',
			correlation_id INTEGER NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			first_seen_unix_millis INTEGER NOT NULL,
			completed_unix_millis INTEGER NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
			ON outbox_events(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Begin journals cmd as pending. A command id seen before is reported as
// a duplicate with its recorded status and is not journaled again.
func (s *Store) Begin(ctx context.Context, cmd msg.IOICommandMsg) (BeginResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status, handle string
	var correlation sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT status, handle, correlation_id FROM commands WHERE command_id = ?",
		cmd.CommandID,
	).Scan(&status, &handle, &correlation)
	if err == nil {
		return BeginResult{Duplicate: true, Status: status, Handle: handle, Sent: correlation.Valid}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return BeginResult{}, fmt.Errorf("failed to check existing command: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commands (command_id, operation, handle, status, first_seen_unix_millis)
		 VALUES (?, ?, ?, ?, ?)`,
		cmd.CommandID, cmd.Operation, cmd.Handle, StatusPending, s.now().UnixMilli(),
	)
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to insert command: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return BeginResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return BeginResult{Status: StatusPending, Handle: cmd.Handle}, nil
}

// SetCorrelation records the correlation id the command was sent under
func (s *Store) SetCorrelation(ctx context.Context, commandID string, id event.CorrelationID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE commands SET correlation_id = ? WHERE command_id = ?",
		int64(id), commandID,
	)
	if err != nil {
		return fmt.Errorf("failed to set correlation id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, commandID)
	}
	return nil
}

// Complete records the terminal outcome of a pending command and queues
// it on the outbox in one transaction. Completing a command that is no
// longer pending is a no-op and returns nil.
func (s *Store) Complete(ctx context.Context, commandID, status, handle, reason string) (*OutboxEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	res, err := tx.ExecContext(ctx,
		`UPDATE commands SET status = ?, handle = CASE WHEN ? = '' THEN handle ELSE ? END,
		 reason = ?, completed_unix_millis = ?
		 WHERE command_id = ? AND status = ?`,
		status, handle, handle, reason, now, commandID, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update command: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	eventID := "evt-" + commandID
	outcome := msg.IOIOutcomeMsg{
		EventID:      eventID,
		CommandID:    commandID,
		Status:       status,
		Handle:       handle,
		Reason:       reason,
		TsUnixMillis: now,
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (command_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		commandID, eventID, msg.TopicIOIOutcomes, commandID, string(payload), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &OutboxEvent{
		CommandID:         commandID,
		EventID:           eventID,
		Topic:             msg.TopicIOIOutcomes,
		Key:               commandID,
		PayloadJSON:       string(payload),
		CreatedUnixMillis: now,
	}, nil
}

// FailPending completes every command still pending from an earlier run
// as FAILED. Their responses belonged to a session that no longer exists.
func (s *Store) FailPending(ctx context.Context, reason string) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT command_id FROM commands WHERE status = ?", StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to query pending commands: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan command: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to query pending commands: %w", err)
	}

	failed := 0
	for _, id := range ids {
		ev, err := s.Complete(ctx, id, msg.StatusFailed, "", reason)
		if err != nil {
			return failed, err
		}
		if ev != nil {
			failed++
		}
	}
	return failed, nil
}

// Get returns the journaled command
func (s *Store) Get(ctx context.Context, commandID string) (Command, error) {
	var c Command
	err := s.db.QueryRowContext(ctx,
		`SELECT command_id, operation, handle, correlation_id, status, reason, first_seen_unix_millis
		 FROM commands WHERE command_id = ?`,
		commandID,
	).Scan(&c.CommandID, &c.Operation, &c.Handle, &c.CorrelationID, &c.Status, &c.Reason, &c.FirstSeenUnixMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, commandID)
	}
	if err != nil {
		return Command{}, fmt.Errorf("failed to load command: %w", err)
	}
	return c, nil
}

// ListUnpublished returns unpublished outbox events
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM outbox_events
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(
			&e.ID, &e.CommandID, &e.EventID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
