package journal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismaiel54/ioi-session-client/internal/msg"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBegin_DuplicateCommandID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	cmd := msg.IOICommandMsg{CommandID: "cmd-1", Operation: "create", TsUnixMillis: 1000}
	first, err := store.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, first.Duplicate, "first call should not be duplicate")
	assert.Equal(t, StatusPending, first.Status)

	second, err := store.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "redelivered command should be duplicate")
	assert.Equal(t, StatusPending, second.Status)
	assert.False(t, second.Sent)

	require.NoError(t, store.SetCorrelation(ctx, "cmd-1", 7))
	sent, err := store.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, sent.Sent)

	_, err = store.Complete(ctx, "cmd-1", msg.StatusAccepted, "h-1", "accepted")
	require.NoError(t, err)

	third, err := store.Begin(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.Equal(t, msg.StatusAccepted, third.Status)
	assert.Equal(t, "h-1", third.Handle)
}

func TestComplete_WritesOneOutboxEvent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, msg.IOICommandMsg{CommandID: "cmd-2", Operation: "cancel", Handle: "h-2"})
	require.NoError(t, err)
	require.NoError(t, store.SetCorrelation(ctx, "cmd-2", 42))

	ev, err := store.Complete(ctx, "cmd-2", msg.StatusRejected, "", "unknown handle")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "evt-cmd-2", ev.EventID)
	assert.Equal(t, msg.TopicIOIOutcomes, ev.Topic)

	again, err := store.Complete(ctx, "cmd-2", msg.StatusAccepted, "h-2", "late")
	require.NoError(t, err)
	assert.Nil(t, again, "a completed command keeps its first outcome")

	cmd, err := store.Get(ctx, "cmd-2")
	require.NoError(t, err)
	assert.Equal(t, msg.StatusRejected, cmd.Status)
	assert.Equal(t, "h-2", cmd.Handle, "an empty handle keeps the journaled one")
	assert.Equal(t, int64(42), cmd.CorrelationID.Int64)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, unpublished, 1)

	var outcome msg.IOIOutcomeMsg
	require.NoError(t, json.Unmarshal([]byte(unpublished[0].PayloadJSON), &outcome))
	assert.Equal(t, "cmd-2", outcome.CommandID)
	assert.Equal(t, msg.StatusRejected, outcome.Status)
	assert.Equal(t, "unknown handle", outcome.Reason)
}

func TestFailPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Begin(ctx, msg.IOICommandMsg{CommandID: id, Operation: "create"})
		require.NoError(t, err)
	}
	_, err := store.Complete(ctx, "b", msg.StatusAccepted, "h-b", "accepted")
	require.NoError(t, err)

	n, err := store.FailPending(ctx, "bridge restarted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cmd, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, msg.StatusFailed, cmd.Status)
	assert.Equal(t, "bridge restarted", cmd.Reason)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, unpublished, 3)
}

func TestUnknownCommand(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SetCorrelation(ctx, "missing", 1), ErrUnknownCommand)
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

type fakeProducer struct {
	mu      sync.Mutex
	fail    map[string]bool
	records []string
}

func (f *fakeProducer) Produce(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[key] {
		return errors.New("broker unavailable")
	}
	f.records = append(f.records, topic+"/"+key)
	return nil
}

func TestPublisher_PublishBatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"p-1", "p-2"} {
		_, err := store.Begin(ctx, msg.IOICommandMsg{CommandID: id, Operation: "create"})
		require.NoError(t, err)
		_, err = store.Complete(ctx, id, msg.StatusAccepted, "h-"+id, "accepted")
		require.NoError(t, err)
	}

	producer := &fakeProducer{fail: map[string]bool{"p-2": true}}
	pub := NewPublisher(store, producer, nil)

	n, err := pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ioi.outcomes/p-1"}, producer.records)

	unpublished, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, unpublished, 1, "failed events stay in the outbox")
	assert.Equal(t, "p-2", unpublished[0].CommandID)

	producer.fail = nil
	n, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unpublished, err = store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, unpublished)
}
