//go:build integration
// +build integration

package msg

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func TestIntegration_ProduceConsumeOutcome(t *testing.T) {
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run.")
	}

	cfg := LoadConfig()
	logger := zap.NewNop()

	producer, err := NewProducer(cfg, logger)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome := IOIOutcomeMsg{
		EventID:      "evt-" + uuid.NewString(),
		CommandID:    uuid.NewString(),
		Status:       StatusAccepted,
		Handle:       uuid.NewString(),
		Reason:       "accepted",
		TsUnixMillis: time.Now().UnixMilli(),
	}
	require.NoError(t, producer.ProduceJSON(ctx, TopicIOIOutcomes, outcome.CommandID, outcome))

	consumer, err := NewConsumer(cfg, "it-"+uuid.NewString(), []string{TopicIOIOutcomes}, logger,
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	require.NoError(t, err)
	defer consumer.Close()

	found := make(chan IOIOutcomeMsg, 1)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.Run(runCtx, func(_ context.Context, rec Record) error {
			var got IOIOutcomeMsg
			if err := json.Unmarshal(rec.Value, &got); err == nil && got.EventID == outcome.EventID {
				found <- got
				stop()
			}
			return nil
		})
	}()

	select {
	case got := <-found:
		assert.Equal(t, outcome, got)
	case <-ctx.Done():
		t.Fatal("outcome was not consumed")
	}
}
