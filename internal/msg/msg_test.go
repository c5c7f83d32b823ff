package msg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/ioi"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_CLIENT_ID", "ioi-bridge")
	cfg := LoadConfig()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "ioi-bridge", cfg.ClientID)
}

func TestIOICommandMsg_Command(t *testing.T) {
	cmd, ok := IOICommandMsg{CommandID: "c-1", Operation: "cancel", Handle: "h-1"}.Command()
	require.True(t, ok)
	assert.Equal(t, ioi.OpCancel, cmd.Operation)
	assert.Equal(t, "h-1", cmd.Handle)

	_, ok = IOICommandMsg{Operation: "amend"}.Command()
	assert.False(t, ok)
}

func TestNewDataMsg(t *testing.T) {
	price := decimal.RequireFromString("12.5")
	payload, err := ioi.NewCreateRequest(ioi.IOI{
		GoodUntil:  time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
		Instrument: ioi.Instrument{Stock: &ioi.Stock{Ticker: "BARC LN Equity"}},
		Bid:        &ioi.Quote{Price: ioi.Price{Fixed: &price}, Quantity: 300, Qualifiers: []string{"AON"}},
	})
	require.NoError(t, err)
	body, ok := payload.Child("ioi")
	require.True(t, ok)

	sent := time.Date(2026, 1, 2, 14, 0, 0, 0, time.UTC)
	u, err := ioi.DecodeUpdate(ioi.NewUpdateMessage("h-9", body, ioi.ChangeNew, sent, 1))
	require.NoError(t, err)

	m := NewDataMsg(u)
	assert.Equal(t, "h-9", m.Handle)
	assert.Equal(t, ioi.ChangeNew, m.Change)
	assert.Equal(t, "BARC LN Equity", m.Ticker)
	assert.Equal(t, sent.UnixMilli(), m.SentUnixMillis)
	require.NotNil(t, m.Bid)
	assert.Equal(t, 12.5, m.Bid.Price)
	assert.Equal(t, int64(300), m.Bid.Quantity)
	assert.Equal(t, []string{"AON"}, m.Bid.Qualifiers)
	assert.Nil(t, m.Offer)
}

func TestConsumer_HandleWithRetry(t *testing.T) {
	c := &Consumer{logger: zap.NewNop(), maxRetries: 3, backoff: time.Millisecond}

	calls := 0
	err := c.handleWithRetry(context.Background(), Record{Topic: TopicIOICommands}, func(context.Context, Record) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	boom := errors.New("boom")
	calls = 0
	err = c.handleWithRetry(context.Background(), Record{}, func(context.Context, Record) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}
