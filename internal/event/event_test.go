package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_RoundTripNames(t *testing.T) {
	for _, et := range []EventType{Other, SessionStatus, ServiceStatus, AuthorizationStatus, Response, SubscriptionStatus, SubscriptionData, Admin} {
		assert.Equal(t, et, ParseEventType(et.String()))
	}
	assert.Equal(t, Other, ParseEventType("PARTIAL_RESPONSE"))
	assert.Equal(t, "OTHER", EventType(42).String())
}

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		name string
		want MessageType
	}{
		{"SessionStarted", SessionStarted},
		{"ServiceOpenFailure", ServiceOpenFailure},
		{"handle", Handle},
		{"Ioidata", IOIData},
		{"ErrorInfo", ErrorInfo},
		{"SomethingNew", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMessageType(tt.name))
		})
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage("handle", 7)
	m.Root().Set("value", "abc")

	assert.Equal(t, Handle, m.Type)
	id, ok := m.CorrelationID()
	require.True(t, ok)
	assert.Equal(t, CorrelationID(7), id)

	v, err := m.Root().GetString("value")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, ok = NewMessage("SessionStarted").CorrelationID()
	assert.False(t, ok)
	assert.NotNil(t, Message{Name: "bare"}.Root())
}

func TestIdentity(t *testing.T) {
	id := NewIdentity()
	assert.False(t, id.Authorized())

	id.SetAuthorized(true, "BPS")
	assert.True(t, id.Authorized())
	assert.Equal(t, "BPS", id.SeatType())

	var missing *Identity
	assert.False(t, missing.Authorized())
}

func TestEndpointAddr(t *testing.T) {
	assert.Equal(t, "localhost:8194", Endpoint{Host: "localhost", Port: 8194}.Addr())
}
