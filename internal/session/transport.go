package session

import (
	"context"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Sink receives every inbound event, one at a time.
type Sink func(event.Event)

// Transport is the connection to the IOI service. Every method returns once
// the operation is submitted; outcomes arrive later as events on the sink.
//
// Implementations must deliver events from their own goroutine and never call
// the sink from inside one of these methods.
type Transport interface {
	// Start connects to endpoint. An error means the connect could not even be
	// submitted; the client turns it into a SessionStartupFailure event.
	Start(ctx context.Context, endpoint event.Endpoint, sink Sink) error
	OpenService(name string) error
	SendRequest(req event.Request, id event.CorrelationID, identity *event.Identity) error
	SendAuthorization(req event.Request, id event.CorrelationID, identity *event.Identity) error
	Subscribe(subs []event.SubscriptionRequest, identity *event.Identity) error
	Unsubscribe(ids []event.CorrelationID) error
	Close() error
}
