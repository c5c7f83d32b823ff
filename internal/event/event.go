// Package event defines the closed set of events and messages exchanged with
// an IOI session transport.
package event

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ismaiel54/ioi-session-client/internal/element"
)

// EventType classifies an inbound event
type EventType int

const (
	Other EventType = iota
	SessionStatus
	ServiceStatus
	AuthorizationStatus
	Response
	SubscriptionStatus
	SubscriptionData
	Admin
)

var eventTypeNames = [...]string{
	Other:               "OTHER",
	SessionStatus:       "SESSION_STATUS",
	ServiceStatus:       "SERVICE_STATUS",
	AuthorizationStatus: "AUTHORIZATION_STATUS",
	Response:            "RESPONSE",
	SubscriptionStatus:  "SUBSCRIPTION_STATUS",
	SubscriptionData:    "SUBSCRIPTION_DATA",
	Admin:               "ADMIN",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return eventTypeNames[Other]
	}
	return eventTypeNames[t]
}

// ParseEventType maps a wire name back to an EventType. Unknown names map to Other.
func ParseEventType(s string) EventType {
	for i, name := range eventTypeNames {
		if name == s {
			return EventType(i)
		}
	}
	return Other
}

// CorrelationID links a request or subscription to the messages that answer it
type CorrelationID uint64

func (c CorrelationID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Message is one typed payload inside an event
type Message struct {
	Type           MessageType
	Name           string
	CorrelationIDs []CorrelationID
	Elements       *element.Element
}

// NewMessage builds a message whose type is derived from name.
func NewMessage(name string, ids ...CorrelationID) Message {
	return Message{
		Type:           ParseMessageType(name),
		Name:           name,
		CorrelationIDs: ids,
		Elements:       element.New(name),
	}
}

// CorrelationID returns the first correlation id, if any.
func (m Message) CorrelationID() (CorrelationID, bool) {
	if len(m.CorrelationIDs) == 0 {
		return 0, false
	}
	return m.CorrelationIDs[0], true
}

// Root returns the message payload, never nil.
func (m Message) Root() *element.Element {
	if m.Elements == nil {
		return element.New(m.Name)
	}
	return m.Elements
}

// Event is an ordered batch of messages of a single type
type Event struct {
	Type     EventType
	Messages []Message
}

func NewEvent(t EventType, msgs ...Message) Event {
	return Event{Type: t, Messages: msgs}
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%d messages)", e.Type, len(e.Messages))
}

// Request is an outbound operation against a named service
type Request struct {
	Service   string
	Operation string
	Payload   *element.Element
}

// SubscriptionRequest registers a topic under its own correlation id
type SubscriptionRequest struct {
	Topic         string
	CorrelationID CorrelationID
	Fields        []string
	Options       []string
}

// Endpoint is the host and port a session connects to
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
