package session

import (
	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// DefaultAuthService is used when Options.AuthService is empty.
const DefaultAuthService = "//blp/apiauth"

// ServiceConfig names a service opened as soon as the session starts
type ServiceConfig struct {
	Name string
	// RequiresAuth rejects requests until an authorized identity is available.
	RequiresAuth bool
}

// Handlers are application callbacks invoked from the dispatch goroutine.
// A panicking handler is recovered and logged; dispatch continues.
type Handlers struct {
	// Session receives every session status message, including connection up/down.
	Session func(event.Message)
	// Admin receives slow-consumer and other admin messages.
	Admin func(event.Message)
	// Other receives events of unknown type.
	Other func(event.Event)
	// Unexpected receives messages that matched no outstanding request or subscription.
	Unexpected func(*UnexpectedMessageError)
}

// Recorder observes dispatch activity. observability.Metrics implements it.
type Recorder interface {
	EventDispatched(t event.EventType)
	UnexpectedMessage(t event.EventType)
	HandlerPanic(handler string)
	SessionState(s State)
	Outstanding(requests, subscriptions int)
}

type nopRecorder struct{}

func (nopRecorder) EventDispatched(event.EventType)   {}
func (nopRecorder) UnexpectedMessage(event.EventType) {}
func (nopRecorder) HandlerPanic(string)               {}
func (nopRecorder) SessionState(State)                {}
func (nopRecorder) Outstanding(int, int)              {}

// Options configures a Client
type Options struct {
	Endpoint    event.Endpoint
	Services    []ServiceConfig
	AuthService string
	Handlers    Handlers
	Recorder    Recorder
	Logger      *zap.Logger
}

// State is the session lifecycle state
type State int

const (
	NotStarted State = iota
	Starting
	Started
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Starting:
		return "STARTING"
	case Started:
		return "STARTED"
	case Terminated:
		return "TERMINATED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Alive reports whether the session can still make progress.
func (s State) Alive() bool {
	return s == Starting || s == Started
}

// ServiceState is the per-service activation status
type ServiceState int

const (
	ServiceUnknown ServiceState = iota
	ServiceOpening
	ServiceOpened
	ServiceOpenFailed
	ServiceClosed
)

func (s ServiceState) String() string {
	switch s {
	case ServiceOpening:
		return "OPENING"
	case ServiceOpened:
		return "OPENED"
	case ServiceOpenFailed:
		return "OPEN_FAILURE"
	case ServiceClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
