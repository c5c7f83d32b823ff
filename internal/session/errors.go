package session

import (
	"errors"
	"fmt"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrConnection        = errors.New("connection error")
	ErrServiceOpen       = errors.New("service open error")
	ErrAuthorization     = errors.New("authorization error")
	ErrPrecondition      = errors.New("precondition error")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrSessionLost       = errors.New("session lost")
	ErrRequest           = errors.New("request error")
	ErrSubscription      = errors.New("subscription error")
	ErrTimeout           = errors.New("request timeout")
)

// ConnectionError means the session could not be started
type ConnectionError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to start session to %s: %s", e.Endpoint, e.Reason)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
func (e *ConnectionError) Unwrap() error        { return e.Err }

// ServiceOpenError means a named service failed to open
type ServiceOpenError struct {
	Service string
	Reason  string
}

func (e *ServiceOpenError) Error() string {
	return fmt.Sprintf("failed to open service %s: %s", e.Service, e.Reason)
}

func (e *ServiceOpenError) Is(target error) bool { return target == ErrServiceOpen }

// AuthorizationError means the identity was rejected
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + e.Reason
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }
func (e *AuthorizationError) Unwrap() error        { return e.Err }

// PreconditionError is a caller bug reported synchronously
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// UnexpectedMessageError describes a message whose correlation id matches
// nothing outstanding. It is reported, never fatal.
type UnexpectedMessageError struct {
	EventType     event.EventType
	Message       string
	CorrelationID event.CorrelationID
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected %s message %s for correlation id %d", e.EventType, e.Message, e.CorrelationID)
}

func (e *UnexpectedMessageError) Is(target error) bool { return target == ErrUnexpectedMessage }

// SessionLostError fails everything outstanding when the session ends
type SessionLostError struct {
	Reason string
}

func (e *SessionLostError) Error() string {
	return "session lost: " + e.Reason
}

func (e *SessionLostError) Is(target error) bool { return target == ErrSessionLost }

// RequestError carries an ErrorInfo reply from the service
type RequestError struct {
	Service   string
	Operation string
	Code      int64
	Message   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s rejected (code %d): %s", e.Service, e.Operation, e.Code, e.Message)
}

func (e *RequestError) Is(target error) bool { return target == ErrRequest }

// SubscriptionError ends a subscription that failed or was terminated by the service
type SubscriptionError struct {
	Topic  string
	Reason string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s ended: %s", e.Topic, e.Reason)
}

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscription }

// TimeoutError resolves a request abandoned before its response arrived.
// Err is context.DeadlineExceeded for WithTimeout expiry, otherwise the
// error of the context passed to Wait.
type TimeoutError struct {
	Service       string
	Operation     string
	CorrelationID event.CorrelationID
	Err           error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s (correlation id %d) abandoned: %v", e.Service, e.Operation, e.CorrelationID, e.Err)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Err }
