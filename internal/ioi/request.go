// Package ioi builds IOI create/update/cancel requests and decodes IOI
// subscription updates.
package ioi

import (
	"fmt"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Default service names of the IOI API.
const (
	DefaultRequestService      = "//blp/ioiapi-beta-request"
	DefaultSubscriptionService = "//blp-test/ioisub-beta"
)

// Request operations
const (
	OpCreate = "createIoi"
	OpUpdate = "updateIoi"
	OpCancel = "cancelIoi"
)

// Topic returns the IOI subscription topic of a subscription service.
func Topic(service string) string {
	return service + "/ioi"
}

// NewCreateRequest validates ioi and builds a createIoi payload.
func NewCreateRequest(ioi IOI) (*element.Element, error) {
	if err := ioi.Validate(); err != nil {
		return nil, err
	}
	req := element.New(OpCreate)
	ioi.fill(req.Element("ioi"))
	return req, nil
}

// NewUpdateRequest replaces the IOI identified by handle.
func NewUpdateRequest(handle string, ioi IOI) (*element.Element, error) {
	if handle == "" {
		return nil, invalid("handle is required")
	}
	if err := ioi.Validate(); err != nil {
		return nil, err
	}
	req := element.New(OpUpdate)
	req.Element("handle").Set("value", handle)
	ioi.fill(req.Element("ioi"))
	return req, nil
}

func NewCancelRequest(handle string) (*element.Element, error) {
	if handle == "" {
		return nil, invalid("handle is required")
	}
	req := element.New(OpCancel)
	req.Element("handle").Set("value", handle)
	return req, nil
}

// Command is a typed IOI operation, as carried on the command topic
type Command struct {
	Operation string `json:"operation"`
	Handle    string `json:"handle,omitempty"`
	IOI       *IOI   `json:"ioi,omitempty"`
}

// Build turns the command into its request payload.
func (c Command) Build() (*element.Element, error) {
	switch c.Operation {
	case OpCreate:
		if c.IOI == nil {
			return nil, invalid("createIoi needs an ioi")
		}
		return NewCreateRequest(*c.IOI)
	case OpUpdate:
		if c.IOI == nil {
			return nil, invalid("updateIoi needs an ioi")
		}
		return NewUpdateRequest(c.Handle, *c.IOI)
	case OpCancel:
		return NewCancelRequest(c.Handle)
	default:
		return nil, invalid("unknown operation %q", c.Operation)
	}
}

// HandleFrom extracts the server-assigned handle from a response message.
func HandleFrom(msg event.Message) (string, error) {
	if msg.Type != event.Handle {
		return "", fmt.Errorf("expected handle message, got %s", msg.Name)
	}
	v, err := msg.Root().GetString("value")
	if err != nil {
		return "", fmt.Errorf("failed to read handle: %w", err)
	}
	return v, nil
}

// HandleOf returns the handle a request payload refers to, if any.
func HandleOf(req *element.Element) (string, bool) {
	e, ok := req.Path("handle", "value")
	if !ok {
		return "", false
	}
	v, err := e.AsString()
	return v, err == nil && v != ""
}

// CheckPayload verifies that an ioi element carries the fields every
// create or update must have.
func CheckPayload(ioi *element.Element) error {
	if ioi == nil {
		return invalid("ioi is required")
	}
	if _, err := ioi.GetTime("goodUntil"); err != nil {
		return invalid("goodUntil: %v", err)
	}
	inst, ok := ioi.Child("instrument")
	if !ok || inst.Choice() == nil {
		return invalid("instrument is required")
	}
	if !ioi.Has("bid") && !ioi.Has("offer") {
		return invalid("at least one of bid or offer is required")
	}
	return nil
}
