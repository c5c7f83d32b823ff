package event

import (
	"sync"

	"github.com/google/uuid"
)

// Identity is the authorization context attached to requests that need it
type Identity struct {
	ID uuid.UUID

	mu         sync.RWMutex
	authorized bool
	seatType   string
}

// NewIdentity returns an unauthorized identity with a fresh id.
func NewIdentity() *Identity {
	return &Identity{ID: uuid.New()}
}

func (i *Identity) Authorized() bool {
	if i == nil {
		return false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.authorized
}

// SeatType is the entitlement seat reported by the auth service, if any.
func (i *Identity) SeatType() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.seatType
}

// SetAuthorized records the outcome of an authorization exchange.
func (i *Identity) SetAuthorized(ok bool, seatType string) {
	i.mu.Lock()
	i.authorized = ok
	i.seatType = seatType
	i.mu.Unlock()
}
