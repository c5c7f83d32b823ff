package event

// MessageType is the closed set of message kinds the client understands.
// Anything else is Unknown.
type MessageType int

const (
	Unknown MessageType = iota
	SessionStarted
	SessionStartupFailure
	SessionTerminated
	SessionConnectionUp
	SessionConnectionDown
	ServiceOpened
	ServiceOpenFailure
	AuthorizationSuccess
	AuthorizationFailure
	AuthorizationRevoked
	SubscriptionStarted
	SubscriptionFailure
	SubscriptionTerminated
	SlowConsumerWarning
	SlowConsumerWarningCleared
	Handle
	IOIData
	ErrorInfo
)

var messageTypeNames = [...]string{
	Unknown:                    "Unknown",
	SessionStarted:             "SessionStarted",
	SessionStartupFailure:      "SessionStartupFailure",
	SessionTerminated:          "SessionTerminated",
	SessionConnectionUp:        "SessionConnectionUp",
	SessionConnectionDown:      "SessionConnectionDown",
	ServiceOpened:              "ServiceOpened",
	ServiceOpenFailure:         "ServiceOpenFailure",
	AuthorizationSuccess:       "AuthorizationSuccess",
	AuthorizationFailure:       "AuthorizationFailure",
	AuthorizationRevoked:       "AuthorizationRevoked",
	SubscriptionStarted:        "SubscriptionStarted",
	SubscriptionFailure:        "SubscriptionFailure",
	SubscriptionTerminated:     "SubscriptionTerminated",
	SlowConsumerWarning:        "SlowConsumerWarning",
	SlowConsumerWarningCleared: "SlowConsumerWarningCleared",
	Handle:                     "handle",
	IOIData:                    "Ioidata",
	ErrorInfo:                  "ErrorInfo",
}

var messageTypesByName = func() map[string]MessageType {
	m := make(map[string]MessageType, len(messageTypeNames))
	for i, name := range messageTypeNames {
		m[name] = MessageType(i)
	}
	return m
}()

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeNames) {
		return messageTypeNames[Unknown]
	}
	return messageTypeNames[t]
}

// ParseMessageType resolves a message name. Unrecognised names return Unknown.
func ParseMessageType(name string) MessageType {
	if t, ok := messageTypesByName[name]; ok {
		return t
	}
	return Unknown
}

// Terminal reports whether a message of this type ends the life of the
// request or subscription it is correlated with.
func (t MessageType) Terminal() bool {
	switch t {
	case SubscriptionFailure, SubscriptionTerminated:
		return true
	}
	return false
}
