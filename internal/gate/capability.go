package gate

import "emberhall.gg/internal/protocol"

// capability declares, per inbound message type, what the gate enforces
// before the message reaches an actor. Authorization lives here as data so
// adding a message type means adding a row, not another inline role check.
type capability struct {
	// RequiresAuth is false only for the auth message itself.
	RequiresAuth bool
	// RequiresSession: the payload names a session the sender must belong
	// to, and the message is dispatched to that session's actor.
	RequiresSession bool
	// DirectorOnly restricts the message to the session director.
	DirectorOnly bool
	// RateCategory buckets the message for the sliding-window limiter;
	// empty means unlimited.
	RateCategory Category
}

var capabilities = map[string]capability{
	protocol.TypeAuth:            {},
	protocol.TypePing:            {RequiresAuth: true},
	protocol.TypeCreateSession:   {RequiresAuth: true},
	protocol.TypeJoinSession:     {RequiresAuth: true},
	protocol.TypeLeaveSession:    {RequiresAuth: true, RequiresSession: true},
	protocol.TypeSetReady:        {RequiresAuth: true, RequiresSession: true},
	protocol.TypeAction:          {RequiresAuth: true, RequiresSession: true, RateCategory: CategoryAction},
	protocol.TypePrivilegedCmd:   {RequiresAuth: true, RequiresSession: true, DirectorOnly: true, RateCategory: CategoryPrivileged},
	protocol.TypeChat:            {RequiresAuth: true, RequiresSession: true, RateCategory: CategoryChat},
	protocol.TypeRequestFullSync: {RequiresAuth: true, RequiresSession: true},
}

// capabilityFor looks up the row for a message type; ok is false for types
// the server does not accept inbound.
func capabilityFor(msgType string) (capability, bool) {
	c, ok := capabilities[msgType]
	return c, ok
}
