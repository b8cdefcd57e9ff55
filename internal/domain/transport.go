package domain

import "context"

// Endpoint is the part of a transport a dispatched message can reach back to:
// sending into a chat, the agent's own account id and the alias table.
type Endpoint interface {
	Send(ctx context.Context, chatID string, msg OutboundMessage) error
	// SelfID returns the agent's raw account id, or "" before the first connect.
	SelfID() string
	// LookupAlias maps a secondary-scheme id to its primary numeric id.
	// It is best-effort and never blocks on the network.
	LookupAlias(alias string) (string, bool)
}

// Transport is a messaging backend (WhatsApp bridge, Telegram, CLI).
type Transport interface {
	Endpoint
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// ConnectionState is the lifecycle state reported by a transport.
type ConnectionState string

const (
	ConnectionOpen   ConnectionState = "open"
	ConnectionClosed ConnectionState = "closed"
)

// ConnectionEvent is emitted when a transport connects or disconnects.
type ConnectionEvent struct {
	Transport string
	State     ConnectionState
	Reason    int    // transport specific close code
	Self      string // agent's raw account id, set on open

	// OperatorAccount is true when the transport runs on the operator's own
	// account (a linked WhatsApp device) rather than a separate bot account.
	OperatorAccount bool
}
