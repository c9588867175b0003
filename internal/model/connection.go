package model

// ConnectionID is a stable server-minted handle for one live transport
// connection. Participant and session bindings are keyed by it rather than
// being attached to the transport object itself.
type ConnectionID string

// ConnectionStatus is the explicit liveness state of a connection,
// maintained by the registry and liveness monitor.
type ConnectionStatus string

const (
	// StatusConnected means the connection answered the most recent probe
	StatusConnected ConnectionStatus = "connected"
	// StatusProbing means a probe is outstanding and unanswered
	StatusProbing ConnectionStatus = "probing"
	// StatusLost means the connection failed a probe and is being evicted
	StatusLost ConnectionStatus = "lost"
)
