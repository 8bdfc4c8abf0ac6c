package mcp

// ConnState is the lifecycle state of a server session.
//
// Transitions: Disconnected → Connecting → Handshaking → Ready ⇄ Degraded,
// any state → Closed on Close. Handshake failure returns to Disconnected
// until the retry budget is spent; process exit from Ready or Degraded also
// returns to Disconnected.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateDegraded
	StateClosed
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Usable reports whether the session can serve tool calls. Degraded
// sessions remain usable; callers may flag them as unreliable.
func (s ConnState) Usable() bool {
	return s == StateReady || s == StateDegraded
}
