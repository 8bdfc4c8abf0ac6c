package mcp

import "errors"

// Sentinel errors for the MCP package. Together they form the session-level
// slice of the failure taxonomy; callers classify with errors.Is.
var (
	// ErrInvalidConfig is returned when a ServerConfig is missing required
	// fields.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrTransportFailure covers subprocess spawn failures, broken pipes,
	// and process exit while requests were in flight.
	ErrTransportFailure = errors.New("mcp: transport failure")

	// ErrProtocolViolation is returned for malformed or out-of-spec
	// JSON-RPC messages.
	ErrProtocolViolation = errors.New("mcp: protocol violation")

	// ErrHandshakeTimeout is returned when the capability handshake does
	// not complete within its deadline.
	ErrHandshakeTimeout = errors.New("mcp: handshake timeout")

	// ErrCallTimeout is returned when a tool call exceeds its per-call
	// deadline. The correlation id is orphaned, never redelivered.
	ErrCallTimeout = errors.New("mcp: tool call timeout")

	// ErrToolRejected is returned when the server reports an application
	// error for a tool call.
	ErrToolRejected = errors.New("mcp: tool rejected by server")

	// ErrServerUnavailable is returned once all connection retries are
	// exhausted.
	ErrServerUnavailable = errors.New("mcp: server unavailable")

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("mcp: session closed")

	// ErrServerNotFound is returned when referencing a server id that does
	// not exist in the Manager.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrToolNotFound is returned when calling a tool the server did not
	// advertise.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrResourceNotFound is returned when reading an unknown resource URI.
	ErrResourceNotFound = errors.New("mcp: resource not found")
)
