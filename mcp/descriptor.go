package mcp

// ToolDescriptor describes a tool discovered from a server. Immutable once
// discovered; Name is unique within its server, not globally.
type ToolDescriptor struct {
	// ServerID is the owning server.
	ServerID string

	// Name is the tool's server-local name.
	Name string

	// Description is the server-reported description.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]any
}

// ResourceDescriptor describes a resource exposed by a server.
type ResourceDescriptor struct {
	// ServerID is the owning server.
	ServerID string

	// URI is the resource identifier (e.g. "file:///path").
	URI string

	// Name is a human-readable name.
	Name string

	// Description explains what the resource contains.
	Description string

	// MIMEType is the content type, when reported.
	MIMEType string
}

// CallResult is the normalized outcome of a tool invocation that reached
// the server and produced a response.
type CallResult struct {
	// CorrelationID ties the result to its JSON-RPC request, for diagnosis.
	CorrelationID string

	// Content is the flattened text content of the result.
	Content string

	// IsError marks a server-reported application failure. The content then
	// carries the server's error text.
	IsError bool
}
