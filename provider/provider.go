// Package provider defines the LLM provider contract consumed by the agent
// loop, together with the conversation and tool-manifest types every
// provider receives. Providers are stateless: each call is given the full
// ordered conversation history and the manifest for the current turn, and
// must be a pure function of those inputs.
package provider

import (
	"context"
	"fmt"
)

// TurnKind tags a conversation turn variant.
type TurnKind string

const (
	TurnSystem     TurnKind = "system"
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolCall   TurnKind = "tool_call"
	TurnToolResult TurnKind = "tool_result"
)

// Turn is one entry in the ordered, append-only conversation log. Exactly
// the fields for its Kind are populated; the rest are zero.
type Turn struct {
	Kind TurnKind `json:"kind"`

	// Text is the message body for user and assistant turns.
	Text string `json:"text,omitempty"`

	// CallID pairs a tool_result turn with its originating tool_call.
	// For tool_call turns it is the provider-issued invocation id.
	CallID string `json:"call_id,omitempty"`

	// Server and Tool identify the invoked capability (tool_call turns).
	// Tool is the manifest-qualified name.
	Server string `json:"server,omitempty"`
	Tool   string `json:"tool,omitempty"`

	// Arguments is the invocation argument mapping (tool_call turns).
	Arguments map[string]any `json:"arguments,omitempty"`

	// Content is the normalized tool output (tool_result turns).
	Content string `json:"content,omitempty"`

	// IsError marks a tool_result carrying a failure the model should see.
	IsError bool `json:"is_error,omitempty"`
}

// SystemTurn constructs a system instruction turn. At most one is expected,
// at the head of the sequence handed to a provider; it is not part of the
// persisted conversation log.
func SystemTurn(text string) Turn {
	return Turn{Kind: TurnSystem, Text: text}
}

// UserTurn constructs a user message turn.
func UserTurn(text string) Turn {
	return Turn{Kind: TurnUser, Text: text}
}

// AssistantTurn constructs an assistant message turn.
func AssistantTurn(text string) Turn {
	return Turn{Kind: TurnAssistant, Text: text}
}

// ToolCallTurn constructs a pending tool invocation turn.
func ToolCallTurn(callID, server, tool string, args map[string]any) Turn {
	return Turn{Kind: TurnToolCall, CallID: callID, Server: server, Tool: tool, Arguments: args}
}

// ToolResultTurn constructs a tool result turn paired with callID.
func ToolResultTurn(callID, content string, isError bool) Turn {
	return Turn{Kind: TurnToolResult, CallID: callID, Content: content, IsError: isError}
}

// ToolSpec is one entry in the tool manifest handed to a provider. Name is
// qualified with the owning server so tools with the same server-local name
// never collide.
type ToolSpec struct {
	// Name is the manifest-qualified tool name, e.g. "mcp__filesystem__list_files".
	Name string

	// Server is the owning server id.
	Server string

	// Description is the server-reported tool description.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]any

	// Unreliable flags tools owned by a degraded server. Providers append a
	// warning to the description so the model can prefer healthy tools.
	Unreliable bool
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-issued invocation id, echoed back in the
	// corresponding tool result.
	ID string

	// Name is the manifest-qualified tool name.
	Name string

	// Arguments is the invocation argument mapping.
	Arguments map[string]any
}

// Usage reports token consumption for one provider call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Decision is the outcome of one provider call: either a final textual
// answer (no tool calls) or one or more tool invocations to dispatch.
type Decision struct {
	// Text is the final answer when ToolCalls is empty. Providers that emit
	// text alongside tool calls put it here as well; the loop preserves it.
	Text string

	// ToolCalls are the requested invocations, in the order the model
	// issued them.
	ToolCalls []ToolCall

	// Usage is the token accounting for this call.
	Usage Usage
}

// Final reports whether the decision ends the turn.
func (d *Decision) Final() bool { return len(d.ToolCalls) == 0 }

// Provider generates responses from an LLM backend. Implementations must be
// safe for concurrent use and hold no per-conversation state.
type Provider interface {
	// Name identifies the provider kind, e.g. "anthropic" or "openai".
	Name() string

	// GenerateResponse produces the model's next decision given the full
	// ordered conversation and the tool manifest for this turn.
	GenerateResponse(ctx context.Context, turns []Turn, manifest []ToolSpec) (*Decision, error)
}

// Error is the failure type returned by providers. Retryable failures
// (rate limits, transient network errors, overload) are retried by the
// agent loop with backoff; non-retryable ones propagate immediately.
type Error struct {
	Provider  string
	Retryable bool
	Detail    string
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s (%s): %v", e.Provider, e.Detail, kind, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Detail, kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }
