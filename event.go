package mcpagent

import (
	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

// EventType identifies an event variant.
type EventType string

const (
	EventUserMessageAppended      EventType = "user_message_appended"
	EventAssistantMessageAppended EventType = "assistant_message_appended"
	EventToolCallStarted          EventType = "tool_call_started"
	EventToolCallFinished         EventType = "tool_call_finished"
	EventServerStateChanged       EventType = "server_state_changed"
	EventTurnCompleted            EventType = "turn_completed"
	EventTurnFailed               EventType = "turn_failed"
)

// Event is a single item in a turn's ordered event stream. Within one turn,
// consumers observe: the user message, then for each loop iteration any
// assistant text followed by tool-call started/finished pairs folded in
// issue order, and finally exactly one terminal TurnCompleted or TurnFailed.
type Event interface {
	// Type returns the event variant tag.
	Type() EventType
}

// UserMessageAppendedEvent reports the user message that opened the turn.
type UserMessageAppendedEvent struct {
	TurnID string
	Text   string
}

func (e *UserMessageAppendedEvent) Type() EventType { return EventUserMessageAppended }

// AssistantMessageAppendedEvent reports assistant text, either commentary
// preceding tool calls or the final answer.
type AssistantMessageAppendedEvent struct {
	TurnID string
	Text   string
}

func (e *AssistantMessageAppendedEvent) Type() EventType { return EventAssistantMessageAppended }

// ToolCallStartedEvent reports a tool dispatch. Emitted in issue order
// before the call reaches its server.
type ToolCallStartedEvent struct {
	TurnID    string
	CallID    string
	ServerID  string
	Tool      string
	Arguments map[string]any
}

func (e *ToolCallStartedEvent) Type() EventType { return EventToolCallStarted }

// ToolCallFinishedEvent reports a folded tool result. Emitted in issue
// order once the whole batch has resolved.
type ToolCallFinishedEvent struct {
	TurnID   string
	CallID   string
	ServerID string
	Tool     string
	Content  string
	IsError  bool
}

func (e *ToolCallFinishedEvent) Type() EventType { return EventToolCallFinished }

// ServerStateChangedEvent reports a session state transition observed
// while the turn was active.
type ServerStateChangedEvent struct {
	ServerID string
	State    mcp.ConnState
}

func (e *ServerStateChangedEvent) Type() EventType { return EventServerStateChanged }

// TurnCompletedEvent is the successful terminal event of a turn.
type TurnCompletedEvent struct {
	TurnID string

	// Usage is the cumulative token usage for the conversation so far.
	Usage provider.Usage

	// Cost is the cumulative priced cost, zero without a configured rate
	// card.
	Cost decimal.Decimal
}

func (e *TurnCompletedEvent) Type() EventType { return EventTurnCompleted }

// TurnFailedEvent is the failing terminal event of a turn. Err wraps one of
// the package sentinels, a *provider.Error, or an mcp sentinel.
type TurnFailedEvent struct {
	TurnID string
	Err    error
}

func (e *TurnFailedEvent) Type() EventType { return EventTurnFailed }
