package mcpagent

import "github.com/armatrix/mcp-agent-go/provider"

// Turn and its constructors are defined in the provider package so custom
// providers can consume them; they are aliased here for callers.
type (
	Turn     = provider.Turn
	TurnKind = provider.TurnKind
)

// Turn kind tags, re-exported.
const (
	TurnUser       = provider.TurnUser
	TurnAssistant  = provider.TurnAssistant
	TurnToolCall   = provider.TurnToolCall
	TurnToolResult = provider.TurnToolResult
)

// Conversation is a point-in-time snapshot of the agent's conversation
// log. The log is ordered and append-only; snapshots are detached copies.
type Conversation struct {
	// ID identifies the conversation across its turns.
	ID string

	// Turns is the full history, oldest first. Tool-call turns are always
	// immediately followed by their paired tool-result turn.
	Turns []Turn
}

// LastAssistantText returns the text of the most recent assistant turn, or
// empty when there is none.
func (c Conversation) LastAssistantText() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Kind == TurnAssistant {
			return c.Turns[i].Text
		}
	}
	return ""
}
