package mcpagent

import (
	"errors"

	"github.com/armatrix/mcp-agent-go/internal/engine"
)

// Sentinel errors surfaced by the agent loop and dispatcher. These form the
// closed failure taxonomy: everything a caller can observe wraps one of
// these, a *provider.Error, or an mcp sentinel.
var (
	// ErrToolChainExhausted is returned when a single turn exceeds the
	// configured maximum number of tool dispatches.
	ErrToolChainExhausted = engine.ErrToolChainExhausted

	// ErrUnknownTool is returned when the provider requests a tool that is
	// not present in the manifest built at the start of the turn.
	ErrUnknownTool = errors.New("mcpagent: unknown tool")

	// ErrNoServersAvailable is returned when a turn starts with every
	// configured server unreachable.
	ErrNoServersAvailable = errors.New("mcpagent: no servers available")

	// ErrTurnInProgress is returned by SendMessage while a previous turn is
	// still running. The conversation is single-writer.
	ErrTurnInProgress = errors.New("mcpagent: turn already in progress")
)
