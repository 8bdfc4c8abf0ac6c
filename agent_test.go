package mcpagent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

func newFilesManager(t *testing.T) *mcp.Manager {
	t.Helper()
	local := mcp.NewLocalServer("files", nil)
	require.NoError(t, local.AddTool("list_files", "lists files in a directory", nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			return "a.txt\nb.txt", nil
		}))

	mgr, err := mcp.NewManager(nil)
	require.NoError(t, err)
	require.NoError(t, mgr.AddSession(local))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func drain(t *testing.T, stream *TurnStream) []Event {
	t.Helper()
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for stream.Next() {
			events = append(events, stream.Current())
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream never terminated")
	}
	return events
}

func TestAgentToolTurn(t *testing.T) {
	mgr := newFilesManager(t)

	var gotManifest atomic.Value
	var calls int32
	p := &provider.Func{
		ProviderName: "scripted",
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			gotManifest.Store(manifest)
			if atomic.AddInt32(&calls, 1) == 1 {
				return &provider.Decision{
					Text: "Let me look.",
					ToolCalls: []provider.ToolCall{
						{ID: "call_1", Name: "mcp__files__list_files", Arguments: map[string]any{}},
					},
					Usage: provider.Usage{InputTokens: 10, OutputTokens: 5},
				}, nil
			}
			return &provider.Decision{
				Text:  "The directory holds a.txt and b.txt.",
				Usage: provider.Usage{InputTokens: 20, OutputTokens: 7},
			}, nil
		},
	}

	agent := NewAgent(p, mgr, WithPricing(decimal.NewFromInt(3), decimal.NewFromInt(15)))
	stream := agent.SendMessage(context.Background(), "what files are here?")
	events := drain(t, stream)
	require.NoError(t, stream.Err())

	require.Len(t, events, 6)
	assert.IsType(t, &UserMessageAppendedEvent{}, events[0])
	assert.IsType(t, &AssistantMessageAppendedEvent{}, events[1])
	assert.IsType(t, &ToolCallStartedEvent{}, events[2])
	assert.IsType(t, &ToolCallFinishedEvent{}, events[3])
	assert.IsType(t, &AssistantMessageAppendedEvent{}, events[4])
	assert.IsType(t, &TurnCompletedEvent{}, events[5])

	started := events[2].(*ToolCallStartedEvent)
	assert.Equal(t, "files", started.ServerID)
	assert.Equal(t, "list_files", started.Tool)
	assert.Equal(t, "call_1", started.CallID)

	finished := events[3].(*ToolCallFinishedEvent)
	assert.Equal(t, "a.txt\nb.txt", finished.Content)
	assert.False(t, finished.IsError)

	completed := events[5].(*TurnCompletedEvent)
	assert.Equal(t, int64(30), completed.Usage.InputTokens)
	assert.Equal(t, int64(12), completed.Usage.OutputTokens)
	assert.True(t, completed.Cost.GreaterThan(decimal.Zero))

	manifest := gotManifest.Load().([]provider.ToolSpec)
	require.Len(t, manifest, 1)
	assert.Equal(t, "mcp__files__list_files", manifest[0].Name)

	conv := agent.Conversation()
	require.Len(t, conv.Turns, 5)
	assert.Equal(t, TurnUser, conv.Turns[0].Kind)
	assert.Equal(t, TurnAssistant, conv.Turns[1].Kind)
	assert.Equal(t, TurnToolCall, conv.Turns[2].Kind)
	assert.Equal(t, TurnToolResult, conv.Turns[3].Kind)
	assert.Equal(t, TurnAssistant, conv.Turns[4].Kind)
	assert.Equal(t, "The directory holds a.txt and b.txt.", conv.LastAssistantText())
}

func TestAgentToolTurnWithoutCommentary(t *testing.T) {
	mgr := newFilesManager(t)

	var calls int32
	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return &provider.Decision{ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "mcp__files__list_files", Arguments: map[string]any{"path": "."}},
				}}, nil
			}
			return &provider.Decision{Text: "a.txt and b.txt"}, nil
		},
	}

	agent := NewAgent(p, mgr)
	stream := agent.SendMessage(context.Background(), "what files are here?")
	events := drain(t, stream)
	require.NoError(t, stream.Err())

	// A text-free tool decision yields exactly user, call, result, answer.
	conv := agent.Conversation()
	require.Len(t, conv.Turns, 4)
	assert.Equal(t, TurnUser, conv.Turns[0].Kind)
	assert.Equal(t, TurnToolCall, conv.Turns[1].Kind)
	assert.Equal(t, TurnToolResult, conv.Turns[2].Kind)
	assert.Equal(t, TurnAssistant, conv.Turns[3].Kind)
	assert.Equal(t, "call_1", conv.Turns[1].CallID)
	assert.Equal(t, "call_1", conv.Turns[2].CallID)
	assert.Equal(t, "a.txt\nb.txt", conv.Turns[2].Content)

	require.Len(t, events, 5)
	assert.IsType(t, &UserMessageAppendedEvent{}, events[0])
	assert.IsType(t, &ToolCallStartedEvent{}, events[1])
	assert.IsType(t, &ToolCallFinishedEvent{}, events[2])
	assert.IsType(t, &AssistantMessageAppendedEvent{}, events[3])
	assert.IsType(t, &TurnCompletedEvent{}, events[4])
}

func TestAgentUnknownToolBecomesErrorResult(t *testing.T) {
	mgr := newFilesManager(t)

	var calls int32
	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return &provider.Decision{ToolCalls: []provider.ToolCall{
					{ID: "call_1", Name: "mcp__files__ghost"},
				}}, nil
			}
			return &provider.Decision{Text: "that tool does not exist"}, nil
		},
	}

	agent := NewAgent(p, mgr)
	stream := agent.SendMessage(context.Background(), "use the ghost tool")
	drain(t, stream)
	require.NoError(t, stream.Err())

	conv := agent.Conversation()
	require.Len(t, conv.Turns, 4)
	assert.True(t, conv.Turns[2].IsError)
	assert.Contains(t, conv.Turns[2].Content, "not in the tool manifest")
}

func TestAgentTurnInProgress(t *testing.T) {
	mgr := newFilesManager(t)
	gate := make(chan struct{})
	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			<-gate
			return &provider.Decision{Text: "done"}, nil
		},
	}

	agent := NewAgent(p, mgr)
	first := agent.SendMessage(context.Background(), "one")

	second := agent.SendMessage(context.Background(), "two")
	events := drain(t, second)
	require.ErrorIs(t, second.Err(), ErrTurnInProgress)
	require.Len(t, events, 1)
	assert.IsType(t, &TurnFailedEvent{}, events[0])

	close(gate)
	drain(t, first)
	require.NoError(t, first.Err())

	// Only the first turn's user message made it into the log.
	conv := agent.Conversation()
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "one", conv.Turns[0].Text)
}

func TestAgentNoServersAvailable(t *testing.T) {
	// A configured but never-connected server leaves nothing usable.
	mgr, err := mcp.NewManager(map[string]mcp.ServerConfig{"down": {Command: "missing"}})
	require.NoError(t, err)

	agent := NewAgent(&provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			return &provider.Decision{Text: "unreachable"}, nil
		},
	}, mgr)

	stream := agent.SendMessage(context.Background(), "hello")
	drain(t, stream)
	require.ErrorIs(t, stream.Err(), ErrNoServersAvailable)
	assert.Empty(t, agent.Conversation().Turns)
}

func TestAgentNoServersConfiguredIsFine(t *testing.T) {
	mgr, err := mcp.NewManager(nil)
	require.NoError(t, err)

	agent := NewAgent(&provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			return &provider.Decision{Text: "pure chat works"}, nil
		},
	}, mgr)

	stream := agent.SendMessage(context.Background(), "hello")
	drain(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, "pure chat works", agent.Conversation().LastAssistantText())
}

func TestAgentToolChainExhaustion(t *testing.T) {
	mgr := newFilesManager(t)
	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			return &provider.Decision{ToolCalls: []provider.ToolCall{
				{ID: generateID("call"), Name: "mcp__files__list_files"},
			}}, nil
		},
	}

	agent := NewAgent(p, mgr, WithMaxToolChain(2))
	stream := agent.SendMessage(context.Background(), "loop forever")
	events := drain(t, stream)
	require.ErrorIs(t, stream.Err(), ErrToolChainExhausted)

	last := events[len(events)-1]
	require.IsType(t, &TurnFailedEvent{}, last)
	require.ErrorIs(t, last.(*TurnFailedEvent).Err, ErrToolChainExhausted)

	// Partial progress stays in the log: two completed call/result pairs.
	conv := agent.Conversation()
	require.Len(t, conv.Turns, 5)
	assert.Equal(t, TurnToolResult, conv.Turns[2].Kind)
	assert.Equal(t, TurnToolResult, conv.Turns[4].Kind)
}

func TestAgentInterrupt(t *testing.T) {
	local := mcp.NewLocalServer("slowsrv", nil)
	require.NoError(t, local.AddTool("hang", "never returns", nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))
	mgr, err := mcp.NewManager(nil)
	require.NoError(t, err)
	require.NoError(t, mgr.AddSession(local))

	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			return &provider.Decision{ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "mcp__slowsrv__hang"},
			}}, nil
		},
	}

	agent := NewAgent(p, mgr)
	stream := agent.SendMessage(context.Background(), "hang")

	var events []Event
	for stream.Next() {
		events = append(events, stream.Current())
		if _, ok := stream.Current().(*ToolCallStartedEvent); ok {
			agent.Interrupt()
		}
	}
	require.ErrorIs(t, stream.Err(), context.Canceled)

	// The abandoned call leaves no dangling tool_call turn.
	for _, turn := range agent.Conversation().Turns {
		assert.NotEqual(t, TurnToolCall, turn.Kind)
	}

	// A fresh turn can start after the interrupt.
	stream = agent.SendMessage(context.Background(), "again")
	for stream.Next() {
		if _, ok := stream.Current().(*ToolCallStartedEvent); ok {
			agent.Interrupt()
		}
	}
	require.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestAgentSequentialOption(t *testing.T) {
	mgr := newFilesManager(t)
	var calls int32
	p := &provider.Func{
		Generate: func(ctx context.Context, turns []provider.Turn, manifest []provider.ToolSpec) (*provider.Decision, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return &provider.Decision{ToolCalls: []provider.ToolCall{
					{ID: "c1", Name: "mcp__files__list_files"},
					{ID: "c2", Name: "mcp__files__list_files"},
				}}, nil
			}
			return &provider.Decision{Text: "done"}, nil
		},
	}

	agent := NewAgent(p, mgr, WithSequentialDispatch())
	stream := agent.SendMessage(context.Background(), "list twice")
	drain(t, stream)
	require.NoError(t, stream.Err())

	conv := agent.Conversation()
	require.Len(t, conv.Turns, 6)
	assert.Equal(t, "c1", conv.Turns[1].CallID)
	assert.Equal(t, "c2", conv.Turns[3].CallID)
}
