package mcpagent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/armatrix/mcp-agent-go/internal/budget"
	"github.com/armatrix/mcp-agent-go/internal/engine"
	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

// Agent owns one conversation, a provider, and a set of MCP server
// sessions, and drives the turn loop that connects them. A single turn is
// active at a time; the conversation log is append-only.
type Agent struct {
	provider provider.Provider
	manager  *mcp.Manager
	opts     options
	logger   *slog.Logger
	budget   *budget.Tracker

	mu         sync.Mutex
	convID     string
	turns      []provider.Turn
	turnActive bool
	cancelTurn context.CancelFunc
	stream     *TurnStream
}

// NewAgent creates an agent over a provider and a server manager. The
// manager's servers need not be connected yet; call Connect before the
// first turn that should see their tools.
func NewAgent(p provider.Provider, manager *mcp.Manager, opts ...AgentOption) *Agent {
	o := resolveOptions(opts)
	a := &Agent{
		provider: p,
		manager:  manager,
		opts:     o,
		logger:   o.logger,
		budget:   budget.NewTracker(o.pricing),
		convID:   generateID(PrefixConversation),
	}
	manager.OnStateChange(a.handleServerState)
	return a
}

// Connect connects all configured servers concurrently. A partial failure
// is returned but does not prevent the agent from running with the servers
// that did connect.
func (a *Agent) Connect(ctx context.Context) error {
	return a.manager.Connect(ctx)
}

// Conversation returns a detached snapshot of the conversation log.
func (a *Agent) Conversation() Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := make([]provider.Turn, len(a.turns))
	copy(turns, a.turns)
	return Conversation{ID: a.convID, Turns: turns}
}

// SendMessage starts a new turn with the user's message and returns its
// event stream. The returned stream always terminates: either with a
// TurnCompleted or a TurnFailed event. Starting a turn while another is
// active fails immediately with ErrTurnInProgress.
func (a *Agent) SendMessage(ctx context.Context, text string) *TurnStream {
	stream := newTurnStream(a.opts.streamBufferSize)
	turnID := generateID(PrefixTurn)

	a.mu.Lock()
	if a.turnActive {
		a.mu.Unlock()
		return failedStream(stream, turnID, ErrTurnInProgress)
	}
	sessions := a.manager.Sessions()
	if len(sessions) > 0 && !anyUsable(sessions) {
		a.mu.Unlock()
		return failedStream(stream, turnID, ErrNoServersAvailable)
	}

	var tctx context.Context
	var cancel context.CancelFunc
	if a.opts.turnTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, a.opts.turnTimeout)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}

	a.turns = append(a.turns, provider.UserTurn(text))
	local := make([]provider.Turn, len(a.turns))
	copy(local, a.turns)

	a.turnActive = true
	a.cancelTurn = cancel
	a.stream = stream
	a.mu.Unlock()

	stream.emit(&UserMessageAppendedEvent{TurnID: turnID, Text: text})
	go a.runTurn(tctx, cancel, stream, turnID, sessions, local)
	return stream
}

// runTurn executes one turn to completion and closes its stream.
func (a *Agent) runTurn(ctx context.Context, cancel context.CancelFunc, stream *TurnStream, turnID string, sessions []mcp.ServerSession, local []provider.Turn) {
	defer cancel()

	manifest := buildManifest(sessions, a.opts.allowedTools, a.opts.disabledTools)
	systemPrompt := a.opts.systemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt(manifest)
	}
	disp := newDispatcher(a.manager, manifest, a.opts.toolCallTimeout, a.logger)
	sink := &streamSink{stream: stream, turnID: turnID, manifest: disp.manifest}

	a.logger.Info("turn started",
		"turn_id", turnID,
		"tools", len(manifest),
	)

	err := engine.RunLoop(ctx, engine.LoopConfig{
		Provider:        a.provider,
		Dispatcher:      disp,
		Tools:           manifest,
		Turns:           &local,
		SystemPrompt:    systemPrompt,
		MaxToolChain:    a.opts.maxToolChain,
		Sequential:      a.opts.sequential,
		ProviderTimeout: a.opts.providerTimeout,
		ProviderRetries: a.opts.providerRetries,
		ProviderBackoff: a.opts.providerBackoff,
		Sink:            sink,
		Logger:          a.logger,
		Budget:          a.budget,
	})

	// Merge whatever the loop appended, even on failure: partial progress
	// stays in the log.
	a.mu.Lock()
	a.turns = local
	a.turnActive = false
	a.cancelTurn = nil
	a.stream = nil
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("turn failed", "turn_id", turnID, "error", err)
		stream.emit(&TurnFailedEvent{TurnID: turnID, Err: err})
		stream.finish(err)
		return
	}

	a.logger.Info("turn completed", "turn_id", turnID)
	stream.emit(&TurnCompletedEvent{
		TurnID: turnID,
		Usage:  a.budget.Usage(),
		Cost:   a.budget.Cost(),
	})
	stream.finish(nil)
}

// Interrupt cancels the active turn, if any. In-flight tool calls are
// abandoned; completed ones are already folded into the log.
func (a *Agent) Interrupt() {
	a.mu.Lock()
	cancel := a.cancelTurn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close interrupts any active turn and closes all server sessions.
func (a *Agent) Close() error {
	a.Interrupt()
	return a.manager.Close()
}

// handleServerState forwards session transitions to the active stream and
// the configured listener. Stream delivery is best-effort so a slow
// consumer never stalls protocol goroutines.
func (a *Agent) handleServerState(serverID string, state mcp.ConnState) {
	a.mu.Lock()
	stream := a.stream
	fn := a.opts.stateFunc
	a.mu.Unlock()

	if stream != nil {
		stream.tryEmit(&ServerStateChangedEvent{ServerID: serverID, State: state})
	}
	if fn != nil {
		fn(serverID, state)
	}
}

// anyUsable reports whether at least one session can serve tools.
func anyUsable(sessions []mcp.ServerSession) bool {
	for _, sess := range sessions {
		if sess.State().Usable() {
			return true
		}
	}
	return false
}

// failedStream terminates a stream before the turn ever starts.
func failedStream(stream *TurnStream, turnID string, err error) *TurnStream {
	stream.emit(&TurnFailedEvent{TurnID: turnID, Err: err})
	stream.finish(err)
	return stream
}

// streamSink adapts the engine's progress callbacks to stream events.
type streamSink struct {
	stream   *TurnStream
	turnID   string
	manifest map[string]provider.ToolSpec
}

var _ engine.EventSink = (*streamSink)(nil)

func (s *streamSink) AssistantText(text string) {
	s.stream.emit(&AssistantMessageAppendedEvent{TurnID: s.turnID, Text: text})
}

func (s *streamSink) ToolCallStarted(call provider.ToolCall) {
	serverID, tool := s.resolve(call.Name)
	s.stream.emit(&ToolCallStartedEvent{
		TurnID:    s.turnID,
		CallID:    call.ID,
		ServerID:  serverID,
		Tool:      tool,
		Arguments: call.Arguments,
	})
}

func (s *streamSink) ToolCallFinished(call provider.ToolCall, content string, isError bool) {
	serverID, tool := s.resolve(call.Name)
	s.stream.emit(&ToolCallFinishedEvent{
		TurnID:   s.turnID,
		CallID:   call.ID,
		ServerID: serverID,
		Tool:     tool,
		Content:  content,
		IsError:  isError,
	})
}

func (s *streamSink) resolve(name string) (serverID, tool string) {
	if spec, ok := s.manifest[name]; ok {
		if _, t, ok := splitToolName(name); ok {
			return spec.Server, t
		}
	}
	return "", name
}
