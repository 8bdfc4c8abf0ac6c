// Package engine drives the reason-act loop: model decision, tool
// dispatch, result folding, repeat until a final answer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/armatrix/mcp-agent-go/internal/budget"
	"github.com/armatrix/mcp-agent-go/provider"
)

// ErrToolChainExhausted is returned when a turn would exceed its tool-call
// budget. Re-exported at the package root.
var ErrToolChainExhausted = errors.New("tool chain exhausted")

// EventSink receives loop progress. Implemented by the agent's stream
// plumbing; the engine stays decoupled from the event types it feeds.
type EventSink interface {
	// AssistantText is called for each piece of assistant text, including
	// commentary accompanying tool calls.
	AssistantText(text string)

	// ToolCallStarted is called in issue order before a call is dispatched.
	ToolCallStarted(call provider.ToolCall)

	// ToolCallFinished is called in issue order as results are folded.
	ToolCallFinished(call provider.ToolCall, content string, isError bool)
}

// Outcome is the normalized result of dispatching one tool call.
type Outcome struct {
	// Server is the resolved owning server id, empty when the call could
	// not be routed.
	Server string

	// Content is the result text fed back to the model.
	Content string

	// IsError marks a failed call whose content describes the failure.
	IsError bool

	// Err is the dispatch failure, when the call never produced a usable
	// result. A context cancellation here means the call was abandoned.
	Err error
}

// Dispatcher routes one tool call to its server and returns the outcome.
// Must be safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, call provider.ToolCall) Outcome
}

// LoopConfig carries everything one turn of the loop needs.
type LoopConfig struct {
	Provider   provider.Provider
	Dispatcher Dispatcher

	// Tools is the capability manifest presented to the model.
	Tools []provider.ToolSpec

	// Turns is the shared conversation history. The loop appends assistant,
	// tool-call, and tool-result turns as the turn progresses, so partial
	// progress survives a failed turn.
	Turns *[]provider.Turn

	// SystemPrompt, when set, is prepended as a system turn on every
	// provider call. It never enters the shared history.
	SystemPrompt string

	// MaxToolChain caps tool dispatches within the turn.
	MaxToolChain int

	// Sequential disables parallel dispatch of multi-call decisions.
	Sequential bool

	ProviderTimeout time.Duration
	ProviderRetries int
	ProviderBackoff time.Duration

	Sink   EventSink
	Logger *slog.Logger
	Budget *budget.Tracker
}

// RunLoop executes one conversational turn: it alternates model decisions
// and tool dispatches until the model answers without requesting tools,
// the tool-chain budget runs out, the context is cancelled, or the
// provider fails terminally.
func RunLoop(ctx context.Context, cfg LoopConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatched := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		decision, err := generate(ctx, cfg)
		if err != nil {
			return err
		}
		if cfg.Budget != nil {
			cfg.Budget.Record(decision.Usage)
		}

		if decision.Text != "" {
			*cfg.Turns = append(*cfg.Turns, provider.AssistantTurn(decision.Text))
			cfg.Sink.AssistantText(decision.Text)
		}
		if decision.Final() {
			return nil
		}

		calls := decision.ToolCalls
		if dispatched+len(calls) > cfg.MaxToolChain {
			return fmt.Errorf("%w: %d calls would exceed budget of %d",
				ErrToolChainExhausted, dispatched+len(calls), cfg.MaxToolChain)
		}
		dispatched += len(calls)

		logger.Debug("dispatching tool calls",
			"count", len(calls),
			"dispatched_total", dispatched,
			"budget", cfg.MaxToolChain,
		)

		outcomes := dispatchBatch(ctx, cfg, calls)

		// Fold results in issue order regardless of completion order.
		// Abandoned calls are omitted entirely: no call turn without its
		// result turn.
		for i, call := range calls {
			out := outcomes[i]
			if out.Err != nil && errors.Is(out.Err, context.Canceled) {
				continue
			}
			content, isError := out.Content, out.IsError
			if out.Err != nil {
				content, isError = out.Err.Error(), true
			}
			*cfg.Turns = append(*cfg.Turns,
				provider.ToolCallTurn(call.ID, out.Server, call.Name, call.Arguments),
				provider.ToolResultTurn(call.ID, content, isError),
			)
			cfg.Sink.ToolCallFinished(call, content, isError)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// dispatchBatch runs one decision's calls, in parallel unless sequential
// mode is set, and returns outcomes indexed by issue order.
func dispatchBatch(ctx context.Context, cfg LoopConfig, calls []provider.ToolCall) []Outcome {
	for _, call := range calls {
		cfg.Sink.ToolCallStarted(call)
	}

	outcomes := make([]Outcome, len(calls))
	if cfg.Sequential || len(calls) == 1 {
		for i, call := range calls {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Err: err}
				continue
			}
			outcomes[i] = cfg.Dispatcher.Dispatch(ctx, call)
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call provider.ToolCall) {
			defer wg.Done()
			outcomes[i] = cfg.Dispatcher.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

// generate calls the provider with bounded retries and exponential backoff
// on retryable provider errors.
func generate(ctx context.Context, cfg LoopConfig) (*provider.Decision, error) {
	backoff := cfg.ProviderBackoff
	var lastErr error
	for attempt := 0; attempt <= cfg.ProviderRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		turns := *cfg.Turns
		if cfg.SystemPrompt != "" {
			turns = append([]provider.Turn{provider.SystemTurn(cfg.SystemPrompt)}, turns...)
		}

		gctx := ctx
		var cancel context.CancelFunc
		if cfg.ProviderTimeout > 0 {
			gctx, cancel = context.WithTimeout(ctx, cfg.ProviderTimeout)
		}
		decision, err := cfg.Provider.GenerateResponse(gctx, turns, cfg.Tools)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return decision, nil
		}

		var perr *provider.Error
		if errors.As(err, &perr) && perr.Retryable {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("provider retries exhausted: %w", lastErr)
}
