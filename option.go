package mcpagent

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/internal/budget"
	"github.com/armatrix/mcp-agent-go/mcp"
)

// options holds resolved agent configuration.
type options struct {
	logger           *slog.Logger
	maxToolChain     int
	toolCallTimeout  time.Duration
	providerTimeout  time.Duration
	providerRetries  int
	providerBackoff  time.Duration
	turnTimeout      time.Duration
	sequential       bool
	allowedTools     []string
	disabledTools    []string
	systemPrompt     string
	pricing          *budget.Pricing
	stateFunc        mcp.StateFunc
	streamBufferSize int
}

// AgentOption configures an Agent.
type AgentOption func(*options)

// WithLogger sets the structured logger for the agent and its turn loop.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(o *options) { o.logger = logger }
}

// WithMaxToolChain caps tool dispatches per turn. Exceeding the cap fails
// the turn with ErrToolChainExhausted.
func WithMaxToolChain(n int) AgentOption {
	return func(o *options) { o.maxToolChain = n }
}

// WithToolCallTimeout bounds each tool invocation.
func WithToolCallTimeout(d time.Duration) AgentOption {
	return func(o *options) { o.toolCallTimeout = d }
}

// WithProviderTimeout bounds each LLM provider call.
func WithProviderTimeout(d time.Duration) AgentOption {
	return func(o *options) { o.providerTimeout = d }
}

// WithProviderRetries sets additional attempts after retryable provider
// failures.
func WithProviderRetries(n int) AgentOption {
	return func(o *options) { o.providerRetries = n }
}

// WithProviderBackoff sets the initial provider retry backoff; it doubles
// per attempt.
func WithProviderBackoff(d time.Duration) AgentOption {
	return func(o *options) { o.providerBackoff = d }
}

// WithTurnTimeout bounds a whole turn, zero meaning unbounded.
func WithTurnTimeout(d time.Duration) AgentOption {
	return func(o *options) { o.turnTimeout = d }
}

// WithSequentialDispatch makes multi-call decisions dispatch one at a time
// instead of in parallel. Results fold in issue order either way.
func WithSequentialDispatch() AgentOption {
	return func(o *options) { o.sequential = true }
}

// WithAllowedTools restricts the manifest to qualified tool names matching
// at least one glob pattern (e.g. "mcp__filesystem__*").
func WithAllowedTools(patterns ...string) AgentOption {
	return func(o *options) { o.allowedTools = append(o.allowedTools, patterns...) }
}

// WithDisabledTools removes qualified tool names matching any glob pattern
// from the manifest. Disabling wins over allowing.
func WithDisabledTools(patterns ...string) AgentOption {
	return func(o *options) { o.disabledTools = append(o.disabledTools, patterns...) }
}

// WithSystemPrompt overrides the generated system prompt.
func WithSystemPrompt(prompt string) AgentOption {
	return func(o *options) { o.systemPrompt = prompt }
}

// WithPricing configures a USD-per-million-token rate card so
// TurnCompletedEvent carries a cost.
func WithPricing(inputPerMTok, outputPerMTok decimal.Decimal) AgentOption {
	return func(o *options) {
		o.pricing = &budget.Pricing{
			InputPerMTok:  inputPerMTok,
			OutputPerMTok: outputPerMTok,
		}
	}
}

// WithStateListener registers a callback for server session state changes,
// in addition to the ServerStateChanged events on active streams.
func WithStateListener(fn mcp.StateFunc) AgentOption {
	return func(o *options) { o.stateFunc = fn }
}

// WithStreamBufferSize sets the event channel buffer for turn streams.
func WithStreamBufferSize(n int) AgentOption {
	return func(o *options) { o.streamBufferSize = n }
}

func resolveOptions(opts []AgentOption) options {
	o := options{
		maxToolChain:     DefaultMaxToolChain,
		toolCallTimeout:  DefaultToolCallTimeout,
		providerTimeout:  DefaultProviderTimeout,
		providerRetries:  DefaultProviderRetries,
		providerBackoff:  DefaultProviderBackoff,
		streamBufferSize: DefaultStreamBufferSize,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
