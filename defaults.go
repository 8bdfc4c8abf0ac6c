package mcpagent

import "time"

// Loop and dispatch defaults.
const (
	// DefaultMaxToolChain is the maximum number of tool dispatches allowed
	// within a single turn before the turn fails with ErrToolChainExhausted.
	DefaultMaxToolChain = 8

	// DefaultToolCallTimeout bounds a single tool invocation.
	DefaultToolCallTimeout = 60 * time.Second

	// DefaultProviderTimeout bounds a single LLM provider call.
	DefaultProviderTimeout = 120 * time.Second

	// DefaultProviderRetries is the number of additional attempts made after
	// a retryable provider failure.
	DefaultProviderRetries = 3

	// DefaultProviderBackoff is the initial backoff before a provider retry;
	// it doubles on each subsequent attempt.
	DefaultProviderBackoff = 500 * time.Millisecond

	// DefaultStreamBufferSize is the channel buffer size for turn events.
	DefaultStreamBufferSize = 64
)
