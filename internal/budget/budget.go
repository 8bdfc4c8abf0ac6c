// Package budget accumulates token usage across a conversation and prices
// it when a model rate card is configured.
package budget

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/provider"
)

// Pricing is a model rate card in USD per million tokens.
type Pricing struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// Tracker accumulates usage reported by provider decisions. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	input   int64
	output  int64
	pricing *Pricing
}

// NewTracker creates a tracker. A nil pricing disables cost computation;
// token totals are still kept.
func NewTracker(pricing *Pricing) *Tracker {
	return &Tracker{pricing: pricing}
}

// Record adds one decision's usage to the running totals.
func (t *Tracker) Record(u provider.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.input += u.InputTokens
	t.output += u.OutputTokens
}

// Usage returns the accumulated totals.
func (t *Tracker) Usage() provider.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return provider.Usage{InputTokens: t.input, OutputTokens: t.output}
}

// Cost returns the accumulated cost in USD. Zero when no pricing is
// configured.
func (t *Tracker) Cost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pricing == nil {
		return decimal.Zero
	}
	in := decimal.NewFromInt(t.input).Mul(t.pricing.InputPerMTok).Div(million)
	out := decimal.NewFromInt(t.output).Mul(t.pricing.OutputPerMTok).Div(million)
	return in.Add(out)
}
