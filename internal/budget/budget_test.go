package budget

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/armatrix/mcp-agent-go/provider"
)

func TestTrackerAccumulates(t *testing.T) {
	tr := NewTracker(nil)
	tr.Record(provider.Usage{InputTokens: 100, OutputTokens: 20})
	tr.Record(provider.Usage{InputTokens: 50, OutputTokens: 10})

	total := tr.Usage()
	assert.Equal(t, int64(150), total.InputTokens)
	assert.Equal(t, int64(30), total.OutputTokens)
	assert.True(t, tr.Cost().IsZero())
}

func TestTrackerCost(t *testing.T) {
	tr := NewTracker(&Pricing{
		InputPerMTok:  decimal.NewFromInt(3),
		OutputPerMTok: decimal.NewFromInt(15),
	})
	tr.Record(provider.Usage{InputTokens: 1_000_000, OutputTokens: 200_000})

	// 1M input at $3/MTok plus 0.2M output at $15/MTok.
	assert.True(t, tr.Cost().Equal(decimal.NewFromInt(6)),
		"got %s", tr.Cost())
}
