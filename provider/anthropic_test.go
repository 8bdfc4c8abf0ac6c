package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMessages struct {
	lastParams anthropic.MessageNewParams
	message    *anthropic.Message
	err        error
}

func (m *mockMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	m.lastParams = body
	return m.message, m.err
}

func newTestAnthropic(mock *mockMessages) *Anthropic {
	return &Anthropic{
		msg:       mock,
		model:     DefaultAnthropicModel,
		maxTokens: defaultAnthropicMaxTokens,
		system:    "be helpful",
	}
}

func TestAnthropicFinalText(t *testing.T) {
	mock := &mockMessages{message: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "the answer is 4"},
		},
		Usage: anthropic.Usage{InputTokens: 12, OutputTokens: 6},
	}}
	p := newTestAnthropic(mock)

	d, err := p.GenerateResponse(context.Background(),
		[]Turn{UserTurn("what is 2+2?")}, nil)
	require.NoError(t, err)
	assert.True(t, d.Final())
	assert.Equal(t, "the answer is 4", d.Text)
	assert.Equal(t, int64(12), d.Usage.InputTokens)
	assert.Equal(t, int64(6), d.Usage.OutputTokens)

	require.Len(t, mock.lastParams.Messages, 1)
	assert.Equal(t, DefaultAnthropicModel, mock.lastParams.Model)
	require.Len(t, mock.lastParams.System, 1)
	assert.Equal(t, "be helpful", mock.lastParams.System[0].Text)
}

func TestAnthropicToolUse(t *testing.T) {
	mock := &mockMessages{message: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "toolu_1", Name: "mcp__fs__list_files",
				Input: json.RawMessage(`{"path":"."}`)},
		},
	}}
	p := newTestAnthropic(mock)

	d, err := p.GenerateResponse(context.Background(),
		[]Turn{UserTurn("list files")},
		[]ToolSpec{{Name: "mcp__fs__list_files", Server: "fs", Description: "lists files"}})
	require.NoError(t, err)
	assert.False(t, d.Final())
	assert.Equal(t, "let me check", d.Text)
	require.Len(t, d.ToolCalls, 1)
	assert.Equal(t, "toolu_1", d.ToolCalls[0].ID)
	assert.Equal(t, "mcp__fs__list_files", d.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "."}, d.ToolCalls[0].Arguments)

	require.Len(t, mock.lastParams.Tools, 1)
	assert.Equal(t, "mcp__fs__list_files", mock.lastParams.Tools[0].OfTool.Name)
}

func TestAnthropicEncodesToolHistory(t *testing.T) {
	mock := &mockMessages{message: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "done"}},
	}}
	p := newTestAnthropic(mock)

	turns := []Turn{
		UserTurn("list files"),
		AssistantTurn("let me check"),
		ToolCallTurn("toolu_1", "fs", "mcp__fs__list_files", map[string]any{"path": "."}),
		ToolResultTurn("toolu_1", "a.txt\nb.txt", false),
	}
	_, err := p.GenerateResponse(context.Background(), turns, nil)
	require.NoError(t, err)

	msgs := mock.lastParams.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[2].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[3].Role)
}

func TestAnthropicSystemTurnOverride(t *testing.T) {
	mock := &mockMessages{message: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}},
	}}
	p := newTestAnthropic(mock)

	_, err := p.GenerateResponse(context.Background(),
		[]Turn{SystemTurn("you run tools"), UserTurn("hi")}, nil)
	require.NoError(t, err)
	require.Len(t, mock.lastParams.System, 1)
	assert.Equal(t, "you run tools", mock.lastParams.System[0].Text)
	// The system turn never becomes a message.
	assert.Len(t, mock.lastParams.Messages, 1)
}

func TestAnthropicReplayIsDeterministic(t *testing.T) {
	mock := &mockMessages{message: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}},
	}}
	p := newTestAnthropic(mock)

	turns := []Turn{
		UserTurn("list files"),
		ToolCallTurn("toolu_1", "fs", "mcp__fs__list_files", map[string]any{"path": "."}),
		ToolResultTurn("toolu_1", "a.txt\nb.txt", false),
	}
	manifest := []ToolSpec{
		{Name: "mcp__fs__list_files", Server: "fs", Description: "lists files",
			InputSchema: map[string]any{"type": "object"}},
		{Name: "mcp__search__query", Server: "search", Description: "web search"},
	}

	_, err := p.GenerateResponse(context.Background(), turns, manifest)
	require.NoError(t, err)
	first := mock.lastParams

	_, err = p.GenerateResponse(context.Background(), turns, manifest)
	require.NoError(t, err)
	assert.Equal(t, first, mock.lastParams)
}

func TestAnthropicAPIErrorClassification(t *testing.T) {
	mock := &mockMessages{err: errors.New("overloaded_error: try later")}
	p := newTestAnthropic(mock)

	_, err := p.GenerateResponse(context.Background(), []Turn{UserTurn("hi")}, nil)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
	assert.Equal(t, "anthropic", perr.Provider)

	mock.err = errors.New("401 unauthorized")
	_, err = p.GenerateResponse(context.Background(), []Turn{UserTurn("hi")}, nil)
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Retryable)
}

func TestAnthropicUnreliableToolWarning(t *testing.T) {
	spec := ToolSpec{Name: "t", Description: "does things", Unreliable: true}
	assert.Contains(t, describeTool(spec), "degraded")

	spec.Unreliable = false
	assert.Equal(t, "does things", describeTool(spec))
}
