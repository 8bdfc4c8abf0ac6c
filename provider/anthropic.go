package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = anthropic.Model("claude-sonnet-4-5")

// defaultAnthropicMaxTokens caps completion length per call.
const defaultAnthropicMaxTokens = 4096

// messagesClient is the subset of the Anthropic SDK used by the provider.
// *anthropic.MessageService satisfies it; tests pass a mock.
type messagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Anthropic generates responses via the Anthropic Messages API.
type Anthropic struct {
	msg       messagesClient
	model     anthropic.Model
	maxTokens int64
	system    string
}

var _ Provider = (*Anthropic)(nil)

// AnthropicOption configures an Anthropic provider.
type AnthropicOption func(*Anthropic)

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model anthropic.Model) AnthropicOption {
	return func(p *Anthropic) { p.model = model }
}

// WithAnthropicMaxTokens overrides the per-call completion cap.
func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(p *Anthropic) { p.maxTokens = n }
}

// WithAnthropicSystemPrompt sets the system prompt sent on every call.
func WithAnthropicSystemPrompt(prompt string) AnthropicOption {
	return func(p *Anthropic) { p.system = prompt }
}

// NewAnthropic creates an Anthropic provider. An empty apiKey defers to the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	var client anthropic.Client
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	} else {
		client = anthropic.NewClient()
	}
	p := &Anthropic{
		msg:       &client.Messages,
		model:     DefaultAnthropicModel,
		maxTokens: defaultAnthropicMaxTokens,
	}
	for _, fn := range opts {
		fn(p)
	}
	return p
}

// Name implements Provider.
func (p *Anthropic) Name() string { return "anthropic" }

// GenerateResponse implements Provider. The conversation and manifest are
// translated deterministically into a single Messages.New call; tool_use
// blocks in the response become ToolCalls.
func (p *Anthropic) GenerateResponse(ctx context.Context, turns []Turn, manifest []ToolSpec) (*Decision, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  encodeAnthropicTurns(turns),
	}
	if system := systemText(turns, p.system); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if tools := encodeAnthropicTools(manifest); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, &Error{
			Provider:  p.Name(),
			Retryable: retryableAPIError(err),
			Detail:    "messages.new failed",
			Cause:     err,
		}
	}

	decision := &Decision{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args, err := decodeArguments(json.RawMessage(block.Input))
			if err != nil {
				return nil, &Error{
					Provider: p.Name(),
					Detail:   "malformed tool_use input for " + block.Name,
					Cause:    err,
				}
			}
			decision.ToolCalls = append(decision.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	decision.Text = strings.Join(text, "\n")
	return decision, nil
}

// encodeAnthropicTurns maps the conversation log onto Anthropic message
// params. Tool calls become assistant tool_use blocks; tool results become
// user tool_result blocks referencing the originating call id.
func encodeAnthropicTurns(turns []Turn) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case TurnUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		case TurnAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		case TurnToolCall:
			args := t.Arguments
			if args == nil {
				args = map[string]any{}
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(t.CallID, args, t.Tool)))
		case TurnToolResult:
			msgs = append(msgs, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(t.CallID, t.Content, t.IsError)))
		}
	}
	return msgs
}

// encodeAnthropicTools converts the manifest into API tool params. Order is
// preserved so the serialization is deterministic for a given manifest.
func encodeAnthropicTools(manifest []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(manifest))
	for _, spec := range manifest {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: param.NewOpt(describeTool(spec)),
				InputSchema: anthropic.ToolInputSchemaParam{ExtraFields: spec.InputSchema},
			},
		})
	}
	return tools
}

// describeTool appends an unreliability warning for degraded servers.
func describeTool(spec ToolSpec) string {
	if spec.Unreliable {
		return spec.Description + " (warning: this tool's server is degraded and may fail)"
	}
	return spec.Description
}

// systemText picks the system prompt for a call: an explicit system turn
// wins over the provider-level configuration.
func systemText(turns []Turn, fallback string) string {
	for _, t := range turns {
		if t.Kind == TurnSystem {
			return t.Text
		}
	}
	return fallback
}

// decodeArguments parses a tool_use input payload into an argument mapping.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// retryableAPIError classifies transport-level provider failures. Rate
// limits, overload, and upstream unavailability are worth retrying with
// backoff; everything else (auth, malformed request) is fatal.
func retryableAPIError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "model_unavailable") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "529")
}
