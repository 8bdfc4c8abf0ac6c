package provider

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.ChatModel("gpt-4o")

// chatClient is the subset of the OpenAI SDK used by the provider.
// *openai.ChatCompletionService satisfies it; tests pass a mock.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI generates responses via the OpenAI Chat Completions API.
type OpenAI struct {
	chat   chatClient
	model  openai.ChatModel
	system string
}

var _ Provider = (*OpenAI)(nil)

// OpenAIOption configures an OpenAI provider.
type OpenAIOption func(*OpenAI)

// WithOpenAIModel overrides the default model.
func WithOpenAIModel(model openai.ChatModel) OpenAIOption {
	return func(p *OpenAI) { p.model = model }
}

// WithOpenAISystemPrompt sets the system prompt sent on every call.
func WithOpenAISystemPrompt(prompt string) OpenAIOption {
	return func(p *OpenAI) { p.system = prompt }
}

// NewOpenAI creates an OpenAI provider. An empty apiKey defers to the
// OPENAI_API_KEY environment variable.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	var client openai.Client
	if apiKey != "" {
		client = openai.NewClient(option.WithAPIKey(apiKey))
	} else {
		client = openai.NewClient()
	}
	p := &OpenAI{
		chat:  &client.Chat.Completions,
		model: DefaultOpenAIModel,
	}
	for _, fn := range opts {
		fn(p)
	}
	return p
}

// Name implements Provider.
func (p *OpenAI) Name() string { return "openai" }

// GenerateResponse implements Provider. Tool calls in the first choice
// become ToolCalls; arguments arrive as a JSON string and are decoded into
// the provider-agnostic mapping.
func (p *OpenAI) GenerateResponse(ctx context.Context, turns []Turn, manifest []ToolSpec) (*Decision, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: p.encodeTurns(turns),
	}
	if tools := encodeOpenAITools(manifest); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return nil, &Error{
			Provider:  p.Name(),
			Retryable: retryableAPIError(err),
			Detail:    "chat.completions.new failed",
			Cause:     err,
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: p.Name(), Detail: "response contained no choices"}
	}

	choice := resp.Choices[0]
	decision := &Decision{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		args, err := decodeArguments(json.RawMessage(call.Function.Arguments))
		if err != nil {
			return nil, &Error{
				Provider: p.Name(),
				Detail:   "malformed tool call arguments for " + call.Function.Name,
				Cause:    err,
			}
		}
		decision.ToolCalls = append(decision.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return decision, nil
}

// encodeTurns maps the conversation log onto chat completion messages.
// A tool_call turn becomes an assistant message carrying the call; the
// paired tool_result becomes a tool role message referencing the call id.
func (p *OpenAI) encodeTurns(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system := systemText(turns, p.system); system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, t := range turns {
		switch t.Kind {
		case TurnUser:
			msgs = append(msgs, openai.UserMessage(t.Text))
		case TurnAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		case TurnToolCall:
			args, _ := json.Marshal(t.Arguments)
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: t.CallID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      t.Tool,
							Arguments: string(args),
						},
					}},
				},
			})
		case TurnToolResult:
			content := t.Content
			if t.IsError {
				content = "error: " + content
			}
			msgs = append(msgs, openai.ToolMessage(content, t.CallID))
		}
	}
	return msgs
}

// encodeOpenAITools converts the manifest into function tool definitions.
func encodeOpenAITools(manifest []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(manifest))
	for _, spec := range manifest {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(describeTool(spec)),
				Parameters:  openai.FunctionParameters(spec.InputSchema),
			},
		})
	}
	return tools
}
