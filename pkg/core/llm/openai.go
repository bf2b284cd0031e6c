package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// OpenAIPlanner implements Planner over the OpenAI Chat Completions API.
type OpenAIPlanner struct {
	client openai.Client
	model  string
}

// NewOpenAIPlanner builds a planner client. baseURL may be empty for the
// public API; model may be empty for the default.
func NewOpenAIPlanner(baseURL, apiKey, model string) (*OpenAIPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("planner API key is required")
	}
	if model == "" {
		model = "gpt-4o"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIPlanner{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// PlanTurn sends the full instructions, tool declarations, and history, and
// returns the model's next move. Parallel tool calls are disabled so the
// planner requests at most a sequential chain of operations.
func (p *OpenAIPlanner) PlanTurn(ctx context.Context, req types.OrchestrationRequest) (TurnDecision, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Input)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	messages = append(messages, convertHistory(req.Input)...)

	params := openai.ChatCompletionNewParams{
		Messages:          messages,
		Model:             openai.ChatModel(p.model),
		ParallelToolCalls: openai.Bool(false),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return TurnDecision{}, classifyPlannerError(err)
	}
	if len(resp.Choices) == 0 {
		return TurnDecision{}, core.NewTransientUpstreamError("planner", fmt.Errorf("empty response"))
	}

	msg := resp.Choices[0].Message
	decision := TurnDecision{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed argument JSON is the model's fault, not ours. Pass
			// the empty map through so the executor reports missing params
			// back to the model instead of failing the whole turn.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		decision.Calls = append(decision.Calls, types.FunctionCall(id, tc.Function.Name, args))
	}
	return decision, nil
}

// Complete runs one free-form prompt outside the tool loop. The workflow
// synthesizer uses it for candidate generation and arbitration.
func (p *OpenAIPlanner) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(p.model),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", classifyPlannerError(err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewTransientUpstreamError("planner", fmt.Errorf("empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func convertHistory(history []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Kind {
		case types.KindUserText:
			out = append(out, openai.UserMessage(msg.Text))
		case types.KindAssistantText:
			out = append(out, openai.AssistantMessage(msg.Text))
		case types.KindFunctionCall:
			args, err := json.Marshal(msg.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallUnionParam{{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: msg.CallID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      msg.Name,
								Arguments: string(args),
							},
						},
					}},
				},
			})
		case types.KindFunctionResult:
			out = append(out, openai.ToolMessage(resultContent(msg), msg.CallID))
		}
	}
	return out
}

// resultContent renders a function result as the JSON the model reads back.
func resultContent(msg types.Message) string {
	if msg.Error != nil {
		body, _ := json.Marshal(map[string]string{
			"error":   msg.Error.Code,
			"message": msg.Error.Message,
		})
		return string(body)
	}
	if len(msg.Payload) == 0 {
		return "{}"
	}
	return string(msg.Payload)
}

func convertTools(tools []types.ToolSpec) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  openai.FunctionParameters(tool.JSONSchema),
		})
	}
	return out
}

// classifyPlannerError maps SDK failures onto the shared taxonomy so the
// orchestrator's retry policy can tell transient faults from hard ones.
func classifyPlannerError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return core.NewTransientUpstreamError("planner", err)
		}
		return core.NewAPIError(fmt.Sprintf("planner request rejected: %v", err))
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return core.NewTransientUpstreamError("planner", err)
	}
	return core.NewTransientUpstreamError("planner", err)
}
