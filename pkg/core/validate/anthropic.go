package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
)

// AnthropicReviewer implements Reviewer over the Anthropic Messages API.
// The reviewer is deliberately a different vendor than the planner so one
// model family's blind spots do not approve its own mistakes.
type AnthropicReviewer struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicReviewer builds a reviewer client. baseURL may be empty for
// the public API; model may be empty for the default.
func NewAnthropicReviewer(baseURL, apiKey, model string) (*AnthropicReviewer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reviewer API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	m := anthropic.ModelClaudeSonnet4_5_20250929
	if model != "" {
		m = anthropic.Model(model)
	}

	return &AnthropicReviewer{
		client: anthropic.NewClient(opts...),
		model:  m,
	}, nil
}

// Review sends one prompt and returns the concatenated text reply.
func (r *AnthropicReviewer) Review(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyReviewerError(err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", core.NewTransientUpstreamError("validator", fmt.Errorf("empty reply"))
	}
	return b.String(), nil
}

func classifyReviewerError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
		return core.NewAPIError(fmt.Sprintf("reviewer request rejected: %v", err))
	}
	return core.NewTransientUpstreamError("validator", err)
}
