package modelclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/louisbranch/edgetales/internal/apperrors"
)

// AnthropicCompleter calls the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter builds a completer from an API key.
func NewAnthropicCompleter(apiKey string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  buildMessages(req),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, classify(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return Response{
		Text:      b.String(),
		Truncated: msg.StopReason == anthropic.StopReasonMaxTokens,
	}, nil
}

func buildMessages(req Request) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(req.History)*2+2)
	for _, ex := range req.History {
		msgs = append(msgs,
			anthropic.NewUserMessage(anthropic.NewTextBlock(ex.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Assistant)),
		)
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
	if req.Prefill != "" {
		msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(req.Prefill)))
	}
	return msgs
}

// classify maps transport failures onto the retry taxonomy. Rate limits,
// timeouts, and server errors are worth retrying; everything else in the
// 4xx range is not.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return apperrors.Wrap(apperrors.CodeGeneratorTransient, err)
		default:
			return apperrors.Wrap(apperrors.CodeGeneratorPermanent, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.CodeGeneratorTransient, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeGeneratorPermanent, err)
	}
	return apperrors.Wrap(apperrors.CodeGeneratorTransient, err)
}
