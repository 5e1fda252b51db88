// Package modelclient wraps every call to the external text generator with
// retry, backoff, and response salvage. All agent adapters route through
// one Client so the policy is applied uniformly.
package modelclient

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/edgetales/internal/apperrors"
	"github.com/louisbranch/edgetales/internal/salvage"
)

// AgentKind identifies which agent a request belongs to, for logging and
// tracing.
type AgentKind string

const (
	AgentBrain    AgentKind = "brain"
	AgentNarrator AgentKind = "narrator"
	AgentDirector AgentKind = "director"
)

// Format declares how a response is validated and salvaged.
type Format int

const (
	FormatProse Format = iota
	FormatJSON
)

// Exchange is one prior user/assistant turn supplied for continuity.
type Exchange struct {
	User      string
	Assistant string
}

// Request describes one generator invocation.
type Request struct {
	Agent     AgentKind
	Model     string
	System    string
	Prompt    string
	History   []Exchange
	MaxTokens int64
	Format    Format
	// Prefill seeds the assistant's reply. The completer must return only
	// the continuation; Call prepends the prefill before validation.
	Prefill string
}

// Response is the raw completion before salvage.
type Response struct {
	Text string
	// Truncated is set when the generator stopped at its token budget.
	Truncated bool
}

// Completer performs the actual network call. Implementations classify
// their failures with apperrors codes so the retry policy can tell
// transient from permanent.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client retries generator calls with exponential backoff and runs every
// response through salvage before handing it to the caller.
type Client struct {
	completer   Completer
	maxAttempts uint
	backoffBase time.Duration
	logger      *log.Logger
	tracer      trace.Tracer
}

// NewClient wraps a completer with the retry policy. maxAttempts counts
// the first try; values below 1 are raised to 1.
func NewClient(completer Completer, maxAttempts uint, backoffBase time.Duration, logger *log.Logger) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		completer:   completer,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
		tracer:      otel.Tracer("edgetales/modelclient"),
	}
}

// Call invokes the generator, retrying transient and malformed responses
// up to the attempt budget. JSON requests return a validated object; prose
// requests return text trimmed to a clean boundary when truncated. After
// the budget is exhausted the error carries CodeGeneratorExhausted.
func (c *Client) Call(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "modelclient.Call",
		trace.WithAttributes(
			attribute.String("agent", string(req.Agent)),
			attribute.String("model", req.Model),
		))
	defer span.End()

	attempt := 0
	operation := func() (string, error) {
		attempt++
		resp, err := c.completer.Complete(ctx, req)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeGeneratorPermanent {
				return "", backoff.Permanent(err)
			}
			c.logger.Printf("generator attempt=%d agent=%s err=%v", attempt, req.Agent, err)
			return "", err
		}

		text := req.Prefill + resp.Text

		if req.Format == FormatJSON {
			obj, ok := salvageJSON(text, resp.Truncated)
			if !ok {
				// Seeding the next attempt with an open brace steers the
				// generator straight into the object.
				req.Prefill = "{"
				err := apperrors.New(apperrors.CodeMalformedResponse,
					fmt.Sprintf("agent %s returned unparseable output", req.Agent))
				c.logger.Printf("generator attempt=%d agent=%s err=%v", attempt, req.Agent, err)
				return "", err
			}
			return obj, nil
		}

		if resp.Truncated {
			text = salvage.TrimProse(text)
		}
		return text, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.backoffBase

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxAttempts))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Int("attempts", attempt))
		if apperrors.CodeOf(err) == apperrors.CodeGeneratorPermanent {
			return "", err
		}
		return "", apperrors.Wrap(apperrors.CodeGeneratorExhausted,
			fmt.Errorf("agent %s failed after %d attempts: %w", req.Agent, attempt, err))
	}
	span.SetAttributes(attribute.Int("attempts", attempt))
	return out, nil
}

// salvageJSON extracts and repairs a structured response. Truncated input
// is closed first; repair runs only when validation fails.
func salvageJSON(text string, truncated bool) (string, bool) {
	if truncated {
		text = salvage.CloseJSON(text)
	}
	obj, ok := salvage.ExtractJSON(text)
	if !ok {
		return "", false
	}
	if gjson.Valid(obj) {
		return obj, true
	}
	repaired := salvage.RepairJSON(obj)
	if gjson.Valid(repaired) {
		return repaired, true
	}
	closed := salvage.CloseJSON(repaired)
	if gjson.Valid(closed) {
		return closed, true
	}
	return "", false
}
