// Package gateway validates inbound chat requests, applies rate limiting,
// selects the model variant, and forwards to the provider. It owns the error
// taxonomy and guarantees that raw upstream failures never pass through
// unsanitized.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"faden/internal/chat"
	"faden/internal/provider"
)

// Validation bounds. Violations are reported per field before any outbound
// call is made.
const (
	MaxTurns         = 100
	MaxTextLen       = 50000
	MaxImagesPerTurn = 10
	MaxImageB64Len   = 1000000
	MaxModelLen      = 50
	MinTemperature   = 0.0
	MaxTemperature   = 2.0
	MinMaxTokens     = 1
	MaxMaxTokens     = 128000
)

// allowedImageMimes is the image attachment allow-list.
var allowedImageMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Request is a validated-on-entry chat completion request.
type Request struct {
	Turns       []chat.Turn
	Model       string
	VisionModel string
	Temperature *float64
	MaxTokens   *int
	Thinking    bool
}

// Result is the completed response.
type Result struct {
	Content string
	Model   string
}

// Limiter is the admission-control contract (implemented by ratelimit.Limiter).
type Limiter interface {
	Check(identifier string) bool
}

// Gateway is stateless across calls except for its limiter.
type Gateway struct {
	completer    provider.Completer
	limiter      Limiter
	defaultModel string
	visionModel  string
}

// New builds a Gateway. completer may be nil when provider credentials are
// missing; Complete then fails with a ConfigurationError instead of panicking,
// so the rest of the service keeps running.
func New(completer provider.Completer, limiter Limiter, defaultModel, visionModel string) *Gateway {
	return &Gateway{
		completer:    completer,
		limiter:      limiter,
		defaultModel: defaultModel,
		visionModel:  visionModel,
	}
}

// Complete validates, rate-limits, and forwards a request. clientID keys the
// rate-limit window (one per calling client, not per thread).
func (g *Gateway) Complete(ctx context.Context, clientID string, req Request) (Result, error) {
	if verr := Validate(req); verr != nil {
		return Result{}, verr
	}

	if g.limiter != nil && !g.limiter.Check(clientID) {
		return Result{}, &RateLimitError{}
	}

	if g.completer == nil {
		return Result{}, &ConfigurationError{Missing: "provider API key"}
	}

	model := g.selectModel(req)

	resp, err := g.completer.Complete(ctx, provider.Request{
		Model:       model,
		Messages:    serialize(req.Turns),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Result{}, classify(err)
	}

	return Result{Content: resp.Content, Model: resp.Model}, nil
}

// selectModel forces the vision-capable variant whenever any turn carries an
// image, regardless of the requested text model.
func (g *Gateway) selectModel(req Request) string {
	if hasImages(req.Turns) {
		if req.VisionModel != "" {
			return req.VisionModel
		}
		return g.visionModel
	}
	if req.Model != "" {
		return req.Model
	}
	return g.defaultModel
}

func hasImages(turns []chat.Turn) bool {
	for _, t := range turns {
		if len(t.Images) > 0 {
			return true
		}
	}
	return false
}

// serialize maps turns to provider messages. Content-part ordering (images
// first, text last, empty text omitted) is handled by the provider client.
func serialize(turns []chat.Turn) []provider.Message {
	out := make([]provider.Message, len(turns))
	for i, t := range turns {
		out[i] = provider.Message{Role: string(t.Role), Text: t.Content, Images: t.Images}
	}
	return out
}

// classify maps provider errors into the gateway taxonomy.
func classify(err error) error {
	if errors.Is(err, provider.ErrTimeout) {
		return &TimeoutError{}
	}
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		return &UpstreamError{
			Status:  statusErr.StatusCode,
			Message: SanitizeUpstream(statusErr.Body),
		}
	}
	slog.Warn("unclassified provider error", "error", err)
	return fmt.Errorf("provider call failed: %w", err)
}

// Validate checks the request against the gateway's bounds and returns a
// field-level ValidationError on the first pass over each field group.
func Validate(req Request) *ValidationError {
	var details []FieldError

	if n := len(req.Turns); n < 1 || n > MaxTurns {
		details = append(details, FieldError{
			Field:   "messages",
			Message: fmt.Sprintf("must contain between 1 and %d messages, got %d", MaxTurns, n),
		})
	}

	for i, turn := range req.Turns {
		if !turn.Role.Valid() {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: fmt.Sprintf("unknown role %q", turn.Role),
			})
		}
		if len(turn.Content) > MaxTextLen {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: fmt.Sprintf("exceeds %d characters", MaxTextLen),
			})
		}
		if len(turn.Images) > MaxImagesPerTurn {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("messages[%d].images", i),
				Message: fmt.Sprintf("at most %d images per message", MaxImagesPerTurn),
			})
		}
		for j, img := range turn.Images {
			if len(img.Data) > MaxImageB64Len {
				details = append(details, FieldError{
					Field:   fmt.Sprintf("messages[%d].images[%d]", i, j),
					Message: fmt.Sprintf("image exceeds %d base64 characters", MaxImageB64Len),
				})
			}
			if !allowedImageMimes[img.MimeType] {
				details = append(details, FieldError{
					Field:   fmt.Sprintf("messages[%d].images[%d]", i, j),
					Message: fmt.Sprintf("unsupported image type %q", img.MimeType),
				})
			}
		}
	}

	if req.Temperature != nil && (*req.Temperature < MinTemperature || *req.Temperature > MaxTemperature) {
		details = append(details, FieldError{
			Field:   "temperature",
			Message: fmt.Sprintf("must be between %g and %g", MinTemperature, MaxTemperature),
		})
	}
	if req.MaxTokens != nil && (*req.MaxTokens < MinMaxTokens || *req.MaxTokens > MaxMaxTokens) {
		details = append(details, FieldError{
			Field:   "maxTokens",
			Message: fmt.Sprintf("must be between %d and %d", MinMaxTokens, MaxMaxTokens),
		})
	}
	if len(req.Model) > MaxModelLen {
		details = append(details, FieldError{Field: "model", Message: fmt.Sprintf("exceeds %d characters", MaxModelLen)})
	}
	if len(req.VisionModel) > MaxModelLen {
		details = append(details, FieldError{Field: "visionModel", Message: fmt.Sprintf("exceeds %d characters", MaxModelLen)})
	}

	if len(details) == 0 {
		return nil
	}
	return &ValidationError{Details: details}
}
