// Package provider wraps the outbound chat-completion client. It speaks the
// OpenAI-compatible API (works against OpenRouter and compatible gateways)
// and reports failures as typed errors the gateway can classify.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"faden/internal/chat"
)

// Timeout bounds a single completion call. There is no user-visible
// cancellation below this; a slow provider call runs until the deadline.
const Timeout = 60 * time.Second

// Message is one serialized turn ready for the provider.
type Message struct {
	Role   string
	Text   string
	Images []chat.Image
}

// Request is a complete outbound call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Response is the provider's answer, retrieved whole (no streaming).
type Response struct {
	Content string
	Model   string
}

// StatusError is a non-2xx provider response with its raw body. The body is
// untrusted; callers must sanitize before surfacing it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

// ErrTimeout is returned when the call exceeds Timeout.
var ErrTimeout = errors.New("provider call timed out")

// Completer is the outbound contract the gateway depends on.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client calls an OpenAI-compatible chat-completion endpoint.
type Client struct {
	client *openai.Client
}

// headerTransport injects static headers into every request (OpenRouter
// attribution headers).
type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

// New creates a Client. baseURL may be empty for the OpenAI default; referer
// and title are optional OpenRouter attribution headers.
func New(apiKey, baseURL, referer, title string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if referer != "" || title != "" {
		h := http.Header{}
		if referer != "" {
			h.Set("HTTP-Referer", referer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: http.DefaultTransport, headers: h}}
	}
	return &Client{client: openai.NewClientWithConfig(config)}
}

// Complete sends the request and returns the whole response. Image parts are
// serialized before the text part; a turn without attachments goes out as
// plain text.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	oaReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildMessages(req.Messages),
	}
	if req.Temperature != nil {
		oaReq.Temperature = float32(*req.Temperature)
		if oaReq.Temperature == 0 {
			// The client omits a zero temperature from the request body
			// (omitempty), so the provider would fall back to its default.
			// The smallest positive float still serializes and is
			// indistinguishable from 0 upstream.
			oaReq.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if req.MaxTokens != nil {
		oaReq.MaxTokens = *req.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &StatusError{StatusCode: http.StatusBadGateway, Body: "empty completion"}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return Response{Content: resp.Choices[0].Message.Content, Model: model}, nil
}

// buildMessages converts serialized turns to the wire shape: plain content
// when there are no images, otherwise an ordered part list with images first
// and the text part appended only when non-empty.
func buildMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Text})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
				},
			})
		}
		if m.Text != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Text,
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}

// classify maps transport errors to the package's typed errors.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("completing chat request: %w", err)
}
