package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"faden/internal/chat"
	"faden/internal/provider"
)

// mockCompleter implements provider.Completer for testing.
type mockCompleter struct {
	response provider.Response
	err      error
	calls    int
	lastReq  provider.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	m.calls++
	m.lastReq = req
	return m.response, m.err
}

// allowAll is a limiter that admits everything.
type allowAll struct{}

func (allowAll) Check(string) bool { return true }

// denyAll rejects everything.
type denyAll struct{}

func (denyAll) Check(string) bool { return false }

func userTurns(texts ...string) []chat.Turn {
	turns := make([]chat.Turn, len(texts))
	for i, t := range texts {
		turns[i] = chat.Turn{Role: chat.RoleUser, Content: t}
	}
	return turns
}

func TestComplete_Success(t *testing.T) {
	mock := &mockCompleter{response: provider.Response{Content: "Hallo!", Model: "gpt-test"}}
	g := New(mock, allowAll{}, "gpt-test", "gpt-vision")

	got, err := g.Complete(context.Background(), "client", Request{Turns: userTurns("Hallo")})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Content != "Hallo!" || got.Model != "gpt-test" {
		t.Errorf("result = %+v, want Hallo!/gpt-test", got)
	}
}

func TestComplete_TooManyMessages(t *testing.T) {
	mock := &mockCompleter{}
	g := New(mock, allowAll{}, "m", "v")

	texts := make([]string, 101)
	for i := range texts {
		texts[i] = "x"
	}
	_, err := g.Complete(context.Background(), "client", Request{Turns: userTurns(texts...)})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(verr.Details) != 1 || verr.Details[0].Field != "messages" {
		t.Errorf("details = %+v, want single messages field error", verr.Details)
	}
	if mock.calls != 0 {
		t.Errorf("provider called %d times, want 0 (fail fast)", mock.calls)
	}
}

func TestValidate_FieldBounds(t *testing.T) {
	bigTemp := 2.5
	smallTokens := 0
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty messages", Request{}, "messages"},
		{
			"oversized text",
			Request{Turns: []chat.Turn{{Role: chat.RoleUser, Content: strings.Repeat("a", MaxTextLen+1)}}},
			"messages[0].content",
		},
		{
			"too many images",
			Request{Turns: []chat.Turn{{Role: chat.RoleUser, Images: make([]chat.Image, 11)}}},
			"messages[0].images",
		},
		{
			"oversized image",
			Request{Turns: []chat.Turn{{Role: chat.RoleUser, Images: []chat.Image{
				{Data: strings.Repeat("A", MaxImageB64Len+1), MimeType: "image/png"},
			}}}},
			"messages[0].images[0]",
		},
		{
			"bad mime type",
			Request{Turns: []chat.Turn{{Role: chat.RoleUser, Images: []chat.Image{
				{Data: "AAAA", MimeType: "image/tiff"},
			}}}},
			"messages[0].images[0]",
		},
		{
			"bad role",
			Request{Turns: []chat.Turn{{Role: "bot", Content: "x"}}},
			"messages[0].role",
		},
		{
			"temperature out of range",
			Request{Turns: userTurns("x"), Temperature: &bigTemp},
			"temperature",
		},
		{
			"maxTokens out of range",
			Request{Turns: userTurns("x"), MaxTokens: &smallTokens},
			"maxTokens",
		},
		{
			"model too long",
			Request{Turns: userTurns("x"), Model: strings.Repeat("m", 51)},
			"model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := Validate(tt.req)
			if verr == nil {
				t.Fatal("Validate() = nil, want error")
			}
			found := false
			for _, d := range verr.Details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("details = %+v, want field %q", verr.Details, tt.field)
			}
		})
	}
}

func TestValidate_AcceptsBoundaryValues(t *testing.T) {
	temp := 2.0
	tokens := 128000
	req := Request{
		Turns:       userTurns(strings.Repeat("a", MaxTextLen)),
		Temperature: &temp,
		MaxTokens:   &tokens,
		Model:       strings.Repeat("m", 50),
	}
	if verr := Validate(req); verr != nil {
		t.Errorf("Validate() = %v, want nil at boundaries", verr)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	mock := &mockCompleter{}
	g := New(mock, denyAll{}, "m", "v")

	_, err := g.Complete(context.Background(), "client", Request{Turns: userTurns("x")})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if mock.calls != 0 {
		t.Error("provider should not be called when rate limited")
	}
}

func TestComplete_MissingConfiguration(t *testing.T) {
	g := New(nil, allowAll{}, "m", "v")
	_, err := g.Complete(context.Background(), "client", Request{Turns: userTurns("x")})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestComplete_VisionModelForced(t *testing.T) {
	mock := &mockCompleter{response: provider.Response{Content: "ok"}}
	g := New(mock, allowAll{}, "text-model", "vision-model")

	turns := []chat.Turn{{
		Role:    chat.RoleUser,
		Content: "was ist das?",
		Images:  []chat.Image{{Data: "AAAA", MimeType: "image/png"}},
	}}
	if _, err := g.Complete(context.Background(), "c", Request{Turns: turns, Model: "text-model"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if mock.lastReq.Model != "vision-model" {
		t.Errorf("model = %q, want vision-model forced despite requested text model", mock.lastReq.Model)
	}

	// Caller-supplied vision model wins over the configured one.
	if _, err := g.Complete(context.Background(), "c", Request{Turns: turns, VisionModel: "custom-vision"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if mock.lastReq.Model != "custom-vision" {
		t.Errorf("model = %q, want custom-vision", mock.lastReq.Model)
	}
}

func TestComplete_DefaultModel(t *testing.T) {
	mock := &mockCompleter{response: provider.Response{Content: "ok"}}
	g := New(mock, allowAll{}, "default-model", "v")

	g.Complete(context.Background(), "c", Request{Turns: userTurns("x")})
	if mock.lastReq.Model != "default-model" {
		t.Errorf("model = %q, want default-model", mock.lastReq.Model)
	}
}

func TestComplete_TimeoutClassified(t *testing.T) {
	mock := &mockCompleter{err: provider.ErrTimeout}
	g := New(mock, allowAll{}, "m", "v")

	_, err := g.Complete(context.Background(), "c", Request{Turns: userTurns("x")})
	var tErr *TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
}

func TestComplete_UpstreamSanitized(t *testing.T) {
	mock := &mockCompleter{err: &provider.StatusError{StatusCode: 400, Body: "invalid model specified"}}
	g := New(mock, allowAll{}, "m", "v")

	_, err := g.Complete(context.Background(), "c", Request{Turns: userTurns("x")})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if upErr.Status != 400 {
		t.Errorf("status = %d, want 400 preserved", upErr.Status)
	}
	if upErr.Message != "invalid model specified" {
		t.Errorf("message = %q, want allow-listed body passed through", upErr.Message)
	}
}

func TestComplete_UpstreamStackTraceCollapsed(t *testing.T) {
	body := "panic: runtime error at server.go:42\ngoroutine 1 [running]..."
	mock := &mockCompleter{err: &provider.StatusError{StatusCode: 500, Body: body}}
	g := New(mock, allowAll{}, "m", "v")

	_, err := g.Complete(context.Background(), "c", Request{Turns: userTurns("x")})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if upErr.Message != MsgGeneric {
		t.Errorf("message = %q, want generic message for unlisted body", upErr.Message)
	}
}
