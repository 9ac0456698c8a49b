package gateway

import (
	"fmt"
	"strings"
)

// User-facing messages. The web client was German-localized; these strings
// are part of the HTTP contract and end up in synthetic assistant turns.
const (
	MsgInvalidRequest = "Ungültige Anfrage"
	MsgRateLimited    = "Zu viele Anfragen. Bitte warte einen Moment und versuche es erneut."
	MsgTimeout        = "Zeitüberschreitung bei der Anfrage. Bitte versuche es erneut."
	MsgConfiguration  = "Der Dienst ist nicht vollständig konfiguriert."
	MsgGeneric        = "Bei der Verarbeitung ist ein Fehler aufgetreten. Bitte versuche es erneut."
	MsgBadJSON        = "Die Anfrage konnte nicht gelesen werden."
)

// FieldError names one offending field and the constraint it violated.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports bad input shape or size with field-level detail.
// Recoverable by the caller; never the result of an outbound call.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	fields := make([]string, len(e.Details))
	for i, d := range e.Details {
		fields[i] = d.Field
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(fields, ", "))
}

// RateLimitError means the client exceeded the admission window.
type RateLimitError struct{}

func (e *RateLimitError) Error() string { return "rate limited" }

// TimeoutError means the upstream call exceeded its deadline.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "upstream timeout" }

// UpstreamError is a non-2xx provider response. Message has already been
// sanitized; Status preserves the provider's HTTP status for the caller.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Message)
}

// ConfigurationError means required server configuration (provider
// credentials) is missing. Fatal for the chat surface, not user-recoverable.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Missing)
}

// UserMessage maps an error from Complete to the string shown in the thread.
// Upstream messages are already sanitized; everything unknown collapses to
// the generic message so internals never leak into a chat bubble.
func UserMessage(err error) string {
	switch e := err.(type) {
	case *ValidationError:
		return MsgInvalidRequest
	case *RateLimitError:
		return MsgRateLimited
	case *TimeoutError:
		return MsgTimeout
	case *ConfigurationError:
		return MsgConfiguration
	case *UpstreamError:
		return e.Message
	default:
		return MsgGeneric
	}
}
