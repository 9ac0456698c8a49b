package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"faden/internal/chat"
	"faden/internal/gateway"
)

// chatRequest is the wire shape of the completion endpoint.
type chatRequest struct {
	Messages    []chat.Turn `json:"messages"`
	Model       string      `json:"model,omitempty"`
	VisionModel string      `json:"visionModel,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"maxTokens,omitempty"`
	Thinking    bool        `json:"thinking,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, gateway.MsgBadJSON)
			return
		}

		result, err := deps.Gateway.Complete(r.Context(), clientID(r), gateway.Request{
			Turns:       req.Messages,
			Model:       req.Model,
			VisionModel: req.VisionModel,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Thinking:    req.Thinking,
		})
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{Content: result.Content, Model: result.Model})
	}
}

// writeGatewayError maps the error taxonomy onto status codes. Upstream
// failures keep the provider's status; their message is already sanitized.
func writeGatewayError(w http.ResponseWriter, err error) {
	var (
		verr   *gateway.ValidationError
		rlErr  *gateway.RateLimitError
		toErr  *gateway.TimeoutError
		upErr  *gateway.UpstreamError
		cfgErr *gateway.ConfigurationError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   gateway.MsgInvalidRequest,
			"details": verr.Details,
		})
	case errors.As(err, &rlErr):
		writeMessage(w, http.StatusTooManyRequests, gateway.MsgRateLimited)
	case errors.As(err, &toErr):
		writeMessage(w, http.StatusGatewayTimeout, gateway.MsgTimeout)
	case errors.As(err, &cfgErr):
		writeMessage(w, http.StatusInternalServerError, gateway.MsgConfiguration)
	case errors.As(err, &upErr):
		writeMessage(w, upErr.Status, upErr.Message)
	default:
		writeMessage(w, http.StatusInternalServerError, gateway.MsgGeneric)
	}
}

// clientID keys the rate-limit window: the remote host, without the port so
// one client does not get a fresh window per connection.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
