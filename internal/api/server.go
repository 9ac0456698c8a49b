// Package api exposes the HTTP surface: the chat completion endpoint, thread
// and memory management routes, and the MCP server. Handlers translate the
// gateway's error taxonomy into status codes and localized messages.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faden/internal/chat"
	"faden/internal/engine"
	"faden/internal/gateway"
	"faden/internal/memory"
	"faden/internal/persist"
)

const maxRequestBodySize = 20 << 20 // 20MB, image payloads included

// ThreadStore is the slice of the persistence adapter the API reads directly.
type ThreadStore interface {
	LoadAll() ([]chat.Thread, error)
	Delete(id string) error
}

// MemoryStore covers explicit memory management.
type MemoryStore interface {
	SaveMemory(r memory.Record) (memory.Record, error)
	ListMemories() ([]memory.Record, error)
	DeleteMemory(id string) error
}

// StarLister reads star annotations for thread rendering.
type StarLister interface {
	ListStars(threadID string) ([]int, error)
}

// Deps holds the handler dependencies.
type Deps struct {
	Gateway  *gateway.Gateway
	Registry *engine.Registry
	Threads  ThreadStore
	Memories MemoryStore
	Stars    StarLister
	Mode     func() persist.Mode
	// Token guards the management routes. When empty, they are open;
	// /v1/chat and /health never require auth.
	Token string
}

// NewHandler builds the router. Every response carries an X-Faden-Degraded
// header when the persistence adapter has fallen back to the local cache.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(degradedHeader(deps.Mode))

	r.Post("/v1/chat", handleChat(deps))
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/threads", handleListThreads(deps))
		r.Post("/threads", handleCreateThread(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Delete("/threads/{id}", handleDeleteThread(deps))
		r.Post("/threads/{id}/messages", handleSendMessage(deps))
		r.Post("/threads/{id}/regenerate", handleRegenerate(deps))
		r.Patch("/threads/{id}/messages/{index}", handleEditMessage(deps))
		r.Delete("/threads/{id}/messages/{index}", handleDeleteMessage(deps))
		r.Post("/threads/{id}/messages/{index}/star", handleToggleStar(deps))

		r.Get("/memories", handleListMemories(deps))
		r.Post("/memories", handleCreateMemory(deps))
		r.Delete("/memories/{id}", handleDeleteMemory(deps))
	})

	return r
}

// degradedHeader flags responses produced while the adapter is serving from
// the local cache so clients can warn that the session is unsynced.
func degradedHeader(mode func() persist.Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode != nil && mode() == persist.ModeDegraded {
				w.Header().Set("X-Faden-Degraded", "true")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := persist.ModeConnected
		if deps.Mode != nil {
			mode = deps.Mode()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"mode":   mode,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
