package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faden/internal/gateway"
	"faden/internal/memory"
	"faden/internal/storage"
)

type memoryRequest struct {
	Key      string          `json:"key"`
	Value    string          `json:"value"`
	Category memory.Category `json:"category,omitempty"`
}

func handleListMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Memories.ListMemories()
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to list memories")
			return
		}
		if records == nil {
			records = []memory.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleCreateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, gateway.MsgBadJSON)
			return
		}
		if req.Key == "" || req.Value == "" {
			writeMessage(w, http.StatusBadRequest, "key and value are required")
			return
		}
		if req.Category == "" {
			req.Category = memory.CategoryOther
		}

		saved, err := deps.Memories.SaveMemory(memory.Record{
			Key:      req.Key,
			Value:    req.Value,
			Category: req.Category,
		})
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to save memory")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Memories.DeleteMemory(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "memory not found")
			return
		}
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to delete memory")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
