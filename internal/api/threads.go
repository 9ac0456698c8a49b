package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faden/internal/chat"
	"faden/internal/engine"
	"faden/internal/gateway"
	"faden/internal/storage"
)

// threadSummary is the list-view projection of a thread.
type threadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Turns     int    `json:"turns"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// threadView is the detail projection: the thread plus its annotations and
// the engine's dispatch state.
type threadView struct {
	chat.Thread
	Stars []int  `json:"stars"`
	State string `json:"state"`
}

type sendRequest struct {
	Text   string       `json:"text"`
	Images []chat.Image `json:"images,omitempty"`
	Files  []chat.File  `json:"files,omitempty"`
}

type editRequest struct {
	Content string `json:"content"`
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := deps.Threads.LoadAll()
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to list threads")
			return
		}
		summaries := make([]threadSummary, len(threads))
		for i, t := range threads {
			summaries[i] = threadSummary{
				ID:        t.ID,
				Title:     t.Title,
				Turns:     len(t.Turns),
				CreatedAt: t.CreatedAt.Format(timeFormat),
				UpdatedAt: t.UpdatedAt.Format(timeFormat),
			}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleCreateThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Registry.Start()
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to create thread")
			return
		}
		writeThread(w, http.StatusCreated, deps, e)
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		writeThread(w, http.StatusOK, deps, e)
	}
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Threads.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "thread not found")
			return
		}
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, "failed to delete thread")
			return
		}
		deps.Registry.Forget(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleSendMessage runs a send through the engine. A gateway failure is not
// an HTTP error here: the engine has already recorded the error notice as an
// assistant turn, so the updated thread is returned either way.
func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, gateway.MsgBadJSON)
			return
		}

		_, err := e.Send(r.Context(), engine.Input{Text: req.Text, Images: req.Images, Files: req.Files})
		if errors.Is(err, engine.ErrBusy) {
			writeMessage(w, http.StatusConflict, "a request is already in flight for this thread")
			return
		}
		if err != nil && !isGatewayError(err) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		writeThread(w, http.StatusOK, deps, e)
	}
}

// handleRegenerate surfaces gateway failures directly: the engine restored
// the previous trailing turn, so there is no in-thread notice to return.
func handleRegenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		_, err := e.Regenerate(r.Context())
		switch {
		case errors.Is(err, engine.ErrBusy):
			writeMessage(w, http.StatusConflict, "a request is already in flight for this thread")
			return
		case errors.Is(err, engine.ErrNotRegenerable):
			writeMessage(w, http.StatusBadRequest, "thread does not end in an assistant message")
			return
		case err != nil:
			writeGatewayError(w, err)
			return
		}
		writeThread(w, http.StatusOK, deps, e)
	}
}

func handleEditMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		index, ok := parseIndex(w, r)
		if !ok {
			return
		}

		var req editRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, gateway.MsgBadJSON)
			return
		}

		_, err := e.Apply(r.Context(), engine.CommitEdit{Index: index, Content: req.Content})
		switch {
		case errors.Is(err, engine.ErrBusy):
			writeMessage(w, http.StatusConflict, "a request is already in flight for this thread")
			return
		case errors.Is(err, engine.ErrInvalidIndex), errors.Is(err, engine.ErrSystemTurn):
			writeMessage(w, http.StatusNotFound, "no editable message at that index")
			return
		case err != nil && !isGatewayError(err):
			writeMessage(w, http.StatusInternalServerError, gateway.MsgGeneric)
			return
		}
		writeThread(w, http.StatusOK, deps, e)
	}
}

func handleDeleteMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		index, ok := parseIndex(w, r)
		if !ok {
			return
		}

		_, err := e.DeleteMessage(index)
		switch {
		case errors.Is(err, engine.ErrBusy):
			writeMessage(w, http.StatusConflict, "a request is already in flight for this thread")
			return
		case errors.Is(err, engine.ErrInvalidIndex), errors.Is(err, engine.ErrSystemTurn):
			writeMessage(w, http.StatusNotFound, "no message at that index")
			return
		case err != nil:
			writeMessage(w, http.StatusInternalServerError, gateway.MsgGeneric)
			return
		}
		writeThread(w, http.StatusOK, deps, e)
	}
}

func handleToggleStar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := lookupEngine(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		index, ok := parseIndex(w, r)
		if !ok {
			return
		}

		starred, err := e.ToggleStar(index)
		switch {
		case errors.Is(err, engine.ErrInvalidIndex), errors.Is(err, engine.ErrSystemTurn):
			writeMessage(w, http.StatusNotFound, "no message at that index")
			return
		case err != nil:
			writeMessage(w, http.StatusInternalServerError, gateway.MsgGeneric)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func lookupEngine(w http.ResponseWriter, deps Deps, id string) (*engine.Engine, bool) {
	e, err := deps.Registry.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "thread not found")
		return nil, false
	}
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "failed to load thread")
		return nil, false
	}
	return e, true
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeMessage(w, http.StatusBadRequest, "invalid message index")
		return 0, false
	}
	return index, true
}

func writeThread(w http.ResponseWriter, code int, deps Deps, e *engine.Engine) {
	t := e.Thread()
	stars, err := deps.Stars.ListStars(t.ID)
	if err != nil {
		stars = nil
	}
	if stars == nil {
		stars = []int{}
	}
	writeJSON(w, code, threadView{Thread: t, Stars: stars, State: string(e.State())})
}

// isGatewayError reports whether err belongs to the gateway taxonomy, i.e.
// the engine has already translated it into an in-thread error notice.
func isGatewayError(err error) bool {
	var (
		verr   *gateway.ValidationError
		rlErr  *gateway.RateLimitError
		toErr  *gateway.TimeoutError
		upErr  *gateway.UpstreamError
		cfgErr *gateway.ConfigurationError
	)
	return errors.As(err, &verr) || errors.As(err, &rlErr) || errors.As(err, &toErr) ||
		errors.As(err, &upErr) || errors.As(err, &cfgErr)
}
