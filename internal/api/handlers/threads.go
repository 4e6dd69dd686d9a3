package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/run"
	"github.com/chatforge/backend/internal/thread"
)

const defaultMessageLimit = 50

type ThreadHandler struct {
	svc *thread.Service
}

func NewThreadHandler(svc *thread.Service) *ThreadHandler {
	return &ThreadHandler{svc: svc}
}

func (h *ThreadHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	var in thread.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if in.VisitorKey == "" {
		in.VisitorKey = visitorKey(r)
	}

	t, err := h.svc.GetOrCreate(r.Context(), auth.IdentityFromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	if s := r.URL.Query().Get("bot_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot_id"})
			return
		}
		q.Filter["bot_id"] = id
	}

	threads, total, err := h.svc.List(r.Context(), auth.IdentityFromContext(r.Context()), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(threads, total, q))
}

func (h *ThreadHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}

	var in thread.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	t, err := h.svc.Update(r.Context(), auth.IdentityFromContext(r.Context()), id, visitorKey(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	msgs, err := h.svc.Messages(r.Context(), auth.IdentityFromContext(r.Context()), id, visitorKey(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

// runFrame is the SSE payload for one run signal.
type runFrame struct {
	ID    string `json:"id,omitempty"`
	Chunk string `json:"chunk,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// Run starts an assistant run and streams its signals as SSE frames.
// The stream ends with a [DONE] frame; a dropped connection cancels the
// run upstream via the request context.
func (h *ThreadHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}

	var in struct {
		Message    string `json:"message"`
		VisitorKey string `json:"visitor_key,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	key := in.VisitorKey
	if key == "" {
		key = visitorKey(r)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	signals, err := h.svc.Run(r.Context(), auth.IdentityFromContext(r.Context()), id, key, in.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var runID string
	for sig := range signals {
		frame := runFrame{ID: runID}
		switch sig.Kind {
		case run.SignalStarted:
			runID = sig.RunID
			frame.ID = runID
			frame.State = "started"
		case run.SignalDelta:
			frame.Chunk = sig.Text
		case run.SignalDone:
			frame.State = sig.State.String()
			if sig.Err != nil {
				frame.Error = sig.Err.Error()
			}
		}

		data, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *ThreadHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}

	var in struct {
		RunID      string `json:"run_id"`
		VisitorKey string `json:"visitor_key,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	key := in.VisitorKey
	if key == "" {
		key = visitorKey(r)
	}

	if err := h.svc.Stop(r.Context(), auth.IdentityFromContext(r.Context()), id, key, in.RunID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *ThreadHandler) AttachFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	ref, err := h.svc.AttachFile(r.Context(), auth.IdentityFromContext(r.Context()), id, visitorKey(r), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *ThreadHandler) DetachFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid thread ID"})
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	if err := h.svc.DetachFile(r.Context(), auth.IdentityFromContext(r.Context()), id, visitorKey(r), fileID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *ThreadHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hits, err := h.svc.Search(r.Context(), auth.IdentityFromContext(r.Context()), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}
