package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/bot"
	"github.com/chatforge/backend/internal/models"
)

const maxUploadBytes = 32 << 20

type BotHandler struct {
	svc *bot.Service
}

func NewBotHandler(svc *bot.Service) *BotHandler {
	return &BotHandler{svc: svc}
}

func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in bot.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	b, err := h.svc.Create(r.Context(), auth.IdentityFromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	if s := r.URL.Query().Get("company_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company_id"})
			return
		}
		q.Filter["company_id"] = id
	}

	bots, total, err := h.svc.List(r.Context(), auth.IdentityFromContext(r.Context()), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(bots, total, q))
}

func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
		return
	}

	b, usedBytes, err := h.svc.Get(r.Context(), auth.IdentityFromContext(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bot": b, "used_storage_bytes": usedBytes})
}

// GetPublic serves the widget bootstrap: bot config by embed URL, no
// auth, redis-cached.
func (h *BotHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetByEmbedURL(r.Context(), chi.URLParam(r, "embedURL"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicBotView(b))
}

func (h *BotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
		return
	}

	var in bot.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	b, err := h.svc.Update(r.Context(), auth.IdentityFromContext(r.Context()), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
		return
	}

	if err := h.svc.Delete(r.Context(), auth.IdentityFromContext(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *BotHandler) Files(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
		return
	}

	refs, err := h.svc.Files(r.Context(), auth.IdentityFromContext(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": refs, "count": len(refs)})
}

func (h *BotHandler) AttachFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
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

	ref, err := h.svc.AttachFile(r.Context(), auth.IdentityFromContext(r.Context()), id, header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *BotHandler) DetachFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot ID"})
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	if err := h.svc.DetachFile(r.Context(), auth.IdentityFromContext(r.Context()), id, fileID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// publicBotView strips tenancy and provider internals from the widget
// payload.
func publicBotView(b *models.Bot) map[string]any {
	return map[string]any{
		"id":              b.ID,
		"name":            b.Name,
		"welcome_message": b.WelcomeMsg,
		"first_message":   b.FirstMsg,
		"language":        b.Language,
		"embed_url":       b.EmbedURL,
		"appearance":      b.Appearance,
	}
}
