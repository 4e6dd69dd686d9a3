package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/bot"
	"github.com/chatforge/backend/internal/company"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/invite"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/run"
	"github.com/chatforge/backend/internal/store"
	"github.com/chatforge/backend/internal/thread"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps service errors to responses. Denied and missing
// resources render identically so callers cannot probe for existence.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, auth.ErrNotAuthorized):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, bot.ErrInvalid),
		errors.Is(err, thread.ErrInvalid),
		errors.Is(err, company.ErrInvalid),
		errors.Is(err, invite.ErrInvalid),
		errors.Is(err, files.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, quota.ErrBotLimit), errors.Is(err, quota.ErrStorageLimit):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, run.ErrRunActive):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// parseQuery reads paging and sorting from the URL. Filter keys are
// added by individual handlers.
func parseQuery(r *http.Request) store.Query {
	q := store.Query{
		Filter: map[string]any{},
		SortBy: r.URL.Query().Get("sort_by"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	return q
}

// visitorKey returns the anonymous widget session key, header first.
func visitorKey(r *http.Request) string {
	if k := r.Header.Get("X-Visitor-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("visitor_key")
}

func listResponse(items any, total int, q store.Query) map[string]any {
	return map[string]any{
		"items": items,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	}
}
