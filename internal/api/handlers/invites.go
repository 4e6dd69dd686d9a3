package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/invite"
)

type InviteHandler struct {
	svc *invite.Service
}

func NewInviteHandler(svc *invite.Service) *InviteHandler {
	return &InviteHandler{svc: svc}
}

func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in invite.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	inv, err := h.svc.Invite(r.Context(), auth.IdentityFromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	// The code travels by email only.
	writeJSON(w, http.StatusCreated, map[string]any{"id": inv.ID, "email": inv.Email})
}

// Accept is unauthenticated: the invitee has no working credentials
// until the temporary password is replaced.
func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var in invite.AcceptInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.svc.Accept(r.Context(), in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
