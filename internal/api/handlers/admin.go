package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/company"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

type AdminHandler struct {
	companies *company.Service
	audit     *audit.Service
}

func NewAdminHandler(companies *company.Service, auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{companies: companies, audit: auditSvc}
}

// AuditLogs lists the audit trail of one company the requester can act
// on. Resellers pass company_id to pick a managed company; admins
// default to their own.
func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	requester := auth.IdentityFromContext(r.Context())

	companyID, err := h.resolveCompanyID(r, requester)
	if err != nil {
		writeError(w, err)
		return
	}

	// Get re-checks ownership against the stored chain.
	if _, err := h.companies.Get(r.Context(), requester, companyID); err != nil {
		writeError(w, err)
		return
	}

	q := parseQuery(r)
	if action := r.URL.Query().Get("action"); action != "" {
		q.Filter["action"] = action
	}

	logs, total, err := h.audit.List(r.Context(), companyID, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(logs, total, q))
}

func (h *AdminHandler) resolveCompanyID(r *http.Request, requester *models.User) (uuid.UUID, error) {
	if s := r.URL.Query().Get("company_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid company_id", company.ErrInvalid)
		}
		return id, nil
	}
	if requester != nil && requester.CompanyID != nil {
		return *requester.CompanyID, nil
	}

	// Owner admins may not carry a company id; take the one company
	// they can see.
	companies, _, err := h.companies.List(r.Context(), requester, store.Query{Limit: 1})
	if err != nil {
		return uuid.Nil, err
	}
	if len(companies) == 0 {
		return uuid.Nil, store.ErrNotFound
	}
	return companies[0].ID, nil
}
