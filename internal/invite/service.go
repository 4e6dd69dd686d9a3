// Package invite brings team members into a company: a pre-created
// user with a temporary password, a single-use code, and an email.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/mailer"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

// ErrInvalid marks client input the service refuses to act on.
var ErrInvalid = errors.New("invalid input")

type Service struct {
	st     *store.Store
	mail   mailer.Sender
	audit  audit.Recorder // optional
	logger *slog.Logger
	appURL string
}

func NewService(st *store.Store, mail mailer.Sender, appURL string, logger *slog.Logger) *Service {
	return &Service{st: st, mail: mail, appURL: strings.TrimRight(appURL, "/"), logger: logger}
}

func (s *Service) WithAudit(a audit.Recorder) *Service {
	s.audit = a
	return s
}

type CreateInput struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	// CompanyID targets a managed company when a reseller invites;
	// admins always invite into their own.
	CompanyID uuid.UUID `json:"company_id,omitempty"`
}

// Invite creates the invitee's account with a generated temporary
// password, stores a single-use code and emails both. User, invitation
// and email stand or fall together: a delivery failure rolls the
// account back.
func (s *Service) Invite(ctx context.Context, requester *models.User, in CreateInput) (*models.Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalid)
	}

	tempPassword, err := randomToken(8)
	if err != nil {
		return nil, err
	}
	code, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var inv *models.Invitation
	err = s.st.WithTx(ctx, func(tx pgx.Tx) error {
		company, err := s.resolveCompany(ctx, tx, requester, in.CompanyID)
		if err != nil {
			return err
		}
		if _, err := s.st.Users.FindByEmail(ctx, tx, email); err == nil {
			return fmt.Errorf("%w: %s already has an account", ErrInvalid, email)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		u := &models.User{
			Email:        email,
			Name:         in.Name,
			Role:         models.RoleUser,
			CompanyID:    &company.ID,
			PasswordHash: string(hash),
		}
		if err := s.st.Users.Insert(ctx, tx, u); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		inv = &models.Invitation{Email: email, Code: code}
		if err := s.st.Invitations.Insert(ctx, tx, inv); err != nil {
			return fmt.Errorf("insert invitation: %w", err)
		}

		if err := s.mail.Send(ctx, email, "You have been invited to "+company.Name,
			s.invitationBody(company.Name, email, code, tempPassword)); err != nil {
			return fmt.Errorf("send invitation: %w", err)
		}
		return s.record(ctx, tx, company.ID, "invite.create", "invitation", &inv.ID,
			map[string]any{"email": email})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

type AcceptInput struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// Accept consumes the single-use code and replaces the temporary
// password. A used or unknown code reads as not found.
func (s *Service) Accept(ctx context.Context, in AcceptInput) error {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if len(in.NewPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.st.WithTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.st.Invitations.FindActive(ctx, tx, email, in.Code)
		if err != nil {
			return err
		}
		if err := s.st.Invitations.MarkUsed(ctx, tx, inv.ID); err != nil {
			return err
		}

		u, err := s.st.Users.FindByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		return s.st.Users.Update(ctx, tx, u)
	})
}

func (s *Service) resolveCompany(ctx context.Context, tx pgx.Tx, requester *models.User, companyID uuid.UUID) (*models.Company, error) {
	var (
		c   *models.Company
		err error
	)
	switch {
	case companyID != uuid.Nil:
		c, err = s.st.Companies.FindByID(ctx, tx, companyID)
	case requester.CompanyID != nil:
		c, err = s.st.Companies.FindByID(ctx, tx, *requester.CompanyID)
	default:
		c, err = s.st.Companies.FindByUserID(ctx, tx, requester.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) invitationBody(companyName, email, code, tempPassword string) string {
	link := fmt.Sprintf("%s/invitations/accept?email=%s&code=%s", s.appURL, email, code)
	return fmt.Sprintf(
		`<p>You have been invited to join <b>%s</b>.</p>
<p>Your temporary password is <code>%s</code>.</p>
<p><a href=%q>Accept the invitation</a> and choose your own password.</p>`,
		companyName, tempPassword, link)
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, action, resourceType string, resourceID *uuid.UUID, details map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, tx, audit.Entry{
		CompanyID:    &companyID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
