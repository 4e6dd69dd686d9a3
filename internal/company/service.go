// Package company manages tenant records: creation with billing
// customer provisioning and admin promotion, plus guarded CRUD.
package company

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/billing"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

// ErrInvalid marks client input the service refuses to act on.
var ErrInvalid = errors.New("invalid input")

type Service struct {
	st      *store.Store
	billing billing.CustomerCreator
	audit   audit.Recorder // optional
	logger  *slog.Logger
}

func NewService(st *store.Store, b billing.CustomerCreator, logger *slog.Logger) *Service {
	return &Service{st: st, billing: b, logger: logger}
}

func (s *Service) WithAudit(a audit.Recorder) *Service {
	s.audit = a
	return s
}

type CreateInput struct {
	Name      string    `json:"name"`
	PackageID uuid.UUID `json:"package_id"`
	// OwnerUserID names the owning admin when a reseller creates the
	// company; otherwise the requester owns it.
	OwnerUserID uuid.UUID `json:"owner_user_id,omitempty"`
}

// Create provisions a billing customer, inserts the company and
// promotes the owning user to company admin, all of which commits or
// rolls back together. A reseller-created company is chained to the
// reseller.
func (s *Service) Create(ctx context.Context, requester *models.User, in CreateInput) (*models.Company, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.PackageID == uuid.Nil {
		return nil, fmt.Errorf("%w: package_id is required", ErrInvalid)
	}
	if requester.Role == models.RoleReseller && in.OwnerUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner_user_id is required for reseller-created companies", ErrInvalid)
	}

	// Resolve the owner before touching the billing provider.
	ownerID := requester.ID
	if requester.Role == models.RoleReseller {
		ownerID = in.OwnerUserID
	}
	var owner *models.User
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := s.st.Users.FindByID(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if u.CompanyID != nil {
			return fmt.Errorf("%w: user already belongs to a company", ErrInvalid)
		}
		if _, err := s.st.Packages.FindByID(ctx, tx, in.PackageID); err != nil {
			return fmt.Errorf("load package: %w", err)
		}
		owner = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	customerID, err := s.billing.CreateCustomer(ctx, in.Name, owner.Email)
	if err != nil {
		return nil, fmt.Errorf("create billing customer: %w", err)
	}

	c := &models.Company{
		Name:              in.Name,
		UserID:            owner.ID,
		PackageID:         in.PackageID,
		PaymentCustomerID: customerID,
	}
	if requester.Role == models.RoleReseller {
		c.ResellerID = &requester.ID
	}

	err = s.st.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.st.Companies.Insert(ctx, tx, c); err != nil {
			return fmt.Errorf("insert company: %w", err)
		}

		u, err := s.st.Users.FindByID(ctx, tx, owner.ID)
		if err != nil {
			return err
		}
		u.CompanyID = &c.ID
		if u.Role == models.RoleUser {
			u.Role = models.RoleCompanyAdmin
		}
		if err := s.st.Users.Update(ctx, tx, u); err != nil {
			return fmt.Errorf("promote owner: %w", err)
		}
		return s.record(ctx, tx, c.ID, "company.create", "company", &c.ID, map[string]any{"name": c.Name})
	})
	if err != nil {
		if derr := s.billing.DeleteCustomer(ctx, customerID); derr != nil {
			s.logger.Warn("orphaned billing customer cleanup failed", "customer_id", customerID, "error", derr)
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, requester *models.User, id uuid.UUID) (*models.Company, error) {
	var out *models.Company
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := s.load(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// List returns the companies the requester can see: a reseller's
// managed set, or the requester's own company.
func (s *Service) List(ctx context.Context, requester *models.User, q store.Query) ([]models.Company, int, error) {
	var (
		out   []models.Company
		total int
	)
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		if requester.Role == models.RoleReseller {
			if q.Filter == nil {
				q.Filter = map[string]any{}
			}
			q.Filter["reseller_id"] = requester.ID
			var err error
			out, total, err = s.st.Companies.FindByQuery(ctx, tx, q)
			return err
		}

		c, err := s.own(ctx, tx, requester)
		if err != nil {
			return err
		}
		out, total = []models.Company{*c}, 1
		return nil
	})
	return out, total, err
}

type UpdateInput struct {
	Name      *string    `json:"name,omitempty"`
	PackageID *uuid.UUID `json:"package_id,omitempty"`
}

func (s *Service) Update(ctx context.Context, requester *models.User, id uuid.UUID, in UpdateInput) (*models.Company, error) {
	var out *models.Company
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := s.load(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return fmt.Errorf("%w: name cannot be empty", ErrInvalid)
			}
			c.Name = *in.Name
		}
		if in.PackageID != nil {
			if _, err := s.st.Packages.FindByID(ctx, tx, *in.PackageID); err != nil {
				return fmt.Errorf("load package: %w", err)
			}
			c.PackageID = *in.PackageID
		}
		if err := s.st.Companies.Update(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return s.record(ctx, tx, c.ID, "company.update", "company", &c.ID, nil)
	})
	return out, err
}

// Delete removes the company; bots, threads and files cascade at the
// database layer. The billing customer is deleted afterwards, best
// effort.
func (s *Service) Delete(ctx context.Context, requester *models.User, id uuid.UUID) error {
	var customerID string
	err := s.st.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := s.load(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		if err := s.st.Companies.DeleteByID(ctx, tx, c.ID); err != nil {
			return err
		}
		customerID = c.PaymentCustomerID
		return s.record(ctx, tx, c.ID, "company.delete", "company", &c.ID, map[string]any{"name": c.Name})
	})
	if err != nil {
		return err
	}
	if customerID != "" {
		if derr := s.billing.DeleteCustomer(ctx, customerID); derr != nil {
			s.logger.Warn("billing customer cleanup failed", "customer_id", customerID, "error", derr)
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, tx pgx.Tx, requester *models.User, id uuid.UUID) (*models.Company, error) {
	c, err := s.st.Companies.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) own(ctx context.Context, tx pgx.Tx, requester *models.User) (*models.Company, error) {
	if requester.CompanyID != nil {
		return s.load(ctx, tx, requester, *requester.CompanyID)
	}
	c, err := s.st.Companies.FindByUserID(ctx, tx, requester.ID)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(requester, auth.ChainOf(c)); err != nil {
		return nil, err
	}
	return c, nil
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
