// Package billing creates payment-provider customers for new
// companies. Only customer provisioning lives here; subscriptions and
// invoicing stay on the provider side.
package billing

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CustomerCreator is what the company service needs from billing.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

type Stripe struct {
	api *client.API
}

func NewStripe(apiKey string) *Stripe {
	return &Stripe{api: client.New(apiKey, nil)}
}

func (s *Stripe) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (s *Stripe) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if _, err := s.api.Customers.Del(customerID, params); err != nil {
		return fmt.Errorf("delete stripe customer: %w", err)
	}
	return nil
}

// Fake records calls for tests.
type Fake struct {
	Created []string // "name <email>"
	Deleted []string
	Err     error
}

func (f *Fake) CreateCustomer(_ context.Context, name, email string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.Created = append(f.Created, name+" <"+email+">")
	return fmt.Sprintf("cus_%d", len(f.Created)), nil
}

func (f *Fake) DeleteCustomer(_ context.Context, customerID string) error {
	f.Deleted = append(f.Deleted, customerID)
	return nil
}
