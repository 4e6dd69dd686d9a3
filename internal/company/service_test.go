package company

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/billing"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

type fixture struct {
	svc     *Service
	fake    *store.Fake
	billing *billing.Fake
	pkg     models.Package
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, fake := store.NewFake()
	b := &billing.Fake{}
	f := &fixture{
		svc:     NewService(st, b, slog.New(slog.DiscardHandler)),
		fake:    fake,
		billing: b,
	}
	f.pkg = fake.SeedPackage(models.Package{Name: "starter", BotLimit: 3, StorageLimitBytes: 10_000})
	return f
}

func TestCreatePromotesOwnerAndProvisionsCustomer(t *testing.T) {
	f := newFixture(t)
	owner := f.fake.SeedUser(models.User{Email: "founder@acme.test", Role: models.RoleUser})

	c, err := f.svc.Create(t.Context(), &owner, CreateInput{Name: "Acme", PackageID: f.pkg.ID})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", c.PaymentCustomerID)
	assert.Equal(t, owner.ID, c.UserID)
	assert.Nil(t, c.ResellerID)

	promoted, err := store.LoadUser(t.Context(), f.svc.st, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCompanyAdmin, promoted.Role)
	require.NotNil(t, promoted.CompanyID)
	assert.Equal(t, c.ID, *promoted.CompanyID)
}

func TestCreateByResellerChainsCompany(t *testing.T) {
	f := newFixture(t)
	reseller := f.fake.SeedUser(models.User{Email: "partner@chan.test", Role: models.RoleReseller})
	owner := f.fake.SeedUser(models.User{Email: "client@corp.test", Role: models.RoleUser})

	c, err := f.svc.Create(t.Context(), &reseller, CreateInput{Name: "Corp", PackageID: f.pkg.ID, OwnerUserID: owner.ID})
	require.NoError(t, err)
	require.NotNil(t, c.ResellerID)
	assert.Equal(t, reseller.ID, *c.ResellerID)
	assert.Equal(t, owner.ID, c.UserID)
}

func TestCreateResellerNeedsOwner(t *testing.T) {
	f := newFixture(t)
	reseller := f.fake.SeedUser(models.User{Email: "partner@chan.test", Role: models.RoleReseller})

	_, err := f.svc.Create(t.Context(), &reseller, CreateInput{Name: "Corp", PackageID: f.pkg.ID})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, f.billing.Created, "billing untouched on invalid input")
}

func TestCreateRejectsDoubleMembership(t *testing.T) {
	f := newFixture(t)
	owner := f.fake.SeedUser(models.User{Email: "founder@acme.test", Role: models.RoleUser})
	_, err := f.svc.Create(t.Context(), &owner, CreateInput{Name: "Acme", PackageID: f.pkg.ID})
	require.NoError(t, err)

	refreshed, err := store.LoadUser(t.Context(), f.svc.st, owner.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(t.Context(), refreshed, CreateInput{Name: "Second", PackageID: f.pkg.ID})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Len(t, f.billing.Created, 1)
}

func TestCreateBillingFailureAbortsEverything(t *testing.T) {
	f := newFixture(t)
	owner := f.fake.SeedUser(models.User{Email: "founder@acme.test", Role: models.RoleUser})
	f.billing.Err = errors.New("card network down")
	before := f.fake.Snapshot()

	_, err := f.svc.Create(t.Context(), &owner, CreateInput{Name: "Acme", PackageID: f.pkg.ID})
	require.Error(t, err)
	assert.Equal(t, before, f.fake.Snapshot())
}

func TestGetDeniedAcrossTenants(t *testing.T) {
	f := newFixture(t)
	ownerA := f.fake.SeedUser(models.User{Email: "a@a.test", Role: models.RoleCompanyAdmin})
	companyA := f.fake.SeedCompany(models.Company{Name: "A", UserID: ownerA.ID, PackageID: f.pkg.ID})
	ownerB := f.fake.SeedUser(models.User{Email: "b@b.test", Role: models.RoleCompanyAdmin})
	f.fake.SeedCompany(models.Company{Name: "B", UserID: ownerB.ID, PackageID: f.pkg.ID})

	_, err := f.svc.Get(t.Context(), &ownerB, companyA.ID)
	require.ErrorIs(t, err, auth.ErrNotAuthorized)

	got, err := f.svc.Get(t.Context(), &ownerA, companyA.ID)
	require.NoError(t, err)
	assert.Equal(t, companyA.ID, got.ID)
}

func TestListResellerSeesManagedOnly(t *testing.T) {
	f := newFixture(t)
	reseller := f.fake.SeedUser(models.User{Email: "partner@chan.test", Role: models.RoleReseller})
	ownerA := f.fake.SeedUser(models.User{Email: "a@a.test", Role: models.RoleCompanyAdmin})
	f.fake.SeedCompany(models.Company{Name: "A", UserID: ownerA.ID, ResellerID: &reseller.ID, PackageID: f.pkg.ID})
	ownerB := f.fake.SeedUser(models.User{Email: "b@b.test", Role: models.RoleCompanyAdmin})
	f.fake.SeedCompany(models.Company{Name: "B", UserID: ownerB.ID, PackageID: f.pkg.ID})

	out, total, err := f.svc.List(t.Context(), &reseller, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "A", out[0].Name)
}

func TestUpdateSwapsPackage(t *testing.T) {
	f := newFixture(t)
	owner := f.fake.SeedUser(models.User{Email: "a@a.test", Role: models.RoleCompanyAdmin})
	c := f.fake.SeedCompany(models.Company{Name: "A", UserID: owner.ID, PackageID: f.pkg.ID})
	bigger := f.fake.SeedPackage(models.Package{Name: "growth", BotLimit: 10, StorageLimitBytes: 100_000})

	got, err := f.svc.Update(t.Context(), &owner, c.ID, UpdateInput{PackageID: &bigger.ID})
	require.NoError(t, err)
	assert.Equal(t, bigger.ID, got.PackageID)

	missing := uuid.New()
	_, err = f.svc.Update(t.Context(), &owner, c.ID, UpdateInput{PackageID: &missing})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesCompanyAndBillingCustomer(t *testing.T) {
	f := newFixture(t)
	owner := f.fake.SeedUser(models.User{Email: "a@a.test", Role: models.RoleCompanyAdmin})
	c := f.fake.SeedCompany(models.Company{Name: "A", UserID: owner.ID, PackageID: f.pkg.ID, PaymentCustomerID: "cus_9"})

	require.NoError(t, f.svc.Delete(t.Context(), &owner, c.ID))
	_, err := f.svc.Get(t.Context(), &owner, c.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{"cus_9"}, f.billing.Deleted)
}
