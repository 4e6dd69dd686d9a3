package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/chatforge/backend/internal/models"
)

func TestAuthorize_TruthTable(t *testing.T) {
	resellerID := uuid.New()
	adminID := uuid.New()
	memberID := uuid.New()
	companyID := uuid.New()
	otherID := uuid.New()

	chain := OwnershipChain{
		CompanyID:   companyID,
		OwnerUserID: adminID,
		ResellerID:  &resellerID,
	}

	tests := []struct {
		name string
		user *models.User
		want Decision
	}{
		{
			name: "reseller managing the company",
			user: &models.User{ID: resellerID, Role: models.RoleReseller},
			want: Allow,
		},
		{
			name: "reseller of a different company",
			user: &models.User{ID: otherID, Role: models.RoleReseller},
			want: Deny,
		},
		{
			name: "admin owning the company",
			user: &models.User{ID: adminID, Role: models.RoleCompanyAdmin},
			want: Allow,
		},
		{
			name: "admin of a different company",
			user: &models.User{ID: otherID, Role: models.RoleCompanyAdmin},
			want: Deny,
		},
		{
			name: "member of the company",
			user: &models.User{ID: memberID, Role: models.RoleUser, CompanyID: &companyID},
			want: Allow,
		},
		{
			name: "member of a different company",
			user: &models.User{ID: memberID, Role: models.RoleUser, CompanyID: &otherID},
			want: Deny,
		},
		{
			name: "member without company affiliation",
			user: &models.User{ID: memberID, Role: models.RoleUser},
			want: Deny,
		},
		{
			name: "unknown role",
			user: &models.User{ID: adminID, Role: models.Role("SUPERUSER")},
			want: Deny,
		},
		{
			name: "nil requester",
			user: nil,
			want: Deny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.user, chain))
		})
	}
}

func TestAuthorize_NoResellerOnChain(t *testing.T) {
	resellerID := uuid.New()
	chain := OwnershipChain{CompanyID: uuid.New(), OwnerUserID: uuid.New()}

	got := Authorize(&models.User{ID: resellerID, Role: models.RoleReseller}, chain)
	assert.Equal(t, Deny, got)
}

func TestRequire_DenyIsErrNotAuthorized(t *testing.T) {
	chain := OwnershipChain{CompanyID: uuid.New(), OwnerUserID: uuid.New()}
	err := Require(&models.User{ID: uuid.New(), Role: models.RoleCompanyAdmin}, chain)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	admin := &models.User{ID: chain.OwnerUserID, Role: models.RoleCompanyAdmin}
	assert.NoError(t, Require(admin, chain))
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"RESELLER", "COMPANY_ADMIN", "USER"} {
		r, err := models.ParseRole(s)
		assert.NoError(t, err)
		assert.Equal(t, models.Role(s), r)
	}
	_, err := models.ParseRole("reseller")
	assert.Error(t, err)
}
