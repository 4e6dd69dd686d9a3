package quota

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

func TestCheckBotLimit(t *testing.T) {
	st, fake := store.NewFake()
	gate := NewGate(st.Bots, st.Files)

	companyID := uuid.New()
	pkg := &models.Package{BotLimit: 3}

	for i := 0; i < 2; i++ {
		fake.SeedBot(models.Bot{CompanyID: companyID, EmbedURL: uuid.NewString()})
	}

	// 2 of 3 used: one more fits.
	require.NoError(t, gate.CheckBotLimit(t.Context(), nil, companyID, pkg))

	fake.SeedBot(models.Bot{CompanyID: companyID, EmbedURL: uuid.NewString()})

	err := gate.CheckBotLimit(t.Context(), nil, companyID, pkg)
	assert.ErrorIs(t, err, ErrBotLimit)
}

func TestCheckBotLimit_IgnoresOtherCompanies(t *testing.T) {
	st, fake := store.NewFake()
	gate := NewGate(st.Bots, st.Files)

	companyID := uuid.New()
	for i := 0; i < 5; i++ {
		fake.SeedBot(models.Bot{CompanyID: uuid.New(), EmbedURL: uuid.NewString()})
	}

	assert.NoError(t, gate.CheckBotLimit(t.Context(), nil, companyID, &models.Package{BotLimit: 1}))
}

func TestCheckStorage(t *testing.T) {
	st, fake := store.NewFake()
	gate := NewGate(st.Bots, st.Files)

	companyID := uuid.New()
	pkg := &models.Package{StorageLimitBytes: 10_000}

	fake.SeedFile(models.FileRef{CompanyID: companyID, SizeBytes: 9_500})

	err := gate.CheckStorage(t.Context(), nil, companyID, pkg, 1_000)
	assert.ErrorIs(t, err, ErrStorageLimit)

	// Exactly filling the allowance is allowed.
	assert.NoError(t, gate.CheckStorage(t.Context(), nil, companyID, pkg, 500))
}
