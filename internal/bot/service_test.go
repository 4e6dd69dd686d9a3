package bot

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/audit"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/store"
)

type fixture struct {
	svc      *Service
	st       *store.Store
	fake     *store.Fake
	provider *assistant.Fake
	staging  *files.Staging
	dir      string

	pkg     models.Package
	company models.Company
	admin   models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, fake := store.NewFake()
	provider := assistant.NewFake()
	dir := t.TempDir()
	staging, err := files.NewStaging(dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	f := &fixture{
		st:       st,
		fake:     fake,
		provider: provider,
		staging:  staging,
		dir:      dir,
	}
	f.svc = NewService(st, quota.NewGate(st.Bots, st.Files), provider, staging, slog.New(slog.DiscardHandler)).
		WithAudit(audit.NewService(st))

	f.pkg = fake.SeedPackage(models.Package{Name: "starter", BotLimit: 3, StorageLimitBytes: 10_000})
	f.admin = fake.SeedUser(models.User{Email: "admin@acme.test", Role: models.RoleCompanyAdmin})
	f.company = fake.SeedCompany(models.Company{Name: "Acme", UserID: f.admin.ID, PackageID: f.pkg.ID})
	return f
}

func (f *fixture) seedBot(t *testing.T, name string) models.Bot {
	t.Helper()
	return f.fake.SeedBot(models.Bot{
		CompanyID:     f.company.ID,
		UserID:        f.admin.ID,
		Name:          name,
		EmbedURL:      name + "-embed",
		AssistantID:   "asst_seed_" + name,
		VectorStoreID: "vs_seed_" + name,
	})
}

func stagedCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestCreateProvisionsAssistantAndPersists(t *testing.T) {
	f := newFixture(t)

	b, err := f.svc.Create(t.Context(), &f.admin, CreateInput{Name: "Support Bot"})
	require.NoError(t, err)
	assert.Equal(t, "asst_1", b.AssistantID)
	assert.Equal(t, "vs_1", b.VectorStoreID)
	assert.Equal(t, f.company.ID, b.CompanyID)
	assert.True(t, strings.HasPrefix(b.EmbedURL, "support-bot-"))
	assert.Equal(t, models.DefaultBotModel, b.Model)

	got, _, err := f.svc.Get(t.Context(), &f.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	logs, total, err := audit.NewService(f.st).List(t.Context(), f.company.ID, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bot.create", logs[0].Action)
}

func TestCreateRejectsOverBotLimit(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.seedBot(t, name)
	}
	before := f.fake.Snapshot()

	_, err := f.svc.Create(t.Context(), &f.admin, CreateInput{Name: "one too many"})
	require.ErrorIs(t, err, quota.ErrBotLimit)
	assert.Equal(t, before, f.fake.Snapshot())
	// Pre-flight fails before the provider is touched.
	assert.Empty(t, f.provider.Deleted)
}

func TestCreateCompensatesProviderOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	f.seedBot(t, "existing")
	before := f.fake.Snapshot()

	// Duplicate embed URL trips the unique index inside the insert
	// transaction, after the assistant has been provisioned.
	_, err := f.svc.Create(t.Context(), &f.admin, CreateInput{Name: "clone", EmbedURL: "existing-embed"})
	require.Error(t, err)
	assert.Equal(t, before, f.fake.Snapshot())
	require.Len(t, f.provider.Deleted, 1)
	assert.Equal(t, "asst_1", f.provider.Deleted[0].AssistantID)
}

func TestCreateRequiresName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(t.Context(), &f.admin, CreateInput{Name: "   "})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestGetDeniedForForeignAdmin(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "mine")

	outsider := f.fake.SeedUser(models.User{Email: "other@rival.test", Role: models.RoleCompanyAdmin})
	f.fake.SeedCompany(models.Company{Name: "Rival", UserID: outsider.ID, PackageID: f.pkg.ID})

	_, _, err := f.svc.Get(t.Context(), &outsider, b.ID)
	require.ErrorIs(t, err, auth.ErrNotAuthorized)
}

func TestGetReportsUsedStorage(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")
	f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: b.ID, SizeBytes: 4_000})

	_, used, err := f.svc.Get(t.Context(), &f.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), used)
}

func TestListScopesToOwnCompany(t *testing.T) {
	f := newFixture(t)
	f.seedBot(t, "one")
	f.seedBot(t, "two")

	outsider := f.fake.SeedUser(models.User{Email: "other@rival.test", Role: models.RoleCompanyAdmin})
	rival := f.fake.SeedCompany(models.Company{Name: "Rival", UserID: outsider.ID, PackageID: f.pkg.ID})
	f.fake.SeedBot(models.Bot{CompanyID: rival.ID, UserID: outsider.ID, Name: "theirs", EmbedURL: "theirs-embed"})

	bots, total, err := f.svc.List(t.Context(), &f.admin, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, b := range bots {
		assert.Equal(t, f.company.ID, b.CompanyID)
	}
}

func TestListResellerSpansManagedCompanies(t *testing.T) {
	f := newFixture(t)
	reseller := f.fake.SeedUser(models.User{Email: "partner@chan.test", Role: models.RoleReseller})

	adminA := f.fake.SeedUser(models.User{Email: "a@a.test", Role: models.RoleCompanyAdmin})
	compA := f.fake.SeedCompany(models.Company{Name: "A", UserID: adminA.ID, ResellerID: &reseller.ID, PackageID: f.pkg.ID})
	adminB := f.fake.SeedUser(models.User{Email: "b@b.test", Role: models.RoleCompanyAdmin})
	compB := f.fake.SeedCompany(models.Company{Name: "B", UserID: adminB.ID, ResellerID: &reseller.ID, PackageID: f.pkg.ID})

	f.fake.SeedBot(models.Bot{CompanyID: compA.ID, UserID: adminA.ID, Name: "a-bot", EmbedURL: "a-bot-embed"})
	f.fake.SeedBot(models.Bot{CompanyID: compB.ID, UserID: adminB.ID, Name: "b-bot", EmbedURL: "b-bot-embed"})
	f.seedBot(t, "unmanaged")

	_, total, err := f.svc.List(t.Context(), &reseller, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Narrowing to one managed company works; an unmanaged one is
	// refused.
	_, total, err = f.svc.List(t.Context(), &reseller, store.Query{Filter: map[string]any{"company_id": compA.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, _, err = f.svc.List(t.Context(), &reseller, store.Query{Filter: map[string]any{"company_id": f.company.ID}})
	require.ErrorIs(t, err, auth.ErrNotAuthorized)
}

func TestUpdatePushesConfigToProvider(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "old")

	name := "renamed"
	temp := 0.9
	got, err := f.svc.Update(t.Context(), &f.admin, b.ID, UpdateInput{Name: &name, Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 0.9, got.Temperature)
	assert.Equal(t, b.EmbedURL, got.EmbedURL)
}

func TestDeleteRemovesBotFilesAndAssistant(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "doomed")
	f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: b.ID, SizeBytes: 100})

	require.NoError(t, f.svc.Delete(t.Context(), &f.admin, b.ID))

	_, _, err := f.svc.Get(t.Context(), &f.admin, b.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, f.provider.Deleted, 1)
	assert.Equal(t, "asst_seed_doomed", f.provider.Deleted[0].AssistantID)

	refs, err := f.svc.Files(t.Context(), &f.admin, b.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, refs)
}

func TestAttachFileHappyPath(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")

	ref, err := f.svc.AttachFile(t.Context(), &f.admin, b.ID, "guide.txt", strings.NewReader("how to use the product"))
	require.NoError(t, err)
	assert.Equal(t, "guide.txt", ref.Name)
	assert.Equal(t, int64(22), ref.SizeBytes)
	assert.Equal(t, "file_1", ref.ProviderFileID)
	assert.Equal(t, []string{"file_1"}, f.provider.Attached["vs_seed_kb"])

	// Staged copy removed after success.
	assert.Zero(t, stagedCount(t, f.dir))
}

func TestAttachFileRejectedOverStorageLimit(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")
	f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: b.ID, SizeBytes: 9_990})
	before := f.fake.Snapshot()

	payload := strings.Repeat("x", 100)
	_, err := f.svc.AttachFile(t.Context(), &f.admin, b.ID, "big.txt", strings.NewReader(payload))
	require.ErrorIs(t, err, quota.ErrStorageLimit)

	assert.Equal(t, before, f.fake.Snapshot())
	assert.Empty(t, f.provider.Attached["vs_seed_kb"])
	assert.Zero(t, stagedCount(t, f.dir), "staged copy removed after failure too")
}

func TestAttachFileExactFitAllowed(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")
	f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: b.ID, SizeBytes: 9_900})

	_, err := f.svc.AttachFile(t.Context(), &f.admin, b.ID, "fit.txt", strings.NewReader(strings.Repeat("y", 100)))
	require.NoError(t, err)
}

func TestDetachFileRemovesRecordAndProviderFile(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")

	ref, err := f.svc.AttachFile(t.Context(), &f.admin, b.ID, "guide.txt", strings.NewReader("text"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DetachFile(t.Context(), &f.admin, b.ID, ref.ID))
	assert.Empty(t, f.provider.Attached["vs_seed_kb"])

	refs, err := f.svc.Files(t.Context(), &f.admin, b.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDetachFileOwnedByOtherBotIsNotFound(t *testing.T) {
	f := newFixture(t)
	b := f.seedBot(t, "kb")
	other := f.seedBot(t, "other")
	ref := f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: other.ID, SizeBytes: 10})

	err := f.svc.DetachFile(t.Context(), &f.admin, b.ID, ref.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

type mapCache struct {
	bots map[string]*models.Bot
	hits int
}

func newMapCache() *mapCache { return &mapCache{bots: map[string]*models.Bot{}} }

func (m *mapCache) Get(_ context.Context, url string) (*models.Bot, error) {
	if b, ok := m.bots[url]; ok {
		m.hits++
		return b, nil
	}
	return nil, store.ErrNotFound
}
func (m *mapCache) Set(_ context.Context, b *models.Bot) error {
	m.bots[b.EmbedURL] = b
	return nil
}
func (m *mapCache) Invalidate(_ context.Context, url string) error {
	delete(m.bots, url)
	return nil
}

func TestGetByEmbedURLUsesCache(t *testing.T) {
	f := newFixture(t)
	c := newMapCache()
	f.svc.WithCache(c)
	b := f.seedBot(t, "widget")

	got, err := f.svc.GetByEmbedURL(t.Context(), b.EmbedURL)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Zero(t, c.hits)

	_, err = f.svc.GetByEmbedURL(t.Context(), b.EmbedURL)
	require.NoError(t, err)
	assert.Equal(t, 1, c.hits)

	_, err = f.svc.GetByEmbedURL(t.Context(), "no-such-widget")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteInvalidatesEmbedCache(t *testing.T) {
	f := newFixture(t)
	c := newMapCache()
	f.svc.WithCache(c)
	b := f.seedBot(t, "widget")

	_, err := f.svc.GetByEmbedURL(t.Context(), b.EmbedURL)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(t.Context(), &f.admin, b.ID))
	_, ok := c.bots[b.EmbedURL]
	assert.False(t, ok)
}
