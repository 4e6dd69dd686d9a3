package thread

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/auth"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/quota"
	"github.com/chatforge/backend/internal/run"
	"github.com/chatforge/backend/internal/store"
)

type fixture struct {
	svc      *Service
	fake     *store.Fake
	provider *assistant.Fake
	orc      *run.Orchestrator

	pkg     models.Package
	admin   models.User
	company models.Company
	bot     models.Bot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, fake := store.NewFake()
	provider := assistant.NewFake()
	logger := slog.New(slog.DiscardHandler)
	staging, err := files.NewStaging(t.TempDir(), logger)
	require.NoError(t, err)
	orc := run.NewOrchestrator(provider, logger)

	f := &fixture{
		fake:     fake,
		provider: provider,
		orc:      orc,
	}
	f.svc = NewService(st, quota.NewGate(st.Bots, st.Files), provider, orc, staging, logger)

	f.pkg = fake.SeedPackage(models.Package{Name: "starter", BotLimit: 5, StorageLimitBytes: 10_000})
	f.admin = fake.SeedUser(models.User{Email: "admin@acme.test", Role: models.RoleCompanyAdmin})
	f.company = fake.SeedCompany(models.Company{Name: "Acme", UserID: f.admin.ID, PackageID: f.pkg.ID})
	f.bot = fake.SeedBot(models.Bot{
		CompanyID:     f.company.ID,
		UserID:        f.admin.ID,
		Name:          "support",
		EmbedURL:      "support-embed",
		AssistantID:   "asst_1",
		Model:         "gpt-4o",
		VectorStoreID: "vs_bot",
	})
	return f
}

func TestGetOrCreateNewOpensConversation(t *testing.T) {
	f := newFixture(t)

	th, err := f.svc.GetOrCreate(t.Context(), &f.admin, CreateInput{BotID: f.bot.ID, ThreadID: NewThreadID, Name: "first chat"})
	require.NoError(t, err)
	assert.Equal(t, "conv_1", th.ProviderID)
	assert.Equal(t, f.bot.ID, th.BotID)
	require.NotNil(t, th.UserID)
	assert.Equal(t, f.admin.ID, *th.UserID)
}

func TestGetOrCreateExistingBumpsLastSeen(t *testing.T) {
	f := newFixture(t)
	seeded := f.fake.SeedThread(models.Thread{
		BotID:      f.bot.ID,
		UserID:     &f.admin.ID,
		ProviderID: "conv_seed",
		LastSeen:   time.Now().Add(-time.Hour),
	})

	th, err := f.svc.GetOrCreate(t.Context(), &f.admin, CreateInput{BotID: f.bot.ID, ThreadID: seeded.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, th.ID)
	assert.Equal(t, "conv_seed", th.ProviderID)
	assert.WithinDuration(t, time.Now(), th.LastSeen, time.Minute)
	// No new provider conversation was opened.
	_, err = f.svc.GetOrCreate(t.Context(), &f.admin, CreateInput{BotID: f.bot.ID, ThreadID: NewThreadID})
	require.NoError(t, err)
}

func TestGetOrCreateVisitorNeedsKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetOrCreate(t.Context(), nil, CreateInput{BotID: f.bot.ID})
	require.ErrorIs(t, err, ErrInvalid)

	th, err := f.svc.GetOrCreate(t.Context(), nil, CreateInput{BotID: f.bot.ID, VisitorKey: "visitor-1"})
	require.NoError(t, err)
	assert.Nil(t, th.UserID)
	assert.Equal(t, "visitor-1", th.VisitorKey)
	assert.Equal(t, "widget", th.Source)
}

func TestVisitorCannotOpenForeignThread(t *testing.T) {
	f := newFixture(t)
	mine, err := f.svc.GetOrCreate(t.Context(), nil, CreateInput{BotID: f.bot.ID, VisitorKey: "visitor-1"})
	require.NoError(t, err)

	_, err = f.svc.Get(t.Context(), nil, mine.ID, "visitor-2")
	require.ErrorIs(t, err, auth.ErrNotAuthorized)

	got, err := f.svc.Get(t.Context(), nil, mine.ID, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	// A signed-in thread is never visible to a visitor key.
	owned := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_owned"})
	_, err = f.svc.Get(t.Context(), nil, owned.ID, "visitor-1")
	require.ErrorIs(t, err, auth.ErrNotAuthorized)
}

func TestGetOrCreateWrongBotIsNotFound(t *testing.T) {
	f := newFixture(t)
	other := f.fake.SeedBot(models.Bot{CompanyID: f.company.ID, UserID: f.admin.ID, Name: "other", EmbedURL: "other-embed"})
	th := f.fake.SeedThread(models.Thread{BotID: other.ID, UserID: &f.admin.ID, ProviderID: "conv_x"})

	_, err := f.svc.GetOrCreate(t.Context(), &f.admin, CreateInput{BotID: f.bot.ID, ThreadID: th.ID.String()})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRequiresBotFilterAndOwnership(t *testing.T) {
	f := newFixture(t)
	f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "c1"})
	f.fake.SeedThread(models.Thread{BotID: f.bot.ID, VisitorKey: "v1", ProviderID: "c2"})

	_, _, err := f.svc.List(t.Context(), &f.admin, store.Query{})
	require.ErrorIs(t, err, ErrInvalid)

	_, total, err := f.svc.List(t.Context(), &f.admin, store.Query{Filter: map[string]any{"bot_id": f.bot.ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	outsider := f.fake.SeedUser(models.User{Email: "x@rival.test", Role: models.RoleCompanyAdmin})
	f.fake.SeedCompany(models.Company{Name: "Rival", UserID: outsider.ID, PackageID: f.pkg.ID})
	_, _, err = f.svc.List(t.Context(), &outsider, store.Query{Filter: map[string]any{"bot_id": f.bot.ID}})
	require.ErrorIs(t, err, auth.ErrNotAuthorized)
}

func TestMessagesRelayedFromProvider(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_msgs"})
	f.provider.Messages["conv_msgs"] = []models.Message{
		{ID: "msg_2", Role: "assistant", Text: "hi there"},
		{ID: "msg_1", Role: "user", Text: "hello"},
	}

	msgs, err := f.svc.Messages(t.Context(), &f.admin, th.ID, "", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg_2", msgs[0].ID)
}

func TestRunStreamsSignals(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_run"})
	f.provider.Script = []assistant.Event{
		{Kind: assistant.EventRunCreated, RunID: "run_1"},
		{Kind: assistant.EventMessageDelta, Text: "answer"},
		{Kind: assistant.EventRunCompleted, RunID: "run_1"},
	}

	ch, err := f.svc.Run(t.Context(), &f.admin, th.ID, "", "what is up")
	require.NoError(t, err)

	var kinds []run.SignalKind
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				assert.Equal(t, []run.SignalKind{run.SignalStarted, run.SignalDelta, run.SignalDone}, kinds)
				require.Len(t, f.provider.Started, 1)
				assert.Equal(t, "asst_1", f.provider.Started[0].AssistantID)
				assert.Equal(t, "what is up", f.provider.Started[0].Message)
				return
			}
			kinds = append(kinds, s.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for run signals")
		}
	}
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_run"})

	_, err := f.svc.Run(t.Context(), &f.admin, th.ID, "", "  ")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStopOnIdleThreadSucceeds(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_idle"})

	require.NoError(t, f.svc.Stop(t.Context(), &f.admin, th.ID, "", "run_gone"))
	assert.Empty(t, f.provider.Cancelled)
}

func TestAttachFileCreatesThreadVectorStoreOnce(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_files"})

	ref, err := f.svc.AttachFile(t.Context(), &f.admin, th.ID, "", "context.txt", strings.NewReader("background"))
	require.NoError(t, err)
	assert.Equal(t, models.FileOwnerThread, ref.OwnerKind)

	got, err := f.svc.Get(t.Context(), &f.admin, th.ID, "")
	require.NoError(t, err)
	require.NotEmpty(t, got.VectorStoreID)
	firstStore := got.VectorStoreID

	_, err = f.svc.AttachFile(t.Context(), &f.admin, th.ID, "", "more.txt", strings.NewReader("more"))
	require.NoError(t, err)
	got, err = f.svc.Get(t.Context(), &f.admin, th.ID, "")
	require.NoError(t, err)
	assert.Equal(t, firstStore, got.VectorStoreID)
	assert.Len(t, f.provider.Attached[firstStore], 2)
}

func TestAttachFileOverQuotaLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_full"})
	f.fake.SeedFile(models.FileRef{CompanyID: f.company.ID, OwnerKind: models.FileOwnerBot, OwnerID: f.bot.ID, SizeBytes: 9_500})
	before := f.fake.Snapshot()

	_, err := f.svc.AttachFile(t.Context(), &f.admin, th.ID, "", "big.txt", strings.NewReader(strings.Repeat("z", 1_000)))
	require.ErrorIs(t, err, quota.ErrStorageLimit)
	assert.Equal(t, before, f.fake.Snapshot())
	assert.Empty(t, f.provider.Attached)
}

func TestDetachFileRoundTrip(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_det"})

	ref, err := f.svc.AttachFile(t.Context(), &f.admin, th.ID, "", "a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DetachFile(t.Context(), &f.admin, th.ID, "", ref.ID))
	got, err := f.svc.Get(t.Context(), &f.admin, th.ID, "")
	require.NoError(t, err)
	assert.Empty(t, f.provider.Attached[got.VectorStoreID])
}

func TestUpdateRenamesThread(t *testing.T) {
	f := newFixture(t)
	th := f.fake.SeedThread(models.Thread{BotID: f.bot.ID, UserID: &f.admin.ID, ProviderID: "conv_up", Name: "old"})

	name := "new name"
	got, err := f.svc.Update(t.Context(), &f.admin, th.ID, "", UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "new name", got.Name)
}
