package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/backend/internal/assistant"
	"github.com/chatforge/backend/internal/chat"
	"github.com/chatforge/backend/internal/files"
	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

type fakeUpserter struct {
	calls []upsertCall
	err   error
}

type upsertCall struct {
	threadID  uuid.UUID
	companyID uuid.UUID
	summary   string
}

func (f *fakeUpserter) Upsert(_ context.Context, threadID, companyID uuid.UUID, summary string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, upsertCall{threadID: threadID, companyID: companyID, summary: summary})
	return nil
}

type fakeCompleter struct {
	reply    string
	err      error
	requests []chat.Request
}

func (f *fakeCompleter) Chat(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{Content: f.reply}, nil
}

func summarizeTask(t *testing.T, threadID uuid.UUID) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(ThreadSummarizePayload{ThreadID: threadID.String()})
	require.NoError(t, err)
	return asynq.NewTask(TypeThreadSummarize, data)
}

type summarizeFixture struct {
	worker   *SummarizeWorker
	fake     *store.Fake
	provider *assistant.Fake
	chat     *fakeCompleter
	index    *fakeUpserter
	company  models.Company
	thread   models.Thread
}

func newSummarizeFixture(t *testing.T) *summarizeFixture {
	t.Helper()
	st, fake := store.NewFake()
	provider := assistant.NewFake()
	completer := &fakeCompleter{reply: "Customer asked about pricing; sales call booked."}
	index := &fakeUpserter{}

	pkg := fake.SeedPackage(models.Package{Name: "starter", BotLimit: 3, StorageLimitBytes: 10_000})
	admin := fake.SeedUser(models.User{Email: "admin@acme.test", Role: models.RoleCompanyAdmin})
	company := fake.SeedCompany(models.Company{Name: "Acme", UserID: admin.ID, PackageID: pkg.ID})
	bot := fake.SeedBot(models.Bot{CompanyID: company.ID, Name: "support", AssistantID: "asst_1"})
	thread := fake.SeedThread(models.Thread{BotID: bot.ID, ProviderID: "conv_1", Summary: "Customer asked about pricing."})

	provider.Messages = map[string][]models.Message{
		"conv_1": {
			{ID: "msg_2", Role: "assistant", Text: "A call is booked for Tuesday."},
			{ID: "msg_1", Role: "user", Text: "Can we talk to sales?"},
		},
	}

	return &summarizeFixture{
		worker:   NewSummarizeWorker(st, provider, completer, index, "gpt-4o-mini", slog.New(slog.DiscardHandler)),
		fake:     fake,
		provider: provider,
		chat:     completer,
		index:    index,
		company:  company,
		thread:   thread,
	}
}

func TestSummarizeRefreshesThreadAndIndex(t *testing.T) {
	f := newSummarizeFixture(t)

	err := f.worker.ProcessTask(t.Context(), summarizeTask(t, f.thread.ID))
	require.NoError(t, err)

	updated, err := f.worker.st.Threads.FindByID(t.Context(), nil, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer asked about pricing; sales call booked.", updated.Summary)
	require.NotNil(t, updated.SummaryUpdatedAt)

	require.Len(t, f.index.calls, 1)
	assert.Equal(t, f.thread.ID, f.index.calls[0].threadID)
	assert.Equal(t, f.company.ID, f.index.calls[0].companyID)

	require.Len(t, f.chat.requests, 1)
	prompt := f.chat.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Previous summary:")
	// Oldest message first in the rendered transcript.
	assert.Less(t,
		strings.Index(prompt, "Can we talk to sales?"),
		strings.Index(prompt, "A call is booked for Tuesday."))
}

func TestSummarizeSkipsEmptyConversation(t *testing.T) {
	f := newSummarizeFixture(t)
	f.provider.Messages = nil

	err := f.worker.ProcessTask(t.Context(), summarizeTask(t, f.thread.ID))
	require.NoError(t, err)
	assert.Empty(t, f.chat.requests)
	assert.Empty(t, f.index.calls)
}

func TestSummarizeCompletionFailureIsRetriable(t *testing.T) {
	f := newSummarizeFixture(t)
	f.chat.err = errors.New("gateway down")

	err := f.worker.ProcessTask(t.Context(), summarizeTask(t, f.thread.ID))
	require.Error(t, err)

	unchanged, err := f.worker.st.Threads.FindByID(t.Context(), nil, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, f.thread.Summary, unchanged.Summary)
}

func TestSummarizeUnknownThread(t *testing.T) {
	f := newSummarizeFixture(t)
	err := f.worker.ProcessTask(t.Context(), summarizeTask(t, uuid.New()))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepRemovesOldStagedFiles(t *testing.T) {
	dir := t.TempDir()
	staging, err := files.NewStaging(dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "fresh.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))

	w := NewSweepWorker(staging, time.Hour, slog.New(slog.DiscardHandler))
	require.NoError(t, w.ProcessTask(t.Context(), asynq.NewTask(TypeFilesSweep, nil)))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}
