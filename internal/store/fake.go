package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
)

// Fake is an in-memory store used by service tests. WithTx snapshots
// the data at begin and restores it when the operation fails, so tests
// can assert the "failed operation leaves the store unchanged" property
// directly with Snapshot().
type Fake struct {
	mu   sync.Mutex
	data fakeData

	Commits   int
	Rollbacks int
}

type fakeData struct {
	companies   map[uuid.UUID]models.Company
	packages    map[uuid.UUID]models.Package
	users       map[uuid.UUID]models.User
	bots        map[uuid.UUID]models.Bot
	threads     map[uuid.UUID]models.Thread
	files       map[uuid.UUID]models.FileRef
	invitations map[uuid.UUID]models.Invitation
	audits      map[uuid.UUID]models.AuditLog
}

func newFakeData() fakeData {
	return fakeData{
		companies:   map[uuid.UUID]models.Company{},
		packages:    map[uuid.UUID]models.Package{},
		users:       map[uuid.UUID]models.User{},
		bots:        map[uuid.UUID]models.Bot{},
		threads:     map[uuid.UUID]models.Thread{},
		files:       map[uuid.UUID]models.FileRef{},
		invitations: map[uuid.UUID]models.Invitation{},
		audits:      map[uuid.UUID]models.AuditLog{},
	}
}

func (d fakeData) copy() fakeData {
	out := newFakeData()
	for k, v := range d.companies {
		out.companies[k] = v
	}
	for k, v := range d.packages {
		out.packages[k] = v
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.bots {
		out.bots[k] = v
	}
	for k, v := range d.threads {
		out.threads[k] = v
	}
	for k, v := range d.files {
		out.files[k] = v
	}
	for k, v := range d.invitations {
		out.invitations[k] = v
	}
	for k, v := range d.audits {
		out.audits[k] = v
	}
	return out
}

// NewFake returns a Store backed entirely by in-memory state plus the
// Fake handle for seeding and assertions.
func NewFake() (*Store, *Fake) {
	f := &Fake{data: newFakeData()}
	return &Store{
		Runner:      f,
		Companies:   fakeCompanies{f},
		Packages:    fakePackages{f},
		Users:       fakeUsers{f},
		Bots:        fakeBots{f},
		Threads:     fakeThreads{f},
		Files:       fakeFiles{f},
		Invitations: fakeInvitations{f},
		Audits:      fakeAudits{f},
	}, f
}

func (f *Fake) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	f.mu.Lock()
	before := f.data.copy()
	f.mu.Unlock()

	if err := fn(nil); err != nil {
		f.mu.Lock()
		f.data = before
		f.Rollbacks++
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.Commits++
	f.mu.Unlock()
	return nil
}

func (f *Fake) WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return f.WithTx(ctx, fn)
}

// Snapshot returns a deep copy of the current state for equality
// assertions across a failed operation.
func (f *Fake) Snapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.data.copy()
	return map[string]any{
		"companies":   d.companies,
		"packages":    d.packages,
		"users":       d.users,
		"bots":        d.bots,
		"threads":     d.threads,
		"files":       d.files,
		"invitations": d.invitations,
		"audits":      d.audits,
	}
}

// Seed helpers insert directly, outside any transaction.

func (f *Fake) SeedCompany(c models.Company) models.Company {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.data.companies[c.ID] = c
	return c
}

func (f *Fake) SeedPackage(p models.Package) models.Package {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.data.packages[p.ID] = p
	return p
}

func (f *Fake) SeedUser(u models.User) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f.data.users[u.ID] = u
	return u
}

func (f *Fake) SeedBot(b models.Bot) models.Bot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	f.data.bots[b.ID] = b
	return b
}

func (f *Fake) SeedThread(t models.Thread) models.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.data.threads[t.ID] = t
	return t
}

func (f *Fake) SeedFile(fr models.FileRef) models.FileRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fr.ID == uuid.Nil {
		fr.ID = uuid.New()
	}
	f.data.files[fr.ID] = fr
	return fr
}

type fakeCompanies struct{ f *Fake }

func (r fakeCompanies) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Company, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if c, ok := r.f.data.companies[id]; ok {
		return &c, nil
	}
	return nil, ErrNotFound
}

func (r fakeCompanies) FindByUserID(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Company, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, c := range r.f.data.companies {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r fakeCompanies) FindByQuery(_ context.Context, _ pgx.Tx, q Query) ([]models.Company, int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Company
	for _, c := range r.f.data.companies {
		if v, ok := q.Filter["user_id"]; ok && c.UserID != v.(uuid.UUID) {
			continue
		}
		if v, ok := q.Filter["reseller_id"]; ok && (c.ResellerID == nil || *c.ResellerID != v.(uuid.UUID)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, q), len(out), nil
}

func (r fakeCompanies) Insert(_ context.Context, _ pgx.Tx, c *models.Company) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.f.data.companies[c.ID] = *c
	return nil
}

func (r fakeCompanies) Update(_ context.Context, _ pgx.Tx, c *models.Company) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.companies[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now()
	r.f.data.companies[c.ID] = *c
	return nil
}

func (r fakeCompanies) DeleteByID(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.companies[id]; !ok {
		return ErrNotFound
	}
	delete(r.f.data.companies, id)
	return nil
}

type fakePackages struct{ f *Fake }

func (r fakePackages) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Package, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if p, ok := r.f.data.packages[id]; ok {
		return &p, nil
	}
	return nil, ErrNotFound
}

type fakeUsers struct{ f *Fake }

func (r fakeUsers) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if u, ok := r.f.data.users[id]; ok {
		return &u, nil
	}
	return nil, ErrNotFound
}

func (r fakeUsers) FindByEmail(_ context.Context, _ pgx.Tx, email string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r fakeUsers) Insert(_ context.Context, _ pgx.Tx, u *models.User) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.data.users {
		if existing.Email == u.Email {
			return fmt.Errorf("duplicate email %q", u.Email)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	r.f.data.users[u.ID] = *u
	return nil
}

func (r fakeUsers) Update(_ context.Context, _ pgx.Tx, u *models.User) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.users[u.ID]; !ok {
		return ErrNotFound
	}
	r.f.data.users[u.ID] = *u
	return nil
}

type fakeBots struct{ f *Fake }

func (r fakeBots) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Bot, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if b, ok := r.f.data.bots[id]; ok {
		return &b, nil
	}
	return nil, ErrNotFound
}

func (r fakeBots) FindByEmbedURL(_ context.Context, _ pgx.Tx, url string) (*models.Bot, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, b := range r.f.data.bots {
		if b.EmbedURL == url {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (r fakeBots) FindByQuery(_ context.Context, _ pgx.Tx, q Query) ([]models.Bot, int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Bot
	for _, b := range r.f.data.bots {
		if v, ok := q.Filter["company_id"]; ok && !matchUUID(v, b.CompanyID) {
			continue
		}
		if v, ok := q.Filter["user_id"]; ok && !matchUUID(v, b.UserID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, q), len(out), nil
}

func (r fakeBots) CountByCompany(_ context.Context, _ pgx.Tx, companyID uuid.UUID) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := 0
	for _, b := range r.f.data.bots {
		if b.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (r fakeBots) Insert(_ context.Context, _ pgx.Tx, b *models.Bot) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	// Emulates the unique index on embed_url.
	for _, existing := range r.f.data.bots {
		if existing.EmbedURL == b.EmbedURL {
			return fmt.Errorf("duplicate embed_url %q", b.EmbedURL)
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.f.data.bots[b.ID] = *b
	return nil
}

func (r fakeBots) Update(_ context.Context, _ pgx.Tx, b *models.Bot) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.bots[b.ID]; !ok {
		return ErrNotFound
	}
	b.UpdatedAt = time.Now()
	r.f.data.bots[b.ID] = *b
	return nil
}

func (r fakeBots) DeleteByID(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.bots[id]; !ok {
		return ErrNotFound
	}
	delete(r.f.data.bots, id)
	return nil
}

type fakeThreads struct{ f *Fake }

func (r fakeThreads) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Thread, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if t, ok := r.f.data.threads[id]; ok {
		return &t, nil
	}
	return nil, ErrNotFound
}

func (r fakeThreads) FindByQuery(_ context.Context, _ pgx.Tx, q Query) ([]models.Thread, int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Thread
	for _, t := range r.f.data.threads {
		if v, ok := q.Filter["bot_id"]; ok && !matchUUID(v, t.BotID) {
			continue
		}
		if v, ok := q.Filter["user_id"]; ok && (t.UserID == nil || *t.UserID != v.(uuid.UUID)) {
			continue
		}
		if v, ok := q.Filter["visitor_key"]; ok && t.VisitorKey != v.(string) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, q), len(out), nil
}

func (r fakeThreads) Insert(_ context.Context, _ pgx.Tx, t *models.Thread) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	t.LastSeen = t.CreatedAt
	r.f.data.threads[t.ID] = *t
	return nil
}

func (r fakeThreads) Update(_ context.Context, _ pgx.Tx, t *models.Thread) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.threads[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now()
	r.f.data.threads[t.ID] = *t
	return nil
}

func (r fakeThreads) DeleteByID(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.threads[id]; !ok {
		return ErrNotFound
	}
	delete(r.f.data.threads, id)
	return nil
}

type fakeFiles struct{ f *Fake }

func (r fakeFiles) FindByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.FileRef, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if fr, ok := r.f.data.files[id]; ok {
		return &fr, nil
	}
	return nil, ErrNotFound
}

func (r fakeFiles) FindByOwner(_ context.Context, _ pgx.Tx, kind models.FileOwner, ownerID uuid.UUID) ([]models.FileRef, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.FileRef
	for _, fr := range r.f.data.files {
		if fr.OwnerKind == kind && fr.OwnerID == ownerID {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r fakeFiles) SumSizeByCompany(_ context.Context, _ pgx.Tx, companyID uuid.UUID) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var sum int64
	for _, fr := range r.f.data.files {
		if fr.CompanyID == companyID {
			sum += fr.SizeBytes
		}
	}
	return sum, nil
}

func (r fakeFiles) Insert(_ context.Context, _ pgx.Tx, fr *models.FileRef) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if fr.ID == uuid.Nil {
		fr.ID = uuid.New()
	}
	fr.CreatedAt = time.Now()
	r.f.data.files[fr.ID] = *fr
	return nil
}

func (r fakeFiles) DeleteByID(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.data.files[id]; !ok {
		return ErrNotFound
	}
	delete(r.f.data.files, id)
	return nil
}

type fakeInvitations struct{ f *Fake }

func (r fakeInvitations) FindActive(_ context.Context, _ pgx.Tx, email, code string) (*models.Invitation, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, inv := range r.f.data.invitations {
		if inv.Email == email && inv.Code == code && !inv.Used {
			return &inv, nil
		}
	}
	return nil, ErrNotFound
}

func (r fakeInvitations) Insert(_ context.Context, _ pgx.Tx, inv *models.Invitation) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = time.Now()
	r.f.data.invitations[inv.ID] = *inv
	return nil
}

func (r fakeInvitations) MarkUsed(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	inv, ok := r.f.data.invitations[id]
	if !ok {
		return ErrNotFound
	}
	inv.Used = true
	r.f.data.invitations[id] = inv
	return nil
}

type fakeAudits struct{ f *Fake }

func (r fakeAudits) Insert(_ context.Context, _ pgx.Tx, entry *models.AuditLog) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	r.f.data.audits[entry.ID] = *entry
	return nil
}

func (r fakeAudits) FindByCompany(_ context.Context, _ pgx.Tx, companyID uuid.UUID, q Query) ([]models.AuditLog, int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	action, _ := q.Filter["action"].(string)
	var out []models.AuditLog
	for _, e := range r.f.data.audits {
		if e.CompanyID == nil || *e.CompanyID != companyID {
			continue
		}
		if action != "" && e.Action != action {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, q), len(out), nil
}

// matchUUID accepts either a single id or a slice of ids, mirroring the
// membership filters the SQL gateways build.
func matchUUID(v any, id uuid.UUID) bool {
	switch f := v.(type) {
	case uuid.UUID:
		return f == id
	case []uuid.UUID:
		for _, candidate := range f {
			if candidate == id {
				return true
			}
		}
		return false
	}
	return false
}

func page[T any](items []T, q Query) []T {
	q = q.normalized()
	start := (q.Page - 1) * q.Limit
	if start >= len(items) {
		return nil
	}
	end := start + q.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
