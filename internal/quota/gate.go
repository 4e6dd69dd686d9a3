package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatforge/backend/internal/models"
	"github.com/chatforge/backend/internal/store"
)

var (
	ErrBotLimit     = errors.New("bot limit exceeded")
	ErrStorageLimit = errors.New("storage limit exceeded")
)

// Gate checks tenant usage against package limits. Both checks read
// inside the caller's transaction; callers that go on to insert must run
// under a serializable transaction so the store rejects concurrent
// check-then-insert races.
type Gate struct {
	bots  store.Bots
	files store.Files
}

func NewGate(bots store.Bots, files store.Files) *Gate {
	return &Gate{bots: bots, files: files}
}

// CheckBotLimit rejects creation when the company already holds
// pkg.BotLimit bots.
func (g *Gate) CheckBotLimit(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, pkg *models.Package) error {
	n, err := g.bots.CountByCompany(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if n >= pkg.BotLimit {
		return fmt.Errorf("%w: %d of %d bots used", ErrBotLimit, n, pkg.BotLimit)
	}
	return nil
}

// CheckStorage rejects a new file when stored bytes plus addBytes would
// exceed the package allowance.
func (g *Gate) CheckStorage(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, pkg *models.Package, addBytes int64) error {
	used, err := g.files.SumSizeByCompany(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if used+addBytes > pkg.StorageLimitBytes {
		return fmt.Errorf("%w: %d of %d bytes used, adding %d",
			ErrStorageLimit, used, pkg.StorageLimitBytes, addBytes)
	}
	return nil
}
