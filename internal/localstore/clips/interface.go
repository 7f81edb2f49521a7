// Package clips is the local persistence layer for notes.
package clips

import (
	"context"

	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/models"
)

type Repository interface {
	// Save upserts by LocalID and assigns LocalID on first insert.
	Save(ctx context.Context, c *models.Clip) error
	SaveAll(ctx context.Context, cs []*models.Clip) error

	GetByID(ctx context.Context, id int64) (*models.Clip, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*models.Clip, error)
	// GetUnsyncedByText finds a local-only clip with exactly this text,
	// used to pair local records with remote documents on first sync.
	GetUnsyncedByText(ctx context.Context, text string) (*models.Clip, error)
	// GetActiveByText finds a non-binned clip with exactly this text,
	// used to deduplicate tracked clipboard captures.
	GetActiveByText(ctx context.Context, text string) (*models.Clip, error)

	GetChildren(ctx context.Context, folderID string) ([]*models.Clip, error)
	// GetByTagID lists clips referencing the given tag or kit uid.
	GetByTagID(ctx context.Context, uid string) ([]*models.Clip, error)
	GetNotSynced(ctx context.Context) ([]*models.Clip, error)

	GetRecycleBin(ctx context.Context) ([]*models.Clip, error)
	// RecycleBinOverflow returns the oldest deleted clips beyond keep,
	// in deletion order.
	RecycleBinOverflow(ctx context.Context, keep int) ([]*models.Clip, error)

	Delete(ctx context.Context, ids []int64) error
	DeleteByRemoteID(ctx context.Context, remoteID string) error

	CountActive(ctx context.Context) (int64, error)

	// WithTx returns a repository bound to the given transaction.
	WithTx(tx dbx.DBTX) Repository
}
