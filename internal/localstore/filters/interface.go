// Package filters is the local persistence layer for tags, snippet kits
// and saved filters.
package filters

import (
	"context"

	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/models"
)

type Repository interface {
	// Save upserts by LocalID and assigns LocalID on first insert.
	Save(ctx context.Context, f *models.Filter) error
	SaveAll(ctx context.Context, fs []*models.Filter) error

	GetByID(ctx context.Context, id int64) (*models.Filter, error)
	GetByUID(ctx context.Context, uid string) (*models.Filter, error)
	GetAll(ctx context.Context) ([]*models.Filter, error)
	GetByType(ctx context.Context, t models.FilterType) ([]*models.Filter, error)
	GetNotSynced(ctx context.Context) ([]*models.Filter, error)

	// ApplyCounter shifts NotesCount by delta for every non-deleted
	// filter in uids. The counter never drops below zero.
	ApplyCounter(ctx context.Context, uids []string, delta int64) error

	Delete(ctx context.Context, ids []int64) error
	DeleteByUID(ctx context.Context, uid string) error

	WithTx(tx dbx.DBTX) Repository
}
