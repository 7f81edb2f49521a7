// Package files is the local persistence layer for attachment metadata.
package files

import (
	"context"

	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/models"
)

type Repository interface {
	// Save upserts by LocalID and assigns LocalID on first insert.
	Save(ctx context.Context, f *models.FileRef) error
	SaveAll(ctx context.Context, fs []*models.FileRef) error

	GetByID(ctx context.Context, id int64) (*models.FileRef, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*models.FileRef, error)

	GetChildren(ctx context.Context, folderID string) ([]*models.FileRef, error)
	GetNotSynced(ctx context.Context) ([]*models.FileRef, error)

	// GetNotUploaded lists files whose bytes still need to reach remote
	// storage. Folders and read-only (externally hosted) files never
	// qualify.
	GetNotUploaded(ctx context.Context) ([]*models.FileRef, error)
	// GetNotDownloaded lists files whose bytes are wanted locally.
	GetNotDownloaded(ctx context.Context) ([]*models.FileRef, error)

	GetRecycleBin(ctx context.Context) ([]*models.FileRef, error)
	RecycleBinOverflow(ctx context.Context, keep int) ([]*models.FileRef, error)

	Delete(ctx context.Context, ids []int64) error
	DeleteByRemoteID(ctx context.Context, remoteID string) error

	WithTx(tx dbx.DBTX) Repository
}
