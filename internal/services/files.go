package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/remote"
	"github.com/clipsync/clipsync/internal/session"
	"github.com/clipsync/clipsync/internal/transfer"
)

type FileService struct {
	store    *localstore.Store
	docs     remote.DocStore
	objects  remote.ObjectStore
	transfer *transfer.Manager
	sess     session.Session
	bus      *notify.Bus
	log      logging.Logger

	now func() time.Time
}

func NewFileService(store *localstore.Store, docs remote.DocStore, objects remote.ObjectStore, tm *transfer.Manager, sess session.Session, bus *notify.Bus, log logging.Logger) *FileService {
	return &FileService{
		store:    store,
		docs:     docs,
		objects:  objects,
		transfer: tm,
		sess:     sess,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// Save persists file metadata and pushes the remote document. A new
// non-folder file with a local source is scheduled for upload.
func (s *FileService) Save(ctx context.Context, f *models.FileRef) error {
	if f.Title == "" {
		return fmt.Errorf("file title is empty: %w", common.ErrValidation)
	}

	var prev *models.FileRef
	if f.LocalID != 0 {
		var err error
		prev, err = s.store.Files.GetByID(ctx, f.LocalID)
		if err != nil {
			return err
		}
	}

	now := s.now()
	if prev == nil && f.CreateDate.IsZero() {
		f.CreateDate = now
	}
	f.UpdateDate = now
	f.ModifyDate = now
	f.ChangeTimestamp = now.UnixMilli()

	if err := s.store.Files.Save(ctx, f); err != nil {
		return err
	}
	s.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: f.LocalID, State: notify.StateSaved})

	switch {
	case !f.IsSynced():
		// the remote id is persisted only after the document create
		// succeeded; until then SyncAll keeps retrying this file
		if !s.sess.IsAuthorized() {
			return nil
		}
		id := remote.NewID()
		fields := remote.EncodeFileRef(f)
		fields[remote.FieldChangeTimestamp] = f.ChangeTimestamp
		if err := s.docs.Create(ctx, remote.CollectionFiles, id, fields); err != nil {
			s.log.Warn(ctx, "failed to push new file", "file", f.LocalID, "error", err)
			return nil
		}
		f.RemoteID = id
		if err := s.store.Files.Save(ctx, f); err != nil {
			return err
		}
	case prev != nil:
		diff := remote.DiffFileRef(prev, f)
		if len(diff) > 0 {
			diff[remote.FieldChangeTimestamp] = f.ChangeTimestamp
			if err := s.docs.Update(ctx, remote.CollectionFiles, f.RemoteID, diff); err != nil {
				s.log.Warn(ctx, "failed to push file update", "file", f.LocalID, "error", err)
			}
		}
	}

	if f.IsSynced() && !f.Uploaded && !f.IsFolder && !f.ReadOnly && f.UploadURL != "" {
		s.transfer.Upload(ctx, f.LocalID)
	}
	return nil
}

func (s *FileService) GetByID(ctx context.Context, id int64) (*models.FileRef, error) {
	return s.store.Files.GetByID(ctx, id)
}

func (s *FileService) GetChildren(ctx context.Context, folderID string) ([]*models.FileRef, error) {
	return s.store.Files.GetChildren(ctx, folderID)
}

// Upload, Download and CancelTransfer delegate to the transfer manager.
func (s *FileService) Upload(ctx context.Context, id int64) { s.transfer.Upload(ctx, id) }

func (s *FileService) Download(ctx context.Context, id int64) { s.transfer.Download(ctx, id) }

func (s *FileService) CancelTransfer(ctx context.Context, id int64) error {
	return s.transfer.Cancel(ctx, id)
}

// DeleteAll removes files. Permanent deletion also drops the stored
// payload; a running transfer for the file is canceled first.
func (s *FileService) DeleteAll(ctx context.Context, ids []int64, permanently bool) error {
	now := s.now()
	var hardRemote []string
	var softRemote []string

	err := s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Files.WithTx(tx)
		hardLocal := []int64{}
		for _, id := range ids {
			f, err := repo.GetByID(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			if permanently || f.IsDeleted() {
				hardLocal = append(hardLocal, f.LocalID)
				if f.IsSynced() {
					hardRemote = append(hardRemote, f.RemoteID)
				}
				continue
			}

			deleted := f.Clone()
			d := now
			deleted.DeleteDate = &d
			deleted.ChangeTimestamp = now.UnixMilli()
			if err := repo.Save(ctx, deleted); err != nil {
				return err
			}
			if deleted.IsSynced() {
				softRemote = append(softRemote, deleted.RemoteID)
			}
		}
		return repo.Delete(ctx, hardLocal)
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.transfer.Cancel(ctx, id); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.log.Warn(ctx, "failed to cancel transfer", "file", id, "error", err)
		}
		s.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateDeleted})
	}

	for _, remoteID := range softRemote {
		fields := map[string]any{
			remote.FileFieldDeleted:     now.UnixMilli(),
			remote.FieldChangeTimestamp: now.UnixMilli(),
		}
		if err := s.docs.Update(ctx, remote.CollectionFiles, remoteID, fields); err != nil {
			s.log.Warn(ctx, "failed to push file deletion", "error", err)
		}
	}

	err = remote.SplitBatches(hardRemote, func(batch []string) error {
		b := s.docs.NewBatch(remote.CollectionFiles)
		for _, id := range batch {
			b.Delete(id)
		}
		return b.Commit(ctx)
	})
	if err != nil {
		s.log.Warn(ctx, "failed to push permanent file deletions", "error", err)
	}

	for _, remoteID := range hardRemote {
		if err := s.objects.Delete(ctx, "files/"+remoteID); err != nil {
			s.log.Warn(ctx, "failed to delete stored payload", "key", remoteID, "error", err)
		}
	}
	return nil
}

// SyncAll pushes local-only file metadata in batches, then resumes
// pending payload transfers.
func (s *FileService) SyncAll(ctx context.Context) error {
	if !s.sess.IsAuthorized() {
		return common.ErrUnauthorized
	}
	pending, err := s.store.Files.GetNotSynced(ctx)
	if err != nil {
		return err
	}

	for _, f := range pending {
		f.RemoteID = remote.NewID()
		f.ChangeTimestamp = s.now().UnixMilli()
	}

	err = remote.SplitBatches(pending, func(items []*models.FileRef) error {
		b := s.docs.NewBatch(remote.CollectionFiles)
		for _, f := range items {
			fields := remote.EncodeFileRef(f)
			fields[remote.FieldChangeTimestamp] = f.ChangeTimestamp
			b.Create(f.RemoteID, fields)
		}
		if err := b.Commit(ctx); err != nil {
			return err
		}
		return s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return s.store.Files.WithTx(tx).SaveAll(ctx, items)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to sync files: %w", err)
	}

	return s.transfer.Resume(ctx)
}
