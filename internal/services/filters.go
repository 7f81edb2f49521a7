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
)

type FilterService struct {
	store *localstore.Store
	docs  remote.DocStore
	sess  session.Session
	bus   *notify.Bus
	log   logging.Logger

	now func() time.Time
}

func NewFilterService(store *localstore.Store, docs remote.DocStore, sess session.Session, bus *notify.Bus, log logging.Logger) *FilterService {
	return &FilterService{
		store: store,
		docs:  docs,
		sess:  sess,
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// Save persists a filter. An equivalent save is a no-op; otherwise the
// full document is pushed (filters are small, no field diffing).
func (s *FilterService) Save(ctx context.Context, f *models.Filter) error {
	if f.Name == "" {
		return fmt.Errorf("filter name is empty: %w", common.ErrValidation)
	}
	if f.UID == "" {
		f.UID = remote.NewID()
	}

	existing, err := s.store.Filters.GetByUID(ctx, f.UID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if existing != nil {
		if existing.IsSame(f) {
			return nil
		}
		f.LocalID = existing.LocalID
		f.NotesCount = existing.NotesCount
	}

	now := s.now()
	f.ChangeTimestamp = now.UnixMilli()

	// local write first; the push is deferred and SyncDate recorded only
	// once the remote side accepted the document
	if err := s.store.Filters.Save(ctx, f); err != nil {
		return err
	}
	s.bus.Publish(notify.Change{Entity: notify.EntityFilter, ID: f.LocalID, State: notify.StateSaved})

	if !s.sess.IsAuthorized() {
		return nil
	}
	fields := remote.EncodeFilter(f)
	fields[remote.FieldChangeTimestamp] = f.ChangeTimestamp
	var perr error
	if existing != nil && existing.IsSynced() {
		perr = s.docs.Update(ctx, remote.CollectionFilters, f.UID, fields)
	} else {
		perr = s.docs.Create(ctx, remote.CollectionFilters, f.UID, fields)
	}
	if perr != nil {
		s.log.Warn(ctx, "failed to push filter", "uid", f.UID, "error", perr)
		return nil
	}

	d := now
	f.SyncDate = &d
	return s.store.Filters.Save(ctx, f)
}

func (s *FilterService) GetAll(ctx context.Context) ([]*models.Filter, error) {
	return s.store.Filters.GetAll(ctx)
}

func (s *FilterService) GetTags(ctx context.Context) ([]*models.Filter, error) {
	return s.store.Filters.GetByType(ctx, models.FilterTypeTag)
}

// Delete removes a filter everywhere. For tags and kits the uid is also
// stripped from every clip referencing it, and those clip edits are
// pushed so other devices converge.
func (s *FilterService) Delete(ctx context.Context, uid string) error {
	f, err := s.store.Filters.GetByUID(ctx, uid)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	type push struct {
		remoteID string
		fields   map[string]any
	}
	var pushes []push

	err = s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		filtersRepo := s.store.Filters.WithTx(tx)
		clipsRepo := s.store.Clips.WithTx(tx)

		if f.IsTag() || f.IsSnippetKit() {
			referencing, err := clipsRepo.GetByTagID(ctx, uid)
			if err != nil {
				return err
			}
			for _, c := range referencing {
				next := c.Clone()
				next.TagIDs = models.Subtract(next.TagIDs, []string{uid})
				next.SnippetIDs = models.Subtract(next.SnippetIDs, []string{uid})
				next.ChangeTimestamp = now.UnixMilli()
				if err := clipsRepo.Save(ctx, next); err != nil {
					return err
				}
				if next.IsSynced() {
					diff := remote.DiffClip(c, next)
					diff[remote.FieldChangeTimestamp] = next.ChangeTimestamp
					pushes = append(pushes, push{next.RemoteID, diff})
				}
			}
		}
		return filtersRepo.DeleteByUID(ctx, uid)
	})
	if err != nil {
		return err
	}
	s.bus.Publish(notify.Change{Entity: notify.EntityFilter, ID: f.LocalID, State: notify.StateDeleted})

	for _, p := range pushes {
		if err := s.docs.Update(ctx, remote.CollectionClips, p.remoteID, p.fields); err != nil {
			s.log.Warn(ctx, "failed to push tag cleanup", "error", err)
		}
	}

	if f.IsSynced() {
		b := s.docs.NewBatch(remote.CollectionFilters)
		b.Delete(uid)
		if err := b.Commit(ctx); err != nil {
			s.log.Warn(ctx, "failed to push filter deletion", "uid", uid, "error", err)
		}
	}
	return nil
}

// SyncAll pushes filters that never reached the remote side.
func (s *FilterService) SyncAll(ctx context.Context) error {
	if !s.sess.IsAuthorized() {
		return common.ErrUnauthorized
	}
	pending, err := s.store.Filters.GetNotSynced(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	now := s.now()
	for _, f := range pending {
		if f.UID == "" {
			f.UID = remote.NewID()
		}
		f.ChangeTimestamp = now.UnixMilli()
	}

	err = remote.SplitBatches(pending, func(items []*models.Filter) error {
		b := s.docs.NewBatch(remote.CollectionFilters)
		for _, f := range items {
			fields := remote.EncodeFilter(f)
			fields[remote.FieldChangeTimestamp] = f.ChangeTimestamp
			b.Create(f.UID, fields)
		}
		if err := b.Commit(ctx); err != nil {
			return err
		}
		return s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			repo := s.store.Filters.WithTx(tx)
			for _, f := range items {
				d := now
				f.SyncDate = &d
				if err := repo.Save(ctx, f); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to sync filters: %w", err)
	}
	s.log.Info(ctx, "pushed local filters", "count", len(pending))
	return nil
}
