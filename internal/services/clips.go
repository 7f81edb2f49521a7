// Package services hosts the coordinators behind the public operations:
// every mutation lands in the local database first and is then pushed
// to the remote side as a minimal partial update.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/reconcile"
	"github.com/clipsync/clipsync/internal/remote"
	"github.com/clipsync/clipsync/internal/session"
)

// DefaultRecycleBinLimit caps how many deleted clips the recycle bin
// retains; the overflow is purged oldest first.
const DefaultRecycleBinLimit = 100

type ClipService struct {
	store *localstore.Store
	docs  remote.DocStore
	sess  session.Session
	bus   *notify.Bus
	log   logging.Logger

	recycleBinLimit int
	now             func() time.Time
}

func NewClipService(store *localstore.Store, docs remote.DocStore, sess session.Session, bus *notify.Bus, log logging.Logger) *ClipService {
	return &ClipService{
		store:           store,
		docs:            docs,
		sess:            sess,
		bus:             bus,
		log:             log,
		recycleBinLimit: DefaultRecycleBinLimit,
		now:             time.Now,
	}
}

// SetRecycleBinLimit overrides the recycle bin cap. Zero disables
// trimming.
func (s *ClipService) SetRecycleBinLimit(n int) {
	if n >= 0 {
		s.recycleBinLimit = n
	}
}

// Save validates and persists a clip, then pushes the remote write: a
// full create for new synced clips, a field diff for edits. A remote
// failure never rolls the local write back.
func (s *ClipService) Save(ctx context.Context, c *models.Clip) error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("clip text is empty: %w", common.ErrValidation)
	}

	var prev *models.Clip
	// tracked clipboard captures deduplicate by content: an identical
	// active clip is updated in place instead of inserting a twin
	if c.LocalID == 0 && c.Tracked {
		match, err := s.store.Clips.GetActiveByText(ctx, c.Text)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if match != nil {
			c.LocalID = match.LocalID
			c.RemoteID = match.RemoteID
			c.CreateDate = match.CreateDate
			prev = match
		}
	}
	if prev == nil && c.LocalID != 0 {
		var err error
		prev, err = s.store.Clips.GetByID(ctx, c.LocalID)
		if err != nil {
			return err
		}
	}
	// an unchanged save must not touch dates or the remote side
	if prev != nil && reconcile.SameClip(prev, c) {
		return nil
	}

	now := s.now()
	if prev == nil && c.CreateDate.IsZero() {
		c.CreateDate = now
	}
	c.UpdateDate = now
	c.ModifyDate = now
	c.ChangeTimestamp = now.UnixMilli()

	err := s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := reconcile.ApplyCounters(ctx, s.store.Filters.WithTx(tx), prev, c); err != nil {
			return err
		}
		return s.store.Clips.WithTx(tx).Save(ctx, c)
	})
	if err != nil {
		return err
	}
	s.bus.Publish(notify.Change{Entity: notify.EntityClip, ID: c.LocalID, State: notify.StateSaved})

	switch {
	case !c.IsSynced():
		return s.createRemote(ctx, c)
	case prev != nil:
		diff := remote.DiffClip(prev, c)
		if len(diff) == 0 {
			return nil
		}
		diff[remote.FieldChangeTimestamp] = c.ChangeTimestamp
		if err := s.docs.Update(ctx, remote.CollectionClips, c.RemoteID, diff); err != nil {
			s.log.Warn(ctx, "failed to push clip update", "clip", c.LocalID, "error", err)
		}
	}
	return nil
}

// createRemote mirrors a local-only clip, quota permitting. The remote
// id is persisted only after the document create succeeded, so a failed
// push leaves the clip in the unsynced backlog for SyncAll to retry.
func (s *ClipService) createRemote(ctx context.Context, c *models.Clip) error {
	if !s.sess.IsAuthorized() {
		return nil
	}
	count, err := s.store.Clips.CountActive(ctx)
	if err != nil {
		return err
	}
	// count already includes the clip being pushed
	if !c.IsDeleted() {
		count--
	}
	if !s.sess.CanSyncNewNotes(count) {
		return nil
	}

	id := remote.NewID()
	fields := remote.EncodeClip(c)
	fields[remote.FieldChangeTimestamp] = c.ChangeTimestamp
	if err := s.docs.Create(ctx, remote.CollectionClips, id, fields); err != nil {
		s.log.Warn(ctx, "failed to push new clip", "clip", c.LocalID, "error", err)
		return nil
	}

	c.RemoteID = id
	return s.store.Clips.Save(ctx, c)
}

// IncrementUsage bumps the usage counter, locally and remotely.
func (s *ClipService) IncrementUsage(ctx context.Context, id int64) error {
	c, err := s.store.Clips.GetByID(ctx, id)
	if err != nil {
		return err
	}
	c.UsageCount++
	c.ChangeTimestamp = s.now().UnixMilli()
	if err := s.store.Clips.Save(ctx, c); err != nil {
		return err
	}
	if c.IsSynced() {
		fields := map[string]any{
			remote.ClipFieldUsageCount:  c.UsageCount,
			remote.FieldChangeTimestamp: c.ChangeTimestamp,
		}
		if err := s.docs.Update(ctx, remote.CollectionClips, c.RemoteID, fields); err != nil {
			s.log.Warn(ctx, "failed to push usage count", "clip", id, "error", err)
		}
	}
	return nil
}

func (s *ClipService) GetByID(ctx context.Context, id int64) (*models.Clip, error) {
	return s.store.Clips.GetByID(ctx, id)
}

func (s *ClipService) GetChildren(ctx context.Context, folderID string) ([]*models.Clip, error) {
	return s.store.Clips.GetChildren(ctx, folderID)
}

func (s *ClipService) GetRecycleBin(ctx context.Context) ([]*models.Clip, error) {
	return s.store.Clips.GetRecycleBin(ctx)
}

// DeleteAll deletes clips. Without permanently they move to the recycle
// bin and the returned ids can be fed to UndoDeleteAll; with it they are
// gone on both sides. Either way the bin is trimmed to its cap, oldest
// first, in the same transaction.
func (s *ClipService) DeleteAll(ctx context.Context, ids []int64, permanently bool) ([]int64, error) {
	now := s.now()
	var undoable []int64
	var hardRemote []string
	type softPush struct {
		remoteID string
		cts      int64
	}
	var softRemote []softPush

	err := s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		clipsRepo := s.store.Clips.WithTx(tx)
		filtersRepo := s.store.Filters.WithTx(tx)

		hardLocal := []int64{}
		for _, id := range ids {
			c, err := clipsRepo.GetByID(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			if permanently || c.IsDeleted() {
				if err := reconcile.ApplyCounters(ctx, filtersRepo, c, nil); err != nil {
					return err
				}
				hardLocal = append(hardLocal, c.LocalID)
				if c.IsSynced() {
					hardRemote = append(hardRemote, c.RemoteID)
				}
				continue
			}

			deleted := c.Clone()
			d := now
			deleted.DeleteDate = &d
			deleted.ChangeTimestamp = now.UnixMilli()
			if err := reconcile.ApplyCounters(ctx, filtersRepo, c, deleted); err != nil {
				return err
			}
			if err := clipsRepo.Save(ctx, deleted); err != nil {
				return err
			}
			undoable = append(undoable, deleted.LocalID)
			if deleted.IsSynced() {
				softRemote = append(softRemote, softPush{deleted.RemoteID, deleted.ChangeTimestamp})
			}
		}

		// trim the bin to its cap; zero cap means unlimited retention
		if s.recycleBinLimit > 0 {
			over, err := clipsRepo.RecycleBinOverflow(ctx, s.recycleBinLimit)
			if err != nil {
				return err
			}
			for _, c := range over {
				hardLocal = append(hardLocal, c.LocalID)
				if c.IsSynced() {
					hardRemote = append(hardRemote, c.RemoteID)
				}
			}
		}

		return clipsRepo.Delete(ctx, hardLocal)
	})
	if err != nil {
		return nil, err
	}

	for _, id := range undoable {
		s.bus.Publish(notify.Change{Entity: notify.EntityClip, ID: id, State: notify.StateDeleted})
	}

	for _, p := range softRemote {
		fields := map[string]any{
			remote.ClipFieldDeleteDate:  now.UnixMilli(),
			remote.FieldChangeTimestamp: p.cts,
		}
		if err := s.docs.Update(ctx, remote.CollectionClips, p.remoteID, fields); err != nil {
			s.log.Warn(ctx, "failed to push clip deletion", "error", err)
		}
	}
	if err := s.deleteRemote(ctx, hardRemote); err != nil {
		s.log.Warn(ctx, "failed to push permanent deletions", "error", err)
	}
	return undoable, nil
}

// UndoDeleteAll takes clips out of the recycle bin.
func (s *ClipService) UndoDeleteAll(ctx context.Context, ids []int64) error {
	now := s.now()
	var restored []*models.Clip
	err := s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		clipsRepo := s.store.Clips.WithTx(tx)
		filtersRepo := s.store.Filters.WithTx(tx)
		for _, id := range ids {
			c, err := clipsRepo.GetByID(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !c.IsDeleted() {
				continue
			}
			active := c.Clone()
			active.DeleteDate = nil
			active.ChangeTimestamp = now.UnixMilli()
			if err := reconcile.ApplyCounters(ctx, filtersRepo, c, active); err != nil {
				return err
			}
			if err := clipsRepo.Save(ctx, active); err != nil {
				return err
			}
			restored = append(restored, active)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range restored {
		s.bus.Publish(notify.Change{Entity: notify.EntityClip, ID: c.LocalID, State: notify.StateRestored})
		if c.IsSynced() {
			fields := map[string]any{
				remote.ClipFieldDeleteDate:  nil,
				remote.FieldChangeTimestamp: c.ChangeTimestamp,
			}
			if err := s.docs.Update(ctx, remote.CollectionClips, c.RemoteID, fields); err != nil {
				s.log.Warn(ctx, "failed to push clip restore", "clip", c.LocalID, "error", err)
			}
		}
	}
	return nil
}

// ClearRecycleBin permanently deletes everything in the bin.
func (s *ClipService) ClearRecycleBin(ctx context.Context) error {
	bin, err := s.store.Clips.GetRecycleBin(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, len(bin))
	for i, c := range bin {
		ids[i] = c.LocalID
	}
	_, err = s.DeleteAll(ctx, ids, true)
	return err
}

// ChangeFolder moves clips into a folder ("" is the root).
func (s *ClipService) ChangeFolder(ctx context.Context, ids []int64, folderID string) error {
	return s.updateEach(ctx, ids, func(c *models.Clip) {
		c.FolderID = folderID
	})
}

// FavAll sets the favorite flag on every given clip.
func (s *ClipService) FavAll(ctx context.Context, ids []int64, fav bool) error {
	return s.updateEach(ctx, ids, func(c *models.Clip) {
		c.Fav = fav
	})
}

// TagAll reassigns tags on a selection the way a shared tag editor
// does: tags common to all clips and no longer assigned are removed,
// newly assigned tags are added everywhere, and each clip's other tags
// stay untouched. Applying the same assignment twice changes nothing.
func (s *ClipService) TagAll(ctx context.Context, ids []int64, assigned []string) error {
	var selection []*models.Clip
	for _, id := range ids {
		c, err := s.store.Clips.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		selection = append(selection, c)
	}
	if len(selection) == 0 {
		return nil
	}

	shared := models.CommonTagIDs(selection)
	removals := models.Subtract(shared, assigned)
	additions := models.Subtract(assigned, shared)

	selIDs := make([]int64, len(selection))
	for i, c := range selection {
		selIDs[i] = c.LocalID
	}
	return s.updateEach(ctx, selIDs, func(c *models.Clip) {
		c.TagIDs = models.Distinct(append(models.Subtract(c.TagIDs, removals), additions...))
	})
}

// updateEach applies mutate to every clip in one transaction and pushes
// the per-clip diffs afterwards.
func (s *ClipService) updateEach(ctx context.Context, ids []int64, mutate func(*models.Clip)) error {
	now := s.now()
	type push struct {
		remoteID string
		fields   map[string]any
	}
	var pushes []push
	var changed []int64

	err := s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		clipsRepo := s.store.Clips.WithTx(tx)
		filtersRepo := s.store.Filters.WithTx(tx)
		for _, id := range ids {
			c, err := clipsRepo.GetByID(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			next := c.Clone()
			mutate(next)
			if reconcile.SameClip(c, next) {
				continue
			}
			next.UpdateDate = now
			next.ModifyDate = now
			next.ChangeTimestamp = now.UnixMilli()

			if err := reconcile.ApplyCounters(ctx, filtersRepo, c, next); err != nil {
				return err
			}
			if err := clipsRepo.Save(ctx, next); err != nil {
				return err
			}
			changed = append(changed, next.LocalID)

			if next.IsSynced() {
				diff := remote.DiffClip(c, next)
				diff[remote.FieldChangeTimestamp] = next.ChangeTimestamp
				pushes = append(pushes, push{next.RemoteID, diff})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range changed {
		s.bus.Publish(notify.Change{Entity: notify.EntityClip, ID: id, State: notify.StateSaved})
	}
	for _, p := range pushes {
		if err := s.docs.Update(ctx, remote.CollectionClips, p.remoteID, p.fields); err != nil {
			s.log.Warn(ctx, "failed to push clip update", "error", err)
		}
	}
	return nil
}

// SyncAll pushes every local-only clip to the remote side, within the
// plan quota, in batches.
func (s *ClipService) SyncAll(ctx context.Context) error {
	if !s.sess.IsAuthorized() {
		return common.ErrUnauthorized
	}
	pending, err := s.store.Clips.GetNotSynced(ctx)
	if err != nil {
		return err
	}
	count, err := s.store.Clips.CountActive(ctx)
	if err != nil {
		return err
	}
	// count covers the pending clips themselves; quota-check against the
	// synced portion and grow it as clips are admitted.
	synced := count
	for _, c := range pending {
		if !c.IsDeleted() {
			synced--
		}
	}

	var out []*models.Clip
	for _, c := range pending {
		if !c.IsDeleted() {
			if !s.sess.CanSyncNewNotes(synced) {
				return fmt.Errorf("note quota reached: %w", common.ErrQuotaExceeded)
			}
			synced++
		}
		c.RemoteID = remote.NewID()
		c.ChangeTimestamp = s.now().UnixMilli()
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}

	err = remote.SplitBatches(out, func(items []*models.Clip) error {
		b := s.docs.NewBatch(remote.CollectionClips)
		for _, c := range items {
			fields := remote.EncodeClip(c)
			fields[remote.FieldChangeTimestamp] = c.ChangeTimestamp
			b.Create(c.RemoteID, fields)
		}
		if err := b.Commit(ctx); err != nil {
			return err
		}
		return s.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return s.store.Clips.WithTx(tx).SaveAll(ctx, items)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to sync clips: %w", err)
	}
	s.log.Info(ctx, "pushed local clips", "count", len(out))
	return nil
}

// deleteRemote moves documents to the deleted stream in batches.
func (s *ClipService) deleteRemote(ctx context.Context, remoteIDs []string) error {
	return remote.SplitBatches(remoteIDs, func(ids []string) error {
		b := s.docs.NewBatch(remote.CollectionClips)
		for _, id := range ids {
			b.Delete(id)
		}
		return b.Commit(ctx)
	})
}
