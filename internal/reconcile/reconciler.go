package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/localstore/clips"
	"github.com/clipsync/clipsync/internal/localstore/filters"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/remote"
)

type State int32

const (
	StateDisconnected State = iota
	StateInitialSync
	StateListening
)

func (s State) String() string {
	switch s {
	case StateInitialSync:
		return "initial-sync"
	case StateListening:
		return "listening"
	default:
		return "disconnected"
	}
}

// Reconciler ingests the remote change feed and applies it to the local
// database, one transaction per batch. At most one listener set is
// active at a time; Start while running is a no-op.
type Reconciler struct {
	store *localstore.Store
	docs  remote.DocStore
	bus   *notify.Bus
	log   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	stops  []func()
	done   chan struct{}

	state       atomic.Int32
	initialLeft atomic.Int32
}

func New(store *localstore.Store, docs remote.DocStore, bus *notify.Bus, log logging.Logger) *Reconciler {
	return &Reconciler{store: store, docs: docs, bus: bus, log: log}
}

func (r *Reconciler) State() State { return State(r.state.Load()) }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	type feed struct {
		collection string
		apply      func(context.Context, remote.ChangeBatch) ([]notify.Change, error)
	}
	feeds := []feed{
		{remote.CollectionClips, r.applyClips},
		{remote.CollectionFiles, r.applyFiles},
		{remote.CollectionFilters, r.applyFilters},
	}

	var stops []func()
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range feeds {
		ch, stop, err := r.docs.Subscribe(ctx, f.collection)
		if err != nil {
			cancel()
			for _, s := range stops {
				s()
			}
			return err
		}
		stops = append(stops, stop)
		g.Go(func() error {
			r.consume(gctx, f.collection, ch, f.apply)
			return nil
		})
	}

	r.cancel = cancel
	r.stops = stops
	r.done = make(chan struct{})
	r.state.Store(int32(StateInitialSync))
	r.initialLeft.Store(int32(len(feeds)))

	done := r.done
	go func() {
		_ = g.Wait()
		close(done)
	}()
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	for _, s := range r.stops {
		s()
	}
	<-r.done
	r.cancel = nil
	r.stops = nil
	r.state.Store(int32(StateDisconnected))
}

func (r *Reconciler) consume(ctx context.Context, collection string, ch <-chan remote.ChangeBatch, apply func(context.Context, remote.ChangeBatch) ([]notify.Change, error)) {
	sawInitial := false
	for cb := range ch {
		events, err := apply(ctx, cb)
		if err != nil {
			// The batch is retried implicitly: the feed replays the
			// snapshot on reconnect and the local side stays at its
			// last committed state.
			r.log.Error(ctx, "failed to apply change batch",
				"collection", collection, "changes", len(cb.Changes), "error", err)
			continue
		}
		for _, e := range events {
			r.bus.Publish(e)
		}
		if cb.Initial && !sawInitial {
			sawInitial = true
			if r.initialLeft.Add(-1) == 0 {
				r.state.Store(int32(StateListening))
				r.log.Info(ctx, "initial sync complete")
			}
		}
	}
}

// counterUIDs lists the tag and kit uids an active clip contributes to
// the usage counter index. Deleted clips contribute nothing.
func counterUIDs(c *models.Clip) []string {
	if c == nil || c.IsDeleted() {
		return nil
	}
	return models.Distinct(append(append([]string{}, c.TagIDs...), c.SnippetIDs...))
}

// ApplyCounters adjusts tag and kit usage counters for a clip going
// from before to after. It must run before the clip row itself changes.
func ApplyCounters(ctx context.Context, repo filters.Repository, before, after *models.Clip) error {
	b, a := counterUIDs(before), counterUIDs(after)
	if err := repo.ApplyCounter(ctx, models.Subtract(b, a), -1); err != nil {
		return err
	}
	return repo.ApplyCounter(ctx, models.Subtract(a, b), 1)
}

func (r *Reconciler) applyClips(ctx context.Context, cb remote.ChangeBatch) ([]notify.Change, error) {
	var events []notify.Change
	err := r.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		clipsRepo := r.store.Clips.WithTx(tx)
		filtersRepo := r.store.Filters.WithTx(tx)
		for _, ch := range cb.Changes {
			if ch.PendingLocalWrite {
				continue
			}
			remove := cb.Stream == remote.StreamDeleted || ch.Kind == remote.ChangeRemoved
			if cb.Stream == remote.StreamDeleted && ch.Kind == remote.ChangeRemoved {
				// purged from the tombstone collection, nothing local
				continue
			}
			var (
				ev  *notify.Change
				err error
			)
			if remove {
				ev, err = r.removeClip(ctx, clipsRepo, filtersRepo, ch.ID)
			} else {
				ev, err = r.upsertClip(ctx, clipsRepo, filtersRepo, cb.Initial, ch)
			}
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *Reconciler) upsertClip(ctx context.Context, clipsRepo clips.Repository, filtersRepo filters.Repository, initial bool, ch remote.Change) (*notify.Change, error) {
	incoming := remote.DecodeClip(ch.ID, ch.Fields)

	existing, err := clipsRepo.GetByRemoteID(ctx, ch.ID)
	if errors.Is(err, common.ErrNotFound) && initial {
		// First sync: a local-only record with the same content adopts
		// the remote identity instead of duplicating the note.
		existing, err = clipsRepo.GetUnsyncedByText(ctx, incoming.Text)
	}
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.RemoteID == incoming.RemoteID && SameClip(existing, incoming) {
			return nil, nil
		}
		incoming.LocalID = existing.LocalID
	}

	if err := ApplyCounters(ctx, filtersRepo, existing, incoming); err != nil {
		return nil, err
	}
	if err := clipsRepo.Save(ctx, incoming); err != nil {
		return nil, err
	}

	state := notify.StateSaved
	if incoming.IsDeleted() && (existing == nil || !existing.IsDeleted()) {
		state = notify.StateDeleted
	} else if existing != nil && existing.IsDeleted() && !incoming.IsDeleted() {
		state = notify.StateRestored
	}
	return &notify.Change{Entity: notify.EntityClip, ID: incoming.LocalID, State: state}, nil
}

func (r *Reconciler) removeClip(ctx context.Context, clipsRepo clips.Repository, filtersRepo filters.Repository, remoteID string) (*notify.Change, error) {
	existing, err := clipsRepo.GetByRemoteID(ctx, remoteID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := ApplyCounters(ctx, filtersRepo, existing, nil); err != nil {
		return nil, err
	}
	if err := clipsRepo.Delete(ctx, []int64{existing.LocalID}); err != nil {
		return nil, err
	}
	return &notify.Change{Entity: notify.EntityClip, ID: existing.LocalID, State: notify.StateDeleted}, nil
}

func (r *Reconciler) applyFiles(ctx context.Context, cb remote.ChangeBatch) ([]notify.Change, error) {
	var events []notify.Change
	err := r.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		filesRepo := r.store.Files.WithTx(tx)
		for _, ch := range cb.Changes {
			if ch.PendingLocalWrite {
				continue
			}
			if cb.Stream == remote.StreamDeleted || ch.Kind == remote.ChangeRemoved {
				if cb.Stream == remote.StreamDeleted && ch.Kind == remote.ChangeRemoved {
					continue
				}
				existing, err := filesRepo.GetByRemoteID(ctx, ch.ID)
				if errors.Is(err, common.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if err := filesRepo.Delete(ctx, []int64{existing.LocalID}); err != nil {
					return err
				}
				events = append(events, notify.Change{Entity: notify.EntityFile, ID: existing.LocalID, State: notify.StateDeleted})
				continue
			}

			incoming := remote.DecodeFileRef(ch.ID, ch.Fields)
			existing, err := filesRepo.GetByRemoteID(ctx, ch.ID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if existing != nil {
				if SameFileRef(existing, incoming) {
					continue
				}
				incoming.LocalID = existing.LocalID
				// transfer state never comes from the feed
				incoming.UploadSession = existing.UploadSession
				incoming.UploadURL = existing.UploadURL
				incoming.Downloaded = existing.Downloaded
				incoming.Error = existing.Error
			}
			if err := filesRepo.Save(ctx, incoming); err != nil {
				return err
			}
			events = append(events, notify.Change{Entity: notify.EntityFile, ID: incoming.LocalID, State: notify.StateSaved})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *Reconciler) applyFilters(ctx context.Context, cb remote.ChangeBatch) ([]notify.Change, error) {
	var events []notify.Change
	err := r.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		filtersRepo := r.store.Filters.WithTx(tx)
		clipsRepo := r.store.Clips.WithTx(tx)
		for _, ch := range cb.Changes {
			if ch.PendingLocalWrite {
				continue
			}
			if cb.Stream == remote.StreamDeleted || ch.Kind == remote.ChangeRemoved {
				if cb.Stream == remote.StreamDeleted && ch.Kind == remote.ChangeRemoved {
					continue
				}
				ev, err := r.removeFilter(ctx, filtersRepo, clipsRepo, ch.ID)
				if err != nil {
					return err
				}
				if ev != nil {
					events = append(events, *ev)
				}
				continue
			}

			incoming := remote.DecodeFilter(ch.ID, ch.Fields)
			existing, err := filtersRepo.GetByUID(ctx, ch.ID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if existing != nil {
				if existing.IsSame(incoming) {
					continue
				}
				incoming.LocalID = existing.LocalID
				incoming.NotesCount = existing.NotesCount
			}
			now := time.Now()
			incoming.SyncDate = &now
			if err := filtersRepo.Save(ctx, incoming); err != nil {
				return err
			}
			events = append(events, notify.Change{Entity: notify.EntityFilter, ID: incoming.LocalID, State: notify.StateSaved})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// removeFilter drops a filter and, for tags and kits, strips the uid
// from every clip still referencing it.
func (r *Reconciler) removeFilter(ctx context.Context, filtersRepo filters.Repository, clipsRepo clips.Repository, uid string) (*notify.Change, error) {
	existing, err := filtersRepo.GetByUID(ctx, uid)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.IsTag() || existing.IsSnippetKit() {
		referencing, err := clipsRepo.GetByTagID(ctx, uid)
		if err != nil {
			return nil, err
		}
		for _, c := range referencing {
			c.TagIDs = models.Subtract(c.TagIDs, []string{uid})
			c.SnippetIDs = models.Subtract(c.SnippetIDs, []string{uid})
			if err := clipsRepo.Save(ctx, c); err != nil {
				return nil, err
			}
		}
	}

	if err := filtersRepo.DeleteByUID(ctx, uid); err != nil {
		return nil, err
	}
	return &notify.Change{Entity: notify.EntityFilter, ID: existing.LocalID, State: notify.StateDeleted}, nil
}
