package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/remote"
)

type fakeDocStore struct {
	mu    sync.Mutex
	feeds map[string]chan remote.ChangeBatch
	subs  int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{feeds: make(map[string]chan remote.ChangeBatch)}
}

func (f *fakeDocStore) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return nil
}

func (f *fakeDocStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return nil
}

func (f *fakeDocStore) NewBatch(collection string) remote.Batch { return nil }

func (f *fakeDocStore) Subscribe(ctx context.Context, collection string) (<-chan remote.ChangeBatch, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan remote.ChangeBatch, 16)
	f.feeds[collection] = ch
	f.subs++
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (f *fakeDocStore) push(collection string, cb remote.ChangeBatch) {
	f.mu.Lock()
	ch := f.feeds[collection]
	f.mu.Unlock()
	cb.Collection = collection
	ch <- cb
}

func setup(t *testing.T) (*localstore.Store, *fakeDocStore, *Reconciler, <-chan notify.Change) {
	t.Helper()
	store, err := localstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	docs := newFakeDocStore()
	bus := notify.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	r := New(store, docs, bus, logging.Nop{})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	return store, docs, r, events
}

func waitEvent(t *testing.T, events <-chan notify.Change) notify.Change {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return notify.Change{}
	}
}

func activeClip(text string, tags ...string) map[string]any {
	c := &models.Clip{
		Text:       text,
		Title:      "title",
		TagIDs:     tags,
		CreateDate: time.Now().Truncate(time.Millisecond),
		UpdateDate: time.Now().Truncate(time.Millisecond),
		ModifyDate: time.Now().Truncate(time.Millisecond),
	}
	return remote.EncodeClip(c)
}

func TestInitialBatchCreatesClips(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Initial: true,
		Changes: []remote.Change{
			{ID: "r1", Kind: remote.ChangeAdded, Fields: activeClip("one")},
			{ID: "r2", Kind: remote.ChangeAdded, Fields: activeClip("two")},
		},
	})

	waitEvent(t, events)
	waitEvent(t, events)

	got, err := store.Clips.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Text)
}

func TestInitialBatchAdoptsLocalByContent(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	local := &models.Clip{Text: "shared text", CreateDate: time.Now(), UpdateDate: time.Now(), ModifyDate: time.Now()}
	require.NoError(t, store.Clips.Save(ctx, local))

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Initial: true,
		Changes: []remote.Change{
			{ID: "r1", Kind: remote.ChangeAdded, Fields: activeClip("shared text")},
		},
	})
	waitEvent(t, events)

	got, err := store.Clips.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, local.LocalID, got.LocalID, "local record adopted the remote identity")

	count, err := store.Clips.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "no duplicate created")
}

func TestEchoOfLocalWriteIsSkipped(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{
			{ID: "r1", Kind: remote.ChangeAdded, PendingLocalWrite: true, Fields: activeClip("echo")},
		},
	})

	// a marker change proves the echo batch was consumed first
	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r2", Kind: remote.ChangeAdded, Fields: activeClip("marker")}},
	})
	waitEvent(t, events)

	_, err := store.Clips.GetByRemoteID(ctx, "r1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCountersFollowTagMembership(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Filters.Save(ctx, &models.Filter{UID: "t1", Type: models.FilterTypeTag, Name: "work"}))
	require.NoError(t, store.Filters.Save(ctx, &models.Filter{UID: "t2", Type: models.FilterTypeTag, Name: "home"}))

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeAdded, Fields: activeClip("note", "t1")}},
	})
	waitEvent(t, events)

	f, err := store.Filters.GetByUID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.NotesCount)

	// retag t1 -> t2
	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeModified, Fields: activeClip("note", "t2")}},
	})
	waitEvent(t, events)

	f, err = store.Filters.GetByUID(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, f.NotesCount)
	f, err = store.Filters.GetByUID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.NotesCount)
}

func TestSoftDeleteReleasesCounters(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Filters.Save(ctx, &models.Filter{UID: "t1", Type: models.FilterTypeTag, Name: "work"}))

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeAdded, Fields: activeClip("note", "t1")}},
	})
	e := waitEvent(t, events)
	assert.Equal(t, notify.StateSaved, e.State)

	deleted := remote.DecodeClip("r1", activeClip("note", "t1"))
	d := time.Now().Truncate(time.Millisecond)
	deleted.DeleteDate = &d
	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeModified, Fields: remote.EncodeClip(deleted)}},
	})
	e = waitEvent(t, events)
	assert.Equal(t, notify.StateDeleted, e.State)

	f, err := store.Filters.GetByUID(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, f.NotesCount)

	got, err := store.Clips.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted(), "soft deleted locally, still in recycle bin")
}

func TestDeletedStreamRemovesLocally(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeAdded, Fields: activeClip("gone soon")}},
	})
	waitEvent(t, events)

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Stream:  remote.StreamDeleted,
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeAdded}},
	})
	e := waitEvent(t, events)
	assert.Equal(t, notify.StateDeleted, e.State)

	_, err := store.Clips.GetByRemoteID(ctx, "r1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEquivalentChangeIsNoop(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	fields := activeClip("same")
	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeAdded, Fields: fields}},
	})
	waitEvent(t, events)

	before, err := store.Clips.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)

	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r1", Kind: remote.ChangeModified, Fields: fields}},
	})

	// no event for an equivalent change; prove ordering with a second edit
	docs.push(remote.CollectionClips, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "r2", Kind: remote.ChangeAdded, Fields: activeClip("marker")}},
	})
	e := waitEvent(t, events)

	after, err := store.Clips.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, before.LocalID, after.LocalID)
	assert.NotEqual(t, notify.EntityFilter, e.Entity)
}

func TestFilterRemovalCleansClipTags(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Filters.Save(ctx, &models.Filter{UID: "t1", Type: models.FilterTypeTag, Name: "work"}))
	clip := &models.Clip{Text: "tagged", TagIDs: []string{"t1", "t2"},
		CreateDate: time.Now(), UpdateDate: time.Now(), ModifyDate: time.Now()}
	require.NoError(t, store.Clips.Save(ctx, clip))

	docs.push(remote.CollectionFilters, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "t1", Kind: remote.ChangeRemoved}},
	})
	e := waitEvent(t, events)
	assert.Equal(t, notify.EntityFilter, e.Entity)
	assert.Equal(t, notify.StateDeleted, e.State)

	got, err := store.Clips.GetByID(ctx, clip.LocalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, got.TagIDs)

	_, err = store.Filters.GetByUID(ctx, "t1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFileFeedKeepsTransferState(t *testing.T) {
	store, docs, _, events := setup(t)
	ctx := context.Background()

	local := &models.FileRef{RemoteID: "rf1", Title: "pic.png", UploadURL: "/tmp/pic.png",
		UploadSession: "sess|8388608", CreateDate: time.Now(), UpdateDate: time.Now(), ModifyDate: time.Now()}
	require.NoError(t, store.Files.Save(ctx, local))

	updated := local.Clone()
	updated.Title = "renamed.png"
	docs.push(remote.CollectionFiles, remote.ChangeBatch{
		Changes: []remote.Change{{ID: "rf1", Kind: remote.ChangeModified, Fields: remote.EncodeFileRef(updated)}},
	})
	e := waitEvent(t, events)
	assert.Equal(t, notify.EntityFile, e.Entity)

	got, err := store.Files.GetByRemoteID(ctx, "rf1")
	require.NoError(t, err)
	assert.Equal(t, "renamed.png", got.Title)
	assert.Equal(t, "sess|8388608", got.UploadSession, "resume token survives remote updates")
}

func TestStateMachine(t *testing.T) {
	store, err := localstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	docs := newFakeDocStore()
	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	r := New(store, docs, bus, logging.Nop{})
	assert.Equal(t, StateDisconnected, r.State())

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateInitialSync, r.State())
	assert.Equal(t, 3, docs.subs)

	// second Start is a no-op
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 3, docs.subs)

	docs.push(remote.CollectionClips, remote.ChangeBatch{Initial: true})
	docs.push(remote.CollectionFiles, remote.ChangeBatch{Initial: true})
	docs.push(remote.CollectionFilters, remote.ChangeBatch{Initial: true})

	require.Eventually(t, func() bool {
		return r.State() == StateListening
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Equal(t, StateDisconnected, r.State())
	r.Stop() // idempotent
}
