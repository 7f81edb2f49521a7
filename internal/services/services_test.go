package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/remote"
	"github.com/clipsync/clipsync/internal/transfer"
)

// recDocStore records every write it receives, including those arriving
// through batches.
type recOp struct {
	Kind       string
	Collection string
	ID         string
	Fields     map[string]any
}

type recDocStore struct {
	mu   sync.Mutex
	ops  []recOp
	subs int
	err  error
}

func (d *recDocStore) record(op recOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ops = append(d.ops, op)
	return nil
}

func (d *recDocStore) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return d.record(recOp{"create", collection, id, fields})
}

func (d *recDocStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return d.record(recOp{"update", collection, id, fields})
}

func (d *recDocStore) NewBatch(collection string) remote.Batch {
	return &recBatch{store: d, collection: collection}
}

func (d *recDocStore) Subscribe(ctx context.Context, collection string) (<-chan remote.ChangeBatch, func(), error) {
	d.mu.Lock()
	d.subs++
	d.mu.Unlock()
	ch := make(chan remote.ChangeBatch)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (d *recDocStore) subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs
}

func (d *recDocStore) byKind(kind string) []recOp {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recOp
	for _, op := range d.ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (d *recDocStore) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = nil
}

type recBatch struct {
	store      *recDocStore
	collection string
	writes     []recOp
}

func (b *recBatch) Create(id string, fields map[string]any) {
	b.writes = append(b.writes, recOp{"create", b.collection, id, fields})
}

func (b *recBatch) Update(id string, fields map[string]any) {
	b.writes = append(b.writes, recOp{"update", b.collection, id, fields})
}

func (b *recBatch) Delete(id string) {
	b.writes = append(b.writes, recOp{"delete", b.collection, id, nil})
}

func (b *recBatch) Len() int { return len(b.writes) }

func (b *recBatch) Commit(ctx context.Context) error {
	for _, w := range b.writes {
		if err := b.store.record(w); err != nil {
			return err
		}
	}
	return nil
}

// fakeSession is an adjustable plan/auth stub.
type fakeSession struct {
	authorized bool
	maxNotes   int64
}

func (s *fakeSession) IsAuthorized() bool { return s.authorized }
func (s *fakeSession) UserID() string     { return "user-1" }
func (s *fakeSession) Token() string      { return "token" }

func (s *fakeSession) CanSyncNewNotes(activeNotes int64) bool {
	if !s.authorized {
		return false
	}
	return s.maxNotes == 0 || activeNotes < s.maxNotes
}

// fakeObjects never touches the real payload, it just reports success
// and remembers what was asked of it.
type fakeObjects struct {
	mu      sync.Mutex
	deleted []string
}

func (o *fakeObjects) Upload(ctx context.Context, key, localPath, resumeToken string, progress remote.TransferProgress) (string, error) {
	progress(1, 1, "")
	return "payload-md5", nil
}

func (o *fakeObjects) Download(ctx context.Context, key, localPath string, offset int64, progress remote.TransferProgress) error {
	progress(1, 1, "")
	return nil
}

func (o *fakeObjects) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, key)
	return nil
}

func (o *fakeObjects) deletedKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.deleted...)
}

type env struct {
	store   *localstore.Store
	docs    *recDocStore
	sess    *fakeSession
	bus     *notify.Bus
	objects *fakeObjects
	tm      *transfer.Manager

	clips   *ClipService
	files   *FileService
	filters *FilterService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := localstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := &env{
		store:   store,
		docs:    &recDocStore{},
		sess:    &fakeSession{authorized: true},
		bus:     notify.NewBus(),
		objects: &fakeObjects{},
	}
	t.Cleanup(e.bus.Close)

	log := logging.Nop{}
	e.tm = transfer.New(store, e.objects, e.docs, e.bus, t.TempDir(), log)
	e.clips = NewClipService(store, e.docs, e.sess, e.bus, log)
	e.files = NewFileService(store, e.docs, e.objects, e.tm, e.sess, e.bus, log)
	e.filters = NewFilterService(store, e.docs, e.sess, e.bus, log)
	return e
}
