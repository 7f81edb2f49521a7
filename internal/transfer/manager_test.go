package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
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

type fakeObjects struct {
	mu        sync.Mutex
	uploads   int
	failures  int
	canceled  int
	lastToken string
	data      map[string][]byte

	// hold, when set, parks uploads until closed or their context dies;
	// started receives one signal per upload reaching that point
	hold    chan struct{}
	started chan struct{}
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: make(map[string][]byte)}
}

func (o *fakeObjects) Upload(ctx context.Context, key, localPath, resumeToken string, progress remote.TransferProgress) (string, error) {
	o.mu.Lock()
	o.uploads++
	o.lastToken = resumeToken
	fail := o.failures > 0
	if fail {
		o.failures--
	}
	hold, started := o.hold, o.started
	o.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if hold != nil {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.canceled++
			o.mu.Unlock()
			return "", ctx.Err()
		case <-hold:
		}
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(data))/2, int64(len(data)), "sess-token|1024")
	}
	if fail {
		return "", errors.New("connection reset")
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)), "sess-token|1024")
	}

	o.mu.Lock()
	o.data[key] = data
	o.mu.Unlock()
	return "fake-md5", nil
}

func (o *fakeObjects) Download(ctx context.Context, key, localPath string, offset int64, progress remote.TransferProgress) error {
	o.mu.Lock()
	data, ok := o.data[key]
	o.mu.Unlock()
	if !ok {
		return common.ErrObjectNotFound
	}
	if err := os.WriteFile(localPath, data[offset:], 0o644); err != nil {
		return err
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)), "")
	}
	return nil
}

func (o *fakeObjects) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.data, key)
	return nil
}

type fakeDocs struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (d *fakeDocs) Create(ctx context.Context, collection, id string, fields map[string]any) error {
	return nil
}

func (d *fakeDocs) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, fields)
	return nil
}

func (d *fakeDocs) NewBatch(collection string) remote.Batch { return nil }

func (d *fakeDocs) Subscribe(ctx context.Context, collection string) (<-chan remote.ChangeBatch, func(), error) {
	return nil, func() {}, nil
}

func setup(t *testing.T) (*localstore.Store, *fakeObjects, *fakeDocs, *Manager) {
	t.Helper()
	store, err := localstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	objects := newFakeObjects()
	docs := &fakeDocs{}
	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	m := New(store, objects, docs, bus, t.TempDir(), logging.Nop{})
	m.retryBase = time.Millisecond
	return store, objects, docs, m
}

func seedFile(t *testing.T, store *localstore.Store, payload string) *models.FileRef {
	t.Helper()
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, []byte(payload), 0o644))

	f := &models.FileRef{
		RemoteID:   remote.NewID(),
		Title:      "payload.bin",
		Size:       int64(len(payload)),
		UploadURL:  src,
		CreateDate: time.Now(), UpdateDate: time.Now(), ModifyDate: time.Now(),
	}
	require.NoError(t, store.Files.Save(context.Background(), f))
	return f
}

func TestUploadSuccess(t *testing.T) {
	store, objects, docs, m := setup(t)
	ctx := context.Background()

	f := seedFile(t, store, "hello payload")
	m.Upload(ctx, f.LocalID)
	m.Wait()

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.Equal(t, "fake-md5", got.MD5)
	assert.Empty(t, got.UploadSession, "token cleared on success")
	assert.Empty(t, got.Error)

	assert.Equal(t, []byte("hello payload"), objects.data[objectKey(f)])

	require.Len(t, docs.updates, 1)
	assert.Equal(t, true, docs.updates[0][remote.FileFieldUploaded])
	assert.Equal(t, "fake-md5", docs.updates[0][remote.FileFieldMD5])
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	store, objects, _, m := setup(t)
	ctx := context.Background()

	objects.failures = 2
	f := seedFile(t, store, "retry me")
	m.Upload(ctx, f.LocalID)
	m.Wait()

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.Equal(t, 3, objects.uploads)
}

func TestUploadResumesFromPersistedToken(t *testing.T) {
	store, objects, _, m := setup(t)
	ctx := context.Background()

	objects.failures = 1
	f := seedFile(t, store, "resumable")
	m.Upload(ctx, f.LocalID)
	m.Wait()

	// the failed attempt persisted its token before dying; the retry
	// carried it back in
	assert.Equal(t, "sess-token|1024", objects.lastToken)
}

func TestUploadExhaustionPersistsError(t *testing.T) {
	store, objects, docs, m := setup(t)
	ctx := context.Background()

	objects.failures = 100
	m.maxAttempts = 2
	f := seedFile(t, store, "doomed")
	m.Upload(ctx, f.LocalID)
	m.Wait()

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.False(t, got.Uploaded)
	assert.Contains(t, got.Error, "connection reset")
	assert.Empty(t, got.UploadSession, "failed upload starts clean next time")
	assert.Empty(t, docs.updates)
}

func TestDownloadSuccess(t *testing.T) {
	store, objects, _, m := setup(t)
	ctx := context.Background()

	f := seedFile(t, store, "stored bytes")
	objects.data[objectKey(f)] = []byte("stored bytes")

	target := filepath.Join(t.TempDir(), "out.bin")
	f.DownloadURL = target
	require.NoError(t, store.Files.Save(ctx, f))

	m.Download(ctx, f.LocalID)
	m.Wait()

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Downloaded)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "stored bytes", string(data))
}

func TestDownloadMissingObjectDoesNotRetry(t *testing.T) {
	store, _, _, m := setup(t)
	ctx := context.Background()

	f := seedFile(t, store, "x")
	f.DownloadURL = filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, store.Files.Save(ctx, f))

	m.Download(ctx, f.LocalID)
	m.Wait()

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.False(t, got.Downloaded)
	assert.NotEmpty(t, got.Error)
}

func TestCancelClearsTransferState(t *testing.T) {
	store, _, _, m := setup(t)
	ctx := context.Background()

	f := seedFile(t, store, "z")
	f.UploadSession = "sess|1"
	f.Error = "old failure"
	require.NoError(t, store.Files.Save(ctx, f))

	require.NoError(t, m.Cancel(ctx, f.LocalID))

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.Empty(t, got.UploadSession)
	assert.Empty(t, got.Error)

	// idempotent, including for unknown files
	require.NoError(t, m.Cancel(ctx, f.LocalID))
	require.NoError(t, m.Cancel(ctx, 9999))
}

func TestNewUploadSupersedesRunningTransfer(t *testing.T) {
	store, objects, _, m := setup(t)
	ctx := context.Background()

	objects.hold = make(chan struct{})
	objects.started = make(chan struct{}, 2)

	f := seedFile(t, store, "superseded")
	m.Upload(ctx, f.LocalID)
	<-objects.started // first attempt in flight

	// restarting the same file cancels and awaits the predecessor
	m.Upload(ctx, f.LocalID)
	<-objects.started // second attempt starts only after the first died

	close(objects.hold)
	m.Wait()

	objects.mu.Lock()
	canceled, uploads := objects.canceled, objects.uploads
	objects.mu.Unlock()
	assert.Equal(t, 1, canceled)
	assert.Equal(t, 2, uploads)

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
	assert.Empty(t, got.Error)
}

func TestCancelClearsDownloadHandle(t *testing.T) {
	store, _, _, m := setup(t)
	ctx := context.Background()

	f := seedFile(t, store, "a")
	f.DownloadURL = filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, store.Files.Save(ctx, f))

	require.NoError(t, m.Cancel(ctx, f.LocalID))

	got, err := store.Files.GetByID(ctx, f.LocalID)
	require.NoError(t, err)
	assert.Empty(t, got.DownloadURL)

	// for read-only files the URL is the foreign source and survives
	foreign := seedFile(t, store, "b")
	foreign.ReadOnly = true
	foreign.DownloadURL = "https://example.com/shared.bin"
	require.NoError(t, store.Files.Save(ctx, foreign))

	require.NoError(t, m.Cancel(ctx, foreign.LocalID))

	got, err = store.Files.GetByID(ctx, foreign.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/shared.bin", got.DownloadURL)
}

func TestResumeSchedulesPendingTransfers(t *testing.T) {
	store, objects, _, m := setup(t)
	ctx := context.Background()

	up := seedFile(t, store, "pending upload")

	down := seedFile(t, store, "pending download")
	down.Uploaded = true
	down.DownloadURL = filepath.Join(t.TempDir(), "down.bin")
	require.NoError(t, store.Files.Save(ctx, down))
	objects.data[objectKey(down)] = []byte("pending download")

	require.NoError(t, m.Resume(ctx))
	m.Wait()

	gotUp, err := store.Files.GetByID(ctx, up.LocalID)
	require.NoError(t, err)
	assert.True(t, gotUp.Uploaded)

	gotDown, err := store.Files.GetByID(ctx, down.LocalID)
	require.NoError(t, err)
	assert.True(t, gotDown.Downloaded)
}
