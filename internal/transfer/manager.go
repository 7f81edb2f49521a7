// Package transfer moves attachment payloads between local disk and
// remote object storage. Uploads are resumable across restarts via the
// persisted session token; at most one task runs per file at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/models"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/remote"
)

const defaultMaxAttempts = 5

type Manager struct {
	store   *localstore.Store
	objects remote.ObjectStore
	docs    remote.DocStore
	bus     *notify.Bus
	log     logging.Logger

	// dir receives downloads of read-only (externally hosted) files.
	dir  string
	http *http.Client

	maxAttempts uint64
	retryBase   time.Duration

	mu    sync.Mutex
	tasks map[int64]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store *localstore.Store, objects remote.ObjectStore, docs remote.DocStore, bus *notify.Bus, dir string, log logging.Logger) *Manager {
	return &Manager{
		store:       store,
		objects:     objects,
		docs:        docs,
		bus:         bus,
		log:         log,
		dir:         dir,
		http:        &http.Client{Timeout: 10 * time.Minute},
		maxAttempts: defaultMaxAttempts,
		retryBase:   time.Second,
		tasks:       make(map[int64]*task),
	}
}

func objectKey(f *models.FileRef) string { return "files/" + f.RemoteID }

// start replaces any running task for the file. The predecessor is
// canceled and awaited before run begins.
func (m *Manager) start(ctx context.Context, id int64, run func(ctx context.Context)) {
	m.mu.Lock()
	prev := m.tasks[id]
	tctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.tasks[id] = t
	m.mu.Unlock()

	go func() {
		defer close(t.done)
		if prev != nil {
			prev.cancel()
			<-prev.done
		}
		run(tctx)

		m.mu.Lock()
		if m.tasks[id] == t {
			delete(m.tasks, id)
		}
		m.mu.Unlock()
	}()
}

// Cancel aborts the running transfer for the file, clears the resume
// token and the persisted error. Canceling an idle file is a no-op.
func (m *Manager) Cancel(ctx context.Context, id int64) error {
	m.mu.Lock()
	t := m.tasks[id]
	m.mu.Unlock()
	if t != nil {
		t.cancel()
		<-t.done
	}

	err := m.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.store.Files.WithTx(tx)
		f, err := repo.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		f.UploadSession = ""
		f.Error = ""
		f.Progress = 0
		// drop the stale download handle; for read-only files the URL
		// is the foreign source itself, not a session artifact
		if !f.ReadOnly {
			f.DownloadURL = ""
		}
		return repo.Save(ctx, f)
	})
	if err != nil {
		return err
	}
	m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateProgress, Percent: 0})
	return nil
}

// Wait blocks until every running transfer finishes.
func (m *Manager) Wait() {
	for {
		m.mu.Lock()
		var t *task
		for _, v := range m.tasks {
			t = v
			break
		}
		m.mu.Unlock()
		if t == nil {
			return
		}
		<-t.done
	}
}

// Resume schedules every pending upload and download. Called once on
// startup so interrupted transfers continue where they left off.
func (m *Manager) Resume(ctx context.Context) error {
	uploads, err := m.store.Files.GetNotUploaded(ctx)
	if err != nil {
		return err
	}
	for _, f := range uploads {
		if f.IsSynced() {
			m.Upload(ctx, f.LocalID)
		}
	}

	downloads, err := m.store.Files.GetNotDownloaded(ctx)
	if err != nil {
		return err
	}
	for _, f := range downloads {
		if f.IsSynced() {
			m.Download(ctx, f.LocalID)
		}
	}
	return nil
}

// Upload schedules the file's payload for upload. A transfer already
// running for this file is superseded.
func (m *Manager) Upload(ctx context.Context, id int64) {
	m.start(ctx, id, func(ctx context.Context) {
		if err := m.runUpload(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error(ctx, "upload failed", "file", id, "error", err)
		}
	})
}

func (m *Manager) runUpload(ctx context.Context, id int64) error {
	f, err := m.store.Files.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.IsFolder || f.ReadOnly || f.Uploaded {
		return nil
	}
	if f.RemoteID == "" {
		return fmt.Errorf("file %d has no remote identity yet", id)
	}

	lastToken := f.UploadSession
	lastPct := -1
	progress := func(done, total int64, token string) {
		if token != lastToken {
			lastToken = token
			if err := m.saveSession(ctx, id, token); err != nil {
				m.log.Warn(ctx, "failed to persist resume token", "file", id, "error", err)
			}
		}
		if total > 0 {
			if pct := int(done * 100 / total); pct != lastPct {
				lastPct = pct
				m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateProgress, Percent: pct})
			}
		}
	}

	var md5sum string
	backoff := retry.WithMaxRetries(m.maxAttempts, retry.NewExponential(m.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		sum, uerr := m.objects.Upload(ctx, objectKey(f), f.UploadURL, lastToken, progress)
		if uerr == nil {
			md5sum = sum
			return nil
		}
		if errors.Is(uerr, common.ErrRetryLimit) {
			// the session is unusable, restart from scratch
			lastToken = ""
			if serr := m.saveSession(ctx, id, ""); serr != nil {
				return serr
			}
			return retry.RetryableError(uerr)
		}
		if errors.Is(uerr, context.Canceled) || errors.Is(uerr, os.ErrNotExist) {
			return uerr
		}
		return retry.RetryableError(uerr)
	})
	if err != nil {
		if ferr := m.finishUpload(ctx, id, "", err); ferr != nil {
			return ferr
		}
		return err
	}
	return m.finishUpload(ctx, id, md5sum, nil)
}

func (m *Manager) saveSession(ctx context.Context, id int64, token string) error {
	return m.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.store.Files.WithTx(tx)
		f, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		f.UploadSession = token
		return repo.Save(ctx, f)
	})
}

// finishUpload records the outcome. Failure clears the resume token so
// the next attempt starts clean.
func (m *Manager) finishUpload(ctx context.Context, id int64, md5sum string, cause error) error {
	var remoteID string
	var size int64
	err := m.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.store.Files.WithTx(tx)
		f, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		f.UploadSession = ""
		if cause != nil {
			f.Error = cause.Error()
		} else {
			f.Uploaded = true
			f.MD5 = md5sum
			f.Error = ""
			remoteID = f.RemoteID
			size = f.Size
		}
		return repo.Save(ctx, f)
	})
	if err != nil {
		return err
	}

	if cause != nil {
		m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateSaved})
		return nil
	}

	fields := map[string]any{
		remote.FileFieldUploaded:    true,
		remote.FileFieldMD5:         md5sum,
		remote.FileFieldSize:        size,
		remote.FieldChangeTimestamp: time.Now().UnixMilli(),
	}
	if err := m.docs.Update(ctx, remote.CollectionFiles, remoteID, fields); err != nil {
		m.log.Warn(ctx, "failed to publish upload result", "file", id, "error", err)
	}
	m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateSaved, Percent: 100})
	return nil
}

// Download schedules the file's payload for download, from object
// storage or, for read-only files, from their foreign URL.
func (m *Manager) Download(ctx context.Context, id int64) {
	m.start(ctx, id, func(ctx context.Context) {
		if err := m.runDownload(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error(ctx, "download failed", "file", id, "error", err)
		}
	})
}

func (m *Manager) runDownload(ctx context.Context, id int64) error {
	f, err := m.store.Files.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f.IsFolder || f.Downloaded {
		return nil
	}

	lastPct := -1
	progress := func(done, total int64, _ string) {
		if total > 0 {
			if pct := int(done * 100 / total); pct != lastPct {
				lastPct = pct
				m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateProgress, Percent: pct})
			}
		}
	}

	backoff := retry.WithMaxRetries(m.maxAttempts, retry.NewExponential(m.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var derr error
		if f.ReadOnly {
			derr = m.fetchForeign(ctx, f, progress)
		} else {
			target := f.DownloadURL
			offset := partialSize(target)
			derr = m.objects.Download(ctx, objectKey(f), target, offset, progress)
		}
		if derr == nil {
			return nil
		}
		if errors.Is(derr, context.Canceled) || errors.Is(derr, common.ErrObjectNotFound) {
			return derr
		}
		return retry.RetryableError(derr)
	})

	saveErr := m.store.WithWriteTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.store.Files.WithTx(tx)
		cur, gerr := repo.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		if err != nil {
			cur.Error = err.Error()
		} else {
			cur.Downloaded = true
			cur.Error = ""
		}
		return repo.Save(ctx, cur)
	})
	if saveErr != nil {
		return saveErr
	}
	m.bus.Publish(notify.Change{Entity: notify.EntityFile, ID: id, State: notify.StateSaved})
	return err
}

// fetchForeign downloads an externally hosted file over plain HTTP into
// the transfer directory. Foreign servers are not assumed to honor
// range requests; a failed attempt restarts from zero.
func (m *Manager) fetchForeign(ctx context.Context, f *models.FileRef, progress remote.TransferProgress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.DownloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch foreign file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("foreign file fetch: unexpected status %d", resp.StatusCode)
	}

	target := filepath.Join(m.dir, fmt.Sprintf("%d_%s", f.LocalID, filepath.Base(f.Title)))
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer out.Close()

	total := resp.ContentLength
	var done int64
	buf := make([]byte, 256<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			done += int64(n)
			if progress != nil {
				progress(done, total, "")
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

func partialSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
