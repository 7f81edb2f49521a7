// Package cli wires the sync client together and exposes its few
// commands: run the daemon, push once, sign in and out.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipsync/clipsync/internal/config"
	"github.com/clipsync/clipsync/internal/localstore"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/notify"
	"github.com/clipsync/clipsync/internal/reconcile"
	"github.com/clipsync/clipsync/internal/remote/httpstore"
	"github.com/clipsync/clipsync/internal/remote/s3store"
	"github.com/clipsync/clipsync/internal/services"
	"github.com/clipsync/clipsync/internal/session"
	"github.com/clipsync/clipsync/internal/transfer"
)

type App struct {
	config *config.Config
	log    logging.Logger

	store  *localstore.Store
	sess   *session.TokenSession
	bus    *notify.Bus
	engine *services.Engine

	tokenPath string
	reader    *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewDefault()

	store, err := localstore.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	sess := session.NewTokenSession()
	a := &App{
		config:    cfg,
		log:       log,
		store:     store,
		sess:      sess,
		bus:       notify.NewBus(),
		tokenPath: filepath.Join(filepath.Dir(cfg.DatabasePath), "session.token"),
		reader:    bufio.NewReader(os.Stdin),
	}
	a.loadToken(ctx)

	docs := httpstore.New(cfg.APIEndpoint, func(ctx context.Context) (string, error) {
		return sess.Token(), nil
	}, log)
	docs.SetReconnectDelay(cfg.WatchReconnectDelay)

	objects, err := s3store.New(ctx, s3store.Config{
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to init object storage: %w", err)
	}

	if err := os.MkdirAll(cfg.FilesDir, 0o755); err != nil {
		_ = store.Close()
		return nil, err
	}

	tm := transfer.New(store, objects, docs, a.bus, cfg.FilesDir, log)
	reconciler := reconcile.New(store, docs, a.bus, log)

	clips := services.NewClipService(store, docs, sess, a.bus, log)
	clips.SetRecycleBinLimit(cfg.RecycleBinLimit)
	files := services.NewFileService(store, docs, objects, tm, sess, a.bus, log)
	filters := services.NewFilterService(store, docs, sess, a.bus, log)
	a.engine = services.NewEngine(clips, files, filters, reconciler, tm, log)

	return a, nil
}

// Run dispatches the subcommand. An empty command runs the daemon.
func (a *App) Run(ctx context.Context, args []string) error {
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "run":
		return a.runDaemon(ctx)
	case "sync":
		return a.engine.SyncAll(ctx)
	case "login":
		return a.login(ctx)
	case "logout":
		return a.logout(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.log.Error(context.Background(), "failed to close database", "error", err)
	}
}

// loadToken restores the persisted session, if any. A stale or garbled
// token just leaves the app signed out.
func (a *App) loadToken(ctx context.Context) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return
	}
	if err := a.sess.SetToken(string(data)); err != nil {
		a.log.Warn(ctx, "ignoring saved session token", "error", err)
	}
}
