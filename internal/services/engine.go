package services

import (
	"context"
	"errors"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/reconcile"
	"github.com/clipsync/clipsync/internal/transfer"
)

// Engine bundles the coordinators and drives the sync lifecycle: start
// the change-feed reconciler, push everything that accumulated offline,
// resume interrupted payload transfers.
type Engine struct {
	Clips   *ClipService
	Files   *FileService
	Filters *FilterService

	reconciler *reconcile.Reconciler
	transfer   *transfer.Manager
	log        logging.Logger
}

func NewEngine(clips *ClipService, files *FileService, filters *FilterService, r *reconcile.Reconciler, tm *transfer.Manager, log logging.Logger) *Engine {
	return &Engine{
		Clips:      clips,
		Files:      files,
		Filters:    filters,
		reconciler: r,
		transfer:   tm,
		log:        log,
	}
}

// Start brings the engine online. Without an authorized session only the
// local side runs; call Start again after signing in. A full plan quota
// keeps the excess clips local but everything else still comes online.
func (e *Engine) Start(ctx context.Context) error {
	err := e.SyncAll(ctx)
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		e.log.Info(ctx, "not signed in, staying local")
		return nil
	case errors.Is(err, common.ErrQuotaExceeded):
		e.log.Warn(ctx, "note quota reached, keeping excess clips local")
		// the clip push stopped early; file metadata and payload
		// transfers are quota-exempt and still need their pass
		if ferr := e.Files.SyncAll(ctx); ferr != nil {
			return ferr
		}
	case err != nil:
		return err
	}
	return e.reconciler.Start(ctx)
}

// SyncAll pushes the local backlog: filters first so tag references
// resolve, then clips, then file metadata and payloads.
func (e *Engine) SyncAll(ctx context.Context) error {
	if err := e.Filters.SyncAll(ctx); err != nil {
		return err
	}
	if err := e.Clips.SyncAll(ctx); err != nil {
		return err
	}
	return e.Files.SyncAll(ctx)
}

// Stop shuts the engine down, waiting for in-flight transfers.
func (e *Engine) Stop() {
	e.reconciler.Stop()
	e.transfer.Wait()
}
