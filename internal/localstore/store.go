// Package localstore owns the local sqlite database: schema migrations,
// the shared write transaction helper and the per-entity repositories.
// The local database is the source of truth; everything remote is a
// replica reconciled against it.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/localstore/clips"
	"github.com/clipsync/clipsync/internal/localstore/files"
	"github.com/clipsync/clipsync/internal/localstore/filters"
	"github.com/clipsync/clipsync/internal/localstore/migrations"
)

type Store struct {
	db *sql.DB

	// sqlite allows one writer; the mutex keeps concurrent coordinators
	// from tripping over SQLITE_BUSY.
	writeMu sync.Mutex

	Clips   clips.Repository
	Files   files.Repository
	Filters filters.Repository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps every caller on the same database even for
	// :memory: and serializes writers at the pool level.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:      db,
		Clips:   clips.NewSQLiteRepository(db),
		Files:   files.NewSQLiteRepository(db),
		Filters: filters.NewSQLiteRepository(db),
	}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithWriteTx runs fn inside a single write transaction. Repositories
// bound to the given DBTX see and produce uncommitted state until fn
// returns nil.
func (s *Store) WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return dbx.WithTx(ctx, s.db, nil, fn)
}
