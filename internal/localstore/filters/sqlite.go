package filters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/dbx"
	"github.com/clipsync/clipsync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) WithTx(tx dbx.DBTX) Repository {
	return &SQLiteRepository{db: tx}
}

const filterColumns = `local_id, uid, type, name, color, tag_ids, kit_ids, starred,
	text_like, sort_by, notes_count, sync_date, deleted, change_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFilter(row rowScanner) (*models.Filter, error) {
	f := &models.Filter{}
	var tagIDs, kitIDs dbx.StringSlice
	var syncDate sql.NullInt64

	err := row.Scan(&f.LocalID, &f.UID, &f.Type, &f.Name, &f.Color, &tagIDs, &kitIDs,
		&f.Starred, &f.TextLike, &f.SortBy, &f.NotesCount, &syncDate, &f.Deleted, &f.ChangeTimestamp)
	if err != nil {
		return nil, err
	}

	f.TagIDs = tagIDs
	f.KitIDs = kitIDs
	if syncDate.Valid {
		d := time.UnixMilli(syncDate.Int64)
		f.SyncDate = &d
	}
	return f, nil
}

func syncDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (r *SQLiteRepository) Save(ctx context.Context, f *models.Filter) error {
	if f.LocalID == 0 {
		query := `INSERT INTO filters (uid, type, name, color, tag_ids, kit_ids, starred,
			text_like, sort_by, notes_count, sync_date, deleted, change_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := r.db.ExecContext(ctx, query,
			f.UID, string(f.Type), f.Name, f.Color,
			dbx.StringSlice(f.TagIDs), dbx.StringSlice(f.KitIDs),
			f.Starred, f.TextLike, f.SortBy, f.NotesCount,
			syncDateArg(f.SyncDate), f.Deleted, f.ChangeTimestamp)
		if err != nil {
			return fmt.Errorf("failed to insert filter: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted filter id: %w", err)
		}
		f.LocalID = id
		return nil
	}

	query := `UPDATE filters SET uid=?, type=?, name=?, color=?, tag_ids=?, kit_ids=?, starred=?,
		text_like=?, sort_by=?, notes_count=?, sync_date=?, deleted=?, change_ts=?
		WHERE local_id=?`
	_, err := r.db.ExecContext(ctx, query,
		f.UID, string(f.Type), f.Name, f.Color,
		dbx.StringSlice(f.TagIDs), dbx.StringSlice(f.KitIDs),
		f.Starred, f.TextLike, f.SortBy, f.NotesCount,
		syncDateArg(f.SyncDate), f.Deleted, f.ChangeTimestamp, f.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update filter: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveAll(ctx context.Context, fs []*models.Filter) error {
	for _, f := range fs {
		if err := r.Save(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.Filter, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+filterColumns+` FROM filters WHERE `+where, args...)
	f, err := scanFilter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select filter: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Filter, error) {
	return r.getOne(ctx, `local_id=?`, id)
}

func (r *SQLiteRepository) GetByUID(ctx context.Context, uid string) (*models.Filter, error) {
	return r.getOne(ctx, `uid=?`, uid)
}

func (r *SQLiteRepository) getMany(ctx context.Context, where string, args ...any) ([]*models.Filter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+filterColumns+` FROM filters WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select filters: %w", err)
	}
	defer rows.Close()

	var result []*models.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.Filter, error) {
	return r.getMany(ctx, `deleted=0 ORDER BY local_id`)
}

func (r *SQLiteRepository) GetByType(ctx context.Context, t models.FilterType) ([]*models.Filter, error) {
	return r.getMany(ctx, `type=? AND deleted=0 ORDER BY local_id`, string(t))
}

func (r *SQLiteRepository) GetNotSynced(ctx context.Context) ([]*models.Filter, error) {
	return r.getMany(ctx, `sync_date IS NULL ORDER BY local_id`)
}

func (r *SQLiteRepository) ApplyCounter(ctx context.Context, uids []string, delta int64) error {
	if len(uids) == 0 || delta == 0 {
		return nil
	}
	args := []any{delta}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	for _, uid := range uids {
		args = append(args, uid)
	}
	query := `UPDATE filters SET notes_count = MAX(notes_count + ?, 0)
		WHERE deleted=0 AND uid IN (` + placeholders + `)`
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update filter counters: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := r.db.ExecContext(ctx, `DELETE FROM filters WHERE local_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete filters: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByUID(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM filters WHERE uid=?`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete filter: %w", err)
	}
	return nil
}
