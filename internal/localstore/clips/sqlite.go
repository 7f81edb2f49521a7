package clips

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

const clipColumns = `local_id, remote_id, title, text, text_type, description, abbreviation,
	tag_ids, snippet_ids, file_ids, folder_id, fav, tracked, usage_count,
	create_date, update_date, modify_date, delete_date, change_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*models.Clip, error) {
	c := &models.Clip{}
	var tagIDs, snippetIDs, fileIDs dbx.StringSlice
	var createDate, updateDate, modifyDate int64
	var deleteDate sql.NullInt64

	err := row.Scan(&c.LocalID, &c.RemoteID, &c.Title, &c.Text, &c.TextType,
		&c.Description, &c.Abbreviation, &tagIDs, &snippetIDs, &fileIDs,
		&c.FolderID, &c.Fav, &c.Tracked, &c.UsageCount,
		&createDate, &updateDate, &modifyDate, &deleteDate, &c.ChangeTimestamp)
	if err != nil {
		return nil, err
	}

	c.TagIDs = tagIDs
	c.SnippetIDs = snippetIDs
	c.FileIDs = fileIDs
	c.CreateDate = time.UnixMilli(createDate)
	c.UpdateDate = time.UnixMilli(updateDate)
	c.ModifyDate = time.UnixMilli(modifyDate)
	if deleteDate.Valid {
		d := time.UnixMilli(deleteDate.Int64)
		c.DeleteDate = &d
	}
	return c, nil
}

func deleteDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (r *SQLiteRepository) Save(ctx context.Context, c *models.Clip) error {
	if c.LocalID == 0 {
		query := `INSERT INTO clips (remote_id, title, text, text_type, description, abbreviation,
			tag_ids, snippet_ids, file_ids, folder_id, fav, tracked, usage_count,
			create_date, update_date, modify_date, delete_date, change_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := r.db.ExecContext(ctx, query,
			c.RemoteID, c.Title, c.Text, c.TextType, c.Description, c.Abbreviation,
			dbx.StringSlice(c.TagIDs), dbx.StringSlice(c.SnippetIDs), dbx.StringSlice(c.FileIDs),
			c.FolderID, c.Fav, c.Tracked, c.UsageCount,
			c.CreateDate.UnixMilli(), c.UpdateDate.UnixMilli(), c.ModifyDate.UnixMilli(),
			deleteDateArg(c.DeleteDate), c.ChangeTimestamp)
		if err != nil {
			return fmt.Errorf("failed to insert clip: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted clip id: %w", err)
		}
		c.LocalID = id
		return nil
	}

	query := `UPDATE clips SET remote_id=?, title=?, text=?, text_type=?, description=?, abbreviation=?,
		tag_ids=?, snippet_ids=?, file_ids=?, folder_id=?, fav=?, tracked=?, usage_count=?,
		create_date=?, update_date=?, modify_date=?, delete_date=?, change_ts=?
		WHERE local_id=?`
	_, err := r.db.ExecContext(ctx, query,
		c.RemoteID, c.Title, c.Text, c.TextType, c.Description, c.Abbreviation,
		dbx.StringSlice(c.TagIDs), dbx.StringSlice(c.SnippetIDs), dbx.StringSlice(c.FileIDs),
		c.FolderID, c.Fav, c.Tracked, c.UsageCount,
		c.CreateDate.UnixMilli(), c.UpdateDate.UnixMilli(), c.ModifyDate.UnixMilli(),
		deleteDateArg(c.DeleteDate), c.ChangeTimestamp, c.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update clip: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveAll(ctx context.Context, cs []*models.Clip) error {
	for _, c := range cs {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE `+where, args...)
	c, err := scanClip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select clip: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Clip, error) {
	return r.getOne(ctx, `local_id=?`, id)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Clip, error) {
	return r.getOne(ctx, `remote_id=?`, remoteID)
}

func (r *SQLiteRepository) GetUnsyncedByText(ctx context.Context, text string) (*models.Clip, error) {
	return r.getOne(ctx, `remote_id='' AND text=? LIMIT 1`, text)
}

func (r *SQLiteRepository) GetActiveByText(ctx context.Context, text string) (*models.Clip, error) {
	return r.getOne(ctx, `delete_date IS NULL AND text=? LIMIT 1`, text)
}

func (r *SQLiteRepository) getMany(ctx context.Context, where string, args ...any) ([]*models.Clip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select clips: %w", err)
	}
	defer rows.Close()

	var result []*models.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetChildren(ctx context.Context, folderID string) ([]*models.Clip, error) {
	return r.getMany(ctx, `folder_id=? AND delete_date IS NULL ORDER BY local_id`, folderID)
}

// GetByTagID matches on the JSON-encoded id lists; candidates are
// verified against the decoded slices by the caller if exactness
// matters beyond quoting.
func (r *SQLiteRepository) GetByTagID(ctx context.Context, uid string) ([]*models.Clip, error) {
	pattern := `%"` + uid + `"%`
	return r.getMany(ctx, `(tag_ids LIKE ? OR snippet_ids LIKE ?) ORDER BY local_id`, pattern, pattern)
}

func (r *SQLiteRepository) GetNotSynced(ctx context.Context) ([]*models.Clip, error) {
	return r.getMany(ctx, `remote_id='' ORDER BY local_id`)
}

func (r *SQLiteRepository) GetRecycleBin(ctx context.Context) ([]*models.Clip, error) {
	return r.getMany(ctx, `delete_date IS NOT NULL ORDER BY delete_date DESC`)
}

func (r *SQLiteRepository) RecycleBinOverflow(ctx context.Context, keep int) ([]*models.Clip, error) {
	var count int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips WHERE delete_date IS NOT NULL`)
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count recycle bin: %w", err)
	}
	over := count - keep
	if over <= 0 {
		return nil, nil
	}
	return r.getMany(ctx, `delete_date IS NOT NULL ORDER BY delete_date ASC LIMIT ?`, over)
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
	_, err := r.db.ExecContext(ctx, `DELETE FROM clips WHERE local_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete clips: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByRemoteID(ctx context.Context, remoteID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clips WHERE remote_id=?`, remoteID)
	if err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips WHERE delete_date IS NULL`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clips: %w", err)
	}
	return count, nil
}
