package files

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

// Progress is transient transfer state and is never persisted.
const fileColumns = `local_id, remote_id, folder_id, title, media_type, is_folder, read_only,
	size, md5, uploaded, downloaded, upload_url, download_url, upload_session, error, tag_ids,
	create_date, update_date, modify_date, delete_date, change_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRef, error) {
	f := &models.FileRef{}
	var tagIDs dbx.StringSlice
	var createDate, updateDate, modifyDate int64
	var deleteDate sql.NullInt64

	err := row.Scan(&f.LocalID, &f.RemoteID, &f.FolderID, &f.Title, &f.MediaType,
		&f.IsFolder, &f.ReadOnly, &f.Size, &f.MD5, &f.Uploaded, &f.Downloaded,
		&f.UploadURL, &f.DownloadURL, &f.UploadSession, &f.Error, &tagIDs,
		&createDate, &updateDate, &modifyDate, &deleteDate, &f.ChangeTimestamp)
	if err != nil {
		return nil, err
	}

	f.TagIDs = tagIDs
	f.CreateDate = time.UnixMilli(createDate)
	f.UpdateDate = time.UnixMilli(updateDate)
	f.ModifyDate = time.UnixMilli(modifyDate)
	if deleteDate.Valid {
		d := time.UnixMilli(deleteDate.Int64)
		f.DeleteDate = &d
	}
	return f, nil
}

func deleteDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (r *SQLiteRepository) Save(ctx context.Context, f *models.FileRef) error {
	if f.LocalID == 0 {
		query := `INSERT INTO files (remote_id, folder_id, title, media_type, is_folder, read_only,
			size, md5, uploaded, downloaded, upload_url, download_url, upload_session, error, tag_ids,
			create_date, update_date, modify_date, delete_date, change_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := r.db.ExecContext(ctx, query,
			f.RemoteID, f.FolderID, f.Title, f.MediaType, f.IsFolder, f.ReadOnly,
			f.Size, f.MD5, f.Uploaded, f.Downloaded, f.UploadURL, f.DownloadURL,
			f.UploadSession, f.Error, dbx.StringSlice(f.TagIDs),
			f.CreateDate.UnixMilli(), f.UpdateDate.UnixMilli(), f.ModifyDate.UnixMilli(),
			deleteDateArg(f.DeleteDate), f.ChangeTimestamp)
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted file id: %w", err)
		}
		f.LocalID = id
		return nil
	}

	query := `UPDATE files SET remote_id=?, folder_id=?, title=?, media_type=?, is_folder=?, read_only=?,
		size=?, md5=?, uploaded=?, downloaded=?, upload_url=?, download_url=?, upload_session=?, error=?, tag_ids=?,
		create_date=?, update_date=?, modify_date=?, delete_date=?, change_ts=?
		WHERE local_id=?`
	_, err := r.db.ExecContext(ctx, query,
		f.RemoteID, f.FolderID, f.Title, f.MediaType, f.IsFolder, f.ReadOnly,
		f.Size, f.MD5, f.Uploaded, f.Downloaded, f.UploadURL, f.DownloadURL,
		f.UploadSession, f.Error, dbx.StringSlice(f.TagIDs),
		f.CreateDate.UnixMilli(), f.UpdateDate.UnixMilli(), f.ModifyDate.UnixMilli(),
		deleteDateArg(f.DeleteDate), f.ChangeTimestamp, f.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveAll(ctx context.Context, fs []*models.FileRef) error {
	for _, f := range fs {
		if err := r.Save(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.FileRef, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE `+where, args...)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.FileRef, error) {
	return r.getOne(ctx, `local_id=?`, id)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.FileRef, error) {
	return r.getOne(ctx, `remote_id=?`, remoteID)
}

func (r *SQLiteRepository) getMany(ctx context.Context, where string, args ...any) ([]*models.FileRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRef
	for rows.Next() {
		f, err := scanFile(rows)
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

func (r *SQLiteRepository) GetChildren(ctx context.Context, folderID string) ([]*models.FileRef, error) {
	return r.getMany(ctx, `folder_id=? AND delete_date IS NULL ORDER BY local_id`, folderID)
}

func (r *SQLiteRepository) GetNotSynced(ctx context.Context) ([]*models.FileRef, error) {
	return r.getMany(ctx, `remote_id='' ORDER BY local_id`)
}

func (r *SQLiteRepository) GetNotUploaded(ctx context.Context) ([]*models.FileRef, error) {
	return r.getMany(ctx, `uploaded=0 AND is_folder=0 AND read_only=0 AND delete_date IS NULL AND upload_url<>'' ORDER BY local_id`)
}

func (r *SQLiteRepository) GetNotDownloaded(ctx context.Context) ([]*models.FileRef, error) {
	return r.getMany(ctx, `downloaded=0 AND is_folder=0 AND delete_date IS NULL AND download_url<>'' ORDER BY local_id`)
}

func (r *SQLiteRepository) GetRecycleBin(ctx context.Context) ([]*models.FileRef, error) {
	return r.getMany(ctx, `delete_date IS NOT NULL ORDER BY delete_date DESC`)
}

func (r *SQLiteRepository) RecycleBinOverflow(ctx context.Context, keep int) ([]*models.FileRef, error) {
	var count int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE delete_date IS NOT NULL`)
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
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE local_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByRemoteID(ctx context.Context, remoteID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE remote_id=?`, remoteID)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
