package remote

import "context"

// TransferProgress reports transfer advancement. token carries the
// current resumable-session handle for uploads (empty for downloads);
// callers persist it so an interrupted transfer can continue after a
// process restart.
type TransferProgress func(done, total int64, token string)

// ObjectStore is the binary payload side of the remote service.
//
// Upload with an empty resumeToken starts a fresh session; a non-empty
// token continues a previous one from the last acknowledged offset.
// Download appends to the local file starting at offset, so a partial
// file resumes where it left off.
type ObjectStore interface {
	Upload(ctx context.Context, key, localPath, resumeToken string, progress TransferProgress) (md5 string, err error)
	Download(ctx context.Context, key, localPath string, offset int64, progress TransferProgress) error
	Delete(ctx context.Context, key string) error
}
