package models

import "time"

// FileRef is the metadata record for an attachment or folder, separate
// from the underlying binary payload.
//
// Uploaded == true implies the object exists in remote storage. Progress
// is meaningful only while a transfer is active and resets to 0 on
// completion or failure. A read-only file is externally hosted and never
// enters the upload path.
type FileRef struct {
	LocalID   int64
	RemoteID  string
	FolderID  string
	Title     string
	MediaType string
	IsFolder  bool
	ReadOnly  bool

	Size int64
	MD5  string

	Uploaded   bool
	Downloaded bool

	// UploadURL is the local source URI of the bytes to upload.
	// DownloadURL is the local target path, or the foreign URL for
	// read-only files.
	UploadURL   string
	DownloadURL string

	// UploadSession is the opaque resumable-session token persisted while
	// an upload is in flight so it can continue after a restart.
	UploadSession string

	// Progress is a transient 0–100 percentage, never persisted remotely.
	Progress int
	Error    string

	TagIDs []string

	CreateDate time.Time
	UpdateDate time.Time
	ModifyDate time.Time
	DeleteDate *time.Time

	ChangeTimestamp int64
}

func (f *FileRef) IsSynced() bool  { return f.RemoteID != "" }
func (f *FileRef) IsDeleted() bool { return f.DeleteDate != nil }

// Clone returns a deep copy; reference slices are not shared.
func (f *FileRef) Clone() *FileRef {
	cp := *f
	cp.TagIDs = append([]string(nil), f.TagIDs...)
	if f.DeleteDate != nil {
		d := *f.DeleteDate
		cp.DeleteDate = &d
	}
	return &cp
}
