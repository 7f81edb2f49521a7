// Package models defines the synced domain entities: clips, file
// references and filters, together with the sync metadata every entity
// carries (remote identifier, modify date, change timestamp).
package models

import "time"

// Clip is a stored note/clipboard item, the primary synced entity.
//
// LocalID is the local primary key (0 = unsaved). RemoteID is the remote
// document id; the empty string means the clip has never been synced.
// DeleteDate set means the clip is in the recycle bin; it is removed
// permanently only past the retention cap or on explicit purge.
type Clip struct {
	LocalID      int64
	RemoteID     string
	Title        string
	Text         string
	TextType     string
	Description  string
	Abbreviation string

	// TagIDs, SnippetIDs and FileIDs are ordered sets of references to
	// filters (tags / snippet kits) and file attachments.
	TagIDs     []string
	SnippetIDs []string
	FileIDs    []string

	FolderID   string
	Fav        bool
	Tracked    bool
	UsageCount int64

	CreateDate time.Time
	UpdateDate time.Time
	ModifyDate time.Time
	DeleteDate *time.Time

	// ChangeTimestamp is a monotonic local version stamp (unix millis of
	// the mutating transaction) used to detect whether an open screen
	// must refresh.
	ChangeTimestamp int64
}

// IsSynced reports whether the clip is mirrored remotely.
func (c *Clip) IsSynced() bool { return c.RemoteID != "" }

// IsDeleted reports whether the clip sits in the recycle bin.
func (c *Clip) IsDeleted() bool { return c.DeleteDate != nil }

// Clone returns a deep copy; reference slices are not shared.
func (c *Clip) Clone() *Clip {
	cp := *c
	cp.TagIDs = append([]string(nil), c.TagIDs...)
	cp.SnippetIDs = append([]string(nil), c.SnippetIDs...)
	cp.FileIDs = append([]string(nil), c.FileIDs...)
	if c.DeleteDate != nil {
		d := *c.DeleteDate
		cp.DeleteDate = &d
	}
	return &cp
}
