// Package reconcile keeps the local database and the remote collections
// convergent. It ingests the remote change feed, pairs remote documents
// with local records and resolves concurrent edits.
package reconcile

import (
	"time"

	"github.com/clipsync/clipsync/internal/models"
)

// Conflict resolution is equality driven: when both sides hold the same
// content the change is a no-op, otherwise the later merge wins
// wholesale. There is no per-field merging of divergent edits.

// SameClip reports field-level equality over every synced clip field.
// Local-only state (LocalID) does not participate.
func SameClip(a, b *models.Clip) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Title == b.Title &&
		a.Text == b.Text &&
		a.TextType == b.TextType &&
		a.Description == b.Description &&
		a.Abbreviation == b.Abbreviation &&
		models.EqualStrings(a.TagIDs, b.TagIDs) &&
		models.EqualStrings(a.SnippetIDs, b.SnippetIDs) &&
		models.EqualStrings(a.FileIDs, b.FileIDs) &&
		a.FolderID == b.FolderID &&
		a.Fav == b.Fav &&
		a.Tracked == b.Tracked &&
		a.UsageCount == b.UsageCount &&
		a.CreateDate.Equal(b.CreateDate) &&
		a.UpdateDate.Equal(b.UpdateDate) &&
		a.ModifyDate.Equal(b.ModifyDate) &&
		equalTimePtr(a.DeleteDate, b.DeleteDate)
}

// SameFileRef reports field-level equality over every synced file
// field. Transfer state (Progress, UploadSession, Error) is local.
func SameFileRef(a, b *models.FileRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.FolderID == b.FolderID &&
		a.Title == b.Title &&
		a.MediaType == b.MediaType &&
		a.IsFolder == b.IsFolder &&
		a.ReadOnly == b.ReadOnly &&
		a.Size == b.Size &&
		a.MD5 == b.MD5 &&
		a.Uploaded == b.Uploaded &&
		a.DownloadURL == b.DownloadURL &&
		models.EqualStrings(a.TagIDs, b.TagIDs) &&
		a.CreateDate.Equal(b.CreateDate) &&
		a.UpdateDate.Equal(b.UpdateDate) &&
		a.ModifyDate.Equal(b.ModifyDate) &&
		equalTimePtr(a.DeleteDate, b.DeleteDate)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
