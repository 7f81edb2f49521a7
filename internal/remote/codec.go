package remote

import (
	"time"

	"github.com/clipsync/clipsync/internal/models"
)

// Codecs between domain entities and remote field maps. Encode produces
// the full document for a create; Diff produces the partial-field map for
// an update, containing only the codes whose values actually changed.

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// EncodeClip maps a clip onto its full remote document.
func EncodeClip(c *models.Clip) map[string]any {
	return map[string]any{
		ClipFieldTitle:        c.Title,
		ClipFieldText:         c.Text,
		ClipFieldTextType:     c.TextType,
		ClipFieldDescription:  c.Description,
		ClipFieldAbbreviation: c.Abbreviation,
		ClipFieldTagIDs:       c.TagIDs,
		ClipFieldSnippetIDs:   c.SnippetIDs,
		ClipFieldFileIDs:      c.FileIDs,
		ClipFieldFolderID:     c.FolderID,
		ClipFieldFav:          c.Fav,
		ClipFieldTracked:      c.Tracked,
		ClipFieldUsageCount:   c.UsageCount,
		ClipFieldCreateDate:   millis(c.CreateDate),
		ClipFieldUpdateDate:   millis(c.UpdateDate),
		ClipFieldModifyDate:   millis(c.ModifyDate),
		ClipFieldDeleteDate:   millisPtr(c.DeleteDate),
	}
}

// DecodeClip builds a clip from a remote document. The local primary key
// is left at zero; reconcilers preserve it from the local match.
func DecodeClip(id string, fields map[string]any) *models.Clip {
	return &models.Clip{
		RemoteID:        id,
		Title:           fieldString(fields, ClipFieldTitle),
		Text:            fieldString(fields, ClipFieldText),
		TextType:        fieldString(fields, ClipFieldTextType),
		Description:     fieldString(fields, ClipFieldDescription),
		Abbreviation:    fieldString(fields, ClipFieldAbbreviation),
		TagIDs:          fieldStrings(fields, ClipFieldTagIDs),
		SnippetIDs:      fieldStrings(fields, ClipFieldSnippetIDs),
		FileIDs:         fieldStrings(fields, ClipFieldFileIDs),
		FolderID:        fieldString(fields, ClipFieldFolderID),
		Fav:             fieldBool(fields, ClipFieldFav),
		Tracked:         fieldBool(fields, ClipFieldTracked),
		UsageCount:      fieldInt64(fields, ClipFieldUsageCount),
		CreateDate:      fieldTime(fields, ClipFieldCreateDate),
		UpdateDate:      fieldTime(fields, ClipFieldUpdateDate),
		ModifyDate:      fieldTime(fields, ClipFieldModifyDate),
		DeleteDate:      fieldTimePtr(fields, ClipFieldDeleteDate),
		ChangeTimestamp: fieldInt64(fields, FieldChangeTimestamp),
	}
}

// DiffClip returns the partial update for prev -> next. An empty map
// means the edit touched nothing sync-relevant and no remote write is
// needed.
func DiffClip(prev, next *models.Clip) map[string]any {
	changes := map[string]any{}
	if prev.Title != next.Title {
		changes[ClipFieldTitle] = next.Title
	}
	if prev.Text != next.Text {
		changes[ClipFieldText] = next.Text
	}
	if prev.TextType != next.TextType {
		changes[ClipFieldTextType] = next.TextType
	}
	if prev.Description != next.Description {
		changes[ClipFieldDescription] = next.Description
	}
	if prev.Abbreviation != next.Abbreviation {
		changes[ClipFieldAbbreviation] = next.Abbreviation
	}
	if !models.EqualStrings(prev.TagIDs, next.TagIDs) {
		changes[ClipFieldTagIDs] = next.TagIDs
	}
	if !models.EqualStrings(prev.SnippetIDs, next.SnippetIDs) {
		changes[ClipFieldSnippetIDs] = next.SnippetIDs
	}
	if !models.EqualStrings(prev.FileIDs, next.FileIDs) {
		changes[ClipFieldFileIDs] = next.FileIDs
	}
	if prev.FolderID != next.FolderID {
		changes[ClipFieldFolderID] = next.FolderID
	}
	if prev.Fav != next.Fav {
		changes[ClipFieldFav] = next.Fav
	}
	if prev.UsageCount != next.UsageCount {
		changes[ClipFieldUsageCount] = next.UsageCount
	}
	if !prev.UpdateDate.Equal(next.UpdateDate) {
		changes[ClipFieldUpdateDate] = millis(next.UpdateDate)
	}
	if !prev.ModifyDate.Equal(next.ModifyDate) {
		changes[ClipFieldModifyDate] = millis(next.ModifyDate)
	}
	if !equalTimePtr(prev.DeleteDate, next.DeleteDate) {
		changes[ClipFieldDeleteDate] = millisPtr(next.DeleteDate)
	}
	return changes
}

// EncodeFileRef maps a file reference onto its full remote document.
// Transient transfer state (progress, session token) never leaves the
// device.
func EncodeFileRef(f *models.FileRef) map[string]any {
	return map[string]any{
		FileFieldName:        f.Title,
		FileFieldFolder:      f.FolderID,
		FileFieldIsFolder:    f.IsFolder,
		FileFieldReadOnly:    f.ReadOnly,
		FileFieldSize:        f.Size,
		FileFieldMD5:         f.MD5,
		FileFieldMediaType:   f.MediaType,
		FileFieldUploaded:    f.Uploaded,
		FileFieldDownloadURL: f.DownloadURL,
		FileFieldError:       f.Error,
		FileFieldTagIDs:      f.TagIDs,
		FileFieldCreated:     millis(f.CreateDate),
		FileFieldUpdated:     millis(f.UpdateDate),
		FileFieldModified:    millis(f.ModifyDate),
		FileFieldDeleted:     millisPtr(f.DeleteDate),
	}
}

func DecodeFileRef(id string, fields map[string]any) *models.FileRef {
	return &models.FileRef{
		RemoteID:        id,
		Title:           fieldString(fields, FileFieldName),
		FolderID:        fieldString(fields, FileFieldFolder),
		IsFolder:        fieldBool(fields, FileFieldIsFolder),
		ReadOnly:        fieldBool(fields, FileFieldReadOnly),
		Size:            fieldInt64(fields, FileFieldSize),
		MD5:             fieldString(fields, FileFieldMD5),
		MediaType:       fieldString(fields, FileFieldMediaType),
		Uploaded:        fieldBool(fields, FileFieldUploaded),
		DownloadURL:     fieldString(fields, FileFieldDownloadURL),
		Error:           fieldString(fields, FileFieldError),
		TagIDs:          fieldStrings(fields, FileFieldTagIDs),
		CreateDate:      fieldTime(fields, FileFieldCreated),
		UpdateDate:      fieldTime(fields, FileFieldUpdated),
		ModifyDate:      fieldTime(fields, FileFieldModified),
		DeleteDate:      fieldTimePtr(fields, FileFieldDeleted),
		ChangeTimestamp: fieldInt64(fields, FieldChangeTimestamp),
	}
}

// DiffFileRef returns the partial update for prev -> next.
func DiffFileRef(prev, next *models.FileRef) map[string]any {
	changes := map[string]any{}
	if prev.Title != next.Title {
		changes[FileFieldName] = next.Title
	}
	if prev.FolderID != next.FolderID {
		changes[FileFieldFolder] = next.FolderID
	}
	if prev.Size != next.Size {
		changes[FileFieldSize] = next.Size
	}
	if prev.MD5 != next.MD5 {
		changes[FileFieldMD5] = next.MD5
	}
	if prev.MediaType != next.MediaType {
		changes[FileFieldMediaType] = next.MediaType
	}
	if prev.Uploaded != next.Uploaded {
		changes[FileFieldUploaded] = next.Uploaded
	}
	if prev.DownloadURL != next.DownloadURL {
		changes[FileFieldDownloadURL] = next.DownloadURL
	}
	if prev.Error != next.Error {
		changes[FileFieldError] = next.Error
	}
	if !models.EqualStrings(prev.TagIDs, next.TagIDs) {
		changes[FileFieldTagIDs] = next.TagIDs
	}
	if !prev.UpdateDate.Equal(next.UpdateDate) {
		changes[FileFieldUpdated] = millis(next.UpdateDate)
	}
	if !prev.ModifyDate.Equal(next.ModifyDate) {
		changes[FileFieldModified] = millis(next.ModifyDate)
	}
	if !equalTimePtr(prev.DeleteDate, next.DeleteDate) {
		changes[FileFieldDeleted] = millisPtr(next.DeleteDate)
	}
	return changes
}

// EncodeFilter maps a filter onto its full remote document. Filters are
// small and infrequently edited; they are always written whole.
func EncodeFilter(f *models.Filter) map[string]any {
	return map[string]any{
		FilterFieldName:     f.Name,
		FilterFieldType:     string(f.Type),
		FilterFieldColor:    f.Color,
		FilterFieldTagIDs:   f.TagIDs,
		FilterFieldKitIDs:   f.KitIDs,
		FilterFieldStarred:  f.Starred,
		FilterFieldTextLike: f.TextLike,
		FilterFieldSortBy:   f.SortBy,
		FilterFieldDeleted:  f.Deleted,
	}
}

func DecodeFilter(id string, fields map[string]any) *models.Filter {
	return &models.Filter{
		UID:             id,
		Name:            fieldString(fields, FilterFieldName),
		Type:            models.FilterType(fieldString(fields, FilterFieldType)),
		Color:           fieldString(fields, FilterFieldColor),
		TagIDs:          fieldStrings(fields, FilterFieldTagIDs),
		KitIDs:          fieldStrings(fields, FilterFieldKitIDs),
		Starred:         fieldBool(fields, FilterFieldStarred),
		TextLike:        fieldString(fields, FilterFieldTextLike),
		SortBy:          fieldString(fields, FilterFieldSortBy),
		Deleted:         fieldBool(fields, FilterFieldDeleted),
		ChangeTimestamp: fieldInt64(fields, FieldChangeTimestamp),
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Field maps cross a JSON boundary, so numbers may arrive as float64 and
// lists as []any. The accessors below normalize both shapes.

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldBool(fields map[string]any, key string) bool {
	if v, ok := fields[key].(bool); ok {
		return v
	}
	return false
}

func fieldInt64(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func fieldTime(fields map[string]any, key string) time.Time {
	ms := fieldInt64(fields, key)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func fieldTimePtr(fields map[string]any, key string) *time.Time {
	ms := fieldInt64(fields, key)
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func fieldStrings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
