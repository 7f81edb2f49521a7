package models

import "time"

// FilterType classifies a saved filter.
type FilterType string

const (
	FilterTypeTag        FilterType = "tag"
	FilterTypeNamed      FilterType = "named"
	FilterTypeSnippetKit FilterType = "kit"
	FilterTypeSystem     FilterType = "system"
)

// Filter is a saved view, tag or named query over clips.
//
// For tags and snippet kits, NotesCount is the local usage counter index
// maintained by the reconciler and the coordinators; it is derived state
// and deliberately excluded from IsSame.
type Filter struct {
	LocalID int64
	UID     string
	Type    FilterType

	Name  string
	Color string

	// Filter criteria. Only equality matters to the sync core.
	TagIDs   []string
	KitIDs   []string
	Starred  bool
	TextLike string
	SortBy   string

	NotesCount int64

	SyncDate *time.Time
	Deleted  bool

	ChangeTimestamp int64
}

func (f *Filter) IsTag() bool        { return f.Type == FilterTypeTag }
func (f *Filter) IsSnippetKit() bool { return f.Type == FilterTypeSnippetKit }
func (f *Filter) IsSynced() bool     { return f.SyncDate != nil }

// IsSame reports field-level equality over every sync-relevant field.
func (f *Filter) IsSame(o *Filter) bool {
	if o == nil {
		return false
	}
	return f.UID == o.UID &&
		f.Type == o.Type &&
		f.Name == o.Name &&
		f.Color == o.Color &&
		EqualStrings(f.TagIDs, o.TagIDs) &&
		EqualStrings(f.KitIDs, o.KitIDs) &&
		f.Starred == o.Starred &&
		f.TextLike == o.TextLike &&
		f.SortBy == o.SortBy &&
		f.Deleted == o.Deleted
}

// Clone returns a deep copy; reference slices are not shared.
func (f *Filter) Clone() *Filter {
	cp := *f
	cp.TagIDs = append([]string(nil), f.TagIDs...)
	cp.KitIDs = append([]string(nil), f.KitIDs...)
	if f.SyncDate != nil {
		d := *f.SyncDate
		cp.SyncDate = &d
	}
	return &cp
}
