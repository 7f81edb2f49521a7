package remote

// Collection names in the remote document database. Each collection has a
// companion deleted stream carrying hard-delete tombstones.
const (
	CollectionClips   = "clips"
	CollectionFiles   = "files"
	CollectionFilters = "filters"
)

// FieldChangeTimestamp is the server-assigned change cursor present on
// every document; subscriptions resume from the highest value seen.
const FieldChangeTimestamp = "cts"

// Clip documents are keyed by short field codes to keep batched partial
// updates minimal on the wire.
const (
	ClipFieldUsageCount   = "n"
	ClipFieldCreateDate   = "c"
	ClipFieldUpdateDate   = "u"
	ClipFieldModifyDate   = "m"
	ClipFieldDeleteDate   = "d"
	ClipFieldTextType     = "v"
	ClipFieldTitle        = "h"
	ClipFieldText         = "t"
	ClipFieldTagIDs       = "li"
	ClipFieldFileIDs      = "fi"
	ClipFieldTracked      = "a"
	ClipFieldFav          = "f"
	ClipFieldFolderID     = "fid"
	ClipFieldAbbreviation = "abr"
	ClipFieldDescription  = "dsc"
	ClipFieldSnippetIDs   = "si"
)

// File and filter documents are low-volume; they use long field names.
const (
	FileFieldName        = "name"
	FileFieldFolder      = "folder"
	FileFieldIsFolder    = "isFolder"
	FileFieldReadOnly    = "readOnly"
	FileFieldSize        = "size"
	FileFieldMD5         = "md5"
	FileFieldMediaType   = "mediaType"
	FileFieldUploaded    = "uploaded"
	FileFieldUploadURL   = "uploadUrl"
	FileFieldDownloadURL = "downloadUrl"
	FileFieldError       = "error"
	FileFieldTagIDs      = "tagIds"
	FileFieldCreated     = "created"
	FileFieldUpdated     = "updated"
	FileFieldModified    = "modified"
	FileFieldDeleted     = "deleted"
)

const (
	FilterFieldName     = "name"
	FilterFieldType     = "type"
	FilterFieldColor    = "color"
	FilterFieldTagIDs   = "tagIds"
	FilterFieldKitIDs   = "kitIds"
	FilterFieldStarred  = "starred"
	FilterFieldTextLike = "textLike"
	FilterFieldSortBy   = "sortBy"
	FilterFieldDeleted  = "deleted"
)
