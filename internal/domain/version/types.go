package version

import "errors"

var (
	// ErrInvalidArchive is returned by Import for documents that are not a
	// JSON array whose first element carries a code field.
	ErrInvalidArchive = errors.New("invalid version archive")
	// ErrNotFound is returned when a version id is unknown.
	ErrNotFound = errors.New("version not found")
)

// Version is one snapshot of the running document.
type Version struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
	Code        string `json:"code"`
	IsStable    bool   `json:"isStable"`
}

// Change describes a mutation of the store.
type Change struct {
	Kind    ChangeKind
	Head    Version
	Removed *Version
	Len     int
}

// ChangeKind names the operation behind a Change.
type ChangeKind string

const (
	ChangeAppend   ChangeKind = "append"
	ChangeRollback ChangeKind = "rollback"
	ChangeImport   ChangeKind = "import"
	ChangeReset    ChangeKind = "reset"
)
