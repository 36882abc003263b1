// Package models contains shared data types used by the server, the REST
// client, and the browser core.
package models

import "time"

// Kind of a listing entry.
const (
	KindFile   = "file"
	KindFolder = "folder"
)

// FileEntry represents a file or folder in a directory listing. Entries are
// immutable snapshots: the server replaces them wholesale on every fetch.
type FileEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Kind       string    `json:"kind"`
	MimeType   string    `json:"mime_type,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	ModTime    time.Time `json:"mtime"`
	CreatedAt  time.Time `json:"created_at"`
	PreviewURL string    `json:"preview_url,omitempty"`
}

// IsFolder reports whether the entry is a folder. A folder's Size carries no
// meaning and is rendered as a placeholder.
func (e *FileEntry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Event is a change notification delivered over the SSE stream.
type Event struct {
	Type string    `json:"type"`
	ID   string    `json:"id,omitempty"`
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// Event types.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
	EventMove   = "move"
)
