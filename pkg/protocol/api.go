// Package protocol defines the API request/response types.
package protocol

import (
	"net/url"
	"strconv"
	"time"

	"github.com/filecove/filecove/pkg/models"
)

// ListResponse is returned by GET /api/v1/files.
type ListResponse struct {
	Files []models.FileEntry `json:"files"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// ListQuery carries the fetch parameters for GET /api/v1/files.
// Path is mandatory; the rest narrow the result set. Zero values mean
// "no constraint". Bounds are not cross-validated: an inverted range is
// passed through and simply matches nothing.
type ListQuery struct {
	Path           string
	Query          string
	Type           string // image, document, video, audio, archive
	MinSize        int64
	MaxSize        int64
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// Values encodes the query as URL parameters. Path is percent-encoded by
// url.Values so embedded slashes survive the round trip.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	v.Set("path", q.Path)
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.MinSize > 0 {
		v.Set("min_size", strconv.FormatInt(q.MinSize, 10))
	}
	if q.MaxSize > 0 {
		v.Set("max_size", strconv.FormatInt(q.MaxSize, 10))
	}
	if !q.ModifiedAfter.IsZero() {
		v.Set("modified_after", q.ModifiedAfter.Format(time.RFC3339))
	}
	if !q.ModifiedBefore.IsZero() {
		v.Set("modified_before", q.ModifiedBefore.Format(time.RFC3339))
	}
	return v
}

// RenameRequest is the body for PUT /api/v1/files/{id}.
type RenameRequest struct {
	Name string `json:"name"`
}

// MoveRequest is the body for POST /api/v1/files/{id}/move.
type MoveRequest struct {
	DestinationPath string `json:"destination_path"`
}

// CopyRequest is the body for POST /api/v1/files/{id}/copy.
type CopyRequest struct {
	DestinationPath string `json:"destination_path"`
}

// MkdirRequest is the body for POST /api/v1/folders.
type MkdirRequest struct {
	Path string `json:"path"`
}

// TrashItem represents a soft-deleted file in the trash.
type TrashItem struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OriginalPath  string    `json:"original_path"`
	Size          int64     `json:"size"`
	Kind          string    `json:"kind"`
	DeletedAt     time.Time `json:"deleted_at"`
	DeletedByName string    `json:"deleted_by_name,omitempty"`
}

// TrashRestoreRequest is the body for POST /api/v1/trash/restore.
type TrashRestoreRequest struct {
	ID string `json:"id"`
}

// IngestRequest is the body for POST /api/v1/ingest.
type IngestRequest struct {
	SourceDir string `json:"source_dir"`
	DestPath  string `json:"dest_path"`
}

// IngestResponse reports the outcome of a server-side directory ingest.
type IngestResponse struct {
	Ingested int      `json:"ingested"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}
