package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/preview"
	"github.com/filecove/filecove/internal/storage"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// handleListFiles handles GET /api/v1/files
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lq := protocol.ListQuery{
		Path:  q.Get("path"),
		Query: q.Get("q"),
		Type:  q.Get("type"),
	}
	if lq.Path == "" {
		lq.Path = "/"
	}

	var err error
	if v := q.Get("min_size"); v != "" {
		if lq.MinSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid min_size")
			return
		}
	}
	if v := q.Get("max_size"); v != "" {
		if lq.MaxSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid max_size")
			return
		}
	}
	if v := q.Get("modified_after"); v != "" {
		if lq.ModifiedAfter, err = time.Parse(time.RFC3339, v); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid modified_after, want RFC 3339")
			return
		}
	}
	if v := q.Get("modified_before"); v != "" {
		if lq.ModifiedBefore, err = time.Parse(time.RFC3339, v); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid modified_before, want RFC 3339")
			return
		}
	}

	entries, err := s.store.List(r.Context(), lq)
	if err != nil {
		if errors.Is(err, postgres.ErrBadFilter) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error("list files failed", zap.String("path", lq.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	filtered := lq.Query != "" || lq.Type != "" || lq.MinSize > 0 || lq.MaxSize > 0 ||
		!lq.ModifiedAfter.IsZero() || !lq.ModifiedBefore.IsZero()
	metrics.RecordListingQuery(filtered)

	for i := range entries {
		decorateEntry(&entries[i])
	}

	s.sendJSON(w, http.StatusOK, protocol.ListResponse{Files: entries})
}

// handleDeleteFile handles DELETE /api/v1/files/{id}
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	claims := auth.GetClaims(r.Context())

	cur, err := s.store.GetByID(r.Context(), id, false)
	if err != nil {
		logging.Error("delete lookup failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	if cur == nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	rows, err := s.store.SoftDelete(r.Context(), id, claims.UserID)
	if err != nil {
		logging.Error("delete failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}
	if rows == 0 {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	s.publishEvent(models.EventDelete, id, cur.Path)
	w.WriteHeader(http.StatusNoContent)
}

// handleRenameFile handles PUT /api/v1/files/{id}
func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req protocol.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateName(req.Name); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := s.store.Rename(r.Context(), id, req.Name)
	if err != nil {
		s.sendStoreError(w, err, "rename failed", zap.String("id", id))
		return
	}

	s.publishEvent(models.EventMove, row.ID, row.Path)
	s.sendJSON(w, http.StatusOK, entryOf(row))
}

// handleMoveFile handles POST /api/v1/files/{id}/move
func (s *Server) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req protocol.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DestinationPath == "" {
		s.sendError(w, http.StatusBadRequest, "destination_path required")
		return
	}

	row, err := s.store.Move(r.Context(), id, req.DestinationPath)
	if err != nil {
		s.sendStoreError(w, err, "move failed", zap.String("id", id))
		return
	}

	s.publishEvent(models.EventMove, row.ID, row.Path)
	s.sendJSON(w, http.StatusOK, entryOf(row))
}

// handleCopyFile handles POST /api/v1/files/{id}/copy
func (s *Server) handleCopyFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req protocol.CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DestinationPath == "" {
		s.sendError(w, http.StatusBadRequest, "destination_path required")
		return
	}

	src, err := s.store.GetByID(r.Context(), id, false)
	if err != nil {
		logging.Error("copy lookup failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "copy failed")
		return
	}
	if src == nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	var row *postgres.FileRow
	if src.IsFolder() {
		row, err = s.copyFolderTree(r.Context(), src, req.DestinationPath)
	} else {
		row, err = s.copyOne(r.Context(), src, req.DestinationPath)
	}
	if err != nil {
		s.sendStoreError(w, err, "copy failed", zap.String("id", id))
		return
	}

	s.publishEvent(models.EventCreate, row.ID, row.Path)
	s.sendJSON(w, http.StatusCreated, entryOf(row))
}

// copyOne duplicates a single file: object first, then the metadata row.
// The object is removed again if the row cannot be created.
func (s *Server) copyOne(ctx context.Context, src *postgres.FileRow, destPath string) (*postgres.FileRow, error) {
	newID := uuid.NewString()
	newKey := storage.ObjectKey(newID)

	if err := s.backend.CopyObject(ctx, src.StorageKey, newKey); err != nil {
		return nil, fmt.Errorf("copy object: %w", err)
	}

	row, err := s.store.CopyRow(ctx, src.ID, destPath, newID, newKey)
	if err != nil {
		if derr := s.backend.DeleteObject(ctx, newKey); derr != nil {
			logging.Warn("orphaned copy object", zap.String("key", newKey), zap.Error(derr))
		}
		return nil, err
	}

	if s.previews != nil && preview.CanPreview(row.Name) {
		s.previews.Enqueue(row.ID)
	}
	return row, nil
}

// copyFolderTree duplicates a folder and everything under it. A failure
// mid-tree leaves the rows copied so far in place.
func (s *Server) copyFolderTree(ctx context.Context, src *postgres.FileRow, destPath string) (*postgres.FileRow, error) {
	folder, err := s.store.CopyRow(ctx, src.ID, destPath, "", "")
	if err != nil {
		return nil, err
	}

	children, err := s.store.List(ctx, protocol.ListQuery{Path: src.Path})
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childRow, err := s.store.GetByID(ctx, child.ID, false)
		if err != nil {
			return nil, err
		}
		if childRow == nil {
			continue
		}
		if childRow.IsFolder() {
			_, err = s.copyFolderTree(ctx, childRow, folder.Path)
		} else {
			_, err = s.copyOne(ctx, childRow, folder.Path)
		}
		if err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// handleCreateFolder handles POST /api/v1/folders
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var req protocol.MkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := path.Clean("/" + strings.TrimSpace(req.Path))
	if p == "/" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}

	existing, err := s.store.GetByPath(r.Context(), p)
	if err != nil {
		logging.Error("folder lookup failed", zap.String("path", p), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create folder")
		return
	}
	if existing != nil {
		s.sendError(w, http.StatusConflict, "path already exists")
		return
	}

	ownerID := &claims.UserID
	if err := s.ensureParentFolders(r.Context(), p, ownerID); err != nil {
		s.sendStoreError(w, err, "create folder failed", zap.String("path", p))
		return
	}

	row := &postgres.FileRow{
		Name:    path.Base(p),
		Path:    p,
		Kind:    models.KindFolder,
		OwnerID: ownerID,
	}
	if err := s.store.CreateFile(r.Context(), row); err != nil {
		s.sendStoreError(w, err, "create folder failed", zap.String("path", p))
		return
	}

	created, err := s.store.GetByID(r.Context(), row.ID, false)
	if err != nil || created == nil {
		logging.Error("created folder readback failed", zap.String("path", p), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create folder")
		return
	}

	s.publishEvent(models.EventCreate, created.ID, created.Path)
	s.sendJSON(w, http.StatusCreated, entryOf(created))
}

// ensureParentFolders creates every missing ancestor folder of p. A file
// occupying an ancestor path is a conflict.
func (s *Server) ensureParentFolders(ctx context.Context, p string, ownerID *int) error {
	parent := path.Dir(p)
	if parent == "/" || parent == "." {
		return nil
	}

	segs := strings.Split(strings.TrimPrefix(parent, "/"), "/")
	cur := ""
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		cur += "/" + seg

		exists, err := s.store.FolderExists(ctx, cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		row := &postgres.FileRow{
			Name:    seg,
			Path:    cur,
			Kind:    models.KindFolder,
			OwnerID: ownerID,
		}
		err = s.store.CreateFile(ctx, row)
		if err == nil {
			s.publishEvent(models.EventCreate, row.ID, row.Path)
			continue
		}
		if errors.Is(err, postgres.ErrConflict) {
			// Lost a race, or a file sits where a folder is needed.
			occupant, gerr := s.store.GetByPath(ctx, cur)
			if gerr != nil {
				return gerr
			}
			if occupant != nil && occupant.IsFolder() {
				continue
			}
			return fmt.Errorf("%w: %s is a file", postgres.ErrConflict, cur)
		}
		return err
	}
	return nil
}

// validateName rejects names that cannot become a path segment.
func validateName(name string) error {
	if name == "" {
		return errors.New("name required")
	}
	if len(name) > 255 {
		return errors.New("name exceeds 255 bytes")
	}
	if strings.Contains(name, "/") {
		return errors.New("name must not contain '/'")
	}
	return nil
}

// sendStoreError maps store sentinel errors onto HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, postgres.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		logging.Error(msg, append(fields, zap.Error(err))...)
		s.sendError(w, http.StatusInternalServerError, msg)
	}
}

// entryOf converts a row for an API response.
func entryOf(row *postgres.FileRow) models.FileEntry {
	e := row.Entry()
	decorateEntry(&e)
	return e
}

// decorateEntry fills the preview link for files a thumbnail can exist for.
func decorateEntry(e *models.FileEntry) {
	if e.Kind == models.KindFile && preview.CanPreview(e.Name) {
		e.PreviewURL = "/api/v1/files/" + e.ID + "/preview"
	}
}
