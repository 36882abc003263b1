package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/storage"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// handleTrashList handles GET /api/v1/trash. Admins see everyone's trash,
// other users only their own deletions.
func (s *Server) handleTrashList(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	var userID *int
	if !claims.IsAdmin {
		userID = &claims.UserID
	}

	items, err := s.store.ListTrash(r.Context(), userID)
	if err != nil {
		logging.Error("list trash failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list trash")
		return
	}

	s.sendJSON(w, http.StatusOK, items)
}

// handleTrashRestore handles POST /api/v1/trash/restore
func (s *Server) handleTrashRestore(w http.ResponseWriter, r *http.Request) {
	var req protocol.TrashRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.sendError(w, http.StatusBadRequest, "id required")
		return
	}

	row, err := s.store.Restore(r.Context(), req.ID)
	if err != nil {
		s.sendStoreError(w, err, "restore failed", zap.String("id", req.ID))
		return
	}

	s.publishEvent(models.EventCreate, row.ID, row.Path)
	s.sendJSON(w, http.StatusOK, entryOf(row))
}

// handleTrashPurge handles DELETE /api/v1/trash/{id}
func (s *Server) handleTrashPurge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	purged, err := s.store.Purge(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, err, "purge failed", zap.String("id", id))
		return
	}

	s.deletePurgedObjects(r.Context(), purged)
	w.WriteHeader(http.StatusNoContent)
}

// PurgeExpired permanently removes trash entries older than maxAge together
// with their stored objects. Meant to run on a timer.
func (s *Server) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	purged, err := s.store.PurgeExpiredTrash(ctx, maxAge)
	if err != nil {
		return 0, err
	}

	s.deletePurgedObjects(ctx, purged)
	if len(purged) > 0 {
		logging.Info("purged expired trash", zap.Int("count", len(purged)))
	}
	return len(purged), nil
}

// deletePurgedObjects removes the stored objects and thumbnails of purged
// rows. Failures are logged, not fatal: the metadata is already gone.
func (s *Server) deletePurgedObjects(ctx context.Context, purged []postgres.PurgeRow) {
	for _, p := range purged {
		if p.Kind != models.KindFile {
			continue
		}
		if p.StorageKey != "" {
			if err := s.backend.DeleteObject(ctx, p.StorageKey); err != nil {
				logging.Warn("purge object delete failed",
					zap.String("key", p.StorageKey), zap.Error(err))
			}
		}
		if err := s.backend.DeleteObject(ctx, storage.ThumbKey(p.ID)); err != nil {
			logging.Warn("purge thumbnail delete failed",
				zap.String("id", p.ID), zap.Error(err))
		}
	}
}
