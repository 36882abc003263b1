package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/ingest"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/pkg/protocol"
)

// handleIngest handles POST /api/v1/ingest. Admin only: it reads arbitrary
// server-local paths.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if !claims.IsAdmin {
		s.sendError(w, http.StatusForbidden, "admin privileges required")
		return
	}

	if s.ingestor == nil {
		s.sendError(w, http.StatusServiceUnavailable, "ingest not available")
		return
	}

	var req protocol.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceDir == "" {
		s.sendError(w, http.StatusBadRequest, "source_dir required")
		return
	}

	logging.Info("ingest requested",
		zap.String("source", req.SourceDir),
		zap.String("dest", req.DestPath),
		zap.String("user", claims.Username))

	resp, err := s.ingestor.Run(r.Context(), req.SourceDir, req.DestPath)
	if err != nil {
		if errors.Is(err, ingest.ErrBadSource) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error("ingest failed", zap.String("source", req.SourceDir), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	s.sendJSON(w, http.StatusOK, resp)
}
