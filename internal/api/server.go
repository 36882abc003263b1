// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/events"
	"github.com/filecove/filecove/internal/ingest"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/preview"
	"github.com/filecove/filecove/internal/storage"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

const sseKeepaliveInterval = 30 * time.Second

// Server is the HTTP server.
type Server struct {
	store         *postgres.Store
	backend       storage.Backend
	auth          *auth.Auth
	broadcaster   *events.Broadcaster
	previews      *preview.Processor
	ingestor      *ingest.Ingestor
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(
	store *postgres.Store,
	backend storage.Backend,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	previews *preview.Processor,
	ingestor *ingest.Ingestor,
	maxUploadSize int64,
) *Server {
	return &Server{
		store:         store,
		backend:       backend,
		auth:          authHandler,
		broadcaster:   broadcaster,
		previews:      previews,
		ingestor:      ingestor,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/register", s.auth.HandleRegister)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/device-code", s.handleDeviceCodeInit)
	mux.HandleFunc("POST /api/v1/auth/device-token", s.handleDeviceCodePoll)

	// Protected endpoints
	protected := http.NewServeMux()

	// Files
	protected.HandleFunc("GET /api/v1/files", s.handleListFiles)
	protected.HandleFunc("POST /api/v1/files/upload", s.handleUpload)
	protected.HandleFunc("DELETE /api/v1/files/{id}", s.handleDeleteFile)
	protected.HandleFunc("PUT /api/v1/files/{id}", s.handleRenameFile)
	protected.HandleFunc("POST /api/v1/files/{id}/move", s.handleMoveFile)
	protected.HandleFunc("POST /api/v1/files/{id}/copy", s.handleCopyFile)
	protected.HandleFunc("GET /api/v1/files/{id}/download", s.handleDownload)
	protected.HandleFunc("GET /api/v1/files/{id}/preview", s.handlePreview)

	// Folders
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)

	// Trash
	protected.HandleFunc("GET /api/v1/trash", s.handleTrashList)
	protected.HandleFunc("POST /api/v1/trash/restore", s.handleTrashRestore)
	protected.HandleFunc("DELETE /api/v1/trash/{id}", s.handleTrashPurge)

	// SSE
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Bulk ingest (admin)
	protected.HandleFunc("POST /api/v1/ingest", s.handleIngest)

	// Token management
	protected.HandleFunc("POST /api/v1/auth/refresh", s.auth.HandleRefresh)
	protected.HandleFunc("DELETE /api/v1/auth/token", s.auth.HandleLogout)

	// TOTP enrollment
	protected.HandleFunc("GET /api/v1/auth/totp/status", s.handleTOTPStatus)
	protected.HandleFunc("POST /api/v1/auth/totp/setup", s.handleTOTPSetup)
	protected.HandleFunc("POST /api/v1/auth/totp/enable", s.handleTOTPEnable)
	protected.HandleFunc("POST /api/v1/auth/totp/backup", s.handleTOTPBackup)
	protected.HandleFunc("DELETE /api/v1/auth/totp", s.handleTOTPDisable)

	// The direct registrations above are more specific than this catch-all,
	// so the public auth routes stay outside the middleware.
	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes a change event to the broadcaster.
func (s *Server) publishEvent(eventType, id, path string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(models.Event{
		Type: eventType,
		ID:   id,
		Path: path,
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" || totalSize <= 0 {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" && endStr != "" {
		// Suffix range: last N bytes
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		length = totalSize - offset
		return offset, length, true
	}

	if startStr != "" {
		offset, _ = strconv.ParseInt(startStr, 10, 64)
	}

	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}

	if offset >= totalSize {
		offset = totalSize - 1
	}
	if offset+length > totalSize {
		length = totalSize - offset
	}

	return offset, length, true
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
