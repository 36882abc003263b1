package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
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
)

// Types accepted by the upload endpoint beyond image/*.
var allowedUploadTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
}

func uploadTypeAllowed(ct string) bool {
	if strings.HasPrefix(ct, "image/") {
		return true
	}
	return allowedUploadTypes[ct]
}

// handleUpload handles POST /api/v1/files/upload (multipart form)
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	if r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", s.maxUploadSize))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if header.Size > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", s.maxUploadSize))
		return
	}

	name := path.Base(filepath.ToSlash(header.Filename))
	if name == "" || name == "." || name == "/" {
		s.sendError(w, http.StatusBadRequest, "filename required")
		return
	}
	if err := validateName(name); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ct := uploadContentType(header.Header.Get("Content-Type"), name)
	if !uploadTypeAllowed(ct) {
		s.sendError(w, http.StatusUnsupportedMediaType, "unsupported file type: "+ct)
		return
	}

	destDir := path.Clean("/" + strings.TrimSpace(r.FormValue("path")))
	filePath := path.Join(destDir, name)

	ownerID := &claims.UserID
	if err := s.ensureParentFolders(r.Context(), filePath, ownerID); err != nil {
		s.sendStoreError(w, err, "upload failed", zap.String("path", filePath))
		return
	}

	// Reuse the id and key of an existing file so the overwrite replaces
	// the object in place instead of orphaning it.
	existing, err := s.store.GetByPath(r.Context(), filePath)
	if err != nil {
		logging.Error("upload lookup failed", zap.String("path", filePath), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if existing != nil && existing.IsFolder() {
		s.sendError(w, http.StatusConflict, "a folder exists at this path")
		return
	}

	fileID := uuid.NewString()
	key := storage.ObjectKey(fileID)
	evType := models.EventCreate
	if existing != nil {
		fileID = existing.ID
		key = existing.StorageKey
		evType = models.EventModify
	}

	hasher := sha256.New()
	if err := s.backend.PutObject(r.Context(), key, io.TeeReader(file, hasher), header.Size); err != nil {
		metrics.RecordContentUpload(0, false)
		logging.Error("upload store failed", zap.String("path", filePath), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	row := &postgres.FileRow{
		ID:         fileID,
		Name:       name,
		Path:       filePath,
		Size:       header.Size,
		Kind:       models.KindFile,
		Mime:       ct,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		StorageKey: key,
		OwnerID:    ownerID,
		ModTime:    time.Now(),
	}
	if err := s.store.UpsertFile(r.Context(), row); err != nil {
		metrics.RecordContentUpload(0, false)
		logging.Error("upload metadata failed", zap.String("path", filePath), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	metrics.RecordContentUpload(header.Size, true)
	s.publishEvent(evType, fileID, filePath)

	if s.previews != nil && preview.CanPreview(name) {
		s.previews.Enqueue(fileID)
	}

	created, err := s.store.GetByID(r.Context(), fileID, false)
	if err != nil || created == nil {
		logging.Error("upload readback failed", zap.String("path", filePath), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	logging.Info("file uploaded",
		zap.String("path", filePath),
		zap.Int64("size", header.Size),
		zap.String("user", claims.Username))
	s.sendJSON(w, http.StatusCreated, entryOf(created))
}

// uploadContentType picks the stored MIME type: the client's declared type
// when it says something specific, the extension otherwise.
func uploadContentType(declared, name string) string {
	if mt, _, ok := strings.Cut(declared, ";"); ok {
		declared = mt
	}
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimeByExt(name)
}

func mimeByExt(name string) string {
	t := mime.TypeByExtension(path.Ext(name))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, ok := strings.Cut(t, ";"); ok {
		return strings.TrimSpace(mt)
	}
	return t
}

// handleDownload handles GET /api/v1/files/{id}/download
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	row, err := s.store.GetByID(r.Context(), id, false)
	if err != nil {
		logging.Error("download lookup failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "download failed")
		return
	}
	if row == nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}
	if row.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "cannot download a folder")
		return
	}

	offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), row.Size)

	var reader io.ReadCloser
	var size int64
	if hasRange {
		reader, size, err = s.backend.GetObject(r.Context(), row.StorageKey, offset, length)
	} else {
		reader, size, err = s.backend.GetObject(r.Context(), row.StorageKey, 0, 0)
	}
	if err != nil {
		metrics.RecordContentDownload(0, false)
		logging.Error("download read failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer reader.Close()

	ct := row.Mime
	if ct == "" {
		ct = mimeByExt(row.Name)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	if row.Hash != "" {
		w.Header().Set("ETag", `"`+row.Hash+`"`)
	}

	if hasRange {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, row.Size))
		w.WriteHeader(http.StatusPartialContent)
	}

	n, err := io.Copy(w, reader)
	metrics.RecordContentDownload(n, err == nil)
}

// handlePreview handles GET /api/v1/files/{id}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	row, err := s.store.GetByID(r.Context(), id, false)
	if err != nil {
		logging.Error("preview lookup failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "preview failed")
		return
	}
	if row == nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	thumb, err := s.store.GetThumbnail(r.Context(), row.ID)
	if err != nil {
		logging.Error("preview thumb lookup failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "preview failed")
		return
	}
	if thumb == nil {
		s.sendError(w, http.StatusNotFound, "no preview available")
		return
	}

	reader, size, err := s.backend.GetObject(r.Context(), thumb.StorageKey, 0, 0)
	if err != nil {
		logging.Error("preview read failed", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read preview")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	io.Copy(w, reader)
}
