// Package postgres provides the PostgreSQL-backed metadata store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

// FileRow maps to the files table.
type FileRow struct {
	ID         string // uuid
	Name       string
	Path       string
	ParentPath string
	Size       int64
	Kind       string // models.KindFile or models.KindFolder
	Mime       string
	Hash       string
	StorageKey string
	OwnerID    *int
	ModTime    time.Time
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Entry converts the row to the wire representation.
func (r *FileRow) Entry() models.FileEntry {
	return models.FileEntry{
		ID:        r.ID,
		Name:      r.Name,
		Path:      r.Path,
		Size:      r.Size,
		Kind:      r.Kind,
		MimeType:  r.Mime,
		Hash:      r.Hash,
		ModTime:   r.ModTime,
		CreatedAt: r.CreatedAt,
	}
}

// New creates a new PostgreSQL metadata store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// GetByID returns the file row for an id, or nil if absent. Soft-deleted
// rows are returned only when includeDeleted is set.
func (s *Store) GetByID(ctx context.Context, id string, includeDeleted bool) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_by_id", time.Since(start)) }()

	query := selectCols + ` FROM files WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	row := s.db.QueryRowContext(ctx, query, id)
	return scanRow(row)
}

// GetByPath returns the live file row for a path, or nil if absent.
func (s *Store) GetByPath(ctx context.Context, p string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_by_path", time.Since(start)) }()

	p = normalizePath(p)
	row := s.db.QueryRowContext(ctx,
		selectCols+` FROM files WHERE path = $1 AND deleted_at IS NULL`, p)
	return scanRow(row)
}

// GetByStorageKey returns the live file row whose content lives under the
// given backend key, or nil if absent.
func (s *Store) GetByStorageKey(ctx context.Context, key string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_by_storage_key", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		selectCols+` FROM files WHERE storage_key = $1 AND deleted_at IS NULL`, key)
	return scanRow(row)
}

// FolderExists reports whether a live folder exists at the path. The root
// path always exists.
func (s *Store) FolderExists(ctx context.Context, p string) (bool, error) {
	p = normalizePath(p)
	if p == "/" {
		return true, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE path = $1 AND kind = $2 AND deleted_at IS NULL)`,
		p, models.KindFolder).Scan(&exists)
	return exists, err
}

// List returns directory contents for a listing query. With an empty search
// string it lists direct children of the path; with a search string it
// matches names anywhere in the subtree. Size, type and date criteria narrow
// either form. Folders sort before files, then case-insensitive by name.
func (s *Store) List(ctx context.Context, q protocol.ListQuery) ([]models.FileEntry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list", time.Since(start)) }()

	p := normalizePath(q.Path)
	query := selectCols + ` FROM files WHERE deleted_at IS NULL`
	args := []interface{}{}

	if q.Query != "" {
		prefix := p
		if prefix == "/" {
			prefix = ""
		}
		args = append(args, prefix, q.Query)
		query += fmt.Sprintf(` AND path LIKE $%d || '/%%' AND name ILIKE '%%' || $%d || '%%'`,
			len(args)-1, len(args))
	} else {
		args = append(args, p)
		query += fmt.Sprintf(` AND parent_path = $%d`, len(args))
	}

	if q.Type != "" {
		pattern, ok := typePatterns[q.Type]
		if !ok {
			return nil, fmt.Errorf("%w: unknown type %q", ErrBadFilter, q.Type)
		}
		args = append(args, pattern)
		query += fmt.Sprintf(` AND kind = 'file' AND lower(name) ~ $%d`, len(args))
	}
	if q.MinSize > 0 {
		args = append(args, q.MinSize)
		query += fmt.Sprintf(` AND size >= $%d`, len(args))
	}
	if q.MaxSize > 0 {
		args = append(args, q.MaxSize)
		query += fmt.Sprintf(` AND size <= $%d`, len(args))
	}
	if !q.ModifiedAfter.IsZero() {
		args = append(args, q.ModifiedAfter)
		query += fmt.Sprintf(` AND mod_time >= $%d`, len(args))
	}
	if !q.ModifiedBefore.IsZero() {
		args = append(args, q.ModifiedBefore)
		query += fmt.Sprintf(` AND mod_time <= $%d`, len(args))
	}

	query += ` ORDER BY (kind = 'folder') DESC, lower(name) LIMIT 1000`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	entries := []models.FileEntry{}
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, r.Entry())
	}
	return entries, rows.Err()
}

// ErrBadFilter marks an unrecognized filter value (HTTP 400).
var ErrBadFilter = errors.New("invalid filter")

// typePatterns maps filter categories to filename regexes.
var typePatterns = map[string]string{
	"image":    `\.(jpg|jpeg|png|gif|webp|bmp|svg|tiff|heic)$`,
	"document": `\.(pdf|doc|docx|xls|xlsx|ppt|pptx|odt|ods|txt|rtf|csv|md)$`,
	"video":    `\.(mp4|mov|avi|mkv|webm|flv|wmv|m4v)$`,
	"audio":    `\.(mp3|wav|flac|aac|ogg|wma|m4a)$`,
	"archive":  `\.(zip|tar|gz|bz2|7z|rar|xz|zst)$`,
}

// ValidTypeFilter reports whether the category is recognized.
func ValidTypeFilter(t string) bool {
	_, ok := typePatterns[t]
	return ok
}

// CreateFile inserts a new file row. A live row at the same path yields
// ErrConflict.
func (s *Store) CreateFile(ctx context.Context, f *FileRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_file", time.Since(start)) }()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Path = normalizePath(f.Path)
	f.ParentPath = parentOf(f.Path)
	if f.ModTime.IsZero() {
		f.ModTime = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, name, path, parent_path, size, kind, mime, hash, storage_key, owner_id, mod_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.Name, f.Path, f.ParentPath, f.Size, f.Kind, f.Mime, f.Hash, f.StorageKey, f.OwnerID, f.ModTime)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrConflict, f.Path)
	}
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	logging.Debug("created file row",
		zap.String("path", f.Path),
		zap.String("kind", f.Kind),
		zap.Int64("size", f.Size))
	return nil
}

// UpsertFile inserts or updates a file row keyed by path. Used by the
// ingest walker and the filesystem watcher, where re-observing a path is
// routine.
func (s *Store) UpsertFile(ctx context.Context, f *FileRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_file", time.Since(start)) }()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Path = normalizePath(f.Path)
	f.ParentPath = parentOf(f.Path)
	if f.ModTime.IsZero() {
		f.ModTime = time.Now()
	}

	// Conflict target matches the partial unique index on live paths, so
	// trashed rows never block a re-observed path.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, name, path, parent_path, size, kind, mime, hash, storage_key, owner_id, mod_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (path) WHERE deleted_at IS NULL DO UPDATE SET
			size = EXCLUDED.size,
			mime = EXCLUDED.mime,
			hash = EXCLUDED.hash,
			storage_key = EXCLUDED.storage_key,
			owner_id = COALESCE(files.owner_id, EXCLUDED.owner_id),
			mod_time = EXCLUDED.mod_time,
			updated_at = NOW()`,
		f.ID, f.Name, f.Path, f.ParentPath, f.Size, f.Kind, f.Mime, f.Hash, f.StorageKey, f.OwnerID, f.ModTime)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

// Rename changes a file's name in place. Returns the updated row.
func (s *Store) Rename(ctx context.Context, id, newName string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("rename", time.Since(start)) }()

	cur, err := s.GetByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	newPath := joinPath(cur.ParentPath, newName)
	if err := s.relocate(ctx, cur, newPath); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id, false)
}

// Move relocates a file or folder under an existing destination folder.
// Returns the updated row.
func (s *Store) Move(ctx context.Context, id, destPath string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move", time.Since(start)) }()

	cur, err := s.GetByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	destPath = normalizePath(destPath)
	ok, err := s.FolderExists(ctx, destPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: destination %s", ErrNotFound, destPath)
	}

	newPath := joinPath(destPath, cur.Name)
	if newPath == cur.Path {
		return cur, nil
	}
	if cur.Kind == models.KindFolder && strings.HasPrefix(destPath+"/", cur.Path+"/") {
		return nil, fmt.Errorf("%w: cannot move a folder into itself", ErrConflict)
	}
	if err := s.relocate(ctx, cur, newPath); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id, false)
}

// relocate updates the row's path and name, and rewrites descendant paths
// for folders. IDs are stable across relocation.
func (s *Store) relocate(ctx context.Context, cur *FileRow, newPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE files SET path = $1, parent_path = $2, name = $3, mod_time = NOW(), updated_at = NOW()
		 WHERE id = $4 AND deleted_at IS NULL`,
		newPath, parentOf(newPath), path.Base(newPath), cur.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrConflict, newPath)
	}
	if err != nil {
		return fmt.Errorf("relocate: %w", err)
	}

	if cur.Kind == models.KindFolder {
		_, err = tx.ExecContext(ctx,
			`UPDATE files SET
			   path = $1 || substring(path from length($2) + 1),
			   parent_path = CASE
			     WHEN parent_path = $2 THEN $1
			     ELSE $1 || substring(parent_path from length($2) + 1)
			   END,
			   updated_at = NOW()
			 WHERE path LIKE $2 || '/%' AND deleted_at IS NULL`,
			newPath, cur.Path)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrConflict, newPath)
		}
		if err != nil {
			return fmt.Errorf("relocate children: %w", err)
		}
	}

	return tx.Commit()
}

// CopyRow duplicates a file's metadata under the destination folder with the
// given id and storage key. Storage object duplication is the caller's
// concern; the caller picks the id up front so the key can be derived from it.
func (s *Store) CopyRow(ctx context.Context, id, destPath, newID, storageKey string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("copy_row", time.Since(start)) }()

	src, err := s.GetByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	destPath = normalizePath(destPath)
	ok, err := s.FolderExists(ctx, destPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: destination %s", ErrNotFound, destPath)
	}

	if newID == "" {
		newID = uuid.NewString()
	}
	dup := &FileRow{
		ID:         newID,
		Name:       src.Name,
		Path:       joinPath(destPath, src.Name),
		Size:       src.Size,
		Kind:       src.Kind,
		Mime:       src.Mime,
		Hash:       src.Hash,
		StorageKey: storageKey,
		OwnerID:    src.OwnerID,
		ModTime:    time.Now(),
	}
	if err := s.CreateFile(ctx, dup); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, dup.ID, false)
}

// SoftDelete marks a file, or a folder and its subtree, as deleted. Returns
// the number of rows trashed (0 when the id is unknown or already deleted).
func (s *Store) SoftDelete(ctx context.Context, id string, userID int) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("soft_delete", time.Since(start)) }()

	cur, err := s.GetByID(ctx, id, false)
	if err != nil {
		return 0, err
	}
	if cur == nil {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = NOW(), deleted_by = $2, original_path = path
		 WHERE (path = $1 OR path LIKE $1 || '/%') AND deleted_at IS NULL`,
		cur.Path, userID)
	if err != nil {
		return 0, fmt.Errorf("soft delete: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("soft-deleted", zap.String("path", cur.Path), zap.Int64("rows", rows))
	return rows, nil
}

// ListTrash returns soft-deleted entries. If userID is non-nil, only those
// deleted by that user.
func (s *Store) ListTrash(ctx context.Context, userID *int) ([]protocol.TrashItem, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_trash", time.Since(start)) }()

	query := `SELECT f.id, f.name, f.original_path, f.size, f.kind, f.deleted_at,
	          COALESCE(u.username, '') AS deleted_by_name
	          FROM files f LEFT JOIN users u ON u.id = f.deleted_by
	          WHERE f.deleted_at IS NOT NULL`
	var args []interface{}
	if userID != nil {
		query += ` AND f.deleted_by = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY f.deleted_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	defer rows.Close()

	items := []protocol.TrashItem{}
	for rows.Next() {
		var t protocol.TrashItem
		if err := rows.Scan(&t.ID, &t.Name, &t.OriginalPath, &t.Size, &t.Kind,
			&t.DeletedAt, &t.DeletedByName); err != nil {
			return nil, fmt.Errorf("scan trash: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// Restore brings a trashed entry (and, for folders, its subtree) back. A
// live row at the original path yields ErrConflict.
func (s *Store) Restore(ctx context.Context, id string) (*FileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("restore", time.Since(start)) }()

	cur, err := s.GetByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.DeletedAt == nil {
		return nil, fmt.Errorf("%w: not in trash: %s", ErrNotFound, id)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = NULL, deleted_by = NULL, original_path = NULL
		 WHERE (path = $1 OR path LIKE $1 || '/%') AND deleted_at IS NOT NULL`,
		cur.Path)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrConflict, cur.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	rows, _ := result.RowsAffected()
	logging.Debug("restored from trash", zap.String("path", cur.Path), zap.Int64("rows", rows))
	return s.GetByID(ctx, id, false)
}

// PurgeRow holds the storage key of a permanently removed file.
type PurgeRow struct {
	ID         string
	StorageKey string
	Kind       string
}

// Purge permanently deletes a trashed entry and its subtree. Returns
// storage keys for object cleanup.
func (s *Store) Purge(ctx context.Context, id string) ([]PurgeRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("purge", time.Since(start)) }()

	cur, err := s.GetByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.DeletedAt == nil {
		return nil, fmt.Errorf("%w: not in trash: %s", ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM files
		 WHERE (path = $1 OR path LIKE $1 || '/%') AND deleted_at IS NOT NULL
		 RETURNING id, storage_key, kind`,
		cur.Path)
	if err != nil {
		return nil, fmt.Errorf("purge: %w", err)
	}
	defer rows.Close()
	return collectPurged(rows)
}

// PurgeExpiredTrash permanently deletes trash entries older than maxAge.
// Returns storage keys for object cleanup.
func (s *Store) PurgeExpiredTrash(ctx context.Context, maxAge time.Duration) ([]PurgeRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("purge_expired_trash", time.Since(start)) }()

	cutoff := time.Now().Add(-maxAge)
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM files WHERE deleted_at IS NOT NULL AND deleted_at < $1
		 RETURNING id, storage_key, kind`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge expired trash: %w", err)
	}
	defer rows.Close()
	return collectPurged(rows)
}

func collectPurged(rows *sql.Rows) ([]PurgeRow, error) {
	var purged []PurgeRow
	for rows.Next() {
		var p PurgeRow
		if err := rows.Scan(&p.ID, &p.StorageKey, &p.Kind); err != nil {
			return nil, fmt.Errorf("scan purge: %w", err)
		}
		purged = append(purged, p)
	}
	return purged, rows.Err()
}

// FileCount returns the number of live file entries.
func (s *Store) FileCount(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("file_count", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}

// ThumbnailRow maps to the thumbnails table.
type ThumbnailRow struct {
	FileID     string
	StorageKey string
	Width      int
	Height     int
	TakenAt    *time.Time
	CreatedAt  time.Time
}

// SaveThumbnail records a generated thumbnail for a file.
func (s *Store) SaveThumbnail(ctx context.Context, t *ThumbnailRow) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("save_thumbnail", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thumbnails (file_id, storage_key, width, height, taken_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (file_id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			taken_at = EXCLUDED.taken_at,
			created_at = NOW()`,
		t.FileID, t.StorageKey, t.Width, t.Height, t.TakenAt)
	if err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// GetThumbnail returns the thumbnail record for a file, or nil if none.
func (s *Store) GetThumbnail(ctx context.Context, fileID string) (*ThumbnailRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_thumbnail", time.Since(start)) }()

	var t ThumbnailRow
	var takenAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, storage_key, width, height, taken_at, created_at
		 FROM thumbnails WHERE file_id = $1`, fileID).
		Scan(&t.FileID, &t.StorageKey, &t.Width, &t.Height, &takenAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}
	if takenAt.Valid {
		t.TakenAt = &takenAt.Time
	}
	return &t, nil
}

// DeleteThumbnail removes the thumbnail record for a file. Missing rows are
// not an error.
func (s *Store) DeleteThumbnail(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM thumbnails WHERE file_id = $1`, fileID)
	return err
}

// ListMissingThumbnails returns ids of live files whose name matches the
// regex but have no thumbnail row yet.
func (s *Store) ListMissingThumbnails(ctx context.Context, nameRegex string, limit int) ([]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_missing_thumbnails", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id FROM files f
		 LEFT JOIN thumbnails t ON t.file_id = f.id
		 WHERE f.deleted_at IS NULL AND f.kind = $1
		   AND t.file_id IS NULL AND lower(f.name) ~ $2
		 LIMIT $3`,
		models.KindFile, nameRegex, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing thumbnails: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectCols = `SELECT id, name, path, parent_path, size, kind, mime, hash, storage_key, owner_id, mod_time, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scan(sc rowScanner) (*FileRow, error) {
	var r FileRow
	var ownerID sql.NullInt64
	var deletedAt sql.NullTime
	err := sc.Scan(&r.ID, &r.Name, &r.Path, &r.ParentPath, &r.Size, &r.Kind,
		&r.Mime, &r.Hash, &r.StorageKey, &ownerID, &r.ModTime, &r.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		oid := int(ownerID.Int64)
		r.OwnerID = &oid
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return &r, nil
}

func scanRow(row *sql.Row) (*FileRow, error) {
	r, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return r, nil
}

func scanRows(rows *sql.Rows) (*FileRow, error) {
	r, err := scan(rows)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func parentOf(p string) string {
	parent := path.Dir(p)
	if parent == "." || parent == "" {
		return "/"
	}
	return parent
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// Don't trim trailing slash from root
	if p == "/" {
		return p
	}
	return strings.TrimSuffix(p, "/")
}
