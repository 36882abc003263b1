// Package ingest bulk-imports files from a server-local directory into
// the store, preserving the directory layout under a destination path.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/events"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/storage"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// maxErrors caps the error list in a response; the failed counter still
// reflects every failure.
const maxErrors = 100

// ErrBadSource marks a source directory that does not exist or is not a
// directory.
var ErrBadSource = errors.New("invalid source directory")

// Ingestor walks a source directory and uploads every regular file.
type Ingestor struct {
	store   *postgres.Store
	backend storage.Backend
	bc      *events.Broadcaster
	workers int
}

// New creates an ingestor with a bounded number of walker goroutines.
func New(store *postgres.Store, backend storage.Backend, bc *events.Broadcaster, workers int) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{
		store:   store,
		backend: backend,
		bc:      bc,
		workers: workers,
	}
}

// Run ingests sourceDir into destPath and reports per-file outcomes.
// Files that already exist at a destination path are overwritten in place
// and announced as modifications rather than creations.
func (ing *Ingestor) Run(ctx context.Context, sourceDir, destPath string) (protocol.IngestResponse, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return protocol.IngestResponse{}, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	if !info.IsDir() {
		return protocol.IngestResponse{}, fmt.Errorf("%w: %s is not a directory", ErrBadSource, sourceDir)
	}

	destPath = normalizeDest(destPath)

	run := &ingestRun{
		ing:     ing,
		dest:    destPath,
		source:  sourceDir,
		folders: make(map[string]bool),
	}
	if err := run.ensureFolder(ctx, destPath); err != nil {
		return protocol.IngestResponse{}, err
	}

	conf := &fastwalk.Config{NumWorkers: ing.workers}
	walkErr := fastwalk.Walk(conf, sourceDir, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			run.fail(p, err)
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		run.ingestFile(ctx, p, d)
		return nil
	})

	resp := protocol.IngestResponse{
		Ingested: int(run.ingested.Load()),
		Failed:   int(run.failed.Load()),
		Errors:   run.errors,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return resp, walkErr
	}

	logging.Info("ingest finished",
		zap.String("source", sourceDir),
		zap.String("dest", destPath),
		zap.Int("ingested", resp.Ingested),
		zap.Int("failed", resp.Failed))
	return resp, nil
}

// ingestRun holds the shared state of one walk. The walk callback runs on
// multiple goroutines.
type ingestRun struct {
	ing    *Ingestor
	dest   string
	source string

	ingested atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	errors  []string
	folders map[string]bool
}

func (r *ingestRun) fail(p string, err error) {
	r.failed.Add(1)
	metrics.RecordIngestFile(false)

	r.mu.Lock()
	if len(r.errors) < maxErrors {
		r.errors = append(r.errors, fmt.Sprintf("%s: %v", p, err))
	}
	r.mu.Unlock()
}

func (r *ingestRun) ingestFile(ctx context.Context, p string, d fs.DirEntry) {
	rel, err := filepath.Rel(r.source, p)
	if err != nil {
		r.fail(p, err)
		return
	}
	rel = filepath.ToSlash(rel)

	filePath := path.Join(r.dest, rel)
	if err := r.ensureFolder(ctx, path.Dir(filePath)); err != nil {
		r.fail(p, err)
		return
	}

	info, err := fastwalk.StatDirEntry(p, d)
	if err != nil {
		r.fail(p, err)
		return
	}

	// Reuse the id and key of an existing file so overwrites replace the
	// object in place instead of orphaning it.
	existing, err := r.ing.store.GetByPath(ctx, filePath)
	if err != nil {
		r.fail(p, err)
		return
	}
	if existing != nil && existing.IsFolder() {
		r.fail(p, fmt.Errorf("destination %s is a folder", filePath))
		return
	}

	fileID := uuid.NewString()
	evType := models.EventCreate
	if existing != nil {
		fileID = existing.ID
		evType = models.EventModify
	}

	f, err := os.Open(p)
	if err != nil {
		r.fail(p, err)
		return
	}
	defer f.Close()

	hasher := sha256.New()
	key := storage.ObjectKey(fileID)
	if err := r.ing.backend.PutObject(ctx, key, io.TeeReader(f, hasher), info.Size()); err != nil {
		r.fail(p, err)
		return
	}

	row := &postgres.FileRow{
		ID:         fileID,
		Name:       path.Base(filePath),
		Path:       filePath,
		Size:       info.Size(),
		Kind:       models.KindFile,
		Mime:       mimeForName(filePath),
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		StorageKey: key,
		ModTime:    info.ModTime(),
	}
	if err := r.ing.store.UpsertFile(ctx, row); err != nil {
		r.fail(p, err)
		return
	}

	r.ingested.Add(1)
	metrics.RecordIngestFile(true)
	r.ing.bc.Publish(models.Event{Type: evType, ID: fileID, Path: filePath})
}

// ensureFolder creates folder rows for every missing segment of p,
// mkdir -p style. Created folders are announced.
func (r *ingestRun) ensureFolder(ctx context.Context, p string) error {
	if p == "" || p == "/" {
		return nil
	}

	r.mu.Lock()
	done := r.folders[p]
	r.mu.Unlock()
	if done {
		return nil
	}

	if err := r.ensureFolder(ctx, path.Dir(p)); err != nil {
		return err
	}

	row := &postgres.FileRow{
		Name: path.Base(p),
		Path: p,
		Kind: models.KindFolder,
	}
	err := r.ing.store.CreateFile(ctx, row)
	switch {
	case err == nil:
		r.ing.bc.Publish(models.Event{Type: models.EventCreate, ID: row.ID, Path: p})
	case errors.Is(err, postgres.ErrConflict):
		// Already present.
	default:
		return err
	}

	r.mu.Lock()
	r.folders[p] = true
	r.mu.Unlock()
	return nil
}

func normalizeDest(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return p
}

func mimeForName(name string) string {
	t := mime.TypeByExtension(path.Ext(name))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, ok := strings.Cut(t, ";"); ok {
		return strings.TrimSpace(mt)
	}
	return t
}
