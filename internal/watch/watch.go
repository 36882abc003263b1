// Package watch translates filesystem activity under the local storage
// root into broadcaster events, so out-of-band changes to stored objects
// (a file overwritten or removed behind the server's back) still reach
// SSE subscribers.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/events"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/pkg/models"
)

const defaultDebounce = 200 * time.Millisecond

// Resolver maps backend keys to live file rows.
type Resolver interface {
	GetByStorageKey(ctx context.Context, key string) (*postgres.FileRow, error)
}

// Watcher watches the local backend root and publishes change events for
// objects that belong to known files. Keys without a metadata row are
// ignored. Thumbnails and in-flight temp files are skipped.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	store    Resolver
	bc       *events.Broadcaster
	debounce time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a watcher over root. A zero debounce uses the default.
func New(root string, store Resolver, bc *events.Broadcaster, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		root:     root,
		store:    store,
		bc:       bc,
		debounce: debounce,
		done:     make(chan struct{}),
	}

	// Watch the root and every existing subdirectory. Thumbnails are
	// internal churn, not user content.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "_thumbs" && path != root {
			return fs.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Start begins processing filesystem events until ctx is done or Close
// is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
	logging.Info("filesystem watcher started", zap.String("root", w.root))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	// Debounce per key so a burst of writes collapses into one event.
	lastEvent := make(map[string]time.Time)
	pending := make(map[string]fsnotify.Op)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, lastEvent, pending)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			now := time.Now()
			for key, op := range pending {
				if now.Sub(lastEvent[key]) >= w.debounce {
					delete(pending, key)
					delete(lastEvent, key)
					w.flush(ctx, key, op)
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, lastEvent map[string]time.Time, pending map[string]fsnotify.Op) {
	// New directories join the watch so the tree stays covered.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) != "_thumbs" {
				if err := w.fsw.Add(event.Name); err != nil {
					logging.Warn("watch add failed", zap.String("path", event.Name), zap.Error(err))
				}
			}
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	key := filepath.ToSlash(rel)
	if skipKey(key) {
		return
	}

	lastEvent[key] = time.Now()
	// A removal supersedes any buffered write for the same key.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		pending[key] = fsnotify.Remove
	} else if pending[key] != fsnotify.Remove {
		pending[key] = event.Op
	}
}

func (w *Watcher) flush(ctx context.Context, key string, op fsnotify.Op) {
	row, err := w.store.GetByStorageKey(ctx, key)
	if err != nil {
		logging.Warn("watch lookup failed", zap.String("key", key), zap.Error(err))
		return
	}
	if row == nil {
		// No metadata for this object, nothing to announce.
		return
	}

	evType := models.EventModify
	if op == fsnotify.Remove {
		evType = models.EventDelete
	}

	w.bc.Publish(models.Event{
		Type: evType,
		ID:   row.ID,
		Path: row.Path,
		At:   time.Now(),
	})
	metrics.RecordWatchEvent(evType)
	logging.Debug("watch event published",
		zap.String("type", evType),
		zap.String("path", row.Path))
}

func skipKey(key string) bool {
	if key == "_thumbs" || strings.HasPrefix(key, "_thumbs/") {
		return true
	}
	base := key
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		base = key[idx+1:]
	}
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp")
}
