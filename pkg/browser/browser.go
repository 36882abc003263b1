package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/filecove/filecove/pkg/logger"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// API is the server surface the browser drives. The client package
// implements it.
type API interface {
	Lister
	Uploader
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) (*models.FileEntry, error)
	Move(ctx context.Context, id, destPath string) (*models.FileEntry, error)
	Copy(ctx context.Context, id, destPath string) (*models.FileEntry, error)
}

var (
	// ErrNothingSelected is returned by batch operations on an empty selection.
	ErrNothingSelected = errors.New("nothing selected")
	// ErrRenameMultiple is returned when rename targets more than one entry.
	ErrRenameMultiple = errors.New("rename requires exactly one selected entry")
	// ErrEmptyName rejects a rename before any request is issued.
	ErrEmptyName = errors.New("name must not be empty")
	// ErrUnchangedName rejects a rename to the entry's current name.
	ErrUnchangedName = errors.New("name is unchanged")
)

// Config configures a Browser.
type Config struct {
	API         API
	Debounce    time.Duration // 0 means DefaultDebounce
	BatchLimit  int           // concurrent requests per batch operation
	UploadLimit int           // concurrent uploads
}

// Browser owns all state for one folder view: the current path, the search
// and filter controller, the selection, the listing store, and the upload
// coordinator. All state is owned here and mutated only through methods;
// nothing is shared ambiently.
type Browser struct {
	api        API
	batchLimit int

	// ctx bounds fetches the browser starts on its own, from debounced
	// searches, upload completions, and change events.
	ctx context.Context

	Search    *SearchController
	Selection *SelectionSet
	Listing   *ListingStore
	Uploads   *UploadCoordinator

	mu       sync.Mutex
	path     string
	onChange func()
}

// New creates a Browser rooted at "/". ctx bounds the browser's background
// work; cancel it and Close the browser when the view goes away.
func New(ctx context.Context, cfg Config) *Browser {
	b := &Browser{
		api:        cfg.API,
		batchLimit: cfg.BatchLimit,
		ctx:        ctx,
		Selection:  NewSelectionSet(),
		Listing:    NewListingStore(cfg.API),
		Uploads:    NewUploadCoordinator(cfg.API, cfg.UploadLimit),
		path:       "/",
	}

	b.Search = NewSearchController(cfg.Debounce, func(string, FilterCriteria) {
		b.refetch(b.ctx)
	})
	b.Listing.OnChange(func() { b.notifyChange() })
	b.Uploads.OnChange(func() { b.notifyChange() })
	b.Uploads.OnTaskDone(func(t UploadTask) {
		if t.Status == UploadCompleted {
			b.refetch(b.ctx)
		}
	})

	return b
}

// OnChange registers a callback invoked after any observable state change.
// The callback must not call back into the browser synchronously.
func (b *Browser) OnChange(fn func()) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Browser) notifyChange() {
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Path returns the current absolute path.
func (b *Browser) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Crumbs returns the breadcrumb segments for the current path.
func (b *Browser) Crumbs() []Crumb {
	return Breadcrumb(b.Path())
}

// SetPath navigates to a folder. Navigating to the current path is a no-op;
// otherwise the selection is cleared and exactly one listing fetch is
// issued for the new path.
func (b *Browser) SetPath(ctx context.Context, path string) {
	path = NormalizePath(path)

	b.mu.Lock()
	if path == b.path {
		b.mu.Unlock()
		return
	}
	b.path = path
	b.mu.Unlock()

	b.Selection.Clear()
	b.refetch(ctx)
	b.notifyChange()
}

// NavigateUp moves to the parent folder.
func (b *Browser) NavigateUp(ctx context.Context) {
	b.SetPath(ctx, ParentPath(b.Path()))
}

// Open enters a folder entry. Non-folder entries are ignored.
func (b *Browser) Open(ctx context.Context, entry models.FileEntry) {
	if entry.IsFolder() {
		b.SetPath(ctx, entry.Path)
	}
}

// Refresh refetches the listing with the current path, query, and filters.
func (b *Browser) Refresh(ctx context.Context) {
	b.refetch(ctx)
}

func (b *Browser) refetch(ctx context.Context) {
	f := b.Search.Filters()
	b.Listing.Fetch(ctx, protocol.ListQuery{
		Path:           b.Path(),
		Query:          b.Search.Query(),
		Type:           f.Type,
		MinSize:        f.MinSize,
		MaxSize:        f.MaxSize,
		ModifiedAfter:  f.ModifiedAfter,
		ModifiedBefore: f.ModifiedBefore,
	})
}

// ToggleSelect flips selection for an entry id.
func (b *Browser) ToggleSelect(id string) {
	b.Selection.Toggle(id)
	b.notifyChange()
}

// CanRename reports whether the rename operation is available. It requires
// exactly one selected entry.
func (b *Browser) CanRename() bool {
	return b.Selection.Len() == 1
}

// RenameSelected renames the single selected entry. An empty name, an
// unchanged name, or a selection of any other size is rejected before a
// request is issued. On success the listing refreshes and the selection
// clears.
func (b *Browser) RenameSelected(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	ids := b.Selection.IDs()
	if len(ids) != 1 {
		return ErrRenameMultiple
	}
	for _, e := range b.Listing.Entries() {
		if e.ID == ids[0] && e.Name == name {
			return ErrUnchangedName
		}
	}

	if _, err := b.api.Rename(ctx, ids[0], name); err != nil {
		logger.Error("rename %s failed: %v", ids[0], err)
		return err
	}

	b.Selection.Clear()
	b.refetch(ctx)
	b.notifyChange()
	return nil
}

// DeleteSelected deletes every selected entry, one request per id,
// concurrently, and waits for all to settle. Callers are expected to have
// confirmed the action with the user first. Failed ids stay selected for
// retry; the listing always refreshes afterwards to reflect server truth.
func (b *Browser) DeleteSelected(ctx context.Context) (BatchResult, error) {
	return b.batch(ctx, func(ctx context.Context, id string) error {
		return b.api.Delete(ctx, id)
	})
}

// MoveSelected moves every selected entry into destPath, one request per
// id. Settlement semantics match DeleteSelected.
func (b *Browser) MoveSelected(ctx context.Context, destPath string) (BatchResult, error) {
	return b.batch(ctx, func(ctx context.Context, id string) error {
		_, err := b.api.Move(ctx, id, destPath)
		return err
	})
}

// CopySelected copies every selected entry into destPath. Settlement
// semantics match DeleteSelected; succeeded ids leave the selection.
func (b *Browser) CopySelected(ctx context.Context, destPath string) (BatchResult, error) {
	return b.batch(ctx, func(ctx context.Context, id string) error {
		_, err := b.api.Copy(ctx, id, destPath)
		return err
	})
}

func (b *Browser) batch(ctx context.Context, op func(ctx context.Context, id string) error) (BatchResult, error) {
	ids := b.Selection.IDs()
	if len(ids) == 0 {
		return nil, ErrNothingSelected
	}

	result := runBatch(ctx, ids, b.batchLimit, op)

	for _, o := range result {
		if o.Err != nil {
			logger.Error("batch operation failed for %s: %v", o.ID, o.Err)
			continue
		}
		b.Selection.Remove(o.ID)
	}

	b.refetch(ctx)
	b.notifyChange()
	return result, nil
}

// UploadFiles enqueues uploads into the current folder and returns the new
// task ids. Each task completing triggers its own listing refresh.
func (b *Browser) UploadFiles(ctx context.Context, sources ...UploadSource) []int {
	return b.Uploads.Enqueue(ctx, b.Path(), sources...)
}

// WatchEvents refreshes the listing whenever a change event touches the
// current folder. It returns when the channel closes or the browser context
// is cancelled.
func (b *Browser) WatchEvents(events <-chan models.Event) {
	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				cur := b.Path()
				if e.Path == cur || ParentPath(e.Path) == cur {
					b.refetch(b.ctx)
				}
			}
		}
	}()
}

// Snapshot is an immutable view of the browser for rendering.
type Snapshot struct {
	Path     string
	Crumbs   []Crumb
	State    ListingState
	Entries  []models.FileEntry
	Err      error
	Selected []string
	Query    string
	Filters  FilterCriteria
	Uploads  []UploadTask
}

// Snapshot captures the current state for the view layer.
func (b *Browser) Snapshot() Snapshot {
	return Snapshot{
		Path:     b.Path(),
		Crumbs:   b.Crumbs(),
		State:    b.Listing.State(),
		Entries:  b.Listing.Entries(),
		Err:      b.Listing.Err(),
		Selected: b.Selection.IDs(),
		Query:    b.Search.Query(),
		Filters:  b.Search.Filters(),
		Uploads:  b.Uploads.Tasks(),
	}
}

// Close tears down the browser: the pending search notification is
// cancelled and any in-flight listing fetch is abandoned.
func (b *Browser) Close() {
	b.Search.Close()
	b.Listing.Close()
}
