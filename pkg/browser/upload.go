package browser

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/filecove/filecove/pkg/models"
)

// UploadStatus is the lifecycle state of one upload task.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadError     UploadStatus = "error"
)

// defaultUploadConcurrency bounds simultaneous transfers.
const defaultUploadConcurrency = 4

// UploadSource describes one file to be uploaded. Open is called once when
// the transfer starts.
type UploadSource struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileSource builds an UploadSource from a file on disk.
func FileSource(path string) (UploadSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return UploadSource{}, err
	}
	return UploadSource{
		Name: filepath.Base(path),
		Size: fi.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// UploadTask tracks one file through pending, uploading, and a terminal
// completed or error state. Progress runs 0-100 and never decreases.
type UploadTask struct {
	ID       int
	Name     string
	Size     int64
	Progress int
	Status   UploadStatus
	Err      error
}

// Uploader streams one file to the server, reporting cumulative bytes to
// progress as the body is consumed. The API client implements it.
type Uploader interface {
	Upload(ctx context.Context, destPath, name string, content io.Reader, size int64, progress func(written int64)) (*models.FileEntry, error)
}

// UploadCoordinator accepts batches of files and drives each one through
// the upload state machine. Later batches append to the task list; they
// never replace unfinished tasks. Completion fires one callback per task,
// not one per batch.
type UploadCoordinator struct {
	uploader Uploader
	sem      chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	tasks    []*UploadTask
	nextID   int
	onDone   func(UploadTask)
	onChange func()
}

// NewUploadCoordinator creates a coordinator with at most concurrency
// transfers in flight. concurrency <= 0 uses the default.
func NewUploadCoordinator(uploader Uploader, concurrency int) *UploadCoordinator {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &UploadCoordinator{
		uploader: uploader,
		sem:      make(chan struct{}, concurrency),
	}
}

// OnTaskDone registers a callback fired once per task reaching a terminal
// state, with a copy of the task.
func (u *UploadCoordinator) OnTaskDone(fn func(UploadTask)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onDone = fn
}

// OnChange registers a callback fired after any task state or progress
// update. Called without the coordinator lock held.
func (u *UploadCoordinator) OnChange(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onChange = fn
}

// Enqueue creates one pending task per source and starts the transfers
// toward destPath. It returns the new task ids immediately.
func (u *UploadCoordinator) Enqueue(ctx context.Context, destPath string, sources ...UploadSource) []int {
	u.mu.Lock()
	ids := make([]int, 0, len(sources))
	started := make([]*UploadTask, 0, len(sources))
	for _, src := range sources {
		u.nextID++
		t := &UploadTask{
			ID:     u.nextID,
			Name:   src.Name,
			Size:   src.Size,
			Status: UploadPending,
		}
		u.tasks = append(u.tasks, t)
		ids = append(ids, t.ID)
		started = append(started, t)
	}
	notify := u.onChange
	u.mu.Unlock()

	if notify != nil {
		notify()
	}

	for i, t := range started {
		u.wg.Add(1)
		go u.run(ctx, destPath, t, sources[i])
	}
	return ids
}

func (u *UploadCoordinator) run(ctx context.Context, destPath string, t *UploadTask, src UploadSource) {
	defer u.wg.Done()

	select {
	case u.sem <- struct{}{}:
	case <-ctx.Done():
		u.finish(t, ctx.Err())
		return
	}
	defer func() { <-u.sem }()

	u.setStatus(t, UploadUploading)

	body, err := src.Open()
	if err != nil {
		u.finish(t, err)
		return
	}
	defer body.Close()

	_, err = u.uploader.Upload(ctx, destPath, src.Name, body, src.Size, func(written int64) {
		u.setProgress(t, written)
	})
	u.finish(t, err)
}

func (u *UploadCoordinator) setStatus(t *UploadTask, s UploadStatus) {
	u.mu.Lock()
	t.Status = s
	notify := u.onChange
	u.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// setProgress maps cumulative bytes to a percentage, never moving backwards
// and saturating at 99 until the server confirms completion.
func (u *UploadCoordinator) setProgress(t *UploadTask, written int64) {
	u.mu.Lock()
	pct := 99
	if t.Size > 0 {
		pct = int(written * 100 / t.Size)
		if pct > 99 {
			pct = 99
		}
	}
	changed := pct > t.Progress
	if changed {
		t.Progress = pct
	}
	notify := u.onChange
	u.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

func (u *UploadCoordinator) finish(t *UploadTask, err error) {
	u.mu.Lock()
	if err != nil {
		t.Status = UploadError
		t.Err = err
	} else {
		t.Status = UploadCompleted
		t.Progress = 100
	}
	done := u.onDone
	notify := u.onChange
	snapshot := *t
	u.mu.Unlock()

	if notify != nil {
		notify()
	}
	if done != nil {
		done(snapshot)
	}
}

// Tasks returns a snapshot of all tasks in enqueue order.
func (u *UploadCoordinator) Tasks() []UploadTask {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]UploadTask, len(u.tasks))
	for i, t := range u.tasks {
		out[i] = *t
	}
	return out
}

// Active reports whether any task is still pending or uploading.
func (u *UploadCoordinator) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.Status == UploadPending || t.Status == UploadUploading {
			return true
		}
	}
	return false
}

// Wait blocks until every enqueued transfer has reached a terminal state.
func (u *UploadCoordinator) Wait() {
	u.wg.Wait()
}
