// Package preview generates JPEG thumbnails for uploaded images in the
// background.
package preview

import (
	"bytes"
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/storage"
)

// Processor runs the thumbnail worker pool. Jobs are file ids; content is
// read back from the storage backend so workers never hold upload buffers.
type Processor struct {
	store   *postgres.Store
	backend storage.Backend
	queue   chan string
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	workers int
	maxEdge int
}

// NewProcessor creates a thumbnail processor producing previews at most
// maxEdge pixels on the long side.
func NewProcessor(store *postgres.Store, backend storage.Backend, workers, maxEdge int) *Processor {
	if workers <= 0 {
		workers = 2
	}
	if maxEdge <= 0 {
		maxEdge = 256
	}
	return &Processor{
		store:   store,
		backend: backend,
		queue:   make(chan string, 1000),
		workers: workers,
		maxEdge: maxEdge,
	}
}

// Start launches the worker goroutines.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	logging.Info("preview processor started", zap.Int("workers", p.workers))
}

// Stop signals workers to stop and waits for them to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.queue)
	p.wg.Wait()
	logging.Info("preview processor stopped")
}

// Enqueue schedules thumbnail generation for a file id.
func (p *Processor) Enqueue(fileID string) {
	select {
	case p.queue <- fileID:
		metrics.SetPreviewQueueDepth(len(p.queue))
	default:
		logging.Warn("preview queue full, dropping", zap.String("file_id", fileID))
	}
}

// ProcessExisting enqueues images that have no thumbnail yet, for catch-up
// after restarts.
func (p *Processor) ProcessExisting(ctx context.Context) {
	ids, err := p.store.ListMissingThumbnails(ctx, previewExtPattern, 1000)
	if err != nil {
		logging.Warn("failed to list images without thumbnails", zap.Error(err))
		return
	}
	for _, id := range ids {
		p.Enqueue(id)
	}
	if len(ids) > 0 {
		logging.Info("enqueued images for thumbnail catch-up", zap.Int("count", len(ids)))
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fileID, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, fileID)
			metrics.SetPreviewQueueDepth(len(p.queue))
		}
	}
}

func (p *Processor) process(ctx context.Context, fileID string) {
	row, err := p.store.GetByID(ctx, fileID, false)
	if err != nil {
		logging.Warn("preview: lookup failed", zap.String("file_id", fileID), zap.Error(err))
		return
	}
	if row == nil || !CanPreview(row.Name) {
		// Deleted or replaced since the job was queued.
		return
	}

	reader, _, err := p.backend.GetObject(ctx, row.StorageKey, 0, 0)
	if err != nil {
		logging.Warn("preview: read failed", zap.String("path", row.Path), zap.Error(err))
		metrics.RecordPreviewGenerated(false)
		return
	}
	content, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		logging.Warn("preview: read failed", zap.String("path", row.Path), zap.Error(err))
		metrics.RecordPreviewGenerated(false)
		return
	}

	info := readExif(bytes.NewReader(content))

	thumb, w, h, err := generateThumbnail(bytes.NewReader(content), info.Orientation, p.maxEdge)
	if err != nil {
		logging.Warn("preview: generation failed", zap.String("path", row.Path), zap.Error(err))
		metrics.RecordPreviewGenerated(false)
		return
	}

	thumbKey := storage.ThumbKey(fileID)
	if err := p.backend.PutObject(ctx, thumbKey, bytes.NewReader(thumb), int64(len(thumb))); err != nil {
		logging.Warn("preview: store failed", zap.String("path", row.Path), zap.Error(err))
		metrics.RecordPreviewGenerated(false)
		return
	}

	if err := p.store.SaveThumbnail(ctx, &postgres.ThumbnailRow{
		FileID:     fileID,
		StorageKey: thumbKey,
		Width:      w,
		Height:     h,
		TakenAt:    info.TakenAt,
	}); err != nil {
		logging.Warn("preview: save metadata failed", zap.String("path", row.Path), zap.Error(err))
		metrics.RecordPreviewGenerated(false)
		return
	}

	metrics.RecordPreviewGenerated(true)
	logging.Debug("preview generated",
		zap.String("path", row.Path),
		zap.Int("width", w),
		zap.Int("height", h))
}
