package browser

import (
	"context"
	"sync"
)

// defaultBatchConcurrency bounds in-flight requests per logical operation.
const defaultBatchConcurrency = 4

// ItemOutcome is the result of one per-item request within a batch.
type ItemOutcome struct {
	ID  string
	Err error
}

// BatchResult holds one outcome per targeted id, in target order. A batch
// never collapses to a single boolean; partial failure stays visible.
type BatchResult []ItemOutcome

// Failed returns the outcomes that carry an error.
func (r BatchResult) Failed() []ItemOutcome {
	var failed []ItemOutcome
	for _, o := range r {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// FailedIDs returns the ids whose request failed.
func (r BatchResult) FailedIDs() []string {
	var ids []string
	for _, o := range r {
		if o.Err != nil {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// AllOK reports whether every per-item request succeeded.
func (r BatchResult) AllOK() bool {
	for _, o := range r {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// runBatch issues op once per id, concurrently, bounded by limit, and waits
// for every request to settle before returning. There is no rollback for
// partially completed batches.
func runBatch(ctx context.Context, ids []string, limit int, op func(ctx context.Context, id string) error) BatchResult {
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}

	outcomes := make(BatchResult, len(ids))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = ItemOutcome{ID: id, Err: op(ctx, id)}
		}(i, id)
	}

	wg.Wait()
	return outcomes
}
