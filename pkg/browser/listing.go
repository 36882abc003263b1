package browser

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

// ListingState describes what the store currently exposes.
type ListingState int

const (
	// StateIdle means no fetch has been issued yet.
	StateIdle ListingState = iota
	// StateLoading means a fetch is in flight and no listing is shown.
	StateLoading
	// StateReady means Entries holds the listing for the last fetch.
	StateReady
	// StateError means the last fetch failed and the listing is empty.
	StateError
)

func (s ListingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Lister fetches directory listings. The API client implements it.
type Lister interface {
	List(ctx context.Context, q protocol.ListQuery) ([]models.FileEntry, error)
}

// ListingStore owns the listing for the current fetch parameters. Each call
// to Fetch supersedes the previous one: the in-flight request is cancelled
// and its response, should it still arrive, is discarded. Responses are
// therefore applied in fetch-issued order, never completion order.
type ListingStore struct {
	lister Lister
	gen    atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	state    ListingState
	entries  []models.FileEntry
	err      error
	onChange func()
}

// NewListingStore creates an idle store fetching through lister.
func NewListingStore(lister Lister) *ListingStore {
	return &ListingStore{lister: lister}
}

// OnChange registers a callback invoked after every state transition. It is
// called without the store lock held.
func (s *ListingStore) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Fetch starts loading the listing for q. The store enters StateLoading and
// drops the prior listing immediately. The fetch runs on its own goroutine;
// completion is observable through OnChange.
func (s *ListingStore) Fetch(ctx context.Context, q protocol.ListQuery) {
	gen := s.gen.Add(1)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateLoading
	s.entries = nil
	s.err = nil
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}

	go func() {
		entries, err := s.lister.List(fetchCtx, q)

		s.mu.Lock()
		if gen != s.gen.Load() {
			// Superseded by a newer fetch; this response is stale.
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.state = StateError
			s.entries = nil
			s.err = err
		} else {
			s.state = StateReady
			s.entries = entries
			s.err = nil
		}
		notify := s.onChange
		s.mu.Unlock()

		if notify != nil {
			notify()
		}
	}()
}

// State returns the current store state.
func (s *ListingStore) State() ListingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Entries returns a copy of the current listing. Empty unless StateReady.
func (s *ListingStore) Entries() []models.FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FileEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Err returns the last fetch error, set only in StateError.
func (s *ListingStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels any in-flight fetch.
func (s *ListingStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
