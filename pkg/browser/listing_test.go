package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
)

type fakeLister struct {
	mu      sync.Mutex
	calls   []protocol.ListQuery
	ctxs    []context.Context
	respond func(q protocol.ListQuery) ([]models.FileEntry, error)
}

func (f *fakeLister) List(ctx context.Context, q protocol.ListQuery) ([]models.FileEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.ctxs = append(f.ctxs, ctx)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(q)
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLister) call(i int) (protocol.ListQuery, context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i], f.ctxs[i]
}

// waitState polls until the store reaches want or the deadline passes.
func waitState(t *testing.T, s *ListingStore, want ListingState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("store never reached %v, still %v", want, s.State())
}

func TestListing_FetchSuccess(t *testing.T) {
	f := &fakeLister{respond: func(q protocol.ListQuery) ([]models.FileEntry, error) {
		return []models.FileEntry{{ID: "f1", Name: "a.txt", Path: "/docs/a.txt"}}, nil
	}}
	s := NewListingStore(f)

	if s.State() != StateIdle {
		t.Fatalf("new store should be idle, got %v", s.State())
	}

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/docs"})
	waitState(t, s, StateReady)

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Errorf("unexpected entries: %v", entries)
	}
	if q, _ := f.call(0); q.Path != "/docs" {
		t.Errorf("expected fetch for /docs, got %q", q.Path)
	}
}

func TestListing_LoadingHidesPriorListing(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	first := true
	f := &fakeLister{}
	f.respond = func(q protocol.ListQuery) ([]models.FileEntry, error) {
		if first {
			first = false
			return []models.FileEntry{{ID: "old", Name: "old.txt"}}, nil
		}
		close(started)
		<-release
		return []models.FileEntry{{ID: "new", Name: "new.txt"}}, nil
	}
	s := NewListingStore(f)

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/a"})
	waitState(t, s, StateReady)

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/b"})
	<-started

	// No stale-while-revalidate: the old listing is gone during the refetch.
	if s.State() != StateLoading {
		t.Errorf("expected loading state, got %v", s.State())
	}
	if got := s.Entries(); len(got) != 0 {
		t.Errorf("prior listing still visible during refetch: %v", got)
	}

	close(release)
	waitState(t, s, StateReady)
	if got := s.Entries(); len(got) != 1 || got[0].ID != "new" {
		t.Errorf("expected new listing, got %v", got)
	}
}

func TestListing_StaleResponseDiscarded(t *testing.T) {
	releaseA := make(chan struct{})
	aStarted := make(chan struct{})
	f := &fakeLister{}
	f.respond = func(q protocol.ListQuery) ([]models.FileEntry, error) {
		switch q.Path {
		case "/a":
			close(aStarted)
			<-releaseA
			return []models.FileEntry{{ID: "a1", Name: "from-a"}}, nil
		case "/b":
			return []models.FileEntry{{ID: "b1", Name: "from-b"}}, nil
		}
		return nil, nil
	}
	s := NewListingStore(f)

	// Fetch A, then B while A is still in flight. A's response arrives last.
	s.Fetch(context.Background(), protocol.ListQuery{Path: "/a"})
	<-aStarted
	s.Fetch(context.Background(), protocol.ListQuery{Path: "/b"})

	waitState(t, s, StateReady)
	if got := s.Entries(); len(got) != 1 || got[0].Name != "from-b" {
		t.Fatalf("expected /b listing, got %v", got)
	}

	close(releaseA)
	time.Sleep(50 * time.Millisecond)

	if got := s.Entries(); len(got) != 1 || got[0].Name != "from-b" {
		t.Fatalf("stale /a response overwrote /b listing: %v", got)
	}
	if s.State() != StateReady {
		t.Errorf("state disturbed by stale response: %v", s.State())
	}
}

func TestListing_SupersededFetchIsCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	f := &fakeLister{}
	f.respond = func(q protocol.ListQuery) ([]models.FileEntry, error) {
		if q.Path == "/slow" {
			close(started)
			<-block
			return nil, context.Canceled
		}
		return nil, nil
	}
	s := NewListingStore(f)

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/slow"})
	<-started
	s.Fetch(context.Background(), protocol.ListQuery{Path: "/next"})

	_, slowCtx := f.call(0)
	if slowCtx.Err() == nil {
		t.Error("superseded fetch context should be cancelled")
	}
}

func TestListing_ErrorClearsToEmpty(t *testing.T) {
	fail := false
	f := &fakeLister{}
	f.respond = func(q protocol.ListQuery) ([]models.FileEntry, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []models.FileEntry{{ID: "f1", Name: "a.txt"}}, nil
	}
	s := NewListingStore(f)

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/docs"})
	waitState(t, s, StateReady)

	fail = true
	s.Fetch(context.Background(), protocol.ListQuery{Path: "/docs/sub"})
	waitState(t, s, StateError)

	if s.Err() == nil {
		t.Error("expected an error to be exposed")
	}
	if got := s.Entries(); len(got) != 0 {
		t.Errorf("listing should be empty after a failed fetch, got %v", got)
	}

	// A later successful fetch recovers.
	fail = false
	s.Fetch(context.Background(), protocol.ListQuery{Path: "/docs"})
	waitState(t, s, StateReady)
	if s.Err() != nil {
		t.Errorf("error should clear on success, got %v", s.Err())
	}
}

func TestListing_OnChangeFires(t *testing.T) {
	f := &fakeLister{respond: func(protocol.ListQuery) ([]models.FileEntry, error) {
		return nil, nil
	}}
	s := NewListingStore(f)

	changes := make(chan struct{}, 8)
	s.OnChange(func() { changes <- struct{}{} })

	s.Fetch(context.Background(), protocol.ListQuery{Path: "/"})

	// One transition into loading, one into ready.
	for i := 0; i < 2; i++ {
		select {
		case <-changes:
		case <-time.After(2 * time.Second):
			t.Fatalf("missing change notification %d", i+1)
		}
	}
}
