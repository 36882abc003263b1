package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/filecove/filecove/internal/events"
	"github.com/filecove/filecove/internal/metadata/postgres"
	"github.com/filecove/filecove/pkg/models"
)

type fakeResolver struct {
	mu   sync.Mutex
	rows map[string]*postgres.FileRow
}

func (f *fakeResolver) GetByStorageKey(_ context.Context, key string) (*postgres.FileRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[key], nil
}

func TestWatcher_ModifyEvent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "watch-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.MkdirAll(filepath.Join(tmpDir, "objects"), 0755); err != nil {
		t.Fatalf("Failed to create objects dir: %v", err)
	}

	resolver := &fakeResolver{rows: map[string]*postgres.FileRow{
		"objects/abc": {ID: "abc", Path: "/docs/notes.txt"},
	}}
	bc := events.NewBroadcaster()

	w, err := New(tmpDir, resolver, bc, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Start(ctx)

	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	if err := os.WriteFile(filepath.Join(tmpDir, "objects", "abc"), []byte("fresh"), 0644); err != nil {
		t.Fatalf("Failed to write object: %v", err)
	}

	select {
	case event := <-sub:
		if event.Type != models.EventModify {
			t.Errorf("Expected modify event, got %s", event.Type)
		}
		if event.Path != "/docs/notes.txt" {
			t.Errorf("Expected path /docs/notes.txt, got %s", event.Path)
		}
		if event.ID != "abc" {
			t.Errorf("Expected id abc, got %s", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for modify event")
	}
}

func TestWatcher_DeleteEvent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "watch-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	objPath := filepath.Join(tmpDir, "objects", "gone")
	if err := os.MkdirAll(filepath.Dir(objPath), 0755); err != nil {
		t.Fatalf("Failed to create objects dir: %v", err)
	}
	if err := os.WriteFile(objPath, []byte("bye"), 0644); err != nil {
		t.Fatalf("Failed to write object: %v", err)
	}

	resolver := &fakeResolver{rows: map[string]*postgres.FileRow{
		"objects/gone": {ID: "gone", Path: "/tmp.bin"},
	}}
	bc := events.NewBroadcaster()

	w, err := New(tmpDir, resolver, bc, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Start(ctx)

	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	if err := os.Remove(objPath); err != nil {
		t.Fatalf("Failed to remove object: %v", err)
	}

	select {
	case event := <-sub:
		if event.Type != models.EventDelete {
			t.Errorf("Expected delete event, got %s", event.Type)
		}
		if event.Path != "/tmp.bin" {
			t.Errorf("Expected path /tmp.bin, got %s", event.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for delete event")
	}
}

func TestWatcher_IgnoresUnknownAndTempKeys(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "watch-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.MkdirAll(filepath.Join(tmpDir, "objects"), 0755); err != nil {
		t.Fatalf("Failed to create objects dir: %v", err)
	}

	resolver := &fakeResolver{rows: map[string]*postgres.FileRow{}}
	bc := events.NewBroadcaster()

	w, err := New(tmpDir, resolver, bc, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Start(ctx)

	sub := bc.Subscribe()
	defer bc.Unsubscribe(sub)

	// Neither an object without metadata nor a temp file should publish.
	os.WriteFile(filepath.Join(tmpDir, "objects", "stray"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "objects", ".filecove-1.tmp"), []byte("x"), 0644)

	select {
	case event := <-sub:
		t.Errorf("Unexpected event: %+v", event)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestSkipKey(t *testing.T) {
	cases := []struct {
		key  string
		skip bool
	}{
		{"objects/abc", false},
		{"objects/.filecove-42.tmp", true},
		{"objects/partial.tmp", true},
		{"_thumbs/abc.jpg", true},
		{"_thumbs", true},
		{".hidden", true},
	}
	for _, c := range cases {
		if got := skipKey(c.key); got != c.skip {
			t.Errorf("skipKey(%q) = %v, want %v", c.key, got, c.skip)
		}
	}
}
