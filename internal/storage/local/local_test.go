package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestBackend(t *testing.T) (*LocalBackend, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "local-backend-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	b, err := New(Config{RootPath: tmpDir})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	return b, tmpDir
}

func TestPutGetRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	content := []byte("hello filecove")
	if err := b.PutObject(ctx, "objects/abc123", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	rc, size, err := b.GetObject(ctx, "objects/abc123", 0, 0)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer rc.Close()

	if size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), size)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Expected %q, got %q", content, got)
	}
}

func TestPutCreatesParentDirs(t *testing.T) {
	b, tmpDir := newTestBackend(t)
	ctx := context.Background()

	if err := b.PutObject(ctx, "_thumbs/xyz.jpg", strings.NewReader("jpeg"), 4); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "_thumbs", "xyz.jpg")); err != nil {
		t.Errorf("Expected object file on disk: %v", err)
	}
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	b, tmpDir := newTestBackend(t)
	ctx := context.Background()

	if err := b.PutObject(ctx, "objects/tmpcheck", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, "objects"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

func TestGetObjectRange(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	content := []byte("0123456789")
	if err := b.PutObject(ctx, "objects/rng", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	// Offset + length
	rc, size, err := b.GetObject(ctx, "objects/rng", 2, 4)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if size != 4 {
		t.Errorf("Expected size 4, got %d", size)
	}
	if string(got) != "2345" {
		t.Errorf("Expected 2345, got %s", got)
	}

	// Offset to end
	rc, size, err = b.GetObject(ctx, "objects/rng", 7, 0)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	got, _ = io.ReadAll(rc)
	rc.Close()
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}
	if string(got) != "789" {
		t.Errorf("Expected 789, got %s", got)
	}
}

func TestGetObjectMissing(t *testing.T) {
	b, _ := newTestBackend(t)

	if _, _, err := b.GetObject(context.Background(), "objects/nope", 0, 0); err == nil {
		t.Error("Expected error for missing object")
	}
}

func TestDeleteObject(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if err := b.PutObject(ctx, "objects/gone", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := b.DeleteObject(ctx, "objects/gone"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}

	exists, err := b.ObjectExists(ctx, "objects/gone")
	if err != nil {
		t.Fatalf("ObjectExists failed: %v", err)
	}
	if exists {
		t.Error("Expected object to be gone")
	}

	// Deleting a missing object is not an error
	if err := b.DeleteObject(ctx, "objects/gone"); err != nil {
		t.Errorf("Delete of missing object should be a no-op: %v", err)
	}
}

func TestCopyObject(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	content := []byte("copy me")
	if err := b.PutObject(ctx, "objects/src", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := b.CopyObject(ctx, "objects/src", "objects/dst"); err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}

	rc, _, err := b.GetObject(ctx, "objects/dst", 0, 0)
	if err != nil {
		t.Fatalf("GetObject on copy failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Errorf("Expected %q, got %q", content, got)
	}

	// Source still present
	exists, _ := b.ObjectExists(ctx, "objects/src")
	if !exists {
		t.Error("Expected source to survive copy")
	}
}

func TestNewCreatesRoot(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "local-backend-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	root := filepath.Join(tmpDir, "nested", "storage")
	b, err := New(Config{RootPath: root})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if b.Root() != root {
		t.Errorf("Expected root %s, got %s", root, b.Root())
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("Expected root dir to exist: %v", err)
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for empty root path")
	}
}
