package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
	"github.com/filecove/filecove/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func TestList_Success(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/v1/files" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{
			Path: "/docs",
			Files: []models.FileEntry{
				{ID: "f1", Name: "report.pdf", Path: "/docs/report.pdf", Size: 1024, Kind: models.KindFile},
				{ID: "d1", Name: "archive", Path: "/docs/archive", Kind: models.KindFolder},
			},
		})
	}))
	defer ts.Close()

	files, err := c.List(context.Background(), protocol.ListQuery{Path: "/docs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(files))
	}
	if files[0].Name != "report.pdf" {
		t.Errorf("expected report.pdf, got %s", files[0].Name)
	}
	if !files[1].IsFolder() {
		t.Error("expected second entry to be a folder")
	}
}

func TestList_EncodesQuery(t *testing.T) {
	var gotRaw string
	var gotPath, gotQ, gotType string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRaw = r.URL.RawQuery
		gotPath = r.URL.Query().Get("path")
		gotQ = r.URL.Query().Get("q")
		gotType = r.URL.Query().Get("type")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{})
	}))
	defer ts.Close()

	_, err := c.List(context.Background(), protocol.ListQuery{
		Path:  "/docs/My Reports & Notes",
		Query: "q4 budget",
		Type:  "pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/docs/My Reports & Notes" {
		t.Errorf("path did not round-trip, got %q", gotPath)
	}
	if gotQ != "q4 budget" || gotType != "pdf" {
		t.Errorf("query params did not round-trip: q=%q type=%q", gotQ, gotType)
	}
	if strings.Contains(gotRaw, " ") {
		t.Errorf("raw query contains an unencoded space: %q", gotRaw)
	}
	if !strings.Contains(gotRaw, "%26") {
		t.Errorf("ampersand in path should be percent-encoded: %q", gotRaw)
	}
}

func TestList_SizeAndDateFilters(t *testing.T) {
	var got map[string]string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"min_size":       q.Get("min_size"),
			"max_size":       q.Get("max_size"),
			"modified_after": q.Get("modified_after"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{})
	}))
	defer ts.Close()

	after := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.List(context.Background(), protocol.ListQuery{
		Path:          "/",
		MinSize:       1024,
		MaxSize:       1 << 20,
		ModifiedAfter: after,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["min_size"] != "1024" {
		t.Errorf("expected min_size=1024, got %q", got["min_size"])
	}
	if got["max_size"] != fmt.Sprintf("%d", 1<<20) {
		t.Errorf("expected max_size=%d, got %q", 1<<20, got["max_size"])
	}
	if got["modified_after"] != after.Format(time.RFC3339) {
		t.Errorf("expected modified_after in RFC3339, got %q", got["modified_after"])
	}
}

func TestList_ServerError_Retry(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{
			Files: []models.FileEntry{{ID: "f1", Name: "a.txt"}},
		})
	}))
	defer ts.Close()

	files, err := c.List(context.Background(), protocol.ListQuery{Path: "/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("expected 1 entry, got %d", len(files))
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestList_NotFoundNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "path not found"})
	}))
	defer ts.Close()

	_, err := c.List(context.Background(), protocol.ListQuery{Path: "/missing"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	ae, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if ae.Status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", ae.Status)
	}
	if ae.Message != "path not found" {
		t.Errorf("expected server message, got %q", ae.Message)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt (no retries), got %d", attempts.Load())
	}
}

func TestDelete_Success(t *testing.T) {
	var gotPath string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	if err := c.Delete(context.Background(), "file-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/v1/files/file-123" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestDelete_NotFoundIsSuccess(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	if err := c.Delete(context.Background(), "already-gone"); err != nil {
		t.Errorf("expected nil for 404, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestRename_SendsBody(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" || r.URL.Path != "/api/v1/files/f1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req protocol.RenameRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "renamed.txt" {
			t.Errorf("expected name renamed.txt, got %s", req.Name)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.FileEntry{ID: "f1", Name: req.Name, Path: "/docs/renamed.txt"})
	}))
	defer ts.Close()

	entry, err := c.Rename(context.Background(), "f1", "renamed.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Name != "renamed.txt" {
		t.Errorf("expected renamed.txt, got %s", entry.Name)
	}
}

func TestMove_SendsDestination(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/files/f1/move" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req protocol.MoveRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DestinationPath != "/archive" {
			t.Errorf("expected destination /archive, got %s", req.DestinationPath)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.FileEntry{ID: "f1", Name: "a.txt", Path: "/archive/a.txt"})
	}))
	defer ts.Close()

	entry, err := c.Move(context.Background(), "f1", "/archive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Path != "/archive/a.txt" {
		t.Errorf("expected moved path, got %s", entry.Path)
	}
}

func TestMove_RetriedOnServerError(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		// The body must arrive intact on the retried attempt.
		var req protocol.MoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DestinationPath != "/archive" {
			t.Errorf("attempt %d: bad body (err=%v, dest=%q)", n, err, req.DestinationPath)
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.FileEntry{ID: "f1", Path: "/archive/a.txt"})
	}))
	defer ts.Close()

	if _, err := c.Move(context.Background(), "f1", "/archive"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestUpload_MultipartAndProgress(t *testing.T) {
	content := strings.Repeat("x", 64*1024)
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("path"); got != "/uploads" {
			t.Errorf("expected path field /uploads, got %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "big.bin" {
			t.Errorf("expected filename big.bin, got %s", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if len(data) != len(content) {
			t.Errorf("expected %d bytes, got %d", len(content), len(data))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.FileEntry{ID: "new", Name: hdr.Filename, Size: int64(len(data))})
	}))
	defer ts.Close()

	var mu []int64
	entry, err := c.Upload(context.Background(), "/uploads", "big.bin",
		strings.NewReader(content), int64(len(content)), func(written int64) {
			mu = append(mu, written)
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), entry.Size)
	}
	if len(mu) == 0 {
		t.Fatal("expected progress callbacks")
	}
	for i := 1; i < len(mu); i++ {
		if mu[i] < mu[i-1] {
			t.Fatalf("progress went backwards: %d then %d", mu[i-1], mu[i])
		}
	}
	if final := mu[len(mu)-1]; final != int64(len(content)) {
		t.Errorf("expected final progress %d, got %d", len(content), final)
	}
}

func TestUpload_ServerErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := c.Upload(context.Background(), "/uploads", "a.txt", strings.NewReader("hi"), 2, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("upload body is not replayable, expected 1 attempt, got %d", attempts.Load())
	}
}

func TestDownload_RangeHeader(t *testing.T) {
	var gotRange string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer ts.Close()

	rc, _, err := c.Download(context.Background(), "f1", 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	if gotRange != "bytes=5-14" {
		t.Errorf("expected Range bytes=5-14, got %q", gotRange)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "0123456789" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestDownload_OpenEndedRange(t *testing.T) {
	var gotRange string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("tail"))
	}))
	defer ts.Close()

	rc, _, err := c.Download(context.Background(), "f1", 100, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc.Close()

	if gotRange != "bytes=100-" {
		t.Errorf("expected Range bytes=100-, got %q", gotRange)
	}
}

func TestOnlineStatus(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.ListResponse{})
	}))

	if _, err := c.List(context.Background(), protocol.ListQuery{Path: "/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsOnline() {
		t.Error("client should be online after a successful request")
	}

	ts.Close()

	if _, err := c.List(context.Background(), protocol.ListQuery{Path: "/"}); err == nil {
		t.Fatal("expected error against closed server")
	}
	if c.IsOnline() {
		t.Error("client should be offline after connection failure")
	}
}

func TestTrash_ListAndRestore(t *testing.T) {
	deleted := time.Now().Add(-time.Hour).Truncate(time.Second)
	var restored string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/api/v1/trash":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]protocol.TrashItem{
				{ID: "t1", Name: "old.txt", OriginalPath: "/docs/old.txt", DeletedAt: deleted},
			})
		case r.Method == "POST" && r.URL.Path == "/api/v1/trash/restore":
			var req protocol.TrashRestoreRequest
			json.NewDecoder(r.Body).Decode(&req)
			restored = req.ID
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	items, err := c.Trash(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].OriginalPath != "/docs/old.txt" {
		t.Fatalf("unexpected trash listing: %+v", items)
	}

	if err := c.Restore(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored != "t1" {
		t.Errorf("expected restore of t1, got %q", restored)
	}
}
