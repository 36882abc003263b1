// Package client provides the typed HTTP client for the filecove API with
// retry, offline detection, and auth.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/filecove/filecove/pkg/logger"
	"github.com/filecove/filecove/pkg/models"
	"github.com/filecove/filecove/pkg/protocol"
	"github.com/filecove/filecove/pkg/retry"
)

// Client talks to a filecove server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// AsAPIError checks if an error carries a server status.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// apiError builds an APIError from a response, consuming the body.
func apiError(resp *http.Response) *APIError {
	ae := &APIError{Status: resp.StatusCode}
	var er protocol.ErrorResponse
	if json.NewDecoder(resp.Body).Decode(&er) == nil {
		ae.Message = er.Error
	}
	return ae
}

// SetAuthToken sets the bearer token for subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server is reachable.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logger.Info("Server is back online")
		} else {
			logger.Error("Server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// checkStatus classifies a response: nil for any code in ok, retryable for
// 5xx, a plain APIError otherwise. The body stays readable on success.
func (c *Client) checkStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			c.setOnline(true)
			return nil
		}
	}
	c.setOnline(false)
	if resp.StatusCode >= 500 {
		return retry.Retryable(&APIError{Status: resp.StatusCode})
	}
	return apiError(resp)
}

// List fetches the listing for a path, optionally narrowed by search query
// and filter criteria. The path travels percent-encoded.
func (c *Client) List(ctx context.Context, q protocol.ListQuery) ([]models.FileEntry, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]models.FileEntry, error) {
		u := c.baseURL + "/api/v1/files?" + q.Values().Encode()
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp, http.StatusOK); err != nil {
			return nil, err
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, err
			}
			defer gr.Close()
			reader = gr
		}

		var lr protocol.ListResponse
		if err := json.NewDecoder(reader).Decode(&lr); err != nil {
			return nil, fmt.Errorf("parse listing: %w", err)
		}
		return lr.Files, nil
	})
}

// Delete removes a file or folder by id. A 404 means it is already gone and
// is not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		u := c.baseURL + "/api/v1/files/" + url.PathEscape(id)
		req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
		if err != nil {
			return err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			c.setOnline(true)
			return nil
		}
		return c.checkStatus(resp, http.StatusNoContent, http.StatusOK)
	})
}

// Rename changes an entry's name in place. Valid for a single target only.
func (c *Client) Rename(ctx context.Context, id, name string) (*models.FileEntry, error) {
	return c.entryRequest(ctx, "PUT", "/api/v1/files/"+url.PathEscape(id),
		protocol.RenameRequest{Name: name}, http.StatusOK)
}

// Move relocates an entry into the destination folder.
func (c *Client) Move(ctx context.Context, id, destPath string) (*models.FileEntry, error) {
	return c.entryRequest(ctx, "POST", "/api/v1/files/"+url.PathEscape(id)+"/move",
		protocol.MoveRequest{DestinationPath: destPath}, http.StatusOK)
}

// Copy duplicates an entry into the destination folder.
func (c *Client) Copy(ctx context.Context, id, destPath string) (*models.FileEntry, error) {
	return c.entryRequest(ctx, "POST", "/api/v1/files/"+url.PathEscape(id)+"/copy",
		protocol.CopyRequest{DestinationPath: destPath}, http.StatusCreated)
}

// Mkdir creates a folder at the given absolute path.
func (c *Client) Mkdir(ctx context.Context, path string) (*models.FileEntry, error) {
	return c.entryRequest(ctx, "POST", "/api/v1/folders",
		protocol.MkdirRequest{Path: path}, http.StatusCreated)
}

// entryRequest sends a JSON body and decodes a FileEntry reply.
func (c *Client) entryRequest(ctx context.Context, method, path string, body interface{}, okStatus int) (*models.FileEntry, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return retry.DoWithResult(ctx, c.retryConfig, func() (*models.FileEntry, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytesReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp, okStatus); err != nil {
			return nil, err
		}

		var entry models.FileEntry
		if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
			return nil, fmt.Errorf("parse entry: %w", err)
		}
		return &entry, nil
	})
}

// Upload streams a file to the server as multipart form data. progress, if
// non-nil, receives the cumulative byte count as the body is consumed. The
// body is not replayable, so uploads are never retried.
func (c *Client) Upload(ctx context.Context, destPath, name string, content io.Reader, size int64, progress func(written int64)) (*models.FileEntry, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := content
		if progress != nil {
			src = &progressReader{r: content, fn: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("path", destPath); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/files/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, http.StatusCreated); err != nil {
		return nil, err
	}

	var entry models.FileEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	return &entry, nil
}

// Download fetches file content with an optional byte range. length < 0
// means "to the end". The returned reader must be closed by the caller.
func (c *Client) Download(ctx context.Context, id string, offset, length int64) (io.ReadCloser, int64, error) {
	var reader io.ReadCloser
	var totalSize int64

	err := retry.Do(ctx, c.retryConfig, func() error {
		u := c.baseURL + "/api/v1/files/" + url.PathEscape(id) + "/download"
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return err
		}
		if offset > 0 || length > 0 {
			end := ""
			if length > 0 {
				end = fmt.Sprintf("%d", offset+length-1)
			}
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%s", offset, end))
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			defer resp.Body.Close()
			return c.checkStatus(resp)
		}
		c.setOnline(true)

		totalSize = resp.ContentLength
		reader = resp.Body
		return nil
	})

	return reader, totalSize, err
}

// Trash lists the caller's soft-deleted entries.
func (c *Client) Trash(ctx context.Context) ([]protocol.TrashItem, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]protocol.TrashItem, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/trash", nil)
		if err != nil {
			return nil, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp, http.StatusOK); err != nil {
			return nil, err
		}

		var items []protocol.TrashItem
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			return nil, fmt.Errorf("parse trash: %w", err)
		}
		return items, nil
	})
}

// Restore brings a trashed entry back to its original path.
func (c *Client) Restore(ctx context.Context, id string) error {
	payload, _ := json.Marshal(protocol.TrashRestoreRequest{ID: id})
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/trash/restore", bytesReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		return c.checkStatus(resp, http.StatusOK)
	})
}

// progressReader reports cumulative bytes read to fn.
type progressReader struct {
	r     io.Reader
	fn    func(written int64)
	total int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.fn(p.total)
	}
	return n, err
}

// bytesReader wraps a payload for one request attempt. Callers build a new
// reader inside every retry closure so resent requests carry the full body.
func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
