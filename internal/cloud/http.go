package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftlab/edgesync/internal/record"
)

// Wire shapes for the HTTP authority.
//
// Upload:   POST {base}/v1/records   body: {"records": [...]}
//           reply: {"accepted": ["id", ...]}
// Download: GET  {base}/v1/changes?since=<RFC3339Nano>
//           reply: {"records": [...]}
type uploadRequest struct {
	Records []record.Record `json:"records"`
}

type uploadReply struct {
	Accepted []string `json:"accepted"`
}

type changesReply struct {
	Records []record.Record `json:"records"`
}

// HTTPClient is a Client speaking JSON over HTTP to a sync authority.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPConfig holds configuration for the HTTP client.
type HTTPConfig struct {
	// BaseURL is the authority's root URL, e.g. "http://localhost:9200".
	BaseURL string

	// Timeout bounds each request (default: 15s). The engine imposes no
	// timeout of its own; this is where network calls are bounded.
	Timeout time.Duration
}

// NewHTTPClient creates an HTTP-backed cloud client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Upload implements Client.Upload.
func (c *HTTPClient) Upload(ctx context.Context, batch []record.Record) ([]string, error) {
	body, err := json.Marshal(uploadRequest{Records: batch})
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("failed to marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/records", bytes.NewReader(body))
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UploadError{Err: httpStatusError(resp)}
	}

	var reply uploadReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &UploadError{Err: fmt.Errorf("failed to decode reply: %w", err)}
	}
	return reply.Accepted, nil
}

// Download implements Client.Download.
func (c *HTTPClient) Download(ctx context.Context, since time.Time) ([]record.Record, error) {
	u := c.baseURL + "/v1/changes"
	if !since.IsZero() {
		u += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{Err: httpStatusError(resp)}
	}

	var reply changesReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &DownloadError{Err: fmt.Errorf("failed to decode reply: %w", err)}
	}
	return reply.Records, nil
}

// httpStatusError reads a short error body so server-side messages survive
// into logs without dumping whole payloads.
func httpStatusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, msg)
}
