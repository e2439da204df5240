package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driftlab/edgesync/internal/cloud/cloudtest"
	"github.com/driftlab/edgesync/internal/record"
)

func startAuthority(t *testing.T) *cloudtest.Server {
	t.Helper()
	srv := cloudtest.NewServer(nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start authority: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func newClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(HTTPConfig{BaseURL: baseURL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return client
}

func testRecord(id string, version int64) record.Record {
	return record.Record{
		ID:        id,
		Version:   version,
		UpdatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]string{"k": "v"},
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := NewHTTPClient(HTTPConfig{BaseURL: "http://ok.example/"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	srv := startAuthority(t)
	client := newClient(t, srv.URL())

	accepted, err := client.Upload(context.Background(), []record.Record{
		testRecord("r1", 1),
		testRecord("r2", 3),
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(accepted) != 2 {
		t.Errorf("accepted = %v, want both ids", accepted)
	}

	got, ok := srv.Get("r2")
	if !ok || got.Version != 3 {
		t.Errorf("authority holds %+v (ok=%v), want r2 v3", got, ok)
	}
}

func TestUploadStaleVersionRejected(t *testing.T) {
	srv := startAuthority(t)
	client := newClient(t, srv.URL())

	srv.Put(testRecord("r1", 5))

	// A stale write is skipped, not an error; partial acceptance is the
	// contract.
	accepted, err := client.Upload(context.Background(), []record.Record{
		testRecord("r1", 3),
		testRecord("r2", 1),
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(accepted) != 1 || accepted[0] != "r2" {
		t.Errorf("accepted = %v, want [r2]", accepted)
	}

	got, _ := srv.Get("r1")
	if got.Version != 5 {
		t.Errorf("stale write overwrote authority: v%d", got.Version)
	}
}

func TestDownloadSinceWatermark(t *testing.T) {
	srv := startAuthority(t)
	client := newClient(t, srv.URL())

	srv.Put(testRecord("old", 1))
	watermark := time.Now()
	time.Sleep(5 * time.Millisecond)
	srv.Put(testRecord("new", 1))

	// Zero since means full snapshot.
	all, err := client.Download(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full snapshot returned %d records, want 2", len(all))
	}

	changed, err := client.Download(context.Background(), watermark)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != "new" {
		t.Errorf("changes since watermark = %+v, want just [new]", changed)
	}
}

func TestUploadErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authority melting", http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := newClient(t, srv.URL)

	_, err := client.Upload(context.Background(), []record.Record{testRecord("r1", 1)})
	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("error %v is not an *UploadError", err)
	}
	if upErr.Unwrap() == nil {
		t.Error("UploadError does not wrap a cause")
	}

	_, err = client.Download(context.Background(), time.Time{})
	var downErr *DownloadError
	if !errors.As(err, &downErr) {
		t.Fatalf("error %v is not a *DownloadError", err)
	}
}

func TestUnreachableAuthority(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:1") // nothing listens here

	if _, err := client.Upload(context.Background(), nil); err == nil {
		t.Error("expected upload error against unreachable authority")
	}
	var downErr *DownloadError
	if _, err := client.Download(context.Background(), time.Time{}); !errors.As(err, &downErr) {
		t.Errorf("download error %v is not a *DownloadError", err)
	}
}

func TestContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	client := newClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Download(ctx, time.Time{})
	if err == nil {
		t.Fatal("expected error from cancelled download")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, context deadline ignored", elapsed)
	}
}

func TestMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()
	client := newClient(t, srv.URL)

	if _, err := client.Upload(context.Background(), []record.Record{testRecord("r1", 1)}); err == nil {
		t.Error("expected error decoding malformed upload reply")
	}
	if _, err := client.Download(context.Background(), time.Time{}); err == nil {
		t.Error("expected error decoding malformed changes reply")
	}
}
