package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/util"
)

func newTestFetcher(maxBytes int64) *Fetcher {
	return NewFetcher(5*time.Second, "test-agent", maxBytes, util.ProxySettings{})
}

func noFetchSleep(t *testing.T) {
	t.Helper()
	origSleep := fetchSleepFunc
	fetchSleepFunc = func(d time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = origSleep })
}

func TestFetchWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	data, err := newTestFetcher(1<<20).FetchWithRetry(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(data) != string(pngHeader) {
		t.Errorf("Unexpected body: %q", data)
	}
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	noFetchSleep(t)

	if _, err := newTestFetcher(1<<20).FetchWithRetry(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	noFetchSleep(t)

	_, err := newTestFetcher(1<<20).FetchWithRetry(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected error for 404, got nil")
	}
	if got := err.Error(); got != "unexpected status: 404 404 Not Found" {
		t.Errorf("Unexpected error: %s", got)
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_AllRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	noFetchSleep(t)

	if _, err := newTestFetcher(1<<20).FetchWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetch_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	_, err := newTestFetcher(32).FetchWithRetry(context.Background(), server.URL)
	if !errors.Is(err, llm.ErrImageTooLarge) {
		t.Fatalf("Expected ErrImageTooLarge, got %v", err)
	}
}

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		err       string
		retryable bool
	}{
		{"unexpected status: 503 Service Unavailable", true},
		{"unexpected status: 500 Internal Server Error", true},
		{"unexpected status: 429 Too Many Requests", true},
		{"unexpected status: 404 Not Found", false},
		{"unexpected status: 403 Forbidden", false},
		{"fetch: connection refused", true},
		{"create request: invalid URL", false},
		{"read body: unexpected EOF", false},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			got := isRetryableFetchError(fmt.Errorf("%s", tt.err))
			if got != tt.retryable {
				t.Errorf("isRetryableFetchError(%q) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}

	if isRetryableFetchError(nil) {
		t.Error("Expected nil error to not be retryable")
	}
}

func TestLoad_Sources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.png")
	if err := os.WriteFile(path, pngHeader, 0644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	encoded := base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		name       string
		source     string
		wantSource string
		wantType   string
	}{
		{"file", path, path, "image/png"},
		{"url", server.URL + "/r.png", server.URL + "/r.png", "image/png"},
		{"data url", "data:image/webp;base64," + encoded, "data-url", "image/webp"},
		{"bare base64", encoded, "base64", "image/png"},
	}

	f := newTestFetcher(1 << 20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := f.Load(context.Background(), tt.source)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if img.Payload != encoded {
				t.Errorf("unexpected payload %q", img.Payload)
			}
			if img.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", img.Source, tt.wantSource)
			}
			if img.MediaType != tt.wantType {
				t.Errorf("media type = %q, want %q", img.MediaType, tt.wantType)
			}
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := newTestFetcher(0).Load(context.Background(), "   "); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestFetch_RobotsDisallowed(t *testing.T) {
	noFetchSleep(t)
	var imageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		imageHits.Add(1)
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	fetcher := newTestFetcher(0).WithRobots()

	_, err := fetcher.FetchWithRetry(context.Background(), server.URL+"/private/receipt.png")
	if !errors.Is(err, util.ErrDisallowed) {
		t.Fatalf("Expected ErrDisallowed, got %v", err)
	}
	if imageHits.Load() != 0 {
		t.Errorf("Expected no image request, got %d", imageHits.Load())
	}

	if _, err := fetcher.FetchWithRetry(context.Background(), server.URL+"/public/receipt.png"); err != nil {
		t.Fatalf("Expected public image to download, got %v", err)
	}
}
