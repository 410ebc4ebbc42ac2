package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/util"
)

// Image is a receipt image ready to send to a model
type Image struct {
	Payload   string // base64, no data URL prefix
	MediaType string
	Source    string
}

// Fetcher loads receipt images from files, URLs or inline base64
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker
}

// NewFetcher creates a new Fetcher. maxBytes caps downloads and file reads.
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, proxy util.ProxySettings) *Fetcher {
	client := util.NewHTTPClient(timeout, proxy)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}

	return &Fetcher{
		httpClient: client,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
	}
}

// WithRobots makes URL downloads honour robots.txt
func (f *Fetcher) WithRobots() *Fetcher {
	f.robots = util.NewRobotsChecker(f.httpClient, f.userAgent)
	return f
}

// fetchSleepFunc is the sleep used between download attempts (injectable for tests)
var fetchSleepFunc = time.Sleep

// Load resolves source to an image. Sources starting with http:// or
// https:// are downloaded, data URLs are decoded in place, existing files
// are read, and anything else is treated as raw base64.
func (f *Fetcher) Load(ctx context.Context, source string) (*Image, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty image source")
	}

	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, err := f.FetchWithRetry(ctx, source)
		if err != nil {
			return nil, err
		}
		return f.fromBytes(data, source)

	case strings.HasPrefix(source, "data:"):
		payload, mediaType := llm.StripDataURL(source)
		if payload == "" {
			return nil, fmt.Errorf("malformed data URL")
		}
		return &Image{Payload: payload, MediaType: mediaType, Source: "data-url"}, nil
	}

	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		data, err := f.readFile(source)
		if err != nil {
			return nil, err
		}
		return f.fromBytes(data, source)
	}

	return FromBase64(source)
}

// FromBase64 wraps an inline payload, sniffing its media type when it decodes
func FromBase64(payload string) (*Image, error) {
	payload, mediaType := llm.StripDataURL(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty image payload")
	}

	if mediaType == "" {
		head := payload
		if len(head) > 64 {
			head = head[:64]
		}
		if data, err := base64.StdEncoding.DecodeString(head[:len(head)/4*4]); err == nil {
			mediaType = llm.DetectMediaType(data)
		}
	}

	return &Image{Payload: payload, MediaType: mediaType, Source: "base64"}, nil
}

func (f *Fetcher) fromBytes(data []byte, source string) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", source)
	}
	payload, mediaType := llm.EncodeImage(data)
	return &Image{Payload: payload, MediaType: mediaType, Source: source}, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(f.limit(file))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := f.checkLimit(data); err != nil {
		return nil, err
	}
	return data, nil
}

// FetchWithRetry downloads rawURL, retrying transient failures up to 3 times
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	const maxAttempts = 3
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !isRetryableFetchError(err) || attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		fetchSleepFunc(backoff)
		backoff *= 2
	}

	return nil, lastErr
}

// Fetch downloads rawURL once
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if f.robots != nil {
		if err := f.robots.Check(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(f.limit(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := f.checkLimit(body); err != nil {
		return nil, err
	}

	return body, nil
}

// limit reads one byte past maxBytes so oversize input can be detected
func (f *Fetcher) limit(r io.Reader) io.Reader {
	if f.maxBytes <= 0 {
		return r
	}
	return io.LimitReader(r, f.maxBytes+1)
}

func (f *Fetcher) checkLimit(data []byte) error {
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return fmt.Errorf("%w: more than %d bytes", llm.ErrImageTooLarge, f.maxBytes)
	}
	return nil
}

// isRetryableFetchError reports whether a download error is worth another try:
// server errors, 429 and transport failures
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, llm.ErrImageTooLarge) {
		return false
	}

	msg := err.Error()
	if strings.HasPrefix(msg, "unexpected status: ") {
		code := strings.TrimPrefix(msg, "unexpected status: ")
		return strings.HasPrefix(code, "5") || strings.HasPrefix(code, "429")
	}
	return strings.HasPrefix(msg, "fetch: ")
}
