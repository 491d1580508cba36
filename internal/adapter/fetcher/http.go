package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"fxbot/internal/domain"
)

const defaultMaxBytes = 100 * 1024 * 1024

// Fetcher downloads media assets fully into memory. There are no
// retries here: a transient failure drops the attachment and the caller
// moves on to the next link.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxBytes   int64
}

// Config holds the dependencies for a Fetcher.
type Config struct {
	// HTTPClient is the shared process-wide client. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// UserAgent is sent on every request when non-empty.
	UserAgent string
	// MaxBytes caps the buffered body size; zero means the default.
	MaxBytes int64
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Fetcher{
		httpClient: httpClient,
		logger:     logger,
		userAgent:  cfg.UserAgent,
		maxBytes:   maxBytes,
	}
}

// Fetch downloads url and returns the full body. Non-2xx responses are
// hard failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, domain.ErrBadStatus)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", url, f.maxBytes, domain.ErrTooLarge)
	}

	f.logger.Debug("fetched asset", "url", url, "size", len(data))
	return data, nil
}
