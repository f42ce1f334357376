// Package fetch retrieves remote media sources into local scratch files with a
// hard wall-clock timeout and a streamed size cap.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

const userAgent = "heimdex-composer/0.1"

// Request describes one transfer. Timeout is a single wall-clock budget
// shared by every attempt and the backoff between them; MaxBytes of zero
// disables the size cap.
type Request struct {
	URL      string
	Dest     string
	Timeout  time.Duration
	MaxBytes int64

	// Attempts is the number of tries for transient failures. Values below
	// 1 mean a single try.
	Attempts int
}

// File is a fetched source on local disk. The caller owns Path.
type File struct {
	Path     string
	Size     int64
	URL      string
	Duration time.Duration
}

// Client is the production fetcher.
type Client struct {
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a fetcher. Per-request timeouts come from Request, so the
// underlying http.Client has none of its own.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		backoff:    500 * time.Millisecond,
		logger:     logger,
	}
}

// Fetch downloads req.URL to req.Dest. On any failure the partial file is
// removed and a *FetchError is returned.
func (c *Client) Fetch(ctx context.Context, req Request) (*File, error) {
	attempts := req.Attempts
	if attempts < 1 {
		attempts = 1
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var lastErr *FetchError
	for attempt := 1; attempt <= attempts; attempt++ {
		f, err := c.fetchOnce(ctx, req)
		if err == nil {
			return f, nil
		}
		lastErr = err
		if !err.Retryable() || attempt == attempts || ctx.Err() != nil {
			break
		}

		wait := time.Duration(attempt) * c.backoff
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= wait {
			c.logger.Warn("fetch failed, no time budget left to retry",
				"url", logging.SanitizeURL(req.URL),
				"attempt", attempt,
				"error", err,
			)
			break
		}
		c.logger.Warn("fetch failed, retrying",
			"url", logging.SanitizeURL(req.URL),
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, req Request) (*File, *FetchError) {
	start := time.Now()

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("unsupported url %q", req.URL)
		}
		return nil, &FetchError{URL: req.URL, Reason: ReasonInvalidURL, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Reason: ReasonInvalidURL, Err: err}
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: req.URL, Reason: ReasonStatus, StatusCode: resp.StatusCode}
	}

	if req.MaxBytes > 0 && resp.ContentLength > req.MaxBytes {
		return nil, &FetchError{
			URL:    req.URL,
			Reason: ReasonTooLarge,
			Err:    fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, req.MaxBytes),
		}
	}

	out, err := os.OpenFile(req.Dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Reason: ReasonWrite, Err: err}
	}

	// Read one byte past the cap so an oversize chunked body is detected
	// without buffering it.
	var body io.Reader = resp.Body
	if req.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, req.MaxBytes+1)
	}
	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()

	var fetchErr *FetchError
	switch {
	case copyErr != nil:
		fetchErr = classify(ctx, req.URL, copyErr)
	case req.MaxBytes > 0 && n > req.MaxBytes:
		fetchErr = &FetchError{
			URL:    req.URL,
			Reason: ReasonTooLarge,
			Err:    fmt.Errorf("%w: more than %d bytes", ErrTooLarge, req.MaxBytes),
		}
	case closeErr != nil:
		fetchErr = &FetchError{URL: req.URL, Reason: ReasonWrite, Err: closeErr}
	case n == 0:
		fetchErr = &FetchError{URL: req.URL, Reason: ReasonEmpty, Err: errors.New("empty body")}
	}
	if fetchErr != nil {
		os.Remove(req.Dest)
		return nil, fetchErr
	}

	elapsed := time.Since(start)
	c.logger.Debug("fetched source",
		"url", logging.SanitizeURL(req.URL),
		"bytes", n,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &File{Path: req.Dest, Size: n, URL: req.URL, Duration: elapsed}, nil
}

func classify(ctx context.Context, rawURL string, err error) *FetchError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{URL: rawURL, Reason: ReasonTimeout, Err: err}
	}
	return &FetchError{URL: rawURL, Reason: ReasonNetwork, Err: err}
}
