// Package fetch downloads remote resources through a bounded worker pool,
// retrying transient failures with a fixed backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultConcurrency    = 10
	DefaultMaxAttempts    = 5
	DefaultTimeout        = 8 * time.Second
	DefaultNetworkBackoff = 3 * time.Second
	DefaultStatusBackoff  = 100 * time.Millisecond
	DefaultMaxBodyBytes   = 32 << 20
)

// ErrMalformedURL is set on responses whose URL cannot be requested at all.
var ErrMalformedURL = errors.New("malformed url")

// Options controls retry and concurrency behavior. Zero values take defaults.
type Options struct {
	Concurrency    int
	MaxAttempts    int
	Timeout        time.Duration
	NetworkBackoff time.Duration
	StatusBackoff  time.Duration
	MaxBodyBytes   int64
	UserAgent      string
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.NetworkBackoff < 0 {
		o.NetworkBackoff = 0
	}
	if o.StatusBackoff < 0 {
		o.StatusBackoff = 0
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Response is the final outcome for one URL. Err is set when the last attempt
// failed before a status was received.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Err        error
	Attempts   int
}

// OK reports whether the resource was fetched with status 200.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && r.StatusCode == http.StatusOK
}

// Fetcher fetches URLs with bounded concurrency and per-URL retries.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client. The per-attempt timeout is still
// applied through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher creates a fetcher.
func NewFetcher(opts Options, options ...Option) *Fetcher {
	opts.applyDefaults()
	f := &Fetcher{
		opts:   opts,
		client: &http.Client{},
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f
}

// FetchAll fetches every URL and returns one response per input position, in
// input order. At most Concurrency requests are in flight at once.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []*Response {
	responses := make([]*Response, len(urls))
	if len(urls) == 0 {
		return responses
	}

	jobs := make(chan int)
	workers := min(f.opts.Concurrency, len(urls))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				responses[i] = f.Fetch(ctx, urls[i])
			}
		}()
	}

	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return responses
}

// Fetch retrieves a single URL. Network errors are retried after
// NetworkBackoff; statuses other than 200, 403 and 404 are retried after
// StatusBackoff. After MaxAttempts tries the last outcome is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Response {
	resp := &Response{URL: rawURL}
	if err := validateURL(rawURL); err != nil {
		resp.Err = err
		f.logger.Debug("Skipping malformed URL", zap.String("url", rawURL), zap.Error(err))
		return resp
	}

	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		resp.Attempts = attempt
		status, body, err := f.do(ctx, rawURL)

		var backoff time.Duration
		switch {
		case err != nil:
			resp.StatusCode, resp.Body, resp.Err = 0, nil, err
			if ctx.Err() != nil {
				return resp
			}
			f.logger.Debug("Retrying fetch due to network error",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
			backoff = f.opts.NetworkBackoff
		case isTerminalStatus(status):
			resp.StatusCode, resp.Body, resp.Err = status, body, nil
			return resp
		default:
			resp.StatusCode, resp.Body, resp.Err = status, body, nil
			f.logger.Debug("Retrying fetch due to status code",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Int("status", status))
			backoff = f.opts.StatusBackoff
		}

		if attempt == f.opts.MaxAttempts {
			break
		}
		if !sleep(ctx, backoff) {
			if resp.Err == nil {
				resp.Err = ctx.Err()
			}
			return resp
		}
	}

	f.logger.Debug("Fetch attempts exhausted",
		zap.String("url", rawURL), zap.Int("attempts", resp.Attempts), zap.Int("status", resp.StatusCode))
	return resp
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read body: %w", err)
	}
	return httpResp.StatusCode, body, nil
}

func isTerminalStatus(status int) bool {
	switch status {
	case http.StatusOK, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrMalformedURL)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
