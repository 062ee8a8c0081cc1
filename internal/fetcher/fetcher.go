// Package fetcher retrieves files from untrusted remote sources, either via
// a direct URL or a multi-step authenticated flow against a file-transfer
// service. Large or unknown-size payloads stream to a scoped temp file
// instead of buffering in memory.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultSizeThreshold switches fetches to streaming mode
	DefaultSizeThreshold = 50 * 1024 * 1024

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second)
	DefaultRateLimit = 10
)

// Mode selects how fetched bytes are held
type Mode int

const (
	// ModeAuto picks streaming when the probed size exceeds the threshold
	// or is unknown
	ModeAuto Mode = iota
	ModeInMemory
	ModeStreaming
)

// Fetcher downloads remote resources with rate limiting and scoped temp files
type Fetcher struct {
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        arbor.ILogger
	sizeThreshold int64
	maxBodyBytes  int64
	tempDir       string
	userAgent     string
}

// Option configures the Fetcher
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithSizeThreshold sets the in-memory/streaming cutover in bytes
func WithSizeThreshold(threshold int64) Option {
	return func(f *Fetcher) {
		if threshold > 0 {
			f.sizeThreshold = threshold
		}
	}
}

// WithMaxBodyBytes caps response bodies; 0 disables the cap
func WithMaxBodyBytes(max int64) Option {
	return func(f *Fetcher) {
		f.maxBodyBytes = max
	}
}

// WithRateLimit sets the request rate in requests per second
func WithRateLimit(rps int) Option {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

// WithTempDir sets the scratch directory for streamed downloads
func WithTempDir(dir string) Option {
	return func(f *Fetcher) {
		f.tempDir = dir
	}
}

// WithUserAgent sets the User-Agent header on outgoing requests
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// New creates a Fetcher with a cookie-jar client so multi-step authenticated
// flows keep their session between requests.
func New(opts ...Option) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: DefaultTimeout,
		},
		limiter:       rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		sizeThreshold: DefaultSizeThreshold,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = arbor.NewLogger()
	}
	return f, nil
}

// ProbeSize asks the remote for the payload size without downloading it.
// The second return is false when the size is unknown; callers must
// tolerate that.
func (f *Fetcher) ProbeSize(ctx context.Context, url string) (int64, bool) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug().Err(err).Str("url", url).Msg("Size probe failed")
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.ContentLength < 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

// Fetch downloads url into a LocalFile. With ModeAuto the size probe picks
// the mode: streaming for payloads over the threshold or of unknown size.
// The scoped temp file is removed on every failure path; on success the
// caller owns it via LocalFile.Cleanup.
func (f *Fetcher) Fetch(ctx context.Context, url string, mode Mode) (*LocalFile, error) {
	if mode == ModeAuto {
		size, known := f.ProbeSize(ctx, url)
		if !known || size > f.sizeThreshold {
			mode = ModeStreaming
		} else {
			mode = ModeInMemory
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch url: %w", err)
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body := resp.Body
	var reader io.Reader = body
	if f.maxBodyBytes > 0 {
		// Read one byte past the cap so an oversized payload is detected
		// and rejected rather than silently clipped
		reader = io.LimitReader(body, f.maxBodyBytes+1)
	}

	declared := resp.ContentLength
	var local *LocalFile
	if mode == ModeStreaming {
		local, err = f.streamToFile(reader)
	} else {
		local, err = f.bufferInMemory(reader)
	}
	if err != nil {
		return nil, err
	}

	if f.maxBodyBytes > 0 && local.Size > f.maxBodyBytes {
		local.Cleanup()
		return nil, fmt.Errorf("download exceeds the %d byte body cap", f.maxBodyBytes)
	}

	// Declared sizes from untrusted remotes are advisory only
	if declared >= 0 && declared != local.Size {
		f.logger.Warn().
			Str("url", url).
			Int64("declared", declared).
			Int64("actual", local.Size).
			Msg("Fetched size differs from declared size")
	}

	f.logger.Debug().
		Str("url", url).
		Int64("bytes", local.Size).
		Bool("streamed", mode == ModeStreaming).
		Msg("Fetch complete")
	return local, nil
}

func (f *Fetcher) streamToFile(r io.Reader) (*LocalFile, error) {
	tmp, err := os.CreateTemp(f.tempDir, "mixforge-fetch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		// Never leak the temp file on a failed download
		os.Remove(tmp.Name())
		if err == nil {
			err = closeErr
		}
		return nil, fmt.Errorf("failed to stream download: %w", err)
	}

	return &LocalFile{Path: tmp.Name(), Size: n}, nil
}

func (f *Fetcher) bufferInMemory(r io.Reader) (*LocalFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	return &LocalFile{Size: int64(len(data)), data: data}, nil
}

func (f *Fetcher) setHeaders(req *http.Request) {
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
}
