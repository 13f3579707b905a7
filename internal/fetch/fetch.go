// Package fetch materializes remote resources as local spool files with
// bounded disk use and integrity hashing.
package fetch

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	spoolChunkSize = 16 << 10
	errorBodyLimit = 4 << 10
)

var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"ftp":   {},
}

// Options configures a Fetcher.
type Options struct {
	// MaxContentLength caps the download size in bytes. Zero means no cap.
	MaxContentLength int64
	// MaxExcerptLines enables excerpt fallback for oversized sources when
	// positive: instead of failing, the fetcher captures the first N lines.
	MaxExcerptLines int
	// MaxExcerptBytes is the byte ceiling for an excerpt.
	MaxExcerptBytes int64
	// Timeout is the per-connection timeout, distinct from the job timeout.
	Timeout time.Duration
	// StillProcessingMax caps the total wait across "still processing"
	// retries. Zero selects a two minute default.
	StillProcessingMax time.Duration
	ProxyURL           string
	SSLVerify          bool
}

// Result is a completed download spooled to local disk. The caller owns the
// file and removes it when done.
type Result struct {
	Path               string
	SHA256             string
	Size               int64
	ContentType        string
	ContainsAllRecords bool
}

// Fetcher downloads resources over HTTP with size caps and hashing.
type Fetcher struct {
	client *http.Client
	opts   Options
	log    *slog.Logger
}

func New(opts Options, log *slog.Logger) (*Fetcher, error) {
	if opts.StillProcessingMax <= 0 {
		// MaxElapsedTime zero would retry a 202-looping source forever.
		opts.StillProcessingMax = 2 * time.Minute
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.SSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &Fetcher{
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
		opts:   opts,
		log:    log,
	}, nil
}

// Fetch streams the resource at rawURL into a temporary file, hashing as it
// goes. Oversized sources fall back to an excerpt when configured, with
// ContainsAllRecords set to false.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parsing resource URL: %w", err)
	}
	if _, ok := allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	resp, err := f.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	if f.opts.MaxContentLength > 0 && resp.ContentLength > f.opts.MaxContentLength {
		resp.Body.Close()
		return f.excerptOrFail(ctx, u.String(), resp.Header.Get("Content-Type"))
	}

	res, err := f.spool(resp)
	if errors.Is(err, ErrDataTooBig) {
		return f.excerptOrFail(ctx, u.String(), resp.Header.Get("Content-Type"))
	}
	return res, err
}

// get performs the request, retrying "still processing" (202) responses with
// exponential backoff up to the configured total wait.
func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = f.opts.StillProcessingMax

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := f.client.Do(req)
		if err != nil {
			if isTimeout(err) {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrTimeout, url))
			}
			return backoff.Permanent(fmt.Errorf("fetching %s: %w", url, err))
		}
		if r.StatusCode == http.StatusAccepted {
			r.Body.Close()
			f.log.Info("source still processing, retrying", "url", url)
			return fmt.Errorf("still processing: %s", url)
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, errorBodyLimit))
			r.Body.Close()
			return backoff.Permanent(&HTTPError{URL: url, Status: r.StatusCode, Body: string(body)})
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// spool streams the body into a temp file in fixed-size chunks, hashing and
// counting bytes. Exceeding the cap mid-stream aborts with ErrDataTooBig.
func (f *Fetcher) spool(resp *http.Response) (*Result, error) {
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "tabload-*.spool")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	defer tmp.Close()

	hash := sha256.New()
	var size int64
	chunk := make([]byte, spoolChunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			size += int64(n)
			if f.opts.MaxContentLength > 0 && size > f.opts.MaxContentLength {
				os.Remove(tmp.Name())
				return nil, fmt.Errorf("%w: read %d bytes, cap %d", ErrDataTooBig, size, f.opts.MaxContentLength)
			}
			hash.Write(chunk[:n])
			if _, werr := tmp.Write(chunk[:n]); werr != nil {
				os.Remove(tmp.Name())
				return nil, fmt.Errorf("writing spool file: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			os.Remove(tmp.Name())
			if isTimeout(err) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, resp.Request.URL)
			}
			return nil, fmt.Errorf("reading response body: %w", err)
		}
	}

	return &Result{
		Path:               tmp.Name(),
		SHA256:             hex.EncodeToString(hash.Sum(nil)),
		Size:               size,
		ContentType:        resp.Header.Get("Content-Type"),
		ContainsAllRecords: true,
	}, nil
}

// excerptOrFail re-downloads an oversized source and keeps only a bounded
// prefix of lines, or fails with ErrDataTooBig when excerpting is disabled.
func (f *Fetcher) excerptOrFail(ctx context.Context, url, contentType string) (*Result, error) {
	if f.opts.MaxExcerptLines <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrDataTooBig, url)
	}
	f.log.Info("source too large, capturing excerpt",
		"url", url, "max_lines", f.opts.MaxExcerptLines)

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "tabload-*.excerpt")
	if err != nil {
		return nil, fmt.Errorf("creating excerpt file: %w", err)
	}
	defer tmp.Close()

	hash := sha256.New()
	var size int64
	lines := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, spoolChunkSize), int(f.excerptByteCap()))
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if size+int64(len(line)) > f.excerptByteCap() {
			break
		}
		size += int64(len(line))
		hash.Write(line)
		if _, werr := tmp.Write(line); werr != nil {
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("writing excerpt file: %w", werr)
		}
		lines++
		if lines >= f.opts.MaxExcerptLines {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("reading excerpt: %w", err)
	}

	return &Result{
		Path:               tmp.Name(),
		SHA256:             hex.EncodeToString(hash.Sum(nil)),
		Size:               size,
		ContentType:        contentType,
		ContainsAllRecords: false,
	}, nil
}

func (f *Fetcher) excerptByteCap() int64 {
	if f.opts.MaxExcerptBytes > 0 {
		return f.opts.MaxExcerptBytes
	}
	return 1 << 20
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}
