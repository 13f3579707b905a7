package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.StillProcessingMax == 0 {
		opts.StillProcessingMax = 2 * time.Second
	}
	opts.SSLVerify = true
	f, err := New(opts, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("creating fetcher: %v", err)
	}
	return f
}

func TestNewDefaultsStillProcessingBudget(t *testing.T) {
	f, err := New(Options{Timeout: time.Second, SSLVerify: true},
		slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("creating fetcher: %v", err)
	}
	if f.opts.StillProcessingMax <= 0 {
		t.Error("zero still-processing budget must not mean retry forever")
	}
}

func TestFetchSpoolsAndHashes(t *testing.T) {
	body := "id,name\n1,alice\n2,bob\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := testFetcher(t, Options{})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(res.Path)

	if !res.ContainsAllRecords {
		t.Error("expected a complete download")
	}
	if res.Size != int64(len(body)) {
		t.Errorf("size = %d, want %d", res.Size, len(body))
	}
	sum := sha256.Sum256([]byte(body))
	if res.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("hash = %s, want %s", res.SHA256, hex.EncodeToString(sum[:]))
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("reading spool file: %v", err)
	}
	if string(got) != body {
		t.Errorf("spooled content = %q, want %q", got, body)
	}
}

func TestFetchRejectsScheme(t *testing.T) {
	f := testFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), "file:///etc/passwd")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("error = %v, want ErrUnsupportedScheme", err)
	}
}

func TestFetchSizeCapWithoutExcerpt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxContentLength: 100})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrDataTooBig) {
		t.Fatalf("error = %v, want ErrDataTooBig", err)
	}
}

func TestFetchSizeCapWithExcerpt(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("%d,row-%d", i, i))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Join(lines, "\n"))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxContentLength: 50, MaxExcerptLines: 10})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(res.Path)

	if res.ContainsAllRecords {
		t.Error("excerpt must be flagged partial")
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("reading excerpt: %v", err)
	}
	n := strings.Count(string(got), "\n")
	if n != 10 {
		t.Errorf("excerpt lines = %d, want 10", n)
	}
}

func TestFetchStillProcessingRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		fmt.Fprint(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	f := testFetcher(t, Options{StillProcessingMax: 10 * time.Second})
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(res.Path)

	if calls.Load() < 3 {
		t.Errorf("calls = %d, want at least 3", calls.Load())
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(t, Options{})
	_, err := f.Fetch(context.Background(), srv.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", httpErr.Status)
	}
	if !strings.Contains(httpErr.Body, "gone fishing") {
		t.Errorf("body = %q, want response text", httpErr.Body)
	}
}

func TestFetchContentLengthHeaderCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5000")
		fmt.Fprint(w, strings.Repeat("y", 5000))
	}))
	defer srv.Close()

	f := testFetcher(t, Options{MaxContentLength: 1000})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrDataTooBig) {
		t.Fatalf("error = %v, want ErrDataTooBig", err)
	}
}
