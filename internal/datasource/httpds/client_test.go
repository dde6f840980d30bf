package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"salesetl/internal/config"
)

// noSleep records requested backoffs without waiting.
func noSleep(got *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*got = append(*got, d)
		return ctx.Err()
	}
}

// TestGetRetriesTransientStatus verifies 503 and 429 are retried with
// doubling backoff and the body of the first 2xx is returned.
func TestGetRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
				t.Errorf("Authorization = %q, want bearer token", got)
			}
			_, _ = io.WriteString(w, "transaction_id\n1\n")
		}
	}))
	defer srv.Close()

	c := NewClient(config.SourceHTTP{MaxRetries: 3, BearerToken: "s3cret"}, nil)
	var waits []time.Duration
	c.sleep = noSleep(&waits)

	resp, err := c.Get(context.Background(), srv.URL+"/sales.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "transaction_id\n1\n" {
		t.Fatalf("body = %q", body)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	want := []time.Duration{defaultInitialBackoff, 2 * defaultInitialBackoff}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("backoffs = %v, want %v", waits, want)
	}
}

// TestGetFinalStatus verifies 4xx statuses are not retried and surface as
// *StatusError, and that retryable statuses stop after MaxRetries.
func TestGetFinalStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int32
	}{
		{"not found is final", http.StatusNotFound, 3, 1},
		{"forbidden is final", http.StatusForbidden, 3, 1},
		{"server error exhausts retries", http.StatusBadGateway, 2, 3},
		{"no retries configured", http.StatusInternalServerError, 0, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(config.SourceHTTP{MaxRetries: tt.retries}, nil)
			var waits []time.Duration
			c.sleep = noSleep(&waits)

			_, err := c.Get(context.Background(), srv.URL)
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.status {
				t.Fatalf("err = %v, want StatusError %d", err, tt.status)
			}
			if calls.Load() != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

// TestGetStopsOnCancel verifies a cancelled context aborts the backoff wait.
func TestGetStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(config.SourceHTTP{MaxRetries: 5}, nil)
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if _, err := c.Get(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{70, time.Second},
	}
	for _, tt := range tests {
		if got := backoff(100*time.Millisecond, tt.retry, time.Second); got != tt.want {
			t.Fatalf("backoff(retry=%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(config.SourceHTTP{MaxRetries: -2, InsecureSkipVerify: true}, nil)
	if c.httpClient.Timeout != defaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.httpClient.Timeout, defaultTimeout)
	}
	if c.maxRetries != 0 {
		t.Fatalf("maxRetries = %d, want 0", c.maxRetries)
	}
	tr, ok := c.httpClient.Transport.(*http.Transport)
	if !ok || tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("transport does not skip verification: %#v", c.httpClient.Transport)
	}
	if c.header.Get("Authorization") != "" {
		t.Fatalf("unexpected Authorization header without a token")
	}
}

// TestObjectOpen streams a remote extract through the Source interface.
func TestObjectOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sales_online.csv") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	obj := NewObject(NewClient(config.SourceHTTP{}, nil), srv.URL+"/exports/sales_online.csv")
	if obj.Name() != "sales_online.csv" {
		t.Fatalf("Name = %q", obj.Name())
	}
	rc, err := obj.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "a,b\n1,2\n" {
		t.Fatalf("body = %q", b)
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/exports/sales_store.csv", "sales_store.csv"},
		{"https://example.com/?channel=online&day=2025-03-15", "channel_online_day_2025_03_15"},
		{"https://example.com/", urlHash("https://example.com/")},
		{"://bad", urlHash("://bad")},
	}
	for _, tt := range tests {
		if got := FileName(tt.url); got != tt.want {
			t.Fatalf("FileName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
	if IsURL("s3://b/k") || !IsURL("https://x/y.csv") || !IsURL("http://x/y.csv") {
		t.Fatalf("IsURL misclassifies schemes")
	}
}
