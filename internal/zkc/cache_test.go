package zkc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/pbcbuild/internal/manifest"
)

const bundleBody = "PK\x03\x04 fake zk compiler bundle"

// compilerHost serves a compiler bundle, answering with the queued status
// codes first and 200 afterwards.
type compilerHost struct {
	mu       sync.Mutex
	statuses []int
	delay    time.Duration
	hits     atomic.Int64
	body     string
}

func (h *compilerHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.hits.Add(1)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	status := http.StatusOK
	if len(h.statuses) > 0 {
		status, h.statuses = h.statuses[0], h.statuses[1:]
	}
	h.mu.Unlock()
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	_, _ = w.Write([]byte(h.body))
}

func startHost(t *testing.T, statuses ...int) (*compilerHost, *manifest.CompilerRef) {
	t.Helper()
	h := &compilerHost{statuses: statuses, body: bundleBody}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, &manifest.CompilerRef{
		URL:     srv.URL + "/zkcompiler/3.0.20/zkcompiler-3.0.20-jar-with-dependencies.jar",
		Version: "3.0.20",
	}
}

// newTestCache returns a cache whose backoff waits are recorded instead
// of slept.
func newTestCache(t *testing.T, retries int) (*Cache, *[]time.Duration) {
	t.Helper()
	c := NewCache(t.TempDir())
	c.Retries = retries
	c.Backoff = 10 * time.Millisecond
	var mu sync.Mutex
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return ctx.Err()
	}
	return c, &waits
}

func TestEnsure_ColdCacheFetchesOnce(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t)
	c, _ := newTestCache(t, 0)

	for i := range 3 {
		path, err := c.Ensure(context.Background(), ref)
		if err != nil {
			t.Fatalf("Ensure #%d: %v", i, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != bundleBody {
			t.Errorf("bundle = %q", data)
		}
	}
	if got := c.Fetches(); got != 1 {
		t.Errorf("Fetches() = %d, want 1", got)
	}
	if got := host.hits.Load(); got != 1 {
		t.Errorf("host hits = %d, want 1", got)
	}
}

func TestEnsure_ConcurrentCallsShareOneFetch(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t)
	host.delay = 50 * time.Millisecond
	c, _ := newTestCache(t, 0)

	const n = 16
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = c.Ensure(context.Background(), ref)
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("Ensure #%d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("path #%d = %s, want %s", i, paths[i], paths[0])
		}
	}
	if got := host.hits.Load(); got != 1 {
		t.Errorf("host hits = %d, want 1", got)
	}
}

func TestEnsure_SharedAcrossCaches(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t)
	dir := t.TempDir()

	first := NewCache(dir)
	if _, err := first.Ensure(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	second := NewCache(dir)
	if _, err := second.Ensure(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if second.Fetches() != 0 || host.hits.Load() != 1 {
		t.Errorf("second cache fetched again: fetches=%d hits=%d", second.Fetches(), host.hits.Load())
	}
}

func TestEnsure_CorruptedBundleIsRefetched(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t)
	c, _ := newTestCache(t, 0)

	path, err := c.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Ensure(context.Background(), ref); err != nil {
		t.Fatalf("Ensure after corruption: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != bundleBody {
		t.Errorf("bundle not restored: %q", data)
	}
	if got := host.hits.Load(); got != 2 {
		t.Errorf("host hits = %d, want 2", got)
	}
}

func TestEnsure_MissingSidecarIsRefetched(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t)
	c, _ := newTestCache(t, 0)

	path, err := c.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path + sidecarSuffix); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ensure(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if got := host.hits.Load(); got != 2 {
		t.Errorf("host hits = %d, want 2", got)
	}
}

func TestEnsure_FetchFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		statuses     []int
		retries      int
		wantErr      bool
		wantHits     int64
		wantAttempts int
		wantWaits    []time.Duration
	}{
		{
			name:         "not found is permanent",
			statuses:     []int{http.StatusNotFound},
			retries:      3,
			wantErr:      true,
			wantHits:     1,
			wantAttempts: 1,
		},
		{
			name:         "forbidden is permanent",
			statuses:     []int{http.StatusForbidden},
			retries:      3,
			wantErr:      true,
			wantHits:     1,
			wantAttempts: 1,
		},
		{
			name:      "server errors are retried with backoff",
			statuses:  []int{http.StatusServiceUnavailable, http.StatusBadGateway},
			retries:   3,
			wantHits:  3,
			wantWaits: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:      "rate limit is retried",
			statuses:  []int{http.StatusTooManyRequests},
			retries:   1,
			wantHits:  2,
			wantWaits: []time.Duration{10 * time.Millisecond},
		},
		{
			name:         "retries exhausted",
			statuses:     []int{500, 500, 500, 500},
			retries:      2,
			wantErr:      true,
			wantHits:     3,
			wantAttempts: 3,
			wantWaits:    []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, ref := startHost(t, tt.statuses...)
			c, waits := newTestCache(t, tt.retries)

			path, err := c.Ensure(context.Background(), ref)
			if got := host.hits.Load(); got != tt.wantHits {
				t.Errorf("host hits = %d, want %d", got, tt.wantHits)
			}
			if diff := cmp.Diff(tt.wantWaits, *waits); diff != "" {
				t.Errorf("backoff waits mismatch (-want +got):\n%s", diff)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Ensure: %v", err)
				}
				if c.Fetches() != 1 {
					t.Errorf("Fetches() = %d, want 1", c.Fetches())
				}
				return
			}

			var fErr *CompilerFetchError
			if !errors.As(err, &fErr) {
				t.Fatalf("expected *CompilerFetchError, got %T: %v", err, err)
			}
			if fErr.URL != ref.URL || fErr.Version != ref.Version || fErr.Attempts != tt.wantAttempts {
				t.Errorf("error = %+v", fErr)
			}
			if !errors.Is(err, ErrCompilerFetch) {
				t.Error("error should wrap ErrCompilerFetch")
			}
			if path != "" {
				t.Errorf("path = %q on failure", path)
			}
			bundle, _ := c.BundlePath(ref)
			if _, statErr := os.Stat(bundle); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("failed fetch left a bundle behind: %v", statErr)
			}
		})
	}
}

func TestEnsure_UnreachableHost(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/zkcompiler/3.0.20/compiler.jar"
	srv.Close()

	c, waits := newTestCache(t, 1)
	_, err := c.Ensure(context.Background(), &manifest.CompilerRef{URL: url, Version: "3.0.20"})
	var fErr *CompilerFetchError
	if !errors.As(err, &fErr) {
		t.Fatalf("expected *CompilerFetchError, got %T: %v", err, err)
	}
	if fErr.Attempts != 2 || len(*waits) != 1 {
		t.Errorf("network errors should be retried: attempts=%d waits=%v", fErr.Attempts, *waits)
	}
}

func TestEnsure_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	host, ref := startHost(t, 503, 503, 503)
	c := NewCache(t.TempDir())
	c.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Ensure(ctx, ref)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if host.hits.Load() != 1 {
		t.Errorf("host hits = %d, want 1", host.hits.Load())
	}
}

func TestEnsure_PinnedChecksum(t *testing.T) {
	t.Parallel()
	sum := sha256.Sum256([]byte(bundleBody))
	good := "sha256:" + hex.EncodeToString(sum[:])
	bad := "sha256:" + hex.EncodeToString(make([]byte, 32))

	t.Run("match", func(t *testing.T) {
		t.Parallel()
		_, ref := startHost(t)
		ref.Checksum = good
		c, _ := newTestCache(t, 0)
		if _, err := c.Ensure(context.Background(), ref); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		// A cache hit re-verifies the pin.
		if _, err := c.Ensure(context.Background(), ref); err != nil || c.Fetches() != 1 {
			t.Fatalf("second Ensure: err=%v fetches=%d", err, c.Fetches())
		}
	})

	t.Run("mismatch is not retried", func(t *testing.T) {
		t.Parallel()
		host, ref := startHost(t)
		ref.Checksum = bad
		c, _ := newTestCache(t, 3)
		_, err := c.Ensure(context.Background(), ref)
		if !errors.Is(err, ErrChecksumMismatch) || !errors.Is(err, ErrCompilerFetch) {
			t.Fatalf("got %v, want checksum mismatch fetch error", err)
		}
		if host.hits.Load() != 1 {
			t.Errorf("host hits = %d, want 1", host.hits.Load())
		}
	})

	t.Run("blake3 pin", func(t *testing.T) {
		t.Parallel()
		_, ref := startHost(t)
		c, _ := newTestCache(t, 0)
		path, err := c.Ensure(context.Background(), ref)
		if err != nil {
			t.Fatal(err)
		}
		d, err := readSidecar(path)
		if err != nil {
			t.Fatal(err)
		}
		pinned := *ref
		pinned.Checksum = "blake3:" + d.String()
		if _, err := c.Ensure(context.Background(), &pinned); err != nil {
			t.Errorf("Ensure with blake3 pin: %v", err)
		}
	})
}
