// Package zkc obtains the external zero-knowledge compiler and runs it on a
// contract's ZK computation source.
//
// Compiler bundles are cached on disk keyed by version and URL:
//
//	<dir>/
//	  <version>/
//	    <blake3(url)[:16]>/
//	      compiler.jar
//	      compiler.jar.blake3
//
// A cached bundle is trusted only while its sidecar digest matches.
package zkc

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
	"github.com/papapumpkin/pbcbuild/internal/telemetry"
)

// BundleName is the file name of a cached compiler bundle.
const BundleName = "compiler.jar"

const sidecarSuffix = ".blake3"

// Fetch defaults.
const (
	DefaultRetries = 3
	DefaultBackoff = 500 * time.Millisecond
	DefaultTimeout = 5 * time.Minute
)

// Cache stores compiler bundles and fetches missing ones. It is safe for
// concurrent use; concurrent Ensure calls for the same key share one
// download.
type Cache struct {
	Dir     string
	Client  *http.Client
	Retries int
	Backoff time.Duration
	Logger  io.Writer // nil = os.Stderr
	Verbose bool
	// Telemetry receives fetch and cache_hit events; nil disables them.
	Telemetry *telemetry.Emitter

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
	seq     int
	fetches atomic.Int64
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCache returns a cache rooted at dir with default fetch settings.
func NewCache(dir string) *Cache {
	return &Cache{
		Dir:     dir,
		Client:  &http.Client{Timeout: DefaultTimeout},
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
	}
}

// DefaultDir returns the per-user cache directory for compiler bundles.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pbcbuild", "zkcompiler")
	}
	return filepath.Join(os.TempDir(), "pbcbuild", "zkcompiler")
}

// Fetches reports how many bundles this cache has downloaded.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache) logger() io.Writer {
	if c.Logger != nil {
		return c.Logger
	}
	return os.Stderr
}

func (c *Cache) logf(format string, args ...any) {
	if c.Verbose {
		fmt.Fprintf(c.logger(), "[zkc] "+format+"\n", args...)
	}
}

// Key returns the cache key for ref: "<version>/<blake3(url)[:16]>".
func Key(ref *manifest.CompilerRef) (string, error) {
	if ref == nil || ref.URL == "" || ref.Version == "" {
		return "", fmt.Errorf("%w: url and version are required", ErrInvalidRef)
	}
	v := ref.Version
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return "", fmt.Errorf("%w: version %q cannot name a cache directory", ErrInvalidRef, v)
	}
	sum := blake3.Sum256([]byte(ref.URL))
	return path.Join(v, hex.EncodeToString(sum[:8])), nil
}

// BundlePath returns where ref's bundle lives in the cache, whether or not
// it has been fetched.
func (c *Cache) BundlePath(ref *manifest.CompilerRef) (string, error) {
	key, err := Key(ref)
	if err != nil {
		return "", err
	}
	return c.bundlePath(key), nil
}

func (c *Cache) bundlePath(key string) string {
	return filepath.Join(c.Dir, filepath.FromSlash(key), BundleName)
}

// Ensure returns the path of a verified bundle for ref, downloading it
// when it is missing or fails verification. Callers that join an
// in-flight download share its outcome. A caller whose ctx ends stops
// waiting without affecting the others; the download itself is abandoned
// only once every caller has gone.
func (c *Cache) Ensure(ctx context.Context, ref *manifest.CompilerRef) (string, error) {
	key, err := Key(ref)
	if err != nil {
		return "", err
	}
	bundle := c.bundlePath(key)
	if err := c.check(bundle, ref.Checksum); err == nil {
		c.Telemetry.Record(telemetry.KindCacheHit, "", "", "", map[string]string{
			"url": ref.URL, "version": ref.Version,
		})
		return bundle, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		c.logf("cached bundle %s rejected: %v", bundle, err)
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.group.DoChan(f.id, func() (any, error) {
		// An earlier flight for this key may have completed since the check above.
		if c.check(bundle, ref.Checksum) == nil {
			return nil, nil
		}
		return nil, c.fetch(f.ctx, ref, filepath.Dir(bundle))
	})
	select {
	case <-ctx.Done():
		return "", &CompilerFetchError{URL: ref.URL, Version: ref.Version, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return bundle, nil
	}
}

// flight is the context shared by every caller waiting on one key. Each
// flight has its own singleflight id, so an abandoned download is never
// joined by a later caller.
type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f := c.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.seq++
		f = &flight{id: fmt.Sprintf("%s#%d", key, c.seq), ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// check verifies bundle against its sidecar and, when set, the pinned
// checksum.
func (c *Cache) check(bundle, pinned string) error {
	want, err := readSidecar(bundle)
	if err != nil {
		return err
	}
	f, err := os.Open(bundle)
	if err != nil {
		return err
	}
	defer f.Close()

	h := newHashes(pinned)
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("reading %s: %w", bundle, err)
	}
	if got := h.digest(); got != want {
		return fmt.Errorf("%w: %s has digest %s, sidecar records %s", ErrChecksumMismatch, bundle, got, want)
	}
	return h.checkPin()
}

func readSidecar(bundle string) (artifact.Digest, error) {
	raw, err := os.ReadFile(bundle + sidecarSuffix)
	if err != nil {
		return artifact.Digest{}, err
	}
	d, err := artifact.ParseDigest(strings.TrimSpace(string(raw)))
	if err != nil {
		return artifact.Digest{}, fmt.Errorf("%w: sidecar for %s: %v", ErrChecksumMismatch, bundle, err)
	}
	return d, nil
}

// fetch downloads ref into entry, retrying transient failures with
// exponential backoff.
func (c *Cache) fetch(ctx context.Context, ref *manifest.CompilerRef, entry string) error {
	if err := os.MkdirAll(entry, 0o755); err != nil {
		return &CompilerFetchError{URL: ref.URL, Version: ref.Version, Err: err}
	}

	backoff := cmp.Or(c.Backoff, DefaultBackoff)
	for attempt := 1; ; attempt++ {
		c.logf("fetching %s (attempt %d)", ref.URL, attempt)
		n, err := c.download(ctx, ref, entry)
		if err == nil {
			c.fetches.Add(1)
			c.Telemetry.Record(telemetry.KindFetch, "", "", "", map[string]any{
				"url": ref.URL, "version": ref.Version, "bytes": n, "attempts": attempt,
			})
			return nil
		}
		if !transient(err) || attempt > c.Retries {
			return &CompilerFetchError{URL: ref.URL, Version: ref.Version, Attempts: attempt, Err: err}
		}
		delay := backoff << (attempt - 1)
		c.logf("fetch failed: %v; retrying in %s", err, delay)
		if err := c.wait(ctx, delay); err != nil {
			return &CompilerFetchError{URL: ref.URL, Version: ref.Version, Attempts: attempt, Err: err}
		}
	}
}

// download performs one GET and publishes the bundle with an atomic
// rename, followed by its sidecar.
func (c *Cache) download(ctx context.Context, ref *manifest.CompilerRef, entry string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return 0, err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	tmp, err := os.CreateTemp(entry, BundleName+".part-")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	h := newHashes(ref.Checksum)
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := h.checkPin(); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}

	bundle := filepath.Join(entry, BundleName)
	if err := os.Rename(tmpName, bundle); err != nil {
		return n, err
	}
	committed = true
	if err := artifact.WriteFileAtomic(bundle+sidecarSuffix, []byte(h.digest().String()+"\n")); err != nil {
		return n, err
	}
	return n, nil
}

func (c *Cache) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// transient reports whether a failed download may succeed if repeated.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
