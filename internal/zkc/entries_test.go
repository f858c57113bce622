package zkc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/pbcbuild/internal/manifest"
)

func TestKey(t *testing.T) {
	t.Parallel()

	a, err := Key(&manifest.CompilerRef{URL: "https://host/c/3.0.20/c.jar", Version: "3.0.20"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Key(&manifest.CompilerRef{URL: "https://host/c/3.0.20/c.jar", Version: "3.0.20"})
	c, _ := Key(&manifest.CompilerRef{URL: "https://mirror/c/3.0.20/c.jar", Version: "3.0.20"})
	if a != b {
		t.Errorf("same ref produced keys %s and %s", a, b)
	}
	if a == c {
		t.Error("different URLs share a key")
	}
	if filepath.Dir(filepath.FromSlash(a)) != "3.0.20" || len(filepath.Base(a)) != 16 {
		t.Errorf("key = %s, want 3.0.20/<16 hex>", a)
	}

	for _, ref := range []*manifest.CompilerRef{
		nil,
		{URL: "https://host/c.jar"},
		{URL: "https://host/c.jar", Version: ".."},
		{URL: "https://host/c.jar", Version: "3.0/../../etc"},
	} {
		if _, err := Key(ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Key(%+v) = %v, want ErrInvalidRef", ref, err)
		}
	}
}

func TestCache_ListVerifyClean(t *testing.T) {
	t.Parallel()
	_, ref := startHost(t)
	_, newer := startHost(t)
	newer.URL = newer.URL + "/v3.1.0"
	newer.Version = "3.1.0"

	c, _ := newTestCache(t, 0)
	for _, r := range []*manifest.CompilerRef{ref, newer} {
		if _, err := c.Ensure(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	var versions []string
	for _, e := range entries {
		versions = append(versions, e.Version)
	}
	if diff := cmp.Diff([]string{"3.1.0", "3.0.20"}, versions); diff != "" {
		t.Errorf("List versions mismatch (-want +got):\n%s", diff)
	}

	// Corrupt the older bundle; Verify must flag only that one.
	if err := os.WriteFile(entries[1].Path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	results, err := c.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Err != nil {
		t.Errorf("intact bundle failed verification: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrChecksumMismatch) {
		t.Errorf("corrupt bundle: %v, want ErrChecksumMismatch", results[1].Err)
	}

	n, err := c.Clean()
	if err != nil || n != 2 {
		t.Fatalf("Clean() = %d, %v", n, err)
	}
	if entries, _ := c.List(); len(entries) != 0 {
		t.Errorf("cache not empty after Clean: %v", entries)
	}
}

func TestCache_CleanMissingDir(t *testing.T) {
	t.Parallel()
	c := NewCache(filepath.Join(t.TempDir(), "absent"))
	if n, err := c.Clean(); err != nil || n != 0 {
		t.Errorf("Clean() = %d, %v", n, err)
	}
}
