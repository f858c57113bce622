package zkc

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/blang/semver/v4"
)

// Entry is one cached bundle.
type Entry struct {
	Key     string
	Version string
	Path    string
	Size    int64
	ModTime time.Time
}

// List returns every cached bundle, newest version first.
func (c *Cache) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "*", "*", BundleName))
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entryDir := filepath.Dir(m)
		version := filepath.Base(filepath.Dir(entryDir))
		entries = append(entries, Entry{
			Key:     path.Join(version, filepath.Base(entryDir)),
			Version: version,
			Path:    m,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if n := compareVersions(b.Version, a.Version); n != 0 {
			return n
		}
		return strings.Compare(a.Key, b.Key)
	})
	return entries, nil
}

func compareVersions(a, b string) int {
	va, errA := semver.ParseTolerant(a)
	vb, errB := semver.ParseTolerant(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return strings.Compare(a, b)
}

// VerifyResult is the outcome of verifying one cached bundle.
type VerifyResult struct {
	Entry Entry
	Err   error
}

// Verify rechecks every cached bundle against its sidecar.
func (c *Cache) Verify() ([]VerifyResult, error) {
	entries, err := c.List()
	if err != nil {
		return nil, err
	}
	results := make([]VerifyResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, VerifyResult{Entry: e, Err: c.check(e.Path, "")})
	}
	return results, nil
}

// Clean removes every cached bundle and returns how many were removed.
func (c *Cache) Clean() (int, error) {
	entries, err := c.List()
	if err != nil {
		return 0, err
	}
	versions, err := os.ReadDir(c.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cleaning cache: %w", err)
	}
	for _, v := range versions {
		if err := os.RemoveAll(filepath.Join(c.Dir, v.Name())); err != nil {
			return 0, fmt.Errorf("cleaning cache: %w", err)
		}
	}
	return len(entries), nil
}
