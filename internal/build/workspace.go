package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/papapumpkin/pbcbuild/internal/manifest"
)

// Discover finds the contract packages under root. A workspace manifest
// contributes its member globs (minus excludes, plus the root package if
// it declares one); a plain package manifest is the only package; a
// directory without a manifest yields its immediate subdirectories that
// have one. Paths are returned sorted.
func Discover(root string) ([]string, error) {
	m, err := manifest.Load(root)
	switch {
	case err == nil && m.Workspace != nil:
		return workspaceMembers(root, m)
	case err == nil:
		return []string{root}, nil
	case !errors.Is(err, manifest.ErrNoManifest):
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if hasManifest(dir) {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoPackages)
	}
	return dirs, nil
}

func workspaceMembers(root string, m *manifest.Manifest) ([]string, error) {
	excluded := make(map[string]bool)
	for _, pattern := range m.Workspace.Exclude {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("workspace exclude %q: %w", pattern, err)
		}
		for _, match := range matches {
			excluded[filepath.Clean(match)] = true
		}
	}

	seen := make(map[string]bool)
	var dirs []string
	if m.Package.Name != "" {
		dirs = append(dirs, root)
		seen[filepath.Clean(root)] = true
	}
	for _, pattern := range m.Workspace.Members {
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("workspace member %q: %w", pattern, err)
		}
		for _, match := range matches {
			clean := filepath.Clean(match)
			if seen[clean] || excluded[clean] || !hasManifest(clean) {
				continue
			}
			seen[clean] = true
			dirs = append(dirs, clean)
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%s: workspace has no members: %w", root, ErrNoPackages)
	}
	slices.Sort(dirs)
	return dirs, nil
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, manifest.FileName))
	return err == nil && info.Mode().IsRegular()
}
