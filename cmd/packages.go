package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/papapumpkin/pbcbuild/internal/build"
)

// resolvePackages turns command arguments into absolute package
// directories. With workspace set each argument is expanded with
// build.Discover. Duplicates are dropped; order is preserved.
func resolvePackages(args []string, workspace bool) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		if !workspace {
			add(abs)
			continue
		}
		found, err := build.Discover(abs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		for _, dir := range found {
			add(dir)
		}
	}
	return dirs, nil
}
