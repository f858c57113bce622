package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// File is one output destined for the build output directory.
type File struct {
	Name string
	Data []byte
}

// WriteAll publishes files into dir. Every file is first written into a
// staging directory created inside dir (same filesystem), and only after
// all of them are on disk are they renamed into place. A failure before
// the rename phase leaves dir untouched. Names in stale that the new set
// does not include are removed once the renames are done.
func WriteAll(dir string, files []File, stale ...string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	staging, err := os.MkdirTemp(dir, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, f := range files {
		if err := writeFileSync(filepath.Join(staging, f.Name), f.Data); err != nil {
			return nil, fmt.Errorf("staging %s: %w", f.Name, err)
		}
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(dir, f.Name)
		if err := os.Rename(filepath.Join(staging, f.Name), dst); err != nil {
			return paths, fmt.Errorf("publishing %s: %w", f.Name, err)
		}
		paths = append(paths, dst)
	}

	for _, name := range stale {
		if slices.ContainsFunc(files, func(f File) bool { return f.Name == name }) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return paths, fmt.Errorf("removing stale %s: %w", name, err)
		}
	}
	return paths, nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
