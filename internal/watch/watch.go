// Package watch reports source changes in contract packages so builds can
// be re-run as files are edited.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a package must stay quiet before a change
// is reported.
const DefaultDebounce = 200 * time.Millisecond

// Change is a batch of edits to one package.
type Change struct {
	Package string   // package root
	Files   []string // changed paths, sorted
}

// Watcher monitors package directories using fsnotify. Build output
// directories are ignored.
type Watcher struct {
	Packages []string
	Debounce time.Duration
	Changes  <-chan Change

	changes chan Change
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a watcher for the given package roots.
func New(packages []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan Change, 16)
	return &Watcher{
		Packages: packages,
		Debounce: DefaultDebounce,
		Changes:  ch,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
	}, nil
}

// Start registers every package directory tree and begins watching.
// If Start fails the watcher is closed and Stop must not be called.
func (w *Watcher) Start() error {
	for _, pkg := range w.Packages {
		if err := w.addTree(pkg); err != nil {
			w.watcher.Close()
			return err
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.changes)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func ignoredDir(name string) bool {
	return name == "target" || strings.HasPrefix(name, ".")
}

// packageOf returns the watched package containing path, or "".
func (w *Watcher) packageOf(path string) string {
	best := ""
	for _, pkg := range w.Packages {
		rel, err := filepath.Rel(pkg, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if first, _, _ := strings.Cut(filepath.ToSlash(rel), "/"); ignoredDir(first) && rel != "." {
			continue
		}
		if len(pkg) > len(best) {
			best = pkg
		}
	}
	return best
}

func (w *Watcher) loop() {
	defer close(w.done)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	type batch struct {
		last  time.Time
		files map[string]bool
	}
	pending := make(map[string]*batch)
	ticker := time.NewTicker(debounce / 2)
	defer ticker.Stop()

	flush := func(force bool) {
		now := time.Now()
		for pkg, b := range pending {
			if !force && now.Sub(b.last) < debounce {
				continue
			}
			files := make([]string, 0, len(b.files))
			for f := range b.files {
				files = append(files, f)
			}
			sort.Strings(files)
			w.changes <- Change{Package: pkg, Files: files}
			delete(pending, pkg)
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				flush(true)
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			pkg := w.packageOf(event.Name)
			if pkg == "" || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !ignoredDir(info.Name()) {
					_ = w.addTree(event.Name)
				}
			}
			b := pending[pkg]
			if b == nil {
				b = &batch{files: make(map[string]bool)}
				pending[pkg] = b
			}
			b.last = time.Now()
			b.files[event.Name] = true

		case <-ticker.C:
			flush(false)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal.
		}
	}
}
