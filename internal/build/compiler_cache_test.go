package build

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papapumpkin/pbcbuild/internal/artifact"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

// scriptJava mimics `java -jar <bundle> <source> <output>`.
const scriptJava = `#!/bin/sh
[ "$1" = "-jar" ] && [ -f "$2" ] || { echo "bad invocation: $*" 1>&2; exit 2; }
{ printf 'ZKBC:'; cat "$3"; } > "$4"
`

func writeScriptJava(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake java requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "java")
	if err := os.WriteFile(path, []byte(scriptJava), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// serveCompiler starts a compiler host that answers after delay and
// returns its bundle URL and hit counter.
func serveCompiler(t *testing.T, delay time.Duration) (string, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("PK\x03\x04 zk compiler 3.0.20"))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/zkcompiler/3.0.20/zkcompiler-3.0.20.jar", &hits
}

func readOutputs(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, name := range listDir(t, dir) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		out[name] = data
	}
	return out
}

func TestBuild_ColdCacheRefetchesOnceAndMatchesWarmBuild(t *testing.T) {
	t.Parallel()
	url, hits := serveCompiler(t, 0)
	dir := writePackage(t, t.TempDir(), "zk-voting", url)
	cacheDir := t.TempDir()
	cache := zkc.NewCache(cacheDir)
	b := New(WithCompiler(&fakeCompiler{}), WithZkCompiler(zkc.NewJava(writeScriptJava(t), cache, nil, false)))

	first, err := b.Build(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(context.Background(), dir, Options{}); err != nil {
		t.Fatalf("warm build: %v", err)
	}
	if cache.Fetches() != 1 {
		t.Fatalf("Fetches() after warm build = %d, want 1", cache.Fetches())
	}
	warm := readOutputs(t, first.OutDir)

	if err := os.RemoveAll(cacheDir); err != nil {
		t.Fatal(err)
	}
	cold, err := b.Build(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("cold build: %v", err)
	}
	if cache.Fetches() != 2 || hits.Load() != 2 {
		t.Errorf("cold build: fetches=%d hits=%d, want exactly one re-fetch", cache.Fetches(), hits.Load())
	}

	got := readOutputs(t, cold.OutDir)
	if len(got) != 3 || len(got) != len(warm) {
		t.Fatalf("outputs = %d files, want 3", len(got))
	}
	for name, data := range warm {
		if !bytes.Equal(got[name], data) {
			t.Errorf("%s differs between warm and cold-cache builds", name)
		}
	}
	if zk := got["zk_voting.zkbc"]; !bytes.HasPrefix(zk, []byte("ZKBC:")) {
		t.Errorf("zk bytecode = %q, want java output", zk)
	}
}

// failingFor fails the contract compile of one package after a delay and
// compiles every other package normally.
type failingFor struct {
	fakeCompiler
	pkg   string
	after time.Duration
}

func (f *failingFor) Compile(ctx context.Context, t toolchain.Target) (*artifact.Artifact, error) {
	if t.Manifest.Package.Name != f.pkg {
		return f.fakeCompiler.Compile(ctx, t)
	}
	time.Sleep(f.after)
	return nil, errors.New("error[E0425]: cannot find value `tally` in this scope")
}

func TestBuildAll_SharedCompilerCacheSurvivesSiblingFailure(t *testing.T) {
	t.Parallel()
	url, hits := serveCompiler(t, 400*time.Millisecond)
	root := t.TempDir()
	broken := writePackage(t, root, "zk-auction", url)
	healthy := writePackage(t, root, "zk-voting", url)

	cache := zkc.NewCache(t.TempDir())
	b := New(
		WithCompiler(&failingFor{pkg: "zk-auction", after: 100 * time.Millisecond}),
		WithZkCompiler(zkc.NewJava(writeScriptJava(t), cache, nil, false)),
	)

	results := b.BuildAll(context.Background(), []string{broken, healthy}, Options{Jobs: 2})

	var stageErr *StageError
	if !errors.As(results[0].Err, &stageErr) || stageErr.Stage != StageCompile {
		t.Errorf("broken package error = %v, want compile stage failure", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("healthy package failed because its sibling did: %v", results[1].Err)
	}
	if len(results[1].Outputs) != 3 {
		t.Errorf("healthy outputs = %v", results[1].Outputs)
	}
	if hits.Load() != 1 || cache.Fetches() != 1 {
		t.Errorf("hits=%d fetches=%d, want one shared download", hits.Load(), cache.Fetches())
	}
}
