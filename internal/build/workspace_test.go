package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setup     func(t *testing.T, root string)
		want      []string // relative to root; "." is root itself
		wantNoPkg bool
	}{
		{
			name: "workspace members with exclude",
			setup: func(t *testing.T, root string) {
				writeFile(t, filepath.Join(root, "Cargo.toml"),
					"[workspace]\nmembers = [\"contracts/*\"]\nexclude = [\"contracts/legacy\"]\n")
				writePackage(t, filepath.Join(root, "contracts"), "voting", "")
				writePackage(t, filepath.Join(root, "contracts"), "auction", "")
				writePackage(t, filepath.Join(root, "contracts"), "legacy", "")
				// A matched directory without a manifest is skipped.
				if err := os.MkdirAll(filepath.Join(root, "contracts", "docs"), 0o755); err != nil {
					t.Fatal(err)
				}
			},
			want: []string{"contracts/auction", "contracts/voting"},
		},
		{
			name: "workspace root that is also a package",
			setup: func(t *testing.T, root string) {
				writeFile(t, filepath.Join(root, "Cargo.toml"),
					"[package]\nname = \"root\"\nversion = \"0.1.0\"\n\n[workspace]\nmembers = [\"voting\"]\n")
				writePackage(t, root, "voting", "")
			},
			want: []string{".", "voting"},
		},
		{
			name: "single package",
			setup: func(t *testing.T, root string) {
				writeFile(t, filepath.Join(root, "Cargo.toml"), "[package]\nname = \"solo\"\nversion = \"0.1.0\"\n")
			},
			want: []string{"."},
		},
		{
			name: "directory of packages",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, "zk-voting", defaultCompilerURL)
				writePackage(t, root, "escrow", "")
				writeFile(t, filepath.Join(root, "README.md"), "contracts")
			},
			want: []string{"escrow", "zk-voting"},
		},
		{
			name:      "nothing to build",
			setup:     func(t *testing.T, root string) {},
			wantNoPkg: true,
		},
		{
			name: "workspace with no members",
			setup: func(t *testing.T, root string) {
				writeFile(t, filepath.Join(root, "Cargo.toml"), "[workspace]\nmembers = [\"missing/*\"]\n")
			},
			wantNoPkg: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			tt.setup(t, root)

			got, err := Discover(root)
			if tt.wantNoPkg {
				if !errors.Is(err, ErrNoPackages) {
					t.Fatalf("Discover = %v, %v; want ErrNoPackages", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Discover: %v", err)
			}
			var rel []string
			for _, dir := range got {
				r, err := filepath.Rel(root, dir)
				if err != nil {
					t.Fatal(err)
				}
				rel = append(rel, filepath.ToSlash(r))
			}
			if diff := cmp.Diff(tt.want, rel); diff != "" {
				t.Errorf("Discover mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
