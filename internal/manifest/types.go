package manifest

import (
	"path/filepath"
	"strings"

	"github.com/papapumpkin/pbcbuild/internal/features"
)

// FileName is the manifest file expected in every package root.
const FileName = "Cargo.toml"

// DefaultEntryPath is the entry source used when [lib] omits path.
const DefaultEntryPath = "src/lib.rs"

// RequiredCrateType is the output kind every contract must produce.
const RequiredCrateType = "cdylib"

// Manifest is parsed from Cargo.toml in the package root.
type Manifest struct {
	Package   Package             `toml:"package"`
	Lib       Lib                 `toml:"lib"`
	Features  map[string][]string `toml:"features"`
	Workspace *Workspace          `toml:"workspace"`

	// Dependencies is normalized from the [dependencies] table and sorted by name.
	Dependencies []Dependency `toml:"-"`
	// Dir is the package root the manifest was loaded from.
	Dir string `toml:"-"`
}

// Package holds the [package] table.
type Package struct {
	Name     string   `toml:"name"`
	Version  string   `toml:"version"`
	Edition  string   `toml:"edition"`
	Metadata Metadata `toml:"metadata"`
}

// Metadata holds [package.metadata.*] tables used by the build.
type Metadata struct {
	Zk         *ZkMetadata   `toml:"zk"`
	ZkCompiler *CompilerRef  `toml:"zkcompiler"`
	Build      BuildMetadata `toml:"pbcbuild"`
}

// ZkMetadata declares the zero-knowledge computation source.
type ZkMetadata struct {
	ComputePath string `toml:"zk-compute-path"`
}

// CompilerRef identifies the external ZK compiler bundle. URL and Version
// together form an immutable cache key.
type CompilerRef struct {
	URL     string `toml:"url"`
	Version string `toml:"version"`
	// Checksum optionally pins the bundle as "sha256:<hex>" or "blake3:<hex>".
	Checksum string `toml:"checksum"`
}

// BuildMetadata holds pbcbuild-specific settings.
type BuildMetadata struct {
	// ExclusiveFeatures lists groups of features that may not be enabled together.
	ExclusiveFeatures [][]string `toml:"exclusive-features"`
}

// Lib holds the [lib] table.
type Lib struct {
	Path      string   `toml:"path"`
	CrateType []string `toml:"crate-type"`
}

// Workspace holds the [workspace] table of a workspace root manifest.
type Workspace struct {
	Members []string `toml:"members"`
	Exclude []string `toml:"exclude"`
}

// Dependency is one entry of [dependencies], either `name = "1.0"` or an
// inline table.
type Dependency struct {
	Name            string
	Version         string
	Git             string
	Tag             string
	Branch          string
	Rev             string
	Path            string
	Features        []string
	Optional        bool
	DefaultFeatures bool
}

// Source describes where the dependency comes from.
func (d Dependency) Source() string {
	switch {
	case d.Git != "":
		ref := d.Tag
		if ref == "" {
			ref = d.Branch
		}
		if ref == "" {
			ref = d.Rev
		}
		if ref == "" {
			return d.Git
		}
		return d.Git + "@" + ref
	case d.Path != "":
		return "path+" + d.Path
	default:
		return d.Version
	}
}

// HasZk reports whether the package declares a zero-knowledge computation.
func (m *Manifest) HasZk() bool {
	return m.Package.Metadata.Zk != nil && m.Package.Metadata.Zk.ComputePath != ""
}

// IsWorkspaceRoot reports whether the manifest only declares a workspace.
func (m *Manifest) IsWorkspaceRoot() bool {
	return m.Workspace != nil && m.Package.Name == ""
}

// CrateName is the package name as the toolchain spells output files.
func (m *Manifest) CrateName() string {
	return strings.ReplaceAll(m.Package.Name, "-", "_")
}

// EntryRel returns the entry source path relative to the package root.
func (m *Manifest) EntryRel() string {
	if m.Lib.Path != "" {
		return m.Lib.Path
	}
	return DefaultEntryPath
}

// EntryPath returns the absolute-or-dir-relative entry source path.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, filepath.FromSlash(m.EntryRel()))
}

// ZkComputePath returns the ZK source path, or "" when none is declared.
func (m *Manifest) ZkComputePath() string {
	if !m.HasZk() {
		return ""
	}
	return filepath.Join(m.Dir, filepath.FromSlash(m.Package.Metadata.Zk.ComputePath))
}

// Compiler returns the external compiler reference, or nil.
func (m *Manifest) Compiler() *CompilerRef {
	return m.Package.Metadata.ZkCompiler
}

// FeatureGraph builds the propagation graph for the package's features.
func (m *Manifest) FeatureGraph() (*features.Graph, error) {
	deps := make([]features.Dependency, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		deps = append(deps, features.Dependency{
			Name:     d.Name,
			Optional: d.Optional,
			Features: d.Features,
		})
	}
	return features.NewGraph(m.Features, deps)
}
