package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/blang/semver/v4"
)

// packageNamePattern matches names the toolchain accepts for a crate.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Validate checks a loaded manifest. A ZK section without a compiler
// reference (or the reverse) yields *InconsistentZkDeclarationError and
// is reported before anything else; every other defect is collected into
// one *MalformedManifestError. Validate only reads the file system.
func Validate(m *Manifest) error {
	path := filepath.Join(m.Dir, FileName)

	hasCompute := m.HasZk()
	hasCompiler := m.Compiler() != nil
	if hasCompute != hasCompiler {
		return &InconsistentZkDeclarationError{
			Path:           path,
			HasComputePath: hasCompute,
			HasCompiler:    hasCompiler,
		}
	}

	var problems []Problem
	add := func(field string, err error) {
		problems = append(problems, Problem{Field: field, Err: err})
	}

	pkg := m.Package
	switch {
	case pkg.Name == "":
		add("package.name", ErrMissingField)
	case !packageNamePattern.MatchString(pkg.Name):
		add("package.name", fmt.Errorf("%q is not a valid package name", pkg.Name))
	}
	if pkg.Version == "" {
		add("package.version", ErrMissingField)
	} else if _, err := semver.Parse(pkg.Version); err != nil {
		add("package.version", fmt.Errorf("%w: %q: %v", ErrInvalidVersion, pkg.Version, err))
	}

	if len(m.Lib.CrateType) > 0 && !slices.Contains(m.Lib.CrateType, RequiredCrateType) {
		add("lib.crate-type", fmt.Errorf("%w: %v does not include %q", ErrUnsupportedCrateType, m.Lib.CrateType, RequiredCrateType))
	}

	if err := checkSource(m.Dir, m.EntryRel()); err != nil {
		add("lib.path", err)
	}

	if hasCompute {
		if err := checkSource(m.Dir, m.Package.Metadata.Zk.ComputePath); err != nil {
			add("package.metadata.zk.zk-compute-path", err)
		}
		for _, err := range checkCompilerRef(m.Compiler()) {
			add("package.metadata.zkcompiler", err)
		}
	}

	if _, err := m.FeatureGraph(); err != nil {
		add("features", fmt.Errorf("%w: %w", ErrInvalidFeatures, err))
	}
	for i, group := range m.Package.Metadata.Build.ExclusiveFeatures {
		for _, name := range group {
			if _, ok := m.Features[name]; !ok {
				add(fmt.Sprintf("package.metadata.pbcbuild.exclusive-features[%d]", i),
					fmt.Errorf("%w: %q is not a declared feature", ErrInvalidFeatures, name))
			}
		}
	}

	if len(problems) > 0 {
		return &MalformedManifestError{Path: path, Problems: problems}
	}
	return nil
}

// checkSource verifies rel names a readable regular file inside dir.
func checkSource(dir, rel string) error {
	if filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q must be relative to the package root", ErrUnreadableSource, rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes the package root", ErrUnreadableSource, rel)
	}

	f, err := os.Open(filepath.Join(dir, clean))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", ErrUnreadableSource, rel)
	}
	return nil
}

func checkCompilerRef(ref *CompilerRef) []error {
	var errs []error
	if ref.Version == "" {
		errs = append(errs, fmt.Errorf("%w: version: %w", ErrInvalidCompilerRef, ErrMissingField))
	}
	if ref.URL == "" {
		errs = append(errs, fmt.Errorf("%w: url: %w", ErrInvalidCompilerRef, ErrMissingField))
		return errs
	}

	u, err := url.Parse(ref.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: url %q must be an http(s) URL", ErrInvalidCompilerRef, ref.URL))
	} else if ref.Version != "" && !strings.Contains(u.Path, ref.Version) {
		// A URL without its version could change content under a fixed key.
		errs = append(errs, fmt.Errorf("%w: url %q does not embed version %q", ErrInvalidCompilerRef, ref.URL, ref.Version))
	}

	if ref.Checksum != "" {
		algo, sum, ok := strings.Cut(ref.Checksum, ":")
		if !ok || (algo != "sha256" && algo != "blake3") || len(sum) != 64 {
			errs = append(errs, fmt.Errorf("%w: checksum must be sha256:<hex> or blake3:<hex>", ErrInvalidCompilerRef))
		}
	}
	return errs
}
