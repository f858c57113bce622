package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"
)

// rawManifest mirrors Manifest but keeps [dependencies] untyped, since
// each entry may be a bare version string or an inline table.
type rawManifest struct {
	Package      Package             `toml:"package"`
	Lib          Lib                 `toml:"lib"`
	Features     map[string][]string `toml:"features"`
	Workspace    *Workspace          `toml:"workspace"`
	Dependencies map[string]any      `toml:"dependencies"`
}

// Load reads and parses dir/Cargo.toml. It does not validate; see Validate.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, dir)
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return Parse(dir, data)
}

// Parse decodes manifest bytes for the package rooted at dir.
func Parse(dir string, data []byte) (*Manifest, error) {
	path := filepath.Join(dir, FileName)

	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedManifestError{
			Path:     path,
			Problems: []Problem{{Err: fmt.Errorf("parsing TOML: %w", err)}},
		}
	}

	deps, problems := parseDependencies(raw.Dependencies)
	if len(problems) > 0 {
		return nil, &MalformedManifestError{Path: path, Problems: problems}
	}

	return &Manifest{
		Package:      raw.Package,
		Lib:          raw.Lib,
		Features:     raw.Features,
		Workspace:    raw.Workspace,
		Dependencies: deps,
		Dir:          dir,
	}, nil
}

// LoadAndValidate loads dir/Cargo.toml and validates it.
func LoadAndValidate(dir string) (*Manifest, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseDependencies(table map[string]any) ([]Dependency, []Problem) {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		deps     []Dependency
		problems []Problem
	)
	for _, name := range names {
		field := "dependencies." + name
		dep := Dependency{Name: name, DefaultFeatures: true}

		switch v := table[name].(type) {
		case string:
			dep.Version = v
		case map[string]any:
			if err := decodeDependencyTable(&dep, v); err != nil {
				problems = append(problems, Problem{Field: field, Err: err})
				continue
			}
		default:
			problems = append(problems, Problem{
				Field: field,
				Err:   fmt.Errorf("%w: expected version string or table, got %T", ErrInvalidDependency, v),
			})
			continue
		}

		if dep.Version == "" && dep.Git == "" && dep.Path == "" {
			problems = append(problems, Problem{
				Field: field,
				Err:   fmt.Errorf("%w: one of version, git or path is required", ErrInvalidDependency),
			})
			continue
		}
		deps = append(deps, dep)
	}
	return deps, problems
}

func decodeDependencyTable(dep *Dependency, t map[string]any) error {
	strField := func(key string, dst *string) error {
		v, ok := t[key]
		if !ok {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidDependency, key)
		}
		*dst = s
		return nil
	}
	boolField := func(key string, dst *bool) error {
		v, ok := t[key]
		if !ok {
			return nil
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidDependency, key)
		}
		*dst = b
		return nil
	}

	for key, dst := range map[string]*string{
		"version": &dep.Version,
		"git":     &dep.Git,
		"tag":     &dep.Tag,
		"branch":  &dep.Branch,
		"rev":     &dep.Rev,
		"path":    &dep.Path,
	} {
		if err := strField(key, dst); err != nil {
			return err
		}
	}
	if err := boolField("optional", &dep.Optional); err != nil {
		return err
	}
	if err := boolField("default-features", &dep.DefaultFeatures); err != nil {
		return err
	}

	if v, ok := t["features"]; ok {
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: features must be an array of strings", ErrInvalidDependency)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok || s == "" {
				return fmt.Errorf("%w: features must be an array of strings", ErrInvalidDependency)
			}
			dep.Features = append(dep.Features, s)
		}
	}

	refs := 0
	for _, r := range []string{dep.Tag, dep.Branch, dep.Rev} {
		if r != "" {
			refs++
		}
	}
	if refs > 1 {
		return fmt.Errorf("%w: only one of tag, branch or rev may be set", ErrInvalidDependency)
	}
	if refs == 1 && dep.Git == "" {
		return fmt.Errorf("%w: tag, branch and rev require git", ErrInvalidDependency)
	}
	return nil
}
