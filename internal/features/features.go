// Package features resolves Cargo-style feature flags. Package features,
// dependency features ("dep/feat") and optional dependency activations
// ("dep:dep") are nodes of an explicit graph; enabling a node enables
// everything it transitively requires.
package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/papapumpkin/pbcbuild/internal/dag"
)

// DefaultFeature is the feature enabled unless default features are off.
const DefaultFeature = "default"

// Sentinel errors for feature declarations and requests.
var (
	// ErrUnknownFeature indicates a reference to a feature that is not declared.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrUnknownDependency indicates a feature references an undeclared dependency.
	ErrUnknownDependency = errors.New("feature references unknown dependency")
	// ErrFeatureCycle indicates features that enable each other.
	ErrFeatureCycle = errors.New("cyclic feature dependency")
	// ErrInvalidReference indicates a malformed feature value.
	ErrInvalidReference = errors.New("invalid feature reference")
)

const (
	kindFeature    = "feature"
	kindDependency = "dependency"
	kindDepFeature = "dependency-feature"
)

// Dependency is the feature-relevant view of a declared dependency.
type Dependency struct {
	Name     string
	Optional bool
	// Features are always enabled on the dependency.
	Features []string
}

// Graph is the feature propagation graph of one package.
type Graph struct {
	d        *dag.DAG
	declared map[string]bool
	deps     map[string]Dependency
	// weak maps a package feature to the "dep/feat" values it enables
	// only when dep is active for another reason ("dep?/feat").
	weak map[string][]string
}

// NewGraph builds the graph from a [features] table and the package's
// dependencies. Every reference is checked; cycles are rejected.
func NewGraph(declared map[string][]string, deps []Dependency) (*Graph, error) {
	g := &Graph{
		d:        dag.New(),
		declared: make(map[string]bool, len(declared)),
		deps:     make(map[string]Dependency, len(deps)),
		weak:     make(map[string][]string),
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" || strings.ContainsAny(name, "/:?") {
			return nil, fmt.Errorf("%w: feature name %q", ErrInvalidReference, name)
		}
		g.declared[name] = true
		if err := g.d.AddNode(name, kindFeature, 0); err != nil {
			return nil, err
		}
	}
	for _, dep := range deps {
		g.deps[dep.Name] = dep
		if err := g.d.AddNode(depNode(dep.Name), kindDependency, 0); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		for _, ref := range declared[name] {
			if err := g.link(name, ref); err != nil {
				return nil, fmt.Errorf("feature %q: %w", name, err)
			}
		}
	}
	return g, nil
}

// link adds the edges for one value of a feature's list.
func (g *Graph) link(feature, ref string) error {
	switch {
	case strings.HasPrefix(ref, "dep:"):
		name := strings.TrimPrefix(ref, "dep:")
		if _, ok := g.deps[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDependency, name)
		}
		return g.edge(feature, depNode(name))

	case strings.Contains(ref, "/"):
		depName, feat, _ := strings.Cut(ref, "/")
		weak := strings.HasSuffix(depName, "?")
		depName = strings.TrimSuffix(depName, "?")
		if depName == "" || feat == "" {
			return fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
		dep, ok := g.deps[depName]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDependency, depName)
		}
		if weak {
			g.weak[feature] = append(g.weak[feature], depName+"/"+feat)
			return nil
		}
		id := depName + "/" + feat
		if !g.d.Has(id) {
			if err := g.d.AddNode(id, kindDepFeature, 0); err != nil {
				return err
			}
		}
		if err := g.edge(feature, id); err != nil {
			return err
		}
		if dep.Optional {
			return g.edge(feature, depNode(depName))
		}
		return nil

	default:
		if g.declared[ref] {
			return g.edge(feature, ref)
		}
		// An optional dependency doubles as an implicit feature.
		if dep, ok := g.deps[ref]; ok && dep.Optional {
			return g.edge(feature, depNode(ref))
		}
		return fmt.Errorf("%w: %q", ErrUnknownFeature, ref)
	}
}

func (g *Graph) edge(from, to string) error {
	if err := g.d.AddEdge(from, to); err != nil {
		if errors.Is(err, dag.ErrCycle) || errors.Is(err, dag.ErrSelfEdge) {
			return fmt.Errorf("%w: %s → %s", ErrFeatureCycle, from, to)
		}
		return err
	}
	return nil
}

// Declared returns the package feature names, sorted.
func (g *Graph) Declared() []string {
	out := make([]string, 0, len(g.declared))
	for name := range g.declared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Set is a resolved feature selection.
type Set struct {
	// Features are the enabled package features, sorted.
	Features []string
	// Dependencies maps each active dependency to its enabled features.
	Dependencies map[string][]string
}

// Has reports whether the package feature is enabled.
func (s Set) Has(name string) bool {
	i := sort.SearchStrings(s.Features, name)
	return i < len(s.Features) && s.Features[i] == name
}

// Resolve enables the requested features (and "default" when
// useDefaults is set and declared) and propagates them through the graph.
// Resolving the Features of a returned Set yields the same Set.
func (g *Graph) Resolve(requested []string, useDefaults bool) (Set, error) {
	roots := append([]string(nil), requested...)
	if useDefaults && g.declared[DefaultFeature] {
		roots = append(roots, DefaultFeature)
	}

	enabled := make(map[string]bool)
	for _, root := range roots {
		id := root
		if !g.declared[root] {
			dep, ok := g.deps[root]
			if !ok || !dep.Optional {
				return Set{}, fmt.Errorf("%w: %q", ErrUnknownFeature, root)
			}
			id = depNode(root)
		}
		enabled[id] = true
		for _, anc := range g.d.Ancestors(id) {
			enabled[anc] = true
		}
	}

	set := Set{Dependencies: make(map[string][]string)}
	active := make(map[string]map[string]bool)
	for name, dep := range g.deps {
		if dep.Optional && !enabled[depNode(name)] {
			continue
		}
		feats := make(map[string]bool, len(dep.Features))
		for _, f := range dep.Features {
			feats[f] = true
		}
		active[name] = feats
	}

	for id := range enabled {
		node := g.d.Node(id)
		switch node.Kind {
		case kindFeature:
			set.Features = append(set.Features, id)
			for _, w := range g.weak[id] {
				depName, feat, _ := strings.Cut(w, "/")
				if feats, ok := active[depName]; ok {
					feats[feat] = true
				}
			}
		case kindDepFeature:
			depName, feat, _ := strings.Cut(id, "/")
			if feats, ok := active[depName]; ok {
				feats[feat] = true
			}
		}
	}
	sort.Strings(set.Features)

	for name, feats := range active {
		list := make([]string, 0, len(feats))
		for f := range feats {
			list = append(list, f)
		}
		sort.Strings(list)
		set.Dependencies[name] = list
	}
	return set, nil
}

// Conflicts returns every exclusive group with more than one member
// enabled in s.
func Conflicts(s Set, exclusive [][]string) [][]string {
	var out [][]string
	for _, group := range exclusive {
		var hit []string
		for _, name := range group {
			if s.Has(name) {
				hit = append(hit, name)
			}
		}
		if len(hit) > 1 {
			out = append(out, hit)
		}
	}
	return out
}

func depNode(name string) string {
	return "dep:" + name
}
