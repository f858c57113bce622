package build

import (
	"fmt"
	"io"
	"strings"

	"github.com/papapumpkin/pbcbuild/internal/dag"
	"github.com/papapumpkin/pbcbuild/internal/manifest"
)

// Step is one unit of work in a package build.
type Step string

// Build steps. Compile and zk-compile are independent; link and place
// wait for them.
const (
	StepCompile   Step = "compile"
	StepZkCompile Step = "zk-compile"
	StepLink      Step = "link"
	StepPlace     Step = "place"
)

// Stage returns the error stage a step reports under.
func (s Step) Stage() Stage {
	return Stage(s)
}

// Plan is the step graph for one package. Compile always runs; a package
// with a ZK computation adds zk-compile and a link step that requires
// both compilers, otherwise a place step follows compile alone.
type Plan struct {
	Package string
	HasZk   bool
	graph   *dag.DAG
}

// NewPlan builds the step graph for a validated manifest.
func NewPlan(m *manifest.Manifest) (*Plan, error) {
	p := &Plan{Package: m.Package.Name, HasZk: m.HasZk(), graph: dag.New()}

	// Priorities only order steps within a wave for display.
	add := func(s Step, priority int) error {
		return p.graph.AddNode(string(s), "step", priority)
	}
	if err := add(StepCompile, 2); err != nil {
		return nil, err
	}
	if !p.HasZk {
		if err := add(StepPlace, 0); err != nil {
			return nil, err
		}
		if err := p.graph.AddEdge(string(StepPlace), string(StepCompile)); err != nil {
			return nil, err
		}
		return p, nil
	}

	if err := add(StepZkCompile, 1); err != nil {
		return nil, err
	}
	if err := add(StepLink, 0); err != nil {
		return nil, err
	}
	for _, dep := range []Step{StepCompile, StepZkCompile} {
		if err := p.graph.AddEdge(string(StepLink), string(dep)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Steps returns every step in execution order.
func (p *Plan) Steps() []Step {
	ids, err := p.graph.TopologicalSort()
	if err != nil {
		return nil
	}
	return toSteps(ids)
}

// Requires lists the steps s waits for.
func (p *Plan) Requires(s Step) []Step {
	return toSteps(p.graph.Requires(string(s)))
}

// Waves groups the steps into sets that may run concurrently. Every step
// in a wave depends only on steps of earlier waves.
func (p *Plan) Waves() ([][]Step, error) {
	waves, err := p.graph.Waves()
	if err != nil {
		return nil, fmt.Errorf("planning %s: %w", p.Package, err)
	}
	out := make([][]Step, 0, len(waves))
	for _, w := range waves {
		out = append(out, toSteps(w.NodeIDs))
	}
	return out, nil
}

// Render writes a human-readable outline of the plan.
func (p *Plan) Render(w io.Writer) error {
	waves, err := p.Waves()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s\n", p.Package); err != nil {
		return err
	}
	for i, wave := range waves {
		names := make([]string, 0, len(wave))
		for _, s := range wave {
			name := string(s)
			if req := p.Requires(s); len(req) > 0 {
				parts := make([]string, 0, len(req))
				for _, r := range req {
					parts = append(parts, string(r))
				}
				name += " <- " + strings.Join(parts, ", ")
			}
			names = append(names, name)
		}
		if _, err := fmt.Fprintf(w, "  wave %d: %s\n", i+1, strings.Join(names, " | ")); err != nil {
			return err
		}
	}
	return nil
}

func toSteps(ids []string) []Step {
	steps := make([]Step, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, Step(id))
	}
	return steps
}
