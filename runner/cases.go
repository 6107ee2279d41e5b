package runner

import (
	"fmt"

	"github.com/apiprobe/apiprobe/gen"
	"github.com/apiprobe/apiprobe/model"
)

// operationCases enumerates the single-call cases for one operation:
// coverage values (each varying exactly one parameter against a conformant
// baseline) followed by seeded random exploration up to MaxExamples.
func (r *Runner) operationCases(op *model.Operation) ([]*model.Case, error) {
	seed := r.opSeed(op)
	g := gen.New(seed)

	baseline, err := r.baselineCase(op, g, model.PhaseCoverage)
	if err != nil {
		return nil, err
	}

	var out []*model.Case
	if r.opts.Modes.Coverage || r.opts.Modes.Negative {
		coverage, err := r.coverageCases(op, g, baseline)
		if err != nil {
			return nil, err
		}
		out = append(out, coverage...)
	}
	if r.opts.Modes.Random && r.opts.Modes.Positive {
		random, err := r.randomCases(op, g, seed)
		if err != nil {
			return nil, err
		}
		out = append(out, random...)
	}
	if len(out) == 0 {
		out = append(out, baseline)
	}
	return out, nil
}

// baselineCase fills every location with a conformant value. Deterministic
// for a given seed; coverage cases perturb one location at a time from here.
func (r *Runner) baselineCase(op *model.Operation, g *gen.Generator, phase model.Phase) (*model.Case, error) {
	c := model.NewCase(op, model.CaseMeta{Phase: phase, Mode: gen.ModePositive, Seed: r.opts.Seed})
	for _, p := range op.Parameters {
		if !p.Required && p.Location != model.LocationPath {
			continue
		}
		v, err := g.Positive(p.Node)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		c.Set(p.Location, p.Name, v.Value)
	}
	if op.Body != nil && op.Body.Node != nil {
		v, err := g.Positive(op.Body.Node)
		if err != nil {
			return nil, fmt.Errorf("request body: %w", err)
		}
		c.Set(model.LocationBody, "", v.Value)
	}
	return c, nil
}

// coveragePhase distinguishes documented-example cases from synthesized
// boundary cases.
func coveragePhase(v *gen.GeneratedValue) model.Phase {
	if v.FromExample {
		return model.PhaseExamples
	}
	return model.PhaseCoverage
}

func (r *Runner) coverageModes() gen.CoverageModes {
	return gen.CoverageModes{
		Positive: r.opts.Modes.Positive && r.opts.Modes.Coverage,
		Negative: r.opts.Modes.Negative,
	}
}

// coverageCases varies one location at a time through its boundary and
// violation values while the rest of the case stays at the baseline.
func (r *Runner) coverageCases(op *model.Operation, g *gen.Generator, baseline *model.Case) ([]*model.Case, error) {
	modes := r.coverageModes()
	var out []*model.Case
	for _, p := range op.Parameters {
		vals, err := g.Coverage(p.Node, modes)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		for _, v := range vals {
			c := baseline.Clone()
			c.Set(p.Location, p.Name, v.Value)
			c.Meta = model.CaseMeta{
				Phase:      coveragePhase(v),
				Mode:       v.Mode,
				Violates:   v.Violates,
				ViolatedAt: "/" + string(p.Location) + "/" + p.Name + v.ViolatedAt,
				Seed:       r.opts.Seed,
			}
			out = append(out, c)
		}
	}
	if op.Body != nil && op.Body.Node != nil {
		vals, err := g.Coverage(op.Body.Node, modes)
		if err != nil {
			return nil, fmt.Errorf("request body: %w", err)
		}
		for _, v := range vals {
			c := baseline.Clone()
			c.Set(model.LocationBody, "", v.Value)
			c.Meta = model.CaseMeta{
				Phase:      coveragePhase(v),
				Mode:       v.Mode,
				Violates:   v.Violates,
				ViolatedAt: "/body" + v.ViolatedAt,
				Seed:       r.opts.Seed,
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// randomCases draws MaxExamples cases with every location sampled from its
// own seeded stream.
func (r *Runner) randomCases(op *model.Operation, g *gen.Generator, seed uint64) ([]*model.Case, error) {
	type source struct {
		loc    model.Location
		name   string
		stream *gen.Stream
	}
	var sources []source
	for _, p := range op.Parameters {
		sources = append(sources, source{loc: p.Location, name: p.Name, stream: g.Stream(p.Node)})
	}
	if op.Body != nil && op.Body.Node != nil {
		sources = append(sources, source{loc: model.LocationBody, stream: g.Stream(op.Body.Node)})
	}

	var out []*model.Case
	for i := 0; i < r.opts.MaxExamples; i++ {
		c := model.NewCase(op, model.CaseMeta{Phase: model.PhaseFuzz, Mode: gen.ModePositive, Seed: seed})
		for _, s := range sources {
			v, err := s.stream.Next()
			if err != nil {
				return nil, err
			}
			c.Set(s.loc, s.name, v.Value)
		}
		out = append(out, c)
	}
	return out, nil
}
