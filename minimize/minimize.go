// Package minimize reduces recorded failures to minimal reproductions: it
// drops non-essential sequence steps, then shrinks parameter values, always
// re-executing through the transport and demanding the exact original set of
// violated check kinds.
package minimize

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/apiprobe/apiprobe/check"
	"github.com/apiprobe/apiprobe/gen"
	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/transport"
)

// ErrBudgetExceeded reports that minimization ran out of budget and returned
// the best reduction found so far. It is a diagnostic, not a failure: the
// accompanying result is still a valid reproduction.
var ErrBudgetExceeded = errors.New("minimization budget exceeded")

// Options configures minimization.
type Options struct {
	Transport transport.Adapter
	Checks    *check.Engine
	Logger    logging.Logger
	// MaxIterations caps re-executions (default: 200).
	MaxIterations int
	// Budget caps wall-clock time; zero means no time limit.
	Budget time.Duration
}

// Failure minimizes one recorded failure. The result reproduces exactly the
// original violated check kinds, with as few sequence steps and as simple
// parameter values as the budget allowed.
func Failure(ctx context.Context, f *model.Failure, opts Options) (*model.Failure, error) {
	if opts.Transport == nil || opts.Checks == nil {
		return f, errors.New("minimize needs a transport and a check engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	iterations := opts.MaxIterations
	if iterations <= 0 {
		iterations = 200
	}
	m := &minimizer{
		transport:  opts.Transport,
		checks:     opts.Checks,
		logger:     logger,
		target:     kindSet(f.Violations),
		iterations: iterations,
	}
	if opts.Budget > 0 {
		m.deadline = time.Now().Add(opts.Budget)
	}

	c := f.Case.Clone()
	var prefix []model.Step
	if f.Sequence != nil {
		prefix = append(prefix, f.Sequence.Steps...)
	}

	prefix = m.dropSteps(ctx, prefix, c, f.Link)
	c = m.shrinkValues(ctx, prefix, c, f.Link)

	out := m.rebuild(ctx, prefix, c, f)
	if m.exhausted() {
		return out, ErrBudgetExceeded
	}
	return out, nil
}

type minimizer struct {
	transport  transport.Adapter
	checks     *check.Engine
	logger     logging.Logger
	target     map[string]struct{}
	iterations int
	deadline   time.Time
}

func (m *minimizer) exhausted() bool {
	if m.iterations <= 0 {
		return true
	}
	return !m.deadline.IsZero() && time.Now().After(m.deadline)
}

// reproduces replays the prefix and the candidate case and reports whether
// the violated check kinds match the original exactly.
func (m *minimizer) reproduces(ctx context.Context, prefix []model.Step, c *model.Case, link string) bool {
	if m.exhausted() {
		return false
	}
	m.iterations--

	seq := model.NewSequence()
	for _, step := range prefix {
		o, err := m.transport.Execute(ctx, step.Case)
		if err != nil {
			return false
		}
		seq.Append(step.Case, o, step.Link)
	}
	o, err := m.transport.Execute(ctx, c)
	if err != nil {
		return false
	}
	checkSeq := seq
	if len(prefix) == 0 {
		checkSeq = nil
	}
	violations := m.checks.Run(&check.Context{Case: c, Outcome: o, Sequence: checkSeq, Link: link})
	return sameKinds(kindSet(violations), m.target)
}

// dropSteps removes non-essential prefix steps, leading first, then
// trailing, keeping any removal that still reproduces.
func (m *minimizer) dropSteps(ctx context.Context, prefix []model.Step, c *model.Case, link string) []model.Step {
	for len(prefix) > 0 {
		candidate := prefix[1:]
		if !m.reproduces(ctx, candidate, c, link) {
			break
		}
		prefix = candidate
	}
	for len(prefix) > 0 {
		candidate := prefix[:len(prefix)-1]
		if !m.reproduces(ctx, candidate, c, link) {
			break
		}
		prefix = candidate
	}
	return prefix
}

// shrinkValues reduces the failing case's values one location at a time,
// re-executing each candidate.
func (m *minimizer) shrinkValues(ctx context.Context, prefix []model.Step, c *model.Case, link string) *model.Case {
	op := c.Operation
	for _, p := range sortedParams(op) {
		value, ok := locationValue(c, p.Location, p.Name)
		if !ok || m.exhausted() {
			continue
		}
		shrunk := m.shrinkOne(ctx, prefix, c, link, p.Location, p.Name, value, p.Node)
		c.Set(p.Location, p.Name, shrunk)
	}
	if c.HasBody && op.Body != nil && !m.exhausted() {
		shrunk := m.shrinkOne(ctx, prefix, c, link, model.LocationBody, "", c.Body, op.Body.Node)
		c.Set(model.LocationBody, "", shrunk)
	}
	return c
}

func (m *minimizer) shrinkOne(ctx context.Context, prefix []model.Step, c *model.Case, link string, loc model.Location, name string, value any, node *ir.Node) any {
	wrapped := gen.Wrap(value, node)
	pred := func(v any) bool {
		candidate := c.Clone()
		candidate.Set(loc, name, v)
		return m.reproduces(ctx, prefix, candidate, link)
	}
	out := gen.Shrink(wrapped, pred, gen.ShrinkOptions{MaxChecks: m.iterations})
	return out.Value
}

// rebuild re-executes the reduced reproduction once to attach its final
// outcome. If that last execution stops reproducing (budget, flaky system),
// the reduced case is still reported with the original outcome.
func (m *minimizer) rebuild(ctx context.Context, prefix []model.Step, c *model.Case, original *model.Failure) *model.Failure {
	seq := model.NewSequence()
	for _, step := range prefix {
		o, err := m.transport.Execute(ctx, step.Case)
		if err != nil {
			return original
		}
		seq.Append(step.Case, o, step.Link)
	}
	o, err := m.transport.Execute(ctx, c)
	if err != nil {
		return original
	}
	checkSeq := seq
	if len(prefix) == 0 {
		checkSeq = nil
	}
	violations := m.checks.Run(&check.Context{Case: c, Outcome: o, Sequence: checkSeq, Link: original.Link})
	if !sameKinds(kindSet(violations), m.target) {
		m.logger.Warnf("reduced case stopped reproducing; keeping the original")
		return original
	}
	out := model.NewFailure(c, checkSeq, o, violations)
	out.Link = original.Link
	return out
}

func kindSet(violations []model.Violation) map[string]struct{} {
	out := make(map[string]struct{}, len(violations))
	for _, v := range violations {
		out[v.Check] = struct{}{}
	}
	return out
}

func sameKinds(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedParams(op *model.Operation) []model.Parameter {
	out := make([]model.Parameter, len(op.Parameters))
	copy(out, op.Parameters)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func locationValue(c *model.Case, loc model.Location, name string) (any, bool) {
	var m map[string]any
	switch loc {
	case model.LocationPath:
		m = c.PathParams
	case model.LocationQuery:
		m = c.Query
	case model.LocationHeader:
		m = c.Headers
	case model.LocationCookie:
		m = c.Cookies
	default:
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}
