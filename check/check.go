// Package check runs conformance checks against executed cases. Checks are
// pure functions of the recorded exchange and safe to run concurrently; the
// engine executes them in registration order and collects every violation.
package check

import (
	"fmt"

	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
)

// Context is everything a check may inspect: the executed case, its outcome,
// the sequence prefix that led to it (nil for single-call testing) and the
// name of the link that produced the case, if any.
type Context struct {
	Case     *model.Case
	Outcome  *model.Outcome
	Sequence *model.Sequence
	Link     string
}

// Check inspects one executed exchange and reports violations.
type Check interface {
	// Kind is the stable identifier used in failure fingerprints.
	Kind() string
	Run(ctx *Context) []model.Violation
}

// Options configures the engine.
type Options struct {
	// Checks selects builtin checks by kind; empty means all builtins.
	Checks []string
	// StopOnFirst makes Run return after the first check that reports
	// violations instead of collecting all of them.
	StopOnFirst bool
	Logger      logging.Logger
}

// Engine owns an ordered list of checks.
type Engine struct {
	checks      []Check
	stopOnFirst bool
	logger      logging.Logger
}

// NewEngine builds an engine with the selected builtin checks, in the stable
// builtin order. Unknown kinds are an error so typos in configuration fail at
// startup rather than silently disabling a check.
func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	selected := opts.Checks
	if len(selected) == 0 {
		selected = BuiltinKinds()
	}
	byKind := map[string]Check{}
	for _, c := range builtins() {
		byKind[c.Kind()] = c
	}
	e := &Engine{stopOnFirst: opts.StopOnFirst, logger: logger}
	for _, kind := range selected {
		c, ok := byKind[kind]
		if !ok {
			return nil, fmt.Errorf("unknown check %q", kind)
		}
		e.checks = append(e.checks, c)
	}
	return e, nil
}

// Register appends a custom check after the builtins.
func (e *Engine) Register(c Check) {
	e.checks = append(e.checks, c)
}

// Kinds returns the registered check kinds in execution order.
func (e *Engine) Kinds() []string {
	out := make([]string, len(e.checks))
	for i, c := range e.checks {
		out[i] = c.Kind()
	}
	return out
}

// Run executes every registered check against the exchange and returns the
// collected violations in check order.
func (e *Engine) Run(ctx *Context) []model.Violation {
	var out []model.Violation
	for _, c := range e.checks {
		violations := c.Run(ctx)
		if len(violations) > 0 {
			e.logger.Debugf("check %s flagged %s: %d violation(s)",
				c.Kind(), ctx.Case.Operation, len(violations))
			out = append(out, violations...)
			if e.stopOnFirst {
				break
			}
		}
	}
	return out
}
