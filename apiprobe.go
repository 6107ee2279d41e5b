// Package apiprobe assembles the probing engine: it loads an API description,
// wires the transport, checks and runner together, drives the single-call and
// stateful phases and minimizes whatever failures they recorded.
package apiprobe

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/apiprobe/apiprobe/check"
	"github.com/apiprobe/apiprobe/config"
	"github.com/apiprobe/apiprobe/minimize"
	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/oas"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/report"
	"github.com/apiprobe/apiprobe/runner"
	"github.com/apiprobe/apiprobe/transport"
)

// Options assembles an engine. Only Config is consulted for behavior; the
// rest override wiring, mainly for tests.
type Options struct {
	Config   *config.Config
	Logger   logging.Logger
	Reporter report.Reporter
	// Transport replaces the HTTP adapter built from Config.
	Transport transport.Adapter
}

// Engine is a fully wired probing run waiting to be executed.
type Engine struct {
	cfg       *config.Config
	doc       *oas.Document
	transport transport.Adapter
	checks    *check.Engine
	reporter  report.Reporter
	logger    logging.Logger
	seed      uint64
}

// RunResult is everything a finished run produced.
type RunResult struct {
	Failures    []*model.Failure
	Counts      runner.Counts
	Diagnostics []oas.Diagnostic
	Seed        uint64
	Duration    time.Duration
	// Stopped is set when stop-on-first-failure ended the run early.
	Stopped bool
}

// New loads the API description from schema and wires an engine according to
// the configuration. A zero seed is replaced by one derived from the clock
// and logged, so every run stays reproducible.
func New(ctx context.Context, schema io.Reader, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	}

	doc, err := oas.Load(ctx, schema, oas.Options{MaxRefDepth: cfg.MaxRefDepth, Logger: logger})
	if err != nil {
		return nil, err
	}
	for _, d := range doc.Diagnostics {
		logger.Warnf("schema: %s", d)
	}
	if len(doc.Graph.Operations()) == 0 {
		return nil, errors.New("document declares no usable operations")
	}

	checks, err := check.NewEngine(check.Options{Checks: cfg.Checks, Logger: logger})
	if err != nil {
		return nil, err
	}

	adapter := opts.Transport
	if adapter == nil {
		adapter, err = transport.NewHTTP(transport.HTTPOptions{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.RequestTimeout.Std(),
			Retries: cfg.Retries,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		logger.Infof("seed not set; derived %d", seed)
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter = report.NewConsole(report.ConsoleOptions{BaseURL: cfg.BaseURL})
	}

	return &Engine{
		cfg:       cfg,
		doc:       doc,
		transport: adapter,
		checks:    checks,
		reporter:  reporter,
		logger:    logger,
		seed:      seed,
	}, nil
}

// Document exposes the loaded API description.
func (e *Engine) Document() *oas.Document { return e.doc }

// Seed returns the effective seed of this engine.
func (e *Engine) Seed() uint64 { return e.seed }

// Run executes the phases in order: single-call probing per operation, then
// stateful link walking, then minimization of recorded failures. The summary
// goes to the reporter; the returned result holds the same data for callers.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	r, err := runner.New(runner.Options{
		Graph:                   e.doc.Graph,
		Transport:               e.transport,
		Checks:                  e.checks,
		Logger:                  e.logger,
		Observer:                observer{e.reporter},
		Seed:                    e.seed,
		Modes:                   e.cfg.Modes,
		MaxExamples:             e.cfg.MaxExamples,
		MaxSequenceLength:       e.cfg.MaxSequenceLength,
		Concurrency:             e.cfg.Concurrency,
		PerOperationConcurrency: e.cfg.PerOperationConcurrency,
		StopOnFirstFailure:      e.cfg.StopOnFirstFailure,
		MaxFailures:             e.cfg.MaxFailures,
	})
	if err != nil {
		return nil, err
	}

	stopped := false
	err = r.RunSingle(ctx)
	// A sequence of length one is just the single-call phase again.
	if err == nil && e.cfg.MaxSequenceLength > 1 {
		err = r.RunStateful(ctx)
	}
	if errors.Is(err, runner.ErrStopped) {
		stopped = true
	} else if err != nil {
		return nil, err
	}

	result := r.Result()
	failures := result.Failures
	if budget := e.cfg.MinimizeBudget.Std(); budget > 0 {
		failures = e.minimizeAll(ctx, failures, budget)
	}

	out := &RunResult{
		Failures:    failures,
		Counts:      result.Counts,
		Diagnostics: e.doc.Diagnostics,
		Seed:        e.seed,
		Duration:    time.Since(start),
		Stopped:     stopped,
	}
	e.reporter.Summary(&report.Summary{
		Seed:               e.seed,
		Operations:         len(e.doc.Graph.Operations()),
		Cases:              out.Counts.Cases,
		Sequences:          out.Counts.Sequences,
		DeadEnds:           out.Counts.DeadEnds,
		ExtractionFailures: out.Counts.ExtractionFailures,
		SkippedOperations:  out.Counts.SkippedOperations,
		Failures:           len(failures),
		Duration:           out.Duration,
	})
	return out, nil
}

// minimizeAll reduces every recorded failure, each under its own budget.
// Failures whose reduction actually changed the reproduction are re-reported
// so the minimal form reaches the reader.
func (e *Engine) minimizeAll(ctx context.Context, failures []*model.Failure, budget time.Duration) []*model.Failure {
	out := make([]*model.Failure, len(failures))
	for i, f := range failures {
		min, err := minimize.Failure(ctx, f, minimize.Options{
			Transport: e.transport,
			Checks:    e.checks,
			Logger:    e.logger,
			Budget:    budget,
		})
		if err != nil && !errors.Is(err, minimize.ErrBudgetExceeded) {
			e.logger.Warnf("minimization of %s failed: %v", f, err)
			out[i] = f
			continue
		}
		out[i] = min
		if min != f && min.Case.Fingerprint() != f.Case.Fingerprint() {
			min.Case.Meta.Phase = model.PhaseMinimize
			e.reporter.Failure(min)
		}
	}
	return out
}

// observer bridges the runner's event stream onto a reporter.
type observer struct {
	r report.Reporter
}

func (o observer) Case(c *model.Case, out *model.Outcome) { o.r.Case(c, out) }
func (o observer) Failure(f *model.Failure)               { o.r.Failure(f) }
