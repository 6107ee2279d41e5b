// Package runner drives generated cases through the transport and the check
// engine: a concurrent single-call phase per operation, then a stateful phase
// walking the link graph.
package runner

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/apiprobe/apiprobe/check"
	"github.com/apiprobe/apiprobe/config"
	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
	"github.com/apiprobe/apiprobe/transport"
)

// ErrStopped signals that the run ended early because stop-on-first-failure
// is enabled and a failure was recorded.
var ErrStopped = errors.New("stopped on first failure")

// Observer receives executed exchanges as they happen. Implementations must
// be safe for concurrent calls.
type Observer interface {
	Case(c *model.Case, o *model.Outcome)
	Failure(f *model.Failure)
}

// Options configures a runner.
type Options struct {
	Graph     *model.LinkGraph
	Transport transport.Adapter
	Checks    *check.Engine
	Logger    logging.Logger
	Observer  Observer

	Seed              uint64
	Modes             config.Modes
	MaxExamples       int
	MaxSequenceLength int
	// MaxSequences bounds sequences started per source operation in the
	// stateful phase.
	MaxSequences            int
	Concurrency             int
	PerOperationConcurrency int

	StopOnFirstFailure bool
	MaxFailures        int
}

// Counts summarizes a run.
type Counts struct {
	Cases              int64
	Sequences          int64
	DeadEnds           int64
	ExtractionFailures int64
	SkippedOperations  int64
}

// Result is what a run produced.
type Result struct {
	Failures []*model.Failure
	Counts   Counts
}

// Runner executes the probing phases.
type Runner struct {
	opts     Options
	logger   logging.Logger
	failures *FailureSet
	sem      *semaphore.Weighted
	counts   Counts
}

// New validates and wires a runner.
func New(opts Options) (*Runner, error) {
	if opts.Graph == nil || opts.Transport == nil || opts.Checks == nil {
		return nil, errors.New("runner needs a graph, a transport and a check engine")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = 100
	}
	if opts.MaxSequenceLength <= 0 {
		opts.MaxSequenceLength = 6
	}
	if opts.MaxSequences <= 0 {
		opts.MaxSequences = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PerOperationConcurrency <= 0 {
		opts.PerOperationConcurrency = 2
	}
	if !opts.Modes.Positive && !opts.Modes.Negative {
		opts.Modes.Positive = true
	}
	return &Runner{
		opts:     opts,
		logger:   opts.Logger,
		failures: NewFailureSet(opts.MaxFailures),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Result snapshots the failures and counters recorded so far.
func (r *Runner) Result() *Result {
	return &Result{
		Failures: r.failures.Failures(),
		Counts: Counts{
			Cases:              atomic.LoadInt64(&r.counts.Cases),
			Sequences:          atomic.LoadInt64(&r.counts.Sequences),
			DeadEnds:           atomic.LoadInt64(&r.counts.DeadEnds),
			ExtractionFailures: atomic.LoadInt64(&r.counts.ExtractionFailures),
			SkippedOperations:  atomic.LoadInt64(&r.counts.SkippedOperations),
		},
	}
}

// RunSingle executes the single-call phase: per operation, coverage
// enumeration followed by seeded random exploration, across a bounded worker
// pool.
func (r *Runner) RunSingle(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, op := range r.opts.Graph.Operations() {
		op := op
		g.Go(func() error {
			return r.probeOperation(ctx, op)
		})
	}
	err := g.Wait()
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	return err
}

func (r *Runner) probeOperation(ctx context.Context, op *model.Operation) error {
	logger := r.logger.With(map[string]any{"operation": op.ID})
	cases, err := r.operationCases(op)
	if err != nil {
		// Unsatisfiable or otherwise ungeneratable operations are
		// skipped, not fatal.
		atomic.AddInt64(&r.counts.SkippedOperations, 1)
		logger.Warnf("skipping %s: %v", op, err)
		return nil
	}
	logger.Debugf("generated %d cases", len(cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.PerOperationConcurrency)
	for _, c := range cases {
		c := c
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer r.sem.Release(1)
			_, err := r.executeAndCheck(ctx, c, nil, "")
			return err
		})
	}
	return g.Wait()
}

// executeAndCheck runs one case through the transport and the checks,
// recording any failure.
func (r *Runner) executeAndCheck(ctx context.Context, c *model.Case, seq *model.Sequence, link string) (*model.Outcome, error) {
	o, err := r.opts.Transport.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&r.counts.Cases, 1)
	if r.logger.IsEnabled(logging.LevelDebug) {
		// Rendering the path is not free; skip it unless debug output is
		// actually consumed.
		r.logger.Debugf("%s %s: %s in %s", c.Operation.Method, c.RenderPath(), o.StatusClass(), o.Duration)
	}
	if r.opts.Observer != nil {
		r.opts.Observer.Case(c, o)
	}

	violations := r.opts.Checks.Run(&check.Context{Case: c, Outcome: o, Sequence: seq, Link: link})
	if len(violations) == 0 {
		return o, nil
	}
	f := model.NewFailure(c, seq, o, violations)
	f.Link = link
	if r.failures.Add(f) {
		r.logger.Infof("failure: %s", f)
		if r.opts.Observer != nil {
			r.opts.Observer.Failure(f)
		}
	}
	if r.opts.StopOnFirstFailure {
		return o, ErrStopped
	}
	return o, nil
}

// opSeed derives a per-operation seed so operations explore independent but
// reproducible value streams.
func (r *Runner) opSeed(op *model.Operation) uint64 {
	h := fnv.New64a()
	h.Write([]byte(op.ID))
	return r.opts.Seed ^ h.Sum64()
}
