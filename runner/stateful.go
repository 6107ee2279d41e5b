package runner

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/apiprobe/apiprobe/gen"
	"github.com/apiprobe/apiprobe/model"
)

// exhaustiveOpLimit is the graph size above which the stateful phase
// switches from bounded exhaustive exploration to weighted random walks.
const exhaustiveOpLimit = 12

// RunStateful executes the stateful phase: multi-step sequences along the
// link graph, starting from every operation that declares outgoing links.
func (r *Runner) RunStateful(ctx context.Context) error {
	if !r.opts.Graph.HasLinks() {
		r.logger.Infof("no links declared; skipping stateful phase")
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, op := range r.opts.Graph.Operations() {
		if len(r.opts.Graph.OutgoingLinks(op)) == 0 {
			continue
		}
		op := op
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer r.sem.Release(1)
			return r.exploreFrom(ctx, op)
		})
	}
	err := g.Wait()
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	return err
}

// exploreFrom runs sequences rooted at one operation until the sequence
// budget is spent or exhaustive exploration finds nothing new.
func (r *Runner) exploreFrom(ctx context.Context, op *model.Operation) error {
	exhaustive := len(r.opts.Graph.Operations()) <= exhaustiveOpLimit
	e := &exploration{
		runner:     r,
		visited:    map[string]struct{}{},
		traversals: map[*model.Link]int{},
		rng:        rand.New(rand.NewPCG(r.opSeed(op), r.opSeed(op)^0x9e3779b97f4a7c15)),
		exhaustive: exhaustive,
	}
	for i := 0; i < r.opts.MaxSequences; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		novel, err := e.runSequence(ctx, op)
		if err != nil {
			return err
		}
		atomic.AddInt64(&r.counts.Sequences, 1)
		if exhaustive && novel == 0 {
			break
		}
	}
	return nil
}

type exploration struct {
	runner *Runner
	// visited keys (sequence prefix fingerprint, next case fingerprint)
	// so exhaustive exploration never re-executes a known transition.
	visited    map[string]struct{}
	traversals map[*model.Link]int
	rng        *rand.Rand
	exhaustive bool
}

// runSequence executes one sequence from the root operation and reports how
// many previously unseen transitions it took.
func (e *exploration) runSequence(ctx context.Context, root *model.Operation) (int, error) {
	r := e.runner
	g := gen.New(r.opSeed(root))
	seq := model.NewSequence()

	c, err := r.baselineCase(root, g, model.PhaseStateful)
	if err != nil {
		atomic.AddInt64(&r.counts.SkippedOperations, 1)
		r.logger.Warnf("stateful: cannot build case for %s: %v", root, err)
		return 0, nil
	}

	// Known prefixes are re-executed so exploration can branch off them
	// deeper in; a sequence that takes no unseen transition at all means
	// the reachable state space from this root is exhausted.
	novel := 0
	link := (*model.Link)(nil)
	for len(seq.Steps) < r.opts.MaxSequenceLength {
		key := seq.Fingerprint() + "|" + c.Fingerprint()
		if _, seen := e.visited[key]; !seen {
			e.visited[key] = struct{}{}
			novel++
		}

		linkName := ""
		if link != nil {
			linkName = link.Name
		}
		o, err := r.executeAndCheck(ctx, c, seq, linkName)
		if err != nil {
			return novel, err
		}
		seq.Append(c, o, linkName)
		if o.Failed() {
			return novel, nil
		}

		next, nextLink, err := e.nextCase(seq, g)
		if err != nil {
			return novel, err
		}
		if next == nil {
			return novel, nil
		}
		c, link = next, nextLink
	}
	return novel, nil
}

// nextCase chooses the next transition from the last executed step. A nil
// case ends the sequence: no link matches the observed status (a dead end),
// every candidate transition is already explored, or extraction failed.
func (e *exploration) nextCase(seq *model.Sequence, g *gen.Generator) (*model.Case, *model.Link, error) {
	r := e.runner
	last := seq.Last()
	links := r.opts.Graph.LinksFrom(last.Case.Operation, last.Outcome.Status)
	if len(links) == 0 {
		atomic.AddInt64(&r.counts.DeadEnds, 1)
		return nil, nil, nil
	}

	candidates := links
	if !e.exhaustive {
		candidates = []*model.Link{e.pickWeighted(links)}
	}
	prefix := seq.Fingerprint()
	for _, link := range candidates {
		c, err := e.buildLinkedCase(link, g, last)
		if err != nil {
			var extraction *model.LinkExtractionError
			if errors.As(err, &extraction) {
				// Fail closed: the declared field is absent, so the
				// sequence is abandoned, never fed a fabricated value.
				atomic.AddInt64(&r.counts.ExtractionFailures, 1)
				r.logger.Warnf("link %s: %v; abandoning sequence", link.Name, extraction)
				return nil, nil, nil
			}
			return nil, nil, err
		}
		if e.exhaustive {
			if _, seen := e.visited[prefix+"|"+c.Fingerprint()]; seen {
				continue
			}
		}
		e.traversals[link]++
		return c, link, nil
	}
	return nil, nil, nil
}

// buildLinkedCase builds the target's case and applies the link's parameter
// and body overrides, evaluated against the source exchange.
func (e *exploration) buildLinkedCase(link *model.Link, g *gen.Generator, last *model.Step) (*model.Case, error) {
	c, err := e.runner.baselineCase(link.Target, g, model.PhaseStateful)
	if err != nil {
		return nil, err
	}
	for _, p := range link.Parameters {
		v, err := p.Expr.Eval(last.Case, last.Outcome)
		if err != nil {
			return nil, err
		}
		c.Set(p.Location, p.Name, v)
	}
	if link.Body != nil {
		v, err := link.Body.Eval(last.Case, last.Outcome)
		if err != nil {
			return nil, err
		}
		c.Set(model.LocationBody, "", v)
	}
	return c, nil
}

// pickWeighted samples a link, preferring the least traversed ones.
func (e *exploration) pickWeighted(links []*model.Link) *model.Link {
	total := 0.0
	weights := make([]float64, len(links))
	for i, l := range links {
		weights[i] = 1.0 / float64(1+e.traversals[l])
		total += weights[i]
	}
	pick := e.rng.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick <= 0 {
			return links[i]
		}
	}
	return links[len(links)-1]
}
