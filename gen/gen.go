// Package gen produces schema-conformant and schema-violating values from IR
// nodes. It offers two modes side by side: seeded randomized exploration
// (restartable, reproducible) and deterministic coverage enumeration of
// boundary and edge cases. Failing values are reduced by the Shrinker.
package gen

import (
	"math/rand/v2"

	"github.com/apiprobe/apiprobe/ir"
	"github.com/apiprobe/apiprobe/pkg/logging"
)

// Options configures value generation.
type Options struct {
	// DefaultMaxItems bounds collection sizes when the schema itself
	// does not (default: 5).
	DefaultMaxItems int
	// DefaultMaxLength bounds string lengths when the schema does not
	// (default: 20).
	DefaultMaxLength int
	// MaxAttempts bounds rejection-sampling loops (uniqueItems, enum
	// exclusion) before generation gives up as unsatisfiable (default: 100).
	MaxAttempts int
	// OptionalProbability is the chance an optional object property is
	// included in a random positive value (default: 0.5).
	OptionalProbability float64

	Logger logging.Logger
}

// DefaultOptions returns the default generation configuration.
func DefaultOptions() Options {
	return Options{
		DefaultMaxItems:     5,
		DefaultMaxLength:    20,
		MaxAttempts:         100,
		OptionalProbability: 0.5,
		Logger:              logging.Noop(),
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxItems == 0 {
		o.DefaultMaxItems = 5
	}
	if o.DefaultMaxLength == 0 {
		o.DefaultMaxLength = 20
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 100
	}
	if o.OptionalProbability == 0 {
		o.OptionalProbability = 0.5
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
	return o
}

// Generator produces values from IR nodes. It is cheap to construct; one
// generator per worker keeps random streams independent. The IR itself is
// shared read-only.
type Generator struct {
	seed uint64
	opts Options
}

// New creates a generator. The same seed with the same IR always reproduces
// the same value streams.
func New(seed uint64, opts ...Options) *Generator {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0].withDefaults()
	}
	return &Generator{seed: seed, opts: opt}
}

// Seed returns the generator's seed, for reproduction reports.
func (g *Generator) Seed() uint64 { return g.seed }

// Stream returns a restartable lazy sequence of positive values for a node.
// Each call restarts from the generator's seed: an effectively unbounded,
// reproducible sequence.
func (g *Generator) Stream(node *ir.Node) *Stream {
	return &Stream{
		node: node,
		rng:  rand.New(rand.NewPCG(g.seed, g.seed^0x9e3779b97f4a7c15)),
		opts: g.opts,
	}
}

// Positive draws a single schema-conformant value using a stream positioned
// at the start of the seed.
func (g *Generator) Positive(node *ir.Node) (*GeneratedValue, error) {
	return g.Stream(node).Next()
}

// Stream is a lazy sequence of generated values. Not safe for concurrent
// use; give each worker its own Stream.
type Stream struct {
	node *ir.Node
	rng  *rand.Rand
	opts Options
}

// Next produces the next value in the sequence. It terminates for every
// node built from a finite schema: recursion is bounded by the IR's cutoff
// placeholders, and rejection loops are bounded by MaxAttempts.
func (s *Stream) Next() (*GeneratedValue, error) {
	v, h, err := samplePositive(s.rng, s.node, s.opts)
	if err != nil {
		return nil, err
	}
	return positive(v, "random value", h), nil
}
