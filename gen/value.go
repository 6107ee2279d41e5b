package gen

import (
	"github.com/apiprobe/apiprobe/ir"
)

// Mode selects whether generation aims to conform to or violate the schema.
type Mode uint8

const (
	ModePositive Mode = iota
	ModeNegative
)

func (m Mode) String() string {
	if m == ModeNegative {
		return "negative"
	}
	return "positive"
}

// ConstraintID identifies the single schema constraint a negative value was
// constructed to violate, so failures can be attributed to a specific rule.
type ConstraintID string

const (
	ViolationWrongType       ConstraintID = "wrong_type"
	ViolationMissingRequired ConstraintID = "missing_required"
	ViolationEnum            ConstraintID = "enum_miss"
	ViolationConst           ConstraintID = "const_miss"
	ViolationBelowMinimum    ConstraintID = "below_minimum"
	ViolationAboveMaximum    ConstraintID = "above_maximum"
	ViolationMultipleOf      ConstraintID = "non_multiple_of"
	ViolationTooShort        ConstraintID = "below_min_length"
	ViolationTooLong         ConstraintID = "above_max_length"
	ViolationPattern         ConstraintID = "pattern_mismatch"
	ViolationFormat          ConstraintID = "format_mismatch"
	ViolationTooFewItems     ConstraintID = "below_min_items"
	ViolationTooManyItems    ConstraintID = "above_max_items"
	ViolationNonUniqueItems  ConstraintID = "non_unique_items"
	ViolationAdditionalProps ConstraintID = "additional_properties"
)

// GeneratedValue is a concrete value tagged with the decisions that produced
// it. The handle carries enough structure for the shrinker to reduce the
// value without re-deriving semantics from scratch.
type GeneratedValue struct {
	Value any
	Desc  string
	Mode  Mode

	// FromExample marks values taken verbatim from documented examples.
	FromExample bool

	// Violates is set in negative mode only: the one constraint this value
	// was built to break.
	Violates ConstraintID
	// ViolatedAt locates the violated constraint inside the value
	// ("" for the root, "/name" for a property, ...).
	ViolatedAt string

	Handle *Handle
}

// Handle records the generation decisions behind a value: the originating
// node, the chosen union branch and the handles of child values. Shrinking
// only ever removes or simplifies entries, so a shrunk handle is always a
// simplification of the original.
type Handle struct {
	Node *ir.Node
	// Branch is the chosen union branch, or -1 when not applicable.
	Branch int
	// Elems holds per-element handles for array values.
	Elems []*Handle
	// Props holds per-property handles for object values.
	Props map[string]*Handle
}

func newHandle(node *ir.Node) *Handle {
	return &Handle{Node: node, Branch: -1}
}

// Wrap adopts an externally produced value for shrinking, attaching the node
// whose constraints bound the reductions.
func Wrap(value any, node *ir.Node) *GeneratedValue {
	return &GeneratedValue{Value: value, Desc: "wrapped value", Mode: ModePositive, Handle: newHandle(node)}
}

func positive(value any, desc string, handle *Handle) *GeneratedValue {
	return &GeneratedValue{Value: value, Desc: desc, Mode: ModePositive, Handle: handle}
}

func negative(value any, desc string, violates ConstraintID, at string, handle *Handle) *GeneratedValue {
	return &GeneratedValue{
		Value:      value,
		Desc:       desc,
		Mode:       ModeNegative,
		Violates:   violates,
		ViolatedAt: at,
		Handle:     handle,
	}
}

// Simpler reports whether a is simpler than or as simple as b under the
// total simplicity ordering: shorter strings/arrays, fewer object keys,
// numbers closer to zero, nil simplest of all.
func Simpler(a, b any) bool {
	return complexity(a) <= complexity(b)
}

func complexity(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1.5
		}
		return 1
	case float64:
		if t < 0 {
			return -t + 2.5
		}
		return t + 2
	case int:
		return complexity(float64(t))
	case int64:
		return complexity(float64(t))
	case string:
		return float64(len(t)) + 2
	case []any:
		total := 3.0
		for _, e := range t {
			total += complexity(e) + 1
		}
		return total
	case map[string]any:
		total := 3.0
		for _, e := range t {
			total += complexity(e) + 1
		}
		return total
	default:
		return 100
	}
}
