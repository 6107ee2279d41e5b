package gen

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/apiprobe/apiprobe/ir"
)

// CoverageModes selects which of the two deterministic enumerations run.
// Both may be enabled at once.
type CoverageModes struct {
	Positive bool
	Negative bool
	// CombinatorialNegative allows values violating more than one
	// constraint at a time. Off by default: single violations keep failure
	// attribution unambiguous.
	CombinatorialNegative bool
}

// Coverage enumerates a finite, order-stable sequence of boundary and edge
// case values for a node: documented examples, minimum/maximum and
// just-inside boundaries, empty/singleton/multi collections, each union
// branch once and, in negative mode, one value per individually violated
// constraint.
func (g *Generator) Coverage(node *ir.Node, modes CoverageModes) ([]*GeneratedValue, error) {
	c := &coverer{opts: g.opts, seen: map[string]bool{}}
	var out []*GeneratedValue
	if modes.Positive {
		vals, err := c.positive(node)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	if modes.Negative {
		vals, err := c.negative(node, "")
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

type coverer struct {
	opts Options
	seen map[string]bool
}

// emit appends v unless an identical (mode, violation, value) triple was
// already produced. Enumeration order is preserved.
func (c *coverer) emit(out []*GeneratedValue, v *GeneratedValue) []*GeneratedValue {
	key := fmt.Sprintf("%d|%s|%s", v.Mode, v.Violates, ir.CanonicalJSON(v.Value))
	if c.seen[key] {
		return out
	}
	c.seen[key] = true
	return append(out, v)
}

// template builds the minimal deterministic conformant value for a node.
func (c *coverer) template(node *ir.Node) (any, *Handle, error) {
	h := newHandle(node)
	if node.HasConst {
		return node.Const, h, nil
	}
	if len(node.Enum) > 0 {
		return node.Enum[0], h, nil
	}
	switch node.Kind {
	case ir.KindNull, ir.KindRecursiveCutoff, ir.KindAny:
		return nil, h, nil
	case ir.KindBoolean:
		return false, h, nil
	case ir.KindInteger, ir.KindNumber:
		return minimalNumber(node), h, nil
	case ir.KindString:
		v, err := minimalString(node, c.opts)
		return v, h, err
	case ir.KindArray:
		n := 0
		if node.MinItems != nil {
			n = *node.MinItems
		}
		items := node.Items
		if items == nil {
			items = &ir.Node{Kind: ir.KindAny, Raw: true}
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, child, err := c.template(items)
			if err != nil {
				return nil, nil, err
			}
			if node.UniqueItems && i > 0 {
				// Identical templates collide under uniqueItems; diversify
				// deterministically with an index-seeded sample.
				rng := rand.New(rand.NewPCG(uint64(i), 42))
				v, child, err = samplePositive(rng, items, c.opts)
				if err != nil {
					return nil, nil, err
				}
			}
			out = append(out, v)
			h.Elems = append(h.Elems, child)
		}
		return out, h, nil
	case ir.KindObject:
		out := make(map[string]any, len(node.Properties))
		h.Props = make(map[string]*Handle, len(node.Properties))
		for _, p := range node.Properties {
			if !p.Required {
				continue
			}
			v, child, err := c.template(p.Node)
			if err != nil {
				return nil, nil, err
			}
			out[p.Name] = v
			h.Props[p.Name] = child
		}
		return out, h, nil
	case ir.KindOneOf, ir.KindAnyOf:
		h.Branch = 0
		v, child, err := c.template(node.Branches[0])
		if err != nil {
			return nil, nil, err
		}
		h.Elems = []*Handle{child}
		return v, h, nil
	default:
		return nil, h, nil
	}
}

func minimalNumber(node *ir.Node) any {
	lo, hi := integerBounds(node)
	v := 0.0
	switch {
	case lo > 0:
		v = lo
	case hi < 0:
		v = hi
	}
	if node.MultipleOf != nil {
		step := *node.MultipleOf
		v = math.Ceil(v/step) * step
	}
	return v
}

func minimalString(node *ir.Node, opts Options) (string, error) {
	if node.Pattern != "" {
		if s, ok := patternMinimal(node.Pattern, node.MinLength, node.MaxLength); ok {
			return s, nil
		}
		return "", &ir.UnsatisfiableSchemaError{Reason: "pattern admits no value within length bounds: " + node.Pattern}
	}
	if node.Format != "" {
		return formatSample(rand.New(rand.NewPCG(1, 1)), node.Format), nil
	}
	n := 0
	if node.MinLength != nil {
		n = *node.MinLength
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b), nil
}

func (c *coverer) positive(node *ir.Node) ([]*GeneratedValue, error) {
	var out []*GeneratedValue

	// Documented examples seed enumeration with highest priority.
	for _, ex := range node.Examples {
		v := positive(ex, "example value", newHandle(node))
		v.FromExample = true
		out = c.emit(out, v)
	}
	if node.HasDefault {
		out = c.emit(out, positive(node.Default, "default value", newHandle(node)))
	}
	if node.HasConst {
		out = c.emit(out, positive(node.Const, "const value", newHandle(node)))
		return out, nil
	}
	if len(node.Enum) > 0 {
		for _, v := range node.Enum {
			out = c.emit(out, positive(v, "enum member", newHandle(node)))
		}
		return out, nil
	}

	tmpl, th, err := c.template(node)
	if err != nil {
		return nil, err
	}
	out = c.emit(out, positive(tmpl, "template value", th))

	switch node.Kind {
	case ir.KindBoolean:
		out = c.emit(out, positive(true, "boolean true", newHandle(node)))
	case ir.KindInteger, ir.KindNumber:
		out = c.coverNumberBounds(out, node)
	case ir.KindString:
		vals, err := c.coverStringLengths(out, node)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindArray:
		vals, err := c.coverArraySizes(out, node)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindObject:
		vals, err := c.coverObjectShapes(out, node, tmpl)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindOneOf, ir.KindAnyOf:
		// Each union branch once.
		for i, b := range node.Branches {
			v, child, err := c.template(b)
			if err != nil {
				if _, unsat := err.(*ir.UnsatisfiableSchemaError); unsat {
					continue
				}
				return nil, err
			}
			h := newHandle(node)
			h.Branch = i
			h.Elems = []*Handle{child}
			out = c.emit(out, positive(v, fmt.Sprintf("union branch %d", i), h))
		}
	}
	return out, nil
}

func (c *coverer) coverNumberBounds(out []*GeneratedValue, node *ir.Node) []*GeneratedValue {
	step := 1.0
	if node.Kind == ir.KindNumber && node.MultipleOf == nil {
		step = 0.5
	}
	if node.MultipleOf != nil {
		step = *node.MultipleOf
	}
	if node.Min != nil {
		lo, hi := integerBounds(node)
		out = c.emit(out, positive(lo, "minimum value", newHandle(node)))
		near := lo + step
		if near <= hi {
			out = c.emit(out, positive(near, "near-minimum value", newHandle(node)))
		}
	}
	if node.Max != nil {
		lo, hi := integerBounds(node)
		out = c.emit(out, positive(hi, "maximum value", newHandle(node)))
		near := hi - step
		if near >= lo {
			out = c.emit(out, positive(near, "near-maximum value", newHandle(node)))
		}
	}
	return out
}

func (c *coverer) coverStringLengths(out []*GeneratedValue, node *ir.Node) ([]*GeneratedValue, error) {
	if node.Pattern != "" || node.Format != "" {
		// Length boundaries cannot be hit reliably under a pattern; the
		// template already covers the constrained shape.
		return out, nil
	}
	exact := func(n int, desc string) {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'a'
		}
		out = c.emit(out, positive(string(b), desc, newHandle(node)))
	}
	if node.MinLength != nil {
		exact(*node.MinLength, "minimum length string")
		larger := *node.MinLength + 1
		if node.MaxLength == nil || larger <= *node.MaxLength {
			exact(larger, "near-boundary length string")
		}
	}
	if node.MaxLength != nil {
		exact(*node.MaxLength, "maximum length string")
		smaller := *node.MaxLength - 1
		if smaller >= 0 && (node.MinLength == nil || smaller >= *node.MinLength) {
			exact(smaller, "near-boundary length string")
		}
	}
	return out, nil
}

func (c *coverer) coverArraySizes(out []*GeneratedValue, node *ir.Node) ([]*GeneratedValue, error) {
	items := node.Items
	if items == nil {
		items = &ir.Node{Kind: ir.KindAny, Raw: true}
	}
	ofSize := func(n int, desc string) error {
		arr := make([]any, 0, n)
		h := newHandle(node)
		for i := 0; i < n; i++ {
			v, child, err := c.template(items)
			if err != nil {
				return err
			}
			if node.UniqueItems && i > 0 {
				rng := rand.New(rand.NewPCG(uint64(i), 42))
				v, child, err = samplePositive(rng, items, c.opts)
				if err != nil {
					return err
				}
			}
			arr = append(arr, v)
			h.Elems = append(h.Elems, child)
		}
		out = c.emit(out, positive(arr, desc, h))
		return nil
	}

	minItems := 0
	if node.MinItems != nil {
		minItems = *node.MinItems
	}
	// Empty vs singleton vs multi-element, where the bounds allow them.
	if minItems == 0 && (node.MaxItems == nil || *node.MaxItems >= 0) {
		if err := ofSize(0, "empty array"); err != nil {
			return nil, err
		}
	}
	if minItems <= 1 && (node.MaxItems == nil || *node.MaxItems >= 1) {
		if err := ofSize(1, "singleton array"); err != nil {
			return nil, err
		}
	}
	multi := minItems + 2
	if node.MaxItems == nil || multi <= *node.MaxItems {
		if err := ofSize(multi, "multi-element array"); err != nil {
			return nil, err
		}
	}
	if node.MaxItems != nil {
		if err := ofSize(*node.MaxItems, "maximum items array"); err != nil {
			return nil, err
		}
		smaller := *node.MaxItems - 1
		if smaller >= minItems {
			if err := ofSize(smaller, "near-boundary items array"); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (c *coverer) coverObjectShapes(out []*GeneratedValue, node *ir.Node, tmpl any) ([]*GeneratedValue, error) {
	base, ok := tmpl.(map[string]any)
	if !ok {
		return out, nil
	}
	// Required-only is the template itself. Add required plus each single
	// optional property, then the full set.
	full := make(map[string]any, len(node.Properties))
	for k, v := range base {
		full[k] = v
	}
	for _, p := range node.Properties {
		if p.Required {
			continue
		}
		v, _, err := c.template(p.Node)
		if err != nil {
			if _, unsat := err.(*ir.UnsatisfiableSchemaError); unsat {
				continue
			}
			return nil, err
		}
		combo := make(map[string]any, len(base)+1)
		for k, bv := range base {
			combo[k] = bv
		}
		combo[p.Name] = v
		full[p.Name] = v
		out = c.emit(out, positive(combo, fmt.Sprintf("required properties plus %q", p.Name), newHandle(node)))
	}
	if len(full) != len(base) {
		out = c.emit(out, positive(full, "all properties", newHandle(node)))
	}
	// Substitute each property's own coverage values into the template.
	for _, p := range node.Properties {
		sub := &coverer{opts: c.opts, seen: map[string]bool{}}
		vals, err := sub.positive(p.Node)
		if err != nil {
			if _, unsat := err.(*ir.UnsatisfiableSchemaError); unsat {
				continue
			}
			return nil, err
		}
		for _, v := range vals {
			combo := make(map[string]any, len(base)+1)
			for k, bv := range base {
				combo[k] = bv
			}
			combo[p.Name] = v.Value
			out = c.emit(out, positive(combo, fmt.Sprintf("object with %q: %s", p.Name, v.Desc), newHandle(node)))
		}
	}
	return out, nil
}
