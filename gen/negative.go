package gen

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/apiprobe/apiprobe/ir"
)

// negative enumerates values violating exactly one constraint each, tagged
// with the constraint they break. The deterministic internal seed keeps the
// sequence order-stable across runs.
func (c *coverer) negative(node *ir.Node, at string) ([]*GeneratedValue, error) {
	var out []*GeneratedValue
	rng := rand.New(rand.NewPCG(7, 7))

	if node.Kind == ir.KindRecursiveCutoff || node.Kind == ir.KindAny {
		// Nothing can violate an unconstrained node.
		return nil, nil
	}

	if node.HasConst {
		miss := differentValue(node.Const)
		return c.emit(out, negative(miss, "value differing from const", ViolationConst, at, newHandle(node))), nil
	}
	if len(node.Enum) > 0 {
		miss := enumMiss(node.Enum)
		return c.emit(out, negative(miss, "value outside the enum", ViolationEnum, at, newHandle(node))), nil
	}

	// Wrong type: one value per foreign type.
	out = c.negativeTypes(out, node, at)

	switch node.Kind {
	case ir.KindInteger, ir.KindNumber:
		out = c.negativeBounds(out, node, at)
	case ir.KindString:
		vals, err := c.negativeString(out, node, at, rng)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindArray:
		vals, err := c.negativeArray(out, node, at)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindObject:
		vals, err := c.negativeObject(out, node, at)
		if err != nil {
			return nil, err
		}
		out = vals
	case ir.KindOneOf, ir.KindAnyOf:
		// A value violating every branch. Only emitted when all branches
		// share a kind we know how to miss; otherwise type confusion between
		// branches would blur attribution.
		if v, ok := unionMiss(node); ok {
			out = c.emit(out, negative(v, "value matching no union branch", ViolationWrongType, at, newHandle(node)))
		}
	}
	return out, nil
}

// foreignTypeValues maps each kind to a canonical representative, used to
// produce wrong-type values deterministically.
var foreignTypeValues = []struct {
	kind ir.Kind
	v    any
	desc string
}{
	{ir.KindNull, nil, "null instead of %s"},
	{ir.KindBoolean, true, "boolean instead of %s"},
	{ir.KindNumber, 42.5, "number instead of %s"},
	{ir.KindString, "wrong-type", "string instead of %s"},
	{ir.KindArray, []any{}, "array instead of %s"},
	{ir.KindObject, map[string]any{}, "object instead of %s"},
}

func (c *coverer) negativeTypes(out []*GeneratedValue, node *ir.Node, at string) []*GeneratedValue {
	for _, ft := range foreignTypeValues {
		if typeAdmits(node, ft.kind) {
			continue
		}
		out = c.emit(out, negative(ft.v, fmt.Sprintf(ft.desc, node.Kind), ViolationWrongType, at, newHandle(node)))
	}
	// Integers reject non-integral numbers specifically.
	if node.Kind == ir.KindInteger {
		out = c.emit(out, negative(0.5, "non-integral number", ViolationWrongType, at, newHandle(node)))
	}
	return out
}

func typeAdmits(node *ir.Node, kind ir.Kind) bool {
	if node.Nullable && kind == ir.KindNull {
		return true
	}
	switch node.Kind {
	case kind:
		return true
	case ir.KindNumber:
		return kind == ir.KindInteger || kind == ir.KindNumber
	case ir.KindOneOf, ir.KindAnyOf:
		for _, b := range node.Branches {
			if typeAdmits(b, kind) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (c *coverer) negativeBounds(out []*GeneratedValue, node *ir.Node, at string) []*GeneratedValue {
	step := 1.0
	if node.MultipleOf != nil {
		step = *node.MultipleOf
	}
	if node.Min != nil {
		lo, _ := integerBounds(node)
		out = c.emit(out, negative(lo-step, "below the minimum", ViolationBelowMinimum, at, newHandle(node)))
	}
	if node.Max != nil {
		_, hi := integerBounds(node)
		out = c.emit(out, negative(hi+step, "above the maximum", ViolationAboveMaximum, at, newHandle(node)))
	}
	if node.MultipleOf != nil {
		lo, hi := integerBounds(node)
		candidate := lo + *node.MultipleOf/2
		if candidate <= hi && candidate != math.Floor(candidate/(*node.MultipleOf))*(*node.MultipleOf) {
			out = c.emit(out, negative(candidate, "non-multiple within bounds", ViolationMultipleOf, at, newHandle(node)))
		}
	}
	return out
}

func (c *coverer) negativeString(out []*GeneratedValue, node *ir.Node, at string, rng *rand.Rand) ([]*GeneratedValue, error) {
	exact := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'a'
		}
		return string(b)
	}
	if node.MinLength != nil && *node.MinLength > 0 {
		out = c.emit(out, negative(exact(*node.MinLength-1), "one below minimum length", ViolationTooShort, at, newHandle(node)))
	}
	if node.MaxLength != nil {
		out = c.emit(out, negative(exact(*node.MaxLength+1), "one above maximum length", ViolationTooLong, at, newHandle(node)))
	}
	if node.Pattern != "" {
		if s, ok := patternMiss(rng, node.Pattern, node.MinLength, node.MaxLength, c.opts.MaxAttempts); ok {
			out = c.emit(out, negative(s, "string not matching the pattern", ViolationPattern, at, newHandle(node)))
		}
	}
	if node.Format != "" {
		if s, ok := formatViolation(node.Format); ok {
			if node.Pattern == "" && lengthAdmits(node, len(s)) {
				out = c.emit(out, negative(s, "string violating the "+node.Format+" format", ViolationFormat, at, newHandle(node)))
			}
		}
	}
	return out, nil
}

func lengthAdmits(node *ir.Node, n int) bool {
	if node.MinLength != nil && n < *node.MinLength {
		return false
	}
	if node.MaxLength != nil && n > *node.MaxLength {
		return false
	}
	return true
}

func (c *coverer) negativeArray(out []*GeneratedValue, node *ir.Node, at string) ([]*GeneratedValue, error) {
	items := node.Items
	if items == nil {
		items = &ir.Node{Kind: ir.KindAny, Raw: true}
	}
	ofSize := func(n int) ([]any, error) {
		arr := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, _, err := c.template(items)
			if err != nil {
				return nil, err
			}
			if node.UniqueItems && i > 0 {
				rng := rand.New(rand.NewPCG(uint64(i), 42))
				v, _, err = samplePositive(rng, items, c.opts)
				if err != nil {
					return nil, err
				}
			}
			arr = append(arr, v)
		}
		return arr, nil
	}

	if node.MinItems != nil && *node.MinItems > 0 {
		arr, err := ofSize(*node.MinItems - 1)
		if err != nil {
			return nil, err
		}
		out = c.emit(out, negative(arr, "one item below minItems", ViolationTooFewItems, at, newHandle(node)))
	}
	if node.MaxItems != nil {
		arr, err := ofSize(*node.MaxItems + 1)
		if err != nil {
			return nil, err
		}
		out = c.emit(out, negative(arr, "one item above maxItems", ViolationTooManyItems, at, newHandle(node)))
	}
	if node.UniqueItems {
		v, _, err := c.template(items)
		if err != nil {
			return nil, err
		}
		dup := []any{v, v}
		if node.MaxItems == nil || *node.MaxItems >= 2 {
			out = c.emit(out, negative(dup, "duplicate items", ViolationNonUniqueItems, at, newHandle(node)))
		}
	}
	// Items violating the element schema, one per element constraint.
	sub := &coverer{opts: c.opts, seen: map[string]bool{}}
	elemViolations, err := sub.negative(items, at+"/items")
	if err != nil {
		return nil, err
	}
	minItems := 0
	if node.MinItems != nil {
		minItems = *node.MinItems
	}
	for _, ev := range elemViolations {
		arr := []any{ev.Value}
		for len(arr) < minItems {
			filler, _, err := c.template(items)
			if err != nil {
				return nil, err
			}
			arr = append(arr, filler)
		}
		out = c.emit(out, negative(arr, "array with invalid item: "+ev.Desc, ev.Violates, ev.ViolatedAt, newHandle(node)))
	}
	return out, nil
}

func (c *coverer) negativeObject(out []*GeneratedValue, node *ir.Node, at string) ([]*GeneratedValue, error) {
	tmpl, _, err := c.template(node)
	if err != nil {
		return nil, err
	}
	base, ok := tmpl.(map[string]any)
	if !ok {
		return out, nil
	}

	// Missing required property, one per key.
	for _, p := range node.Properties {
		if !p.Required {
			continue
		}
		combo := make(map[string]any, len(base))
		for k, v := range base {
			if k != p.Name {
				combo[k] = v
			}
		}
		out = c.emit(out, negative(combo, "missing required property "+p.Name, ViolationMissingRequired, at+"/"+p.Name, newHandle(node)))
	}

	// Additional property where forbidden.
	if node.Additional == ir.AdditionalForbid {
		combo := make(map[string]any, len(base)+1)
		for k, v := range base {
			combo[k] = v
		}
		combo["unexpected_property"] = true
		out = c.emit(out, negative(combo, "undeclared additional property", ViolationAdditionalProps, at, newHandle(node)))
	}

	// Invalid value for each declared property.
	for _, p := range node.Properties {
		sub := &coverer{opts: c.opts, seen: map[string]bool{}}
		propViolations, err := sub.negative(p.Node, at+"/"+p.Name)
		if err != nil {
			return nil, err
		}
		for _, pv := range propViolations {
			combo := make(map[string]any, len(base)+1)
			for k, v := range base {
				combo[k] = v
			}
			combo[p.Name] = pv.Value
			out = c.emit(out, negative(combo, fmt.Sprintf("object with invalid %q: %s", p.Name, pv.Desc), pv.Violates, pv.ViolatedAt, newHandle(node)))
		}
	}
	return out, nil
}

// differentValue returns a value not equal to v.
func differentValue(v any) any {
	if s, ok := v.(string); ok {
		return s + "-x"
	}
	if f, ok := v.(float64); ok {
		return f + 1
	}
	return "different-value"
}

// enumMiss returns a value outside the enum member set.
func enumMiss(enum []any) any {
	candidates := []any{"enum-miss", 999999.0, true, nil, []any{"enum-miss"}}
	for _, cand := range candidates {
		hit := false
		key := ir.CanonicalJSON(cand)
		for _, member := range enum {
			if ir.CanonicalJSON(member) == key {
				hit = true
				break
			}
		}
		if !hit {
			return cand
		}
	}
	return map[string]any{"enum": "miss"}
}

// unionMiss produces a value matching none of the union branches when all
// branches are scalar kinds with a common foreign type.
func unionMiss(node *ir.Node) (any, bool) {
	for _, ft := range foreignTypeValues {
		admits := false
		for _, b := range node.Branches {
			if typeAdmits(b, ft.kind) || b.Kind == ir.KindAny || b.Kind == ir.KindRecursiveCutoff {
				admits = true
				break
			}
		}
		if !admits {
			return ft.v, true
		}
	}
	return nil, false
}
