package gen

import (
	"math"

	"github.com/apiprobe/apiprobe/ir"
)

// Predicate reports whether a candidate value still exhibits the failing
// behavior being preserved.
type Predicate func(value any) bool

// ShrinkOptions bounds the shrinking loop.
type ShrinkOptions struct {
	// MaxChecks caps predicate evaluations (default: 1000).
	MaxChecks int
}

// Shrink reduces a generated value to a simpler one that still satisfies the
// predicate. The catalogue of reductions is fixed and applied in a fixed
// order, so shrinking is deterministic given the same value and predicate:
// remove array elements, drop optional object keys, truncate strings, move
// numbers toward zero. Reductions that the predicate rejects are discarded;
// the loop runs to a fixed point or until the check budget is exhausted.
//
// The result's handle describes a subset of the original's decisions: the
// shrinker never substitutes semantically unrelated values.
func Shrink(v *GeneratedValue, pred Predicate, opts ...ShrinkOptions) *GeneratedValue {
	opt := ShrinkOptions{MaxChecks: 1000}
	if len(opts) > 0 && opts[0].MaxChecks > 0 {
		opt = opts[0]
	}
	if v == nil || !pred(v.Value) {
		return v
	}
	s := &shrinker{pred: pred, budget: opt.MaxChecks}

	value, handle := v.Value, v.Handle
	for {
		next, nextHandle, improved := s.pass(value, handle, s.check)
		if !improved || s.budget <= 0 {
			break
		}
		value, handle = next, nextHandle
	}
	out := *v
	out.Value = value
	out.Handle = handle
	out.Desc = v.Desc + " (shrunk)"
	return &out
}

type shrinker struct {
	pred   Predicate
	budget int
}

// check spends budget on one predicate evaluation against the whole value.
func (s *shrinker) check(v any) bool {
	if s.budget <= 0 {
		return false
	}
	s.budget--
	return s.pred(v)
}

// pass applies the first accepted reduction and reports improvement. accept
// evaluates a candidate substituted into its enclosing value, so nested
// reductions are always judged in the context of the full value.
func (s *shrinker) pass(v any, h *Handle, accept func(any) bool) (any, *Handle, bool) {
	switch t := v.(type) {
	case []any:
		return s.shrinkArray(t, h, accept)
	case map[string]any:
		return s.shrinkObject(t, h, accept)
	case string:
		nv, ok := s.shrinkString(t, h, accept)
		return nv, h, ok
	case float64:
		nv, ok := s.shrinkNumber(t, h, accept)
		return nv, h, ok
	case int:
		nv, ok := s.shrinkNumber(float64(t), h, accept)
		return nv, h, ok
	case bool:
		if t && accept(false) {
			return false, h, true
		}
		return v, h, false
	default:
		return v, h, false
	}
}

func (s *shrinker) shrinkArray(arr []any, h *Handle, accept func(any) bool) (any, *Handle, bool) {
	minItems := 0
	if node := handleNode(h); node != nil && node.MinItems != nil {
		minItems = *node.MinItems
	}

	// Remove chunks, halving first, then single elements.
	for chunk := len(arr) / 2; chunk >= 1; chunk /= 2 {
		for start := 0; start+chunk <= len(arr); start += chunk {
			if len(arr)-chunk < minItems {
				break
			}
			candidate := make([]any, 0, len(arr)-chunk)
			candidate = append(candidate, arr[:start]...)
			candidate = append(candidate, arr[start+chunk:]...)
			if accept(candidate) {
				return candidate, cutElems(h, start, chunk), true
			}
		}
	}

	// Shrink elements in place.
	for i := range arr {
		i := i
		child := elemHandle(h, i)
		nv, nh, ok := s.pass(arr[i], child, func(sub any) bool {
			candidate := make([]any, len(arr))
			copy(candidate, arr)
			candidate[i] = sub
			return accept(candidate)
		})
		if ok {
			candidate := make([]any, len(arr))
			copy(candidate, arr)
			candidate[i] = nv
			return candidate, setElem(h, i, nh), true
		}
	}
	return arr, h, false
}

func (s *shrinker) shrinkObject(obj map[string]any, h *Handle, accept func(any) bool) (any, *Handle, bool) {
	node := handleNode(h)

	// Drop optional keys first, required keys never.
	for _, key := range sortedKeys(obj) {
		if node != nil && isRequired(node, key) {
			continue
		}
		candidate := make(map[string]any, len(obj)-1)
		for k, v := range obj {
			if k != key {
				candidate[k] = v
			}
		}
		if accept(candidate) {
			return candidate, dropProp(h, key), true
		}
	}

	// Shrink property values.
	for _, key := range sortedKeys(obj) {
		key := key
		child := propHandle(h, key)
		nv, nh, ok := s.pass(obj[key], child, func(sub any) bool {
			candidate := make(map[string]any, len(obj))
			for k, v := range obj {
				candidate[k] = v
			}
			candidate[key] = sub
			return accept(candidate)
		})
		if ok {
			candidate := make(map[string]any, len(obj))
			for k, v := range obj {
				candidate[k] = v
			}
			candidate[key] = nv
			return candidate, setProp(h, key, nh), true
		}
	}
	return obj, h, false
}

func (s *shrinker) shrinkString(str string, h *Handle, accept func(any) bool) (string, bool) {
	minLen := 0
	if node := handleNode(h); node != nil && node.MinLength != nil {
		minLen = *node.MinLength
	}
	if len(str) <= minLen {
		return str, false
	}
	// Largest cut first: down to the minimum, then halfway, then one
	// trailing character. The outer fixed-point loop re-applies until no
	// truncation survives the predicate.
	if accept(str[:minLen]) {
		return str[:minLen], true
	}
	half := minLen + (len(str)-minLen)/2
	if half > minLen && half < len(str) && accept(str[:half]) {
		return str[:half], true
	}
	if accept(str[:len(str)-1]) {
		return str[:len(str)-1], true
	}
	return str, false
}

func (s *shrinker) shrinkNumber(f float64, h *Handle, accept func(any) bool) (any, bool) {
	target := 0.0
	node := handleNode(h)
	if node != nil {
		lo, hi := integerBounds(node)
		if lo > 0 {
			target = lo
		} else if hi < 0 {
			target = hi
		}
	}
	if f == target {
		return f, false
	}
	if accept(target) {
		return target, true
	}
	// Binary moves toward the canonical minimum.
	mid := target + math.Trunc((f-target)/2)
	if mid != f && mid != target && accept(mid) {
		return mid, true
	}
	step := f - 1
	if f < target {
		step = f + 1
	}
	// Never step past the target; that would not be simpler.
	if (f > target && step >= target) || (f < target && step <= target) {
		if accept(step) {
			return step, true
		}
	}
	return f, false
}

func handleNode(h *Handle) *ir.Node {
	if h == nil {
		return nil
	}
	// Union handles point at the chosen branch for structural constraints.
	if h.Branch >= 0 && h.Node != nil && h.Branch < len(h.Node.Branches) {
		return h.Node.Branches[h.Branch]
	}
	return h.Node
}

func isRequired(node *ir.Node, key string) bool {
	for _, p := range node.Properties {
		if p.Name == key {
			return p.Required
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func elemHandle(h *Handle, i int) *Handle {
	if h == nil || i >= len(h.Elems) {
		return nil
	}
	return h.Elems[i]
}

func propHandle(h *Handle, key string) *Handle {
	if h == nil || h.Props == nil {
		return nil
	}
	return h.Props[key]
}

func cutElems(h *Handle, start, n int) *Handle {
	if h == nil || start+n > len(h.Elems) {
		return h
	}
	out := *h
	out.Elems = append(append([]*Handle{}, h.Elems[:start]...), h.Elems[start+n:]...)
	return &out
}

func setElem(h *Handle, i int, child *Handle) *Handle {
	if h == nil || i >= len(h.Elems) {
		return h
	}
	out := *h
	out.Elems = make([]*Handle, len(h.Elems))
	copy(out.Elems, h.Elems)
	out.Elems[i] = child
	return &out
}

func dropProp(h *Handle, key string) *Handle {
	if h == nil || h.Props == nil {
		return h
	}
	out := *h
	out.Props = make(map[string]*Handle, len(h.Props))
	for k, v := range h.Props {
		if k != key {
			out.Props[k] = v
		}
	}
	return &out
}

func setProp(h *Handle, key string, child *Handle) *Handle {
	if h == nil {
		return h
	}
	out := *h
	out.Props = make(map[string]*Handle, len(h.Props)+1)
	for k, v := range h.Props {
		out.Props[k] = v
	}
	out.Props[key] = child
	return &out
}
