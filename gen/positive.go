package gen

import (
	"math"
	"math/rand/v2"

	"github.com/apiprobe/apiprobe/ir"
)

// samplePositive draws one value honoring every constraint of the node.
func samplePositive(rng *rand.Rand, node *ir.Node, opts Options) (any, *Handle, error) {
	h := newHandle(node)

	if node.Nullable && rng.IntN(10) == 0 {
		return nil, h, nil
	}
	if node.HasConst {
		return node.Const, h, nil
	}
	if len(node.Enum) > 0 {
		return node.Enum[rng.IntN(len(node.Enum))], h, nil
	}
	if len(node.Examples) > 0 && rng.IntN(4) == 0 {
		// Documented examples are trusted conformant values; mixing them in
		// keeps exploration anchored to realistic data.
		return node.Examples[rng.IntN(len(node.Examples))], h, nil
	}

	switch node.Kind {
	case ir.KindNull:
		return nil, h, nil
	case ir.KindRecursiveCutoff:
		// The cutoff placeholder stands for an arbitrarily deep subtree;
		// the simplest admissible value is null.
		return nil, h, nil
	case ir.KindAny:
		return sampleAny(rng), h, nil
	case ir.KindBoolean:
		return rng.IntN(2) == 0, h, nil
	case ir.KindInteger:
		v, err := sampleInteger(rng, node)
		return v, h, err
	case ir.KindNumber:
		v, err := sampleNumber(rng, node)
		return v, h, err
	case ir.KindString:
		v, err := sampleString(rng, node, opts)
		return v, h, err
	case ir.KindArray:
		return sampleArray(rng, node, opts, h)
	case ir.KindObject:
		return sampleObject(rng, node, opts, h)
	case ir.KindOneOf, ir.KindAnyOf:
		branch := rng.IntN(len(node.Branches))
		h.Branch = branch
		v, child, err := samplePositive(rng, node.Branches[branch], opts)
		if err != nil {
			return nil, nil, err
		}
		h.Elems = []*Handle{child}
		return v, h, nil
	default:
		return nil, h, nil
	}
}

func sampleAny(rng *rand.Rand) any {
	switch rng.IntN(6) {
	case 0:
		return nil
	case 1:
		return rng.IntN(2) == 0
	case 2:
		return float64(rng.IntN(1000))
	case 3:
		return randomWord(rng, 1+rng.IntN(8))
	case 4:
		return []any{}
	default:
		return map[string]any{}
	}
}

func integerBounds(node *ir.Node) (lo, hi float64) {
	lo, hi = -1000, 1000
	if node.Min != nil {
		lo = *node.Min
		if node.ExclMin {
			lo++
		}
		lo = math.Ceil(lo)
		if node.Max == nil {
			hi = lo + 2000
		}
	}
	if node.Max != nil {
		hi = *node.Max
		if node.ExclMax {
			hi--
		}
		hi = math.Floor(hi)
		if node.Min == nil {
			lo = hi - 2000
		}
	}
	return lo, hi
}

func sampleInteger(rng *rand.Rand, node *ir.Node) (any, error) {
	lo, hi := integerBounds(node)
	if node.MultipleOf != nil {
		step := *node.MultipleOf
		first := math.Ceil(lo/step) * step
		last := math.Floor(hi/step) * step
		if first > last {
			return nil, &ir.UnsatisfiableSchemaError{Reason: "no multiple in range"}
		}
		count := (last-first)/step + 1
		if count > 1e6 {
			count = 1e6
		}
		return first + float64(rng.IntN(int(count)))*step, nil
	}
	if lo > hi {
		return nil, &ir.UnsatisfiableSchemaError{Reason: "empty integer range"}
	}
	span := hi - lo
	if span > 1e9 {
		span = 1e9
	}
	return lo + float64(rng.Int64N(int64(span)+1)), nil
}

func sampleNumber(rng *rand.Rand, node *ir.Node) (any, error) {
	lo, hi := -1000.0, 1000.0
	if node.Min != nil {
		lo = *node.Min
		if node.Max == nil {
			hi = lo + 2000
		}
	}
	if node.Max != nil {
		hi = *node.Max
		if node.Min == nil {
			lo = hi - 2000
		}
	}
	if node.MultipleOf != nil {
		return sampleInteger(rng, node)
	}
	if lo > hi {
		return nil, &ir.UnsatisfiableSchemaError{Reason: "empty number range"}
	}
	v := lo + rng.Float64()*(hi-lo)
	// Nudge off exclusive bounds; the interval is non-degenerate here.
	if node.ExclMin && v == lo {
		v = math.Nextafter(lo, hi)
	}
	if node.ExclMax && v == hi {
		v = math.Nextafter(hi, lo)
	}
	return v, nil
}

func stringLengthBounds(node *ir.Node, opts Options) (lo, hi int) {
	lo = 0
	hi = opts.DefaultMaxLength
	if node.MinLength != nil {
		lo = *node.MinLength
		if hi < lo {
			hi = lo + 5
		}
	}
	if node.MaxLength != nil {
		hi = *node.MaxLength
	}
	return lo, hi
}

func sampleString(rng *rand.Rand, node *ir.Node, opts Options) (any, error) {
	if node.Pattern != "" {
		return patternSample(rng, node.Pattern, node.MinLength, node.MaxLength, opts.MaxAttempts)
	}
	if node.Format != "" {
		return formatSample(rng, node.Format), nil
	}
	lo, hi := stringLengthBounds(node, opts)
	n := lo
	if hi > lo {
		n = lo + rng.IntN(hi-lo+1)
	}
	return randomWord(rng, n), nil
}

const wordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomWord(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = wordAlphabet[rng.IntN(len(wordAlphabet))]
	}
	return string(b)
}

func sampleArray(rng *rand.Rand, node *ir.Node, opts Options, h *Handle) (any, *Handle, error) {
	lo := 0
	hi := opts.DefaultMaxItems
	if node.MinItems != nil {
		lo = *node.MinItems
		if hi < lo {
			hi = lo + 2
		}
	}
	if node.MaxItems != nil {
		hi = *node.MaxItems
	}
	n := lo
	if hi > lo {
		n = lo + rng.IntN(hi-lo+1)
	}

	items := node.Items
	if items == nil {
		items = &ir.Node{Kind: ir.KindAny, Raw: true}
	}
	out := make([]any, 0, n)
	seen := map[string]bool{}
	attempts := 0
	for len(out) < n {
		v, child, err := samplePositive(rng, items, opts)
		if err != nil {
			return nil, nil, err
		}
		if node.UniqueItems {
			key := ir.CanonicalJSON(v)
			if seen[key] {
				attempts++
				if attempts > opts.MaxAttempts {
					if len(out) >= lo {
						break
					}
					return nil, nil, &ir.UnsatisfiableSchemaError{
						Reason: "cannot produce enough unique items",
					}
				}
				continue
			}
			seen[key] = true
		}
		out = append(out, v)
		h.Elems = append(h.Elems, child)
	}
	return out, h, nil
}

func sampleObject(rng *rand.Rand, node *ir.Node, opts Options, h *Handle) (any, *Handle, error) {
	out := make(map[string]any, len(node.Properties))
	h.Props = make(map[string]*Handle, len(node.Properties))
	for _, p := range node.Properties {
		if !p.Required && rng.Float64() >= opts.OptionalProbability {
			continue
		}
		v, child, err := samplePositive(rng, p.Node, opts)
		if err != nil {
			return nil, nil, err
		}
		out[p.Name] = v
		h.Props[p.Name] = child
	}
	return out, h, nil
}
