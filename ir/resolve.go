package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
)

// RefResolver returns the raw fragment a `$ref` string points at.
// Loaders supply it; Resolve never fetches anything itself.
type RefResolver func(ref string) (any, error)

// ResolveOptions configures reference resolution.
type ResolveOptions struct {
	// MaxRefDepth is how many times a single reference may be revisited
	// along one resolution path before it is replaced with a
	// recursive-cutoff placeholder. Must be at least 1.
	MaxRefDepth int
}

// DefaultResolveOptions returns the default resolution configuration.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{MaxRefDepth: 3}
}

// Resolve normalizes a raw JSON-Schema-like fragment into an IR Node.
//
// Resolution is pure: the same input always yields a structurally identical
// IR, so results may be cached by fragment identity. References are resolved
// through the callback; cycles are broken by substituting a recursive-cutoff
// node once a reference has been revisited MaxRefDepth times, which
// guarantees that recursive descent over the result terminates.
func Resolve(raw any, resolver RefResolver, opts ResolveOptions) (*Node, error) {
	if opts.MaxRefDepth < 1 {
		return nil, schemaErrorf("", "reference revisit depth must be positive, got %d", opts.MaxRefDepth)
	}
	r := &resolveCtx{
		resolver: resolver,
		opts:     opts,
		visiting: make(map[string]int),
	}
	return r.resolve(raw, "")
}

type resolveCtx struct {
	resolver RefResolver
	opts     ResolveOptions
	// visiting counts how many times each ref occurs on the current path.
	visiting map[string]int
}

func (r *resolveCtx) resolve(raw any, path string) (*Node, error) {
	switch v := raw.(type) {
	case bool:
		// JSON Schema booleans: true admits anything, false admits nothing.
		if !v {
			return nil, unsatisfiablef(path, "the `false` schema admits no value")
		}
		return &Node{Kind: KindAny, Raw: true}, nil
	case nil:
		return &Node{Kind: KindAny, Raw: map[string]any{}}, nil
	case map[string]any:
		return r.resolveObject(v, path)
	default:
		return nil, schemaErrorf(path, "schema fragment must be an object or boolean, got %T", raw)
	}
}

func (r *resolveCtx) resolveObject(raw map[string]any, path string) (*Node, error) {
	if ref, ok := raw["$ref"]; ok {
		return r.resolveRef(ref, path)
	}

	if all, ok := raw["allOf"]; ok {
		merged, err := r.mergeAllOf(raw, all, path)
		if err != nil {
			return nil, err
		}
		raw = merged
	}

	node := &Node{Raw: raw}

	if err := r.fillType(node, raw, path); err != nil {
		return nil, err
	}
	if node.Kind == KindOneOf || node.Kind == KindAnyOf {
		return node, nil
	}
	if err := fillScalars(node, raw, path); err != nil {
		return nil, err
	}
	if err := r.fillArray(node, raw, path); err != nil {
		return nil, err
	}
	if err := r.fillObjectProps(node, raw, path); err != nil {
		return nil, err
	}
	fillSeeds(node, raw)
	if err := checkSatisfiable(node, path); err != nil {
		return nil, err
	}
	return node, nil
}

func (r *resolveCtx) resolveRef(ref any, path string) (*Node, error) {
	id, ok := ref.(string)
	if !ok {
		return nil, schemaErrorf(path, "$ref must be a string, got %T", ref)
	}
	if r.resolver == nil {
		return nil, &SchemaError{Path: path, Ref: id, Reason: "no reference resolver provided"}
	}
	if r.visiting[id] >= r.opts.MaxRefDepth {
		return &Node{Kind: KindRecursiveCutoff, Ref: id, Raw: map[string]any{"$ref": id}}, nil
	}
	target, err := r.resolver(id)
	if err != nil {
		return nil, &SchemaError{Path: path, Ref: id, Reason: "unresolvable reference", Err: err}
	}
	r.visiting[id]++
	defer func() { r.visiting[id]-- }()

	node, err := r.resolve(target, path)
	if err != nil {
		return nil, err
	}
	if node.Ref == "" {
		// Keep provenance of the nearest reference.
		copied := *node
		copied.Ref = id
		node = &copied
	}
	return node, nil
}

// mergeAllOf flattens `allOf` into a single fragment. Constraints are
// intersected: tightest bounds win, required sets union, properties union.
// Conflicting types are a schema error; bounds that cross after merging
// surface later as an unsatisfiable schema.
func (r *resolveCtx) mergeAllOf(base map[string]any, all any, path string) (map[string]any, error) {
	branches, ok := all.([]any)
	if !ok || len(branches) == 0 {
		return nil, schemaErrorf(path+"/allOf", "allOf must be a non-empty array")
	}
	merged := make(map[string]any, len(base))
	for k, v := range base {
		if k != "allOf" {
			merged[k] = v
		}
	}
	for i, b := range branches {
		branchPath := fmt.Sprintf("%s/allOf/%d", path, i)
		frag := b
		// Follow references inside allOf before merging.
		if m, ok := b.(map[string]any); ok {
			if refv, has := m["$ref"]; has {
				id, ok := refv.(string)
				if !ok {
					return nil, schemaErrorf(branchPath, "$ref must be a string")
				}
				if r.visiting[id] >= r.opts.MaxRefDepth {
					// A cutoff contributes no constraints.
					continue
				}
				if r.resolver == nil {
					return nil, &SchemaError{Path: branchPath, Ref: id, Reason: "no reference resolver provided"}
				}
				target, err := r.resolver(id)
				if err != nil {
					return nil, &SchemaError{Path: branchPath, Ref: id, Reason: "unresolvable reference", Err: err}
				}
				frag = target
			}
		}
		m, ok := frag.(map[string]any)
		if !ok {
			if bv, isBool := frag.(bool); isBool {
				if !bv {
					return nil, unsatisfiablef(branchPath, "allOf branch is the `false` schema")
				}
				continue
			}
			return nil, schemaErrorf(branchPath, "allOf branch must be an object or boolean, got %T", frag)
		}
		if nested, has := m["allOf"]; has {
			flattened, err := r.mergeAllOf(m, nested, branchPath)
			if err != nil {
				return nil, err
			}
			m = flattened
		}
		var err error
		merged, err = mergeFragments(merged, m, branchPath)
		if err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func mergeFragments(dst, src map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		prev, exists := out[k]
		if !exists {
			out[k] = v
			continue
		}
		switch k {
		case "type":
			if fmt.Sprint(prev) != fmt.Sprint(v) {
				return nil, schemaErrorf(path, "allOf branches declare conflicting types %v and %v", prev, v)
			}
		case "minimum", "minLength", "minItems", "minProperties", "exclusiveMinimum":
			out[k] = maxNumber(prev, v)
		case "maximum", "maxLength", "maxItems", "maxProperties", "exclusiveMaximum":
			out[k] = minNumber(prev, v)
		case "required":
			out[k] = unionStrings(prev, v)
		case "properties":
			pm, pok := prev.(map[string]any)
			vm, vok := v.(map[string]any)
			if !pok || !vok {
				return nil, schemaErrorf(path, "properties must be an object")
			}
			props := make(map[string]any, len(pm)+len(vm))
			for pk, pv := range pm {
				props[pk] = pv
			}
			for pk, pv := range vm {
				if _, dup := props[pk]; !dup {
					props[pk] = pv
				}
			}
			out[k] = props
		default:
			// Last branch wins for everything else (enum, pattern, format...).
			out[k] = v
		}
	}
	return out, nil
}

func maxNumber(a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return b
	}
	if af > bf {
		return a
	}
	return b
}

func minNumber(a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return b
	}
	if af < bf {
		return a
	}
	return b
}

func unionStrings(a, b any) any {
	seen := map[string]bool{}
	var out []any
	for _, src := range []any{a, b} {
		items, ok := src.([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			s, ok := it.(string)
			if ok && !seen[s] {
				seen[s] = true
				out = append(out, it)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
	return out
}

func (r *resolveCtx) fillType(node *Node, raw map[string]any, path string) error {
	if branches, ok := raw["oneOf"]; ok {
		return r.fillBranches(node, KindOneOf, branches, path+"/oneOf")
	}
	if branches, ok := raw["anyOf"]; ok {
		return r.fillBranches(node, KindAnyOf, branches, path+"/anyOf")
	}

	ty, declared := raw["type"]
	if !declared {
		node.Kind = inferKind(raw)
		return nil
	}
	switch t := ty.(type) {
	case string:
		kind, ok := kindFromTypeName(t)
		if !ok {
			return schemaErrorf(path, "unknown type %q", t)
		}
		node.Kind = kind
		return nil
	case []any:
		// A type list is an anyOf over single-type views of the fragment.
		if len(t) == 0 {
			return unsatisfiablef(path, "empty type list")
		}
		if len(t) == 1 {
			name, ok := t[0].(string)
			if !ok {
				return schemaErrorf(path, "type list entries must be strings, got %T", t[0])
			}
			kind, ok := kindFromTypeName(name)
			if !ok {
				return schemaErrorf(path, "unknown type %q", name)
			}
			node.Kind = kind
			return nil
		}
		var branches []any
		for _, entry := range t {
			name, ok := entry.(string)
			if !ok {
				return schemaErrorf(path, "type list entries must be strings, got %T", entry)
			}
			view := make(map[string]any, len(raw))
			for k, v := range raw {
				view[k] = v
			}
			view["type"] = name
			branches = append(branches, view)
		}
		return r.fillBranches(node, KindAnyOf, branches, path+"/type")
	default:
		return schemaErrorf(path, "type must be a string or array, got %T", ty)
	}
}

func (r *resolveCtx) fillBranches(node *Node, kind Kind, branches any, path string) error {
	list, ok := branches.([]any)
	if !ok || len(list) == 0 {
		return schemaErrorf(path, "union must be a non-empty array")
	}
	node.Kind = kind
	for i, b := range list {
		child, err := r.resolve(b, fmt.Sprintf("%s/%d", path, i))
		if err != nil {
			// An unsatisfiable branch just narrows the union.
			if _, unsat := err.(*UnsatisfiableSchemaError); unsat {
				continue
			}
			return err
		}
		node.Branches = append(node.Branches, child)
	}
	if len(node.Branches) == 0 {
		return unsatisfiablef(path, "no satisfiable union branch")
	}
	return nil
}

func kindFromTypeName(name string) (Kind, bool) {
	switch name {
	case "null":
		return KindNull, true
	case "boolean":
		return KindBoolean, true
	case "integer":
		return KindInteger, true
	case "number":
		return KindNumber, true
	case "string":
		return KindString, true
	case "array":
		return KindArray, true
	case "object":
		return KindObject, true
	default:
		return 0, false
	}
}

// inferKind guesses a kind for untyped fragments from the constraints present.
func inferKind(raw map[string]any) Kind {
	switch {
	case hasAny(raw, "properties", "required", "additionalProperties", "minProperties", "maxProperties"):
		return KindObject
	case hasAny(raw, "items", "minItems", "maxItems", "uniqueItems", "prefixItems"):
		return KindArray
	case hasAny(raw, "pattern", "minLength", "maxLength", "format"):
		return KindString
	case hasAny(raw, "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "multipleOf"):
		return KindNumber
	case hasAny(raw, "enum", "const"):
		// Enum/const-only fragments take their shape from the values.
		return KindAny
	default:
		return KindAny
	}
}

func hasAny(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}

func fillScalars(node *Node, raw map[string]any, path string) error {
	var err error
	if node.Min, err = floatField(raw, "minimum", path); err != nil {
		return err
	}
	if node.Max, err = floatField(raw, "maximum", path); err != nil {
		return err
	}
	// Draft-4 style boolean exclusives and draft-2020 numeric exclusives
	// are both accepted.
	if ex, ok := raw["exclusiveMinimum"]; ok {
		switch v := ex.(type) {
		case bool:
			node.ExclMin = v
		default:
			f, ok := toFloat(v)
			if !ok {
				return schemaErrorf(path, "exclusiveMinimum must be a number or boolean, got %T", ex)
			}
			node.Min = &f
			node.ExclMin = true
		}
	}
	if ex, ok := raw["exclusiveMaximum"]; ok {
		switch v := ex.(type) {
		case bool:
			node.ExclMax = v
		default:
			f, ok := toFloat(v)
			if !ok {
				return schemaErrorf(path, "exclusiveMaximum must be a number or boolean, got %T", ex)
			}
			node.Max = &f
			node.ExclMax = true
		}
	}
	if node.MultipleOf, err = floatField(raw, "multipleOf", path); err != nil {
		return err
	}
	if node.MultipleOf != nil && *node.MultipleOf <= 0 {
		return schemaErrorf(path, "multipleOf must be positive, got %v", *node.MultipleOf)
	}

	if node.MinLength, err = intField(raw, "minLength", path); err != nil {
		return err
	}
	if node.MaxLength, err = intField(raw, "maxLength", path); err != nil {
		return err
	}
	if p, ok := raw["pattern"]; ok {
		s, ok := p.(string)
		if !ok {
			return schemaErrorf(path, "pattern must be a string, got %T", p)
		}
		if _, err := regexp.Compile(s); err != nil {
			return schemaErrorf(path, "invalid pattern %q: %v", s, err)
		}
		node.Pattern = s
	}
	if f, ok := raw["format"]; ok {
		s, ok := f.(string)
		if !ok {
			return schemaErrorf(path, "format must be a string, got %T", f)
		}
		node.Format = s
	}
	if nullable, ok := raw["nullable"]; ok {
		b, ok := nullable.(bool)
		if !ok {
			return schemaErrorf(path, "nullable must be a boolean, got %T", nullable)
		}
		node.Nullable = b
	}
	return nil
}

func (r *resolveCtx) fillArray(node *Node, raw map[string]any, path string) error {
	var err error
	if node.MinItems, err = intField(raw, "minItems", path); err != nil {
		return err
	}
	if node.MaxItems, err = intField(raw, "maxItems", path); err != nil {
		return err
	}
	if u, ok := raw["uniqueItems"]; ok {
		b, ok := u.(bool)
		if !ok {
			return schemaErrorf(path, "uniqueItems must be a boolean, got %T", u)
		}
		node.UniqueItems = b
	}
	if items, ok := raw["items"]; ok {
		child, err := r.resolve(items, path+"/items")
		if err != nil {
			return err
		}
		node.Items = child
	}
	return nil
}

func (r *resolveCtx) fillObjectProps(node *Node, raw map[string]any, path string) error {
	required := map[string]bool{}
	if req, ok := raw["required"]; ok {
		list, ok := req.([]any)
		if !ok {
			return schemaErrorf(path, "required must be an array, got %T", req)
		}
		for _, entry := range list {
			name, ok := entry.(string)
			if !ok {
				return schemaErrorf(path, "required entries must be strings, got %T", entry)
			}
			required[name] = true
		}
	}

	if props, ok := raw["properties"]; ok {
		m, ok := props.(map[string]any)
		if !ok {
			return schemaErrorf(path, "properties must be an object, got %T", props)
		}
		// Maps are unordered; sort names so the IR is deterministic.
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child, err := r.resolve(m[name], path+"/properties/"+name)
			if err != nil {
				return err
			}
			node.Properties = append(node.Properties, Property{
				Name:     name,
				Node:     child,
				Required: required[name],
			})
			delete(required, name)
		}
	}

	switch ap := raw["additionalProperties"].(type) {
	case nil:
		node.Additional = AdditionalAllow
	case bool:
		if ap {
			node.Additional = AdditionalAllow
		} else {
			node.Additional = AdditionalForbid
		}
	default:
		child, err := r.resolve(ap, path+"/additionalProperties")
		if err != nil {
			return err
		}
		node.Additional = AdditionalSchema
		node.AdditionalNode = child
	}

	// Required names without a declared property schema.
	if len(required) > 0 {
		names := make([]string, 0, len(required))
		for name := range required {
			names = append(names, name)
		}
		sort.Strings(names)
		if node.Additional == AdditionalForbid {
			return unsatisfiablef(path, "required property %q is forbidden by additionalProperties: false", names[0])
		}
		extra := node.AdditionalNode
		if extra == nil {
			extra = &Node{Kind: KindAny, Raw: true}
		}
		for _, name := range names {
			node.Properties = append(node.Properties, Property{Name: name, Node: extra, Required: true})
		}
	}
	return nil
}

func fillSeeds(node *Node, raw map[string]any) {
	if enum, ok := raw["enum"].([]any); ok {
		node.Enum = enum
	}
	if c, ok := raw["const"]; ok {
		node.Const = c
		node.HasConst = true
	}
	if ex, ok := raw["example"]; ok {
		node.Examples = append(node.Examples, ex)
		node.ExplicitExamples = true
	}
	if exs, ok := raw["examples"].([]any); ok {
		node.Examples = append(node.Examples, exs...)
		node.ExplicitExamples = true
	}
	if d, ok := raw["default"]; ok {
		node.Default = d
		node.HasDefault = true
	}
}

// checkSatisfiable rejects fragments whose combined constraints admit no
// value. This must be detected here, not discovered as a generation timeout.
func checkSatisfiable(node *Node, path string) error {
	if node.Min != nil && node.Max != nil {
		lo, hi := *node.Min, *node.Max
		if lo > hi {
			return unsatisfiablef(path, "minimum %v > maximum %v", lo, hi)
		}
		if lo == hi && (node.ExclMin || node.ExclMax) {
			return unsatisfiablef(path, "exclusive bounds leave no value at %v", lo)
		}
		if node.Kind == KindInteger && math.Floor(hi) < math.Ceil(lo) {
			return unsatisfiablef(path, "no integer between %v and %v", lo, hi)
		}
	}
	if node.MinLength != nil && node.MaxLength != nil && *node.MinLength > *node.MaxLength {
		return unsatisfiablef(path, "minLength %d > maxLength %d", *node.MinLength, *node.MaxLength)
	}
	if node.MinItems != nil && node.MaxItems != nil && *node.MinItems > *node.MaxItems {
		return unsatisfiablef(path, "minItems %d > maxItems %d", *node.MinItems, *node.MaxItems)
	}
	if enum, ok := node.Raw.(map[string]any); ok {
		if e, has := enum["enum"]; has {
			if list, ok := e.([]any); ok && len(list) == 0 {
				return unsatisfiablef(path, "empty enum")
			}
		}
	}
	return nil
}

func floatField(raw map[string]any, key, path string) (*float64, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, schemaErrorf(path, "%s must be a number, got %T", key, v)
	}
	return &f, nil
}

func intField(raw map[string]any, key, path string) (*int, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return nil, schemaErrorf(path, "%s must be an integer, got %v", key, v)
	}
	if f < 0 {
		return nil, schemaErrorf(path, "%s must be non-negative, got %v", key, v)
	}
	i := int(f)
	return &i, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
