package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustResolve(t *testing.T, raw any) *Node {
	t.Helper()
	node, err := Resolve(raw, nil, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return node
}

func TestResolveScalarConstraints(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"type":    "integer",
		"minimum": float64(0),
		"maximum": float64(10),
	})
	if node.Kind != KindInteger {
		t.Fatalf("expected integer kind, got %v", node.Kind)
	}
	if node.Min == nil || *node.Min != 0 || node.Max == nil || *node.Max != 10 {
		t.Errorf("bounds not captured: min=%v max=%v", node.Min, node.Max)
	}
}

func TestResolveStringConstraints(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"type":      "string",
		"minLength": float64(2),
		"maxLength": float64(5),
		"pattern":   "^[a-z]+$",
		"format":    "hostname",
	})
	if *node.MinLength != 2 || *node.MaxLength != 5 {
		t.Errorf("length bounds not captured: %v..%v", node.MinLength, node.MaxLength)
	}
	if node.Pattern != "^[a-z]+$" || node.Format != "hostname" {
		t.Errorf("pattern/format not captured: %q %q", node.Pattern, node.Format)
	}
}

func TestResolveObjectPropertiesSortedAndRequired(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"b": map[string]any{"type": "string"},
			"a": map[string]any{"type": "integer"},
		},
		"required":             []any{"b"},
		"additionalProperties": false,
	})
	var names []string
	for _, p := range node.Properties {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("property order mismatch (-want +got):\n%s", diff)
	}
	if node.Property("b") == nil || node.Properties[1].Required != true {
		t.Errorf("required flag lost")
	}
	if node.Additional != AdditionalForbid {
		t.Errorf("additionalProperties: false not captured")
	}
}

func TestResolveUnionBranches(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "integer"},
		},
	})
	if node.Kind != KindOneOf || len(node.Branches) != 2 {
		t.Fatalf("expected oneOf with 2 branches, got %v with %d", node.Kind, len(node.Branches))
	}
}

func TestResolveTypeListBecomesAnyOf(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"type":      []any{"string", "null"},
		"minLength": float64(1),
	})
	if node.Kind != KindAnyOf || len(node.Branches) != 2 {
		t.Fatalf("expected anyOf from type list, got %v", node)
	}
	if node.Branches[0].Kind != KindString || node.Branches[0].MinLength == nil {
		t.Errorf("string branch lost its constraints: %v", node.Branches[0])
	}
}

func TestResolveRecursiveReferenceTerminates(t *testing.T) {
	// A schema referring to itself: {"$ref": "#/defs/tree"} where tree has
	// children of the same type. Resolution must terminate by cutting off.
	tree := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":    map[string]any{"type": "integer"},
			"children": map[string]any{"type": "array", "items": map[string]any{"$ref": "#/defs/tree"}},
		},
		"required": []any{"value"},
	}
	resolver := func(ref string) (any, error) {
		if ref == "#/defs/tree" {
			return tree, nil
		}
		return nil, fmt.Errorf("unknown ref %q", ref)
	}

	node, err := Resolve(map[string]any{"$ref": "#/defs/tree"}, resolver, ResolveOptions{MaxRefDepth: 2})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Walk down: each level must be an object until the cutoff appears.
	depth := 0
	for node.Kind == KindObject {
		items := node.Property("children")
		if items == nil || items.Items == nil {
			t.Fatalf("children lost at depth %d", depth)
		}
		node = items.Items
		depth++
		if depth > 10 {
			t.Fatalf("no cutoff after 10 levels")
		}
	}
	if node.Kind != KindRecursiveCutoff {
		t.Fatalf("expected recursive cutoff, got %v", node.Kind)
	}
	if depth != 2 {
		t.Errorf("expected cutoff at revisit depth 2, got %d", depth)
	}
}

func TestResolveUnresolvableReference(t *testing.T) {
	resolver := func(ref string) (any, error) { return nil, errors.New("nope") }
	_, err := Resolve(map[string]any{"$ref": "#/missing"}, resolver, DefaultResolveOptions())
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Ref != "#/missing" {
		t.Errorf("expected ref in error, got %q", se.Ref)
	}
}

func TestResolveZeroCutoffDepthRejected(t *testing.T) {
	_, err := Resolve(map[string]any{"type": "string"}, nil, ResolveOptions{MaxRefDepth: 0})
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError for zero cutoff depth, got %v", err)
	}
}

func TestResolveUnsatisfiable(t *testing.T) {
	cases := []struct {
		name string
		raw  any
	}{
		{"min above max", map[string]any{"type": "integer", "minimum": float64(5), "maximum": float64(1)}},
		{"exclusive pinch", map[string]any{"type": "number", "minimum": float64(3), "maximum": float64(3), "exclusiveMinimum": true}},
		{"no integer in range", map[string]any{"type": "integer", "minimum": 1.2, "maximum": 1.8}},
		{"minLength above maxLength", map[string]any{"type": "string", "minLength": float64(4), "maxLength": float64(2)}},
		{"minItems above maxItems", map[string]any{"type": "array", "minItems": float64(3), "maxItems": float64(1)}},
		{"false schema", false},
		{"empty enum", map[string]any{"type": "string", "enum": []any{}}},
		{"required but forbidden", map[string]any{
			"type":                 "object",
			"required":             []any{"ghost"},
			"additionalProperties": false,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.raw, nil, DefaultResolveOptions())
			var ue *UnsatisfiableSchemaError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UnsatisfiableSchemaError, got %v", err)
			}
		})
	}
}

func TestResolveMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  any
	}{
		{"bad type", map[string]any{"type": float64(7)}},
		{"unknown type", map[string]any{"type": "integerz"}},
		{"bad minimum", map[string]any{"type": "integer", "minimum": "zero"}},
		{"bad pattern", map[string]any{"type": "string", "pattern": "(["}},
		{"negative maxLength", map[string]any{"type": "string", "maxLength": float64(-1)}},
		{"non-object fragment", "a string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.raw, nil, DefaultResolveOptions())
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
		})
	}
}

func TestResolveAllOfMerge(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"allOf": []any{
			map[string]any{"type": "integer", "minimum": float64(0)},
			map[string]any{"maximum": float64(10), "minimum": float64(2)},
		},
	})
	if node.Kind != KindInteger {
		t.Fatalf("expected merged integer, got %v", node.Kind)
	}
	if *node.Min != 2 || *node.Max != 10 {
		t.Errorf("expected tightest bounds 2..10, got %v..%v", *node.Min, *node.Max)
	}
}

func TestResolveAllOfConflictingBounds(t *testing.T) {
	_, err := Resolve(map[string]any{
		"allOf": []any{
			map[string]any{"type": "integer", "minimum": float64(10)},
			map[string]any{"maximum": float64(2)},
		},
	}, nil, DefaultResolveOptions())
	var ue *UnsatisfiableSchemaError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsatisfiableSchemaError after allOf merge, got %v", err)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"z": map[string]any{"type": "string", "enum": []any{"a", "b"}},
			"a": map[string]any{"type": "number", "minimum": float64(1)},
			"m": map[string]any{"type": "array", "items": map[string]any{"type": "boolean"}},
		},
		"required": []any{"a", "z"},
	}
	fp := NewFingerprinter()
	first := mustResolve(t, raw)
	second := mustResolve(t, raw)
	if fp.Fingerprint(first) != fp.Fingerprint(second) {
		t.Errorf("same input resolved to structurally different IR")
	}
}

func TestResolveExamplesAndDefaults(t *testing.T) {
	node := mustResolve(t, map[string]any{
		"type":     "string",
		"example":  "first",
		"examples": []any{"second"},
		"default":  "dflt",
	})
	if diff := cmp.Diff([]any{"first", "second"}, node.Examples); diff != "" {
		t.Errorf("examples mismatch (-want +got):\n%s", diff)
	}
	if !node.HasDefault || node.Default != "dflt" {
		t.Errorf("default lost: %v", node.Default)
	}
	if !node.ExplicitExamples {
		t.Errorf("examples should be marked explicit")
	}
}
