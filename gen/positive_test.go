package gen

import (
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/apiprobe/apiprobe/ir"
)

func compileRaw(t *testing.T, raw any) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", raw); err != nil {
		t.Fatalf("AddResource failed: %v", err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return sch
}

// TestPositiveModeConforms validates that every positive-mode value
// validates against the schema it was generated from.
func TestPositiveModeConforms(t *testing.T) {
	schemas := []map[string]any{
		{"type": "integer", "minimum": float64(3), "maximum": float64(100)},
		{"type": "number", "minimum": float64(-2.5), "maximum": float64(2.5)},
		{"type": "string", "minLength": float64(2), "maxLength": float64(6)},
		{"type": "string", "pattern": "^[a-z]{3}-[0-9]{2}$"},
		{"type": "array", "items": map[string]any{"type": "integer", "minimum": float64(0)}, "minItems": float64(1), "maxItems": float64(4)},
		{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "integer", "minimum": float64(1)},
				"name": map[string]any{"type": "string", "minLength": float64(1)},
				"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required":             []any{"id", "name"},
			"additionalProperties": false,
		},
		{"oneOf": []any{
			map[string]any{"type": "string", "minLength": float64(1)},
			map[string]any{"type": "integer", "minimum": float64(0), "maximum": float64(5)},
		}},
		{"enum": []any{"a", "b", float64(3)}},
	}

	for _, raw := range schemas {
		node, err := ir.Resolve(raw, nil, ir.DefaultResolveOptions())
		if err != nil {
			t.Fatalf("Resolve failed for %v: %v", raw, err)
		}
		sch := compileRaw(t, raw)

		stream := New(99).Stream(node)
		for i := 0; i < 25; i++ {
			v, err := stream.Next()
			if err != nil {
				t.Fatalf("Next failed for %v: %v", raw, err)
			}
			if err := sch.Validate(v.Value); err != nil {
				t.Errorf("positive value %v violates schema %v: %v", v.Value, raw, err)
			}
		}

		coverage, err := New(99).Coverage(node, CoverageModes{Positive: true})
		if err != nil {
			t.Fatalf("Coverage failed for %v: %v", raw, err)
		}
		for _, v := range coverage {
			if err := sch.Validate(v.Value); err != nil {
				t.Errorf("coverage value %v (%s) violates schema %v: %v", v.Value, v.Desc, raw, err)
			}
		}
	}
}

// TestNegativeModeViolates validates that negative-mode values actually fail
// validation against their schema.
func TestNegativeModeViolates(t *testing.T) {
	schemas := []map[string]any{
		{"type": "integer", "minimum": float64(0), "maximum": float64(10)},
		{"type": "string", "minLength": float64(2), "maxLength": float64(4)},
		{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "integer", "minimum": float64(1)},
			},
			"required":             []any{"id"},
			"additionalProperties": false,
		},
		{"enum": []any{"x", "y"}},
	}

	for _, raw := range schemas {
		node, err := ir.Resolve(raw, nil, ir.DefaultResolveOptions())
		if err != nil {
			t.Fatalf("Resolve failed for %v: %v", raw, err)
		}
		sch := compileRaw(t, raw)

		vals, err := New(99).Coverage(node, CoverageModes{Negative: true})
		if err != nil {
			t.Fatalf("Coverage failed for %v: %v", raw, err)
		}
		if len(vals) == 0 {
			t.Fatalf("no negative values for %v", raw)
		}
		for _, v := range vals {
			if err := sch.Validate(v.Value); err == nil {
				t.Errorf("negative value %v (%s, violates %s) unexpectedly conforms to %v",
					v.Value, v.Desc, v.Violates, raw)
			}
		}
	}
}
