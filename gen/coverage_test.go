package gen

import (
	"testing"

	"github.com/apiprobe/apiprobe/ir"
)

func coverAll(t *testing.T, node *ir.Node, modes CoverageModes) []*GeneratedValue {
	t.Helper()
	vals, err := New(0).Coverage(node, modes)
	if err != nil {
		t.Fatalf("Coverage failed: %v", err)
	}
	return vals
}

// TestCoverageIntegerBoundaries checks the canonical boundary set for a
// bounded integer: both bounds inside, both just outside.
func TestCoverageIntegerBoundaries(t *testing.T) {
	node := intNode(0, 10)
	vals := coverAll(t, node, CoverageModes{Positive: true, Negative: true})

	got := map[float64]Mode{}
	for _, v := range vals {
		if f, ok := v.Value.(float64); ok {
			got[f] = v.Mode
		}
	}
	for _, want := range []float64{0, 10} {
		if mode, ok := got[want]; !ok || mode != ModePositive {
			t.Errorf("expected positive boundary value %v, got %v", want, got)
		}
	}
	for _, want := range []float64{-1, 11} {
		if mode, ok := got[want]; !ok || mode != ModeNegative {
			t.Errorf("expected negative out-of-bounds value %v, got %v", want, got)
		}
	}
}

func TestCoverageIsOrderStable(t *testing.T) {
	node := &ir.Node{
		Kind: ir.KindObject,
		Properties: []ir.Property{
			{Name: "count", Node: intNode(1, 5), Required: true},
			{Name: "label", Node: &ir.Node{Kind: ir.KindString, MaxLength: ptrI(8)}},
		},
	}
	first := coverAll(t, node, CoverageModes{Positive: true, Negative: true})
	second := coverAll(t, node, CoverageModes{Positive: true, Negative: true})
	if len(first) != len(second) {
		t.Fatalf("enumeration size changed between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if ir.CanonicalJSON(first[i].Value) != ir.CanonicalJSON(second[i].Value) {
			t.Fatalf("value %d differs between runs: %v vs %v", i, first[i].Value, second[i].Value)
		}
	}
}

func TestCoverageEnumMembersOnceEach(t *testing.T) {
	node := &ir.Node{Kind: ir.KindString, Enum: []any{"red", "green", "blue"}}
	vals := coverAll(t, node, CoverageModes{Positive: true})
	if len(vals) != 3 {
		t.Fatalf("expected 3 enum values, got %d", len(vals))
	}
	seen := map[any]bool{}
	for _, v := range vals {
		seen[v.Value] = true
	}
	for _, member := range []string{"red", "green", "blue"} {
		if !seen[member] {
			t.Errorf("enum member %q not enumerated", member)
		}
	}
}

func TestCoverageExamplesFirst(t *testing.T) {
	node := &ir.Node{
		Kind:             ir.KindString,
		Examples:         []any{"documented"},
		ExplicitExamples: true,
	}
	vals := coverAll(t, node, CoverageModes{Positive: true})
	if len(vals) == 0 || vals[0].Value != "documented" {
		t.Fatalf("expected documented example first, got %v", vals)
	}
}

func TestCoverageCollectionSizes(t *testing.T) {
	node := &ir.Node{Kind: ir.KindArray, Items: &ir.Node{Kind: ir.KindInteger}}
	vals := coverAll(t, node, CoverageModes{Positive: true})
	sizes := map[int]bool{}
	for _, v := range vals {
		if arr, ok := v.Value.([]any); ok {
			sizes[len(arr)] = true
		}
	}
	for _, want := range []int{0, 1, 2} {
		if !sizes[want] {
			t.Errorf("expected an array of size %d (empty/singleton/multi), got sizes %v", want, sizes)
		}
	}
}

func TestCoverageUnionBranchesOnceEach(t *testing.T) {
	node := &ir.Node{Kind: ir.KindOneOf, Branches: []*ir.Node{
		{Kind: ir.KindString, MinLength: ptrI(3)},
		{Kind: ir.KindInteger, Min: ptrF(7), Max: ptrF(9)},
	}}
	vals := coverAll(t, node, CoverageModes{Positive: true})
	var sawString, sawInt bool
	for _, v := range vals {
		switch v.Value.(type) {
		case string:
			sawString = true
		case float64:
			sawInt = true
		}
	}
	if !sawString || !sawInt {
		t.Errorf("expected one value per union branch, got %v", vals)
	}
}

func TestNegativeSingleViolationTagging(t *testing.T) {
	node := &ir.Node{
		Kind: ir.KindObject,
		Properties: []ir.Property{
			{Name: "id", Node: intNode(0, 100), Required: true},
			{Name: "name", Node: &ir.Node{Kind: ir.KindString, MinLength: ptrI(1)}, Required: true},
		},
		Additional: ir.AdditionalForbid,
	}
	vals := coverAll(t, node, CoverageModes{Negative: true})

	byViolation := map[ConstraintID]int{}
	for _, v := range vals {
		if v.Mode != ModeNegative {
			t.Fatalf("positive value in negative enumeration: %v", v)
		}
		if v.Violates == "" {
			t.Fatalf("negative value without a violation tag: %v", v)
		}
		byViolation[v.Violates]++
	}
	for _, want := range []ConstraintID{
		ViolationWrongType,
		ViolationMissingRequired,
		ViolationAdditionalProps,
		ViolationBelowMinimum,
		ViolationAboveMaximum,
		ViolationTooShort,
	} {
		if byViolation[want] == 0 {
			t.Errorf("expected at least one %s violation, got %v", want, byViolation)
		}
	}
}

func TestNegativeMissingRequiredPerKey(t *testing.T) {
	node := &ir.Node{
		Kind: ir.KindObject,
		Properties: []ir.Property{
			{Name: "a", Node: &ir.Node{Kind: ir.KindString}, Required: true},
			{Name: "b", Node: &ir.Node{Kind: ir.KindString}, Required: true},
		},
	}
	vals := coverAll(t, node, CoverageModes{Negative: true})
	missing := map[string]bool{}
	for _, v := range vals {
		if v.Violates != ViolationMissingRequired {
			continue
		}
		obj := v.Value.(map[string]any)
		for _, key := range []string{"a", "b"} {
			if _, ok := obj[key]; !ok {
				missing[key] = true
			}
		}
	}
	if !missing["a"] || !missing["b"] {
		t.Errorf("expected one missing-required value per key, got %v", missing)
	}
}

func TestNegativeEnumMissOutsideMembers(t *testing.T) {
	node := &ir.Node{Kind: ir.KindString, Enum: []any{"only"}}
	vals := coverAll(t, node, CoverageModes{Negative: true})
	if len(vals) == 0 {
		t.Fatalf("expected an enum-miss value")
	}
	for _, v := range vals {
		if v.Violates != ViolationEnum {
			t.Errorf("expected enum violation tag, got %s", v.Violates)
		}
		if v.Value == "only" {
			t.Errorf("enum miss produced a member value")
		}
	}
}
