package ir

import (
	"testing"
)

// TestFingerprintBasicKinds tests fingerprinting of basic kinds.
func TestFingerprintBasicKinds(t *testing.T) {
	fp := NewFingerprinter()

	s1 := &Node{Kind: KindString}
	s2 := &Node{Kind: KindString}
	if fp.Fingerprint(s1) != fp.Fingerprint(s2) {
		t.Errorf("identical string nodes should share a fingerprint")
	}

	n := &Node{Kind: KindNumber}
	if fp.Fingerprint(s1) == fp.Fingerprint(n) {
		t.Error("string and number nodes should have different fingerprints")
	}

	i := &Node{Kind: KindInteger}
	if fp.Fingerprint(n) == fp.Fingerprint(i) {
		t.Error("number and integer nodes should have different fingerprints")
	}
}

// TestFingerprintConstraintsMatter tests that constraints change the hash.
func TestFingerprintConstraintsMatter(t *testing.T) {
	fp := NewFingerprinter()
	min := 2.0

	plain := &Node{Kind: KindNumber}
	bounded := &Node{Kind: KindNumber, Min: &min}
	if fp.Fingerprint(plain) == fp.Fingerprint(bounded) {
		t.Error("minimum bound should change the fingerprint")
	}

	exclusive := &Node{Kind: KindNumber, Min: &min, ExclMin: true}
	if fp.Fingerprint(bounded) == fp.Fingerprint(exclusive) {
		t.Error("exclusive flag should change the fingerprint")
	}
}

// TestFingerprintPropertyOrderIrrelevant tests that property order does not
// affect the hash while property content does.
func TestFingerprintPropertyOrderIrrelevant(t *testing.T) {
	fp := NewFingerprinter()
	str := &Node{Kind: KindString}
	num := &Node{Kind: KindNumber}

	ab := &Node{Kind: KindObject, Properties: []Property{
		{Name: "a", Node: str, Required: true},
		{Name: "b", Node: num},
	}}
	ba := &Node{Kind: KindObject, Properties: []Property{
		{Name: "b", Node: num},
		{Name: "a", Node: str, Required: true},
	}}
	if fp.Fingerprint(ab) != fp.Fingerprint(ba) {
		t.Error("property order should not affect the fingerprint")
	}

	changed := &Node{Kind: KindObject, Properties: []Property{
		{Name: "a", Node: num, Required: true},
		{Name: "b", Node: num},
	}}
	if fp.Fingerprint(ab) == fp.Fingerprint(changed) {
		t.Error("property schema change should affect the fingerprint")
	}
}

// TestFingerprintUnionBranchOrderIrrelevant tests branch dedup and sorting.
func TestFingerprintUnionBranchOrderIrrelevant(t *testing.T) {
	fp := NewFingerprinter()
	str := &Node{Kind: KindString}
	num := &Node{Kind: KindNumber}

	a := &Node{Kind: KindAnyOf, Branches: []*Node{str, num}}
	b := &Node{Kind: KindAnyOf, Branches: []*Node{num, str}}
	c := &Node{Kind: KindAnyOf, Branches: []*Node{num, str, &Node{Kind: KindString}}}
	if fp.Fingerprint(a) != fp.Fingerprint(b) {
		t.Error("branch order should not affect the fingerprint")
	}
	if fp.Fingerprint(a) != fp.Fingerprint(c) {
		t.Error("duplicate branches should be deduplicated")
	}
}

// TestFingerprintEnumValues tests that enum content is hashed.
func TestFingerprintEnumValues(t *testing.T) {
	fp := NewFingerprinter()
	gold := &Node{Kind: KindString, Enum: []any{"gold"}}
	silver := &Node{Kind: KindString, Enum: []any{"silver"}}
	if fp.Fingerprint(gold) == fp.Fingerprint(silver) {
		t.Error("different enum values should have different fingerprints")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a := map[string]any{"b": float64(1), "a": []any{"x", map[string]any{"k": true}}}
	b := map[string]any{"a": []any{"x", map[string]any{"k": true}}, "b": float64(1)}
	if CanonicalJSON(a) != CanonicalJSON(b) {
		t.Errorf("canonical JSON should be key-order independent: %s vs %s", CanonicalJSON(a), CanonicalJSON(b))
	}
	if CanonicalJSON(a) != `{"a":["x",{"k":true}],"b":1}` {
		t.Errorf("unexpected canonical form: %s", CanonicalJSON(a))
	}
}
