package gen

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apiprobe/apiprobe/ir"
)

func intNode(min, max float64) *ir.Node {
	return &ir.Node{Kind: ir.KindInteger, Min: &min, Max: &max}
}

func TestStreamIsReproducible(t *testing.T) {
	node := &ir.Node{
		Kind: ir.KindObject,
		Properties: []ir.Property{
			{Name: "id", Node: intNode(0, 1000), Required: true},
			{Name: "name", Node: &ir.Node{Kind: ir.KindString}, Required: true},
			{Name: "tags", Node: &ir.Node{Kind: ir.KindArray, Items: &ir.Node{Kind: ir.KindString}}},
		},
	}

	draw := func(seed uint64, n int) []any {
		stream := New(seed).Stream(node)
		var out []any
		for i := 0; i < n; i++ {
			v, err := stream.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			out = append(out, v.Value)
		}
		return out
	}

	first := draw(42, 20)
	second := draw(42, 20)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same seed produced different sequences (-first +second):\n%s", diff)
	}

	other := draw(43, 20)
	if diff := cmp.Diff(first, other); diff == "" {
		t.Errorf("different seeds produced identical sequences")
	}
}

func TestStreamVariesAcrossDraws(t *testing.T) {
	stream := New(7).Stream(intNode(0, 1000000))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		v, err := stream.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		seen[ir.CanonicalJSON(v.Value)] = true
	}
	if len(seen) < 10 {
		t.Errorf("expected a varied stream, got only %d distinct values in 50 draws", len(seen))
	}
}

func TestPositiveUnsatisfiableSurfaces(t *testing.T) {
	// Three unique booleans cannot exist; generation must fail loudly
	// rather than loop.
	three := 3
	node := &ir.Node{
		Kind:        ir.KindArray,
		Items:       &ir.Node{Kind: ir.KindBoolean},
		MinItems:    &three,
		UniqueItems: true,
	}
	_, err := New(1).Positive(node)
	if err == nil {
		t.Fatalf("expected unsatisfiable error, got none")
	}
	if _, ok := err.(*ir.UnsatisfiableSchemaError); !ok {
		t.Fatalf("expected UnsatisfiableSchemaError, got %T: %v", err, err)
	}
}

func TestPositiveRecursiveCutoffTerminates(t *testing.T) {
	// A node tree with a cutoff placeholder generates without recursing.
	node := &ir.Node{
		Kind: ir.KindObject,
		Properties: []ir.Property{
			{Name: "next", Node: &ir.Node{Kind: ir.KindRecursiveCutoff}, Required: true},
		},
	}
	v, err := New(1).Positive(node)
	if err != nil {
		t.Fatalf("Positive failed: %v", err)
	}
	obj := v.Value.(map[string]any)
	if obj["next"] != nil {
		t.Errorf("cutoff placeholder should generate null, got %v", obj["next"])
	}
}

func TestUnionBranchesAllReachable(t *testing.T) {
	node := &ir.Node{Kind: ir.KindOneOf, Branches: []*ir.Node{
		{Kind: ir.KindString},
		{Kind: ir.KindInteger, Min: ptrF(100), Max: ptrF(200)},
		{Kind: ir.KindBoolean},
	}}
	stream := New(11).Stream(node)
	branches := map[int]bool{}
	for i := 0; i < 100; i++ {
		v, err := stream.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		branches[v.Handle.Branch] = true
	}
	if len(branches) != 3 {
		t.Errorf("expected every union branch to be sampled, got %v", branches)
	}
}

func ptrF(f float64) *float64 { return &f }
func ptrI(i int) *int         { return &i }
