package forge

import "testing"

func TestActionRegistryRegisterIdempotent(t *testing.T) {
	r := newActionRegistry()
	type tagA struct{}
	a1 := r.register(tagA{})
	a2 := r.register(tagA{})
	if a1 != a2 {
		t.Errorf("register returned different indices for the same tag type: %v vs %v", a1, a2)
	}
}

func TestActionRegistryComponentDoneIdempotent(t *testing.T) {
	r := newActionRegistry()
	d1 := r.componentDone(ComponentTypeIdx(3))
	d2 := r.componentDone(ComponentTypeIdx(3))
	if d1 != d2 {
		t.Errorf("componentDone returned different indices for the same component type: %v vs %v", d1, d2)
	}
	d3 := r.componentDone(ComponentTypeIdx(4))
	if d1 == d3 {
		t.Errorf("componentDone returned the same index for distinct component types")
	}
}

func TestActionRegistryDependsOnCycle(t *testing.T) {
	r := newActionRegistry()
	type tagA struct{}
	type tagB struct{}
	a := r.register(tagA{})
	b := r.register(tagB{})

	if err := r.dependsOn(b, a); err != nil {
		t.Fatalf("dependsOn(b, a): %v", err)
	}
	if err := r.dependsOn(a, b); err == nil {
		t.Fatalf("dependsOn(a, b) after dependsOn(b, a) should reject the cycle")
	}
}

func TestActionRegistryPredecessorsFlatten(t *testing.T) {
	r := newActionRegistry()
	type tagA struct{}
	type tagB struct{}
	type tagC struct{}
	a := r.register(tagA{})
	b := r.register(tagB{})
	c := r.register(tagC{})

	if err := r.dependsOn(b, a); err != nil {
		t.Fatalf("dependsOn(b, a): %v", err)
	}
	if err := r.dependsOn(c, b); err != nil {
		t.Fatalf("dependsOn(c, b): %v", err)
	}

	preds := r.predecessors(c)
	want := map[ActionIdx]bool{a: true, b: true}
	if len(preds) != len(want) {
		t.Fatalf("predecessors(c) = %v, want two entries covering a and b", preds)
	}
	for _, p := range preds {
		if !want[p] {
			t.Errorf("unexpected predecessor %v", p)
		}
	}
}
