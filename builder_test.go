package forge

import (
	"testing"

	"github.com/TheBitDrifter/table"
)

func newBuilderTestStorage(t *testing.T) Storage {
	t.Helper()
	schema := table.Factory.NewSchema()
	sto, err := Factory.NewStorage(schema)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return sto
}

func TestBuilderComponent(t *testing.T) {
	sto := newBuilderTestStorage(t)
	posComp := FactoryNewComponent[Position]()

	e, err := NewEntityBuilder().
		Component(posComp, Position{X: 1, Y: 2}).
		Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	pos := posComp.GetFromEntity(e)
	if pos.X != 1 || pos.Y != 2 {
		t.Errorf("Position = %+v, want {1 2}", pos)
	}
}

func TestBuilderComponentOption(t *testing.T) {
	sto := newBuilderTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	e, err := NewEntityBuilder().
		Component(posComp, Position{X: 1, Y: 2}).
		ComponentOption(velComp, Velocity{X: 3, Y: 4}, false).
		Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rec, _ := sto.entities().get(e.Idx())
	sig := sto.graph().signature(rec.archetype)
	if len(sig) != 1 {
		t.Errorf("signature length = %d, want 1 (velocity should be excluded)", len(sig))
	}
}

func TestBuilderInherited(t *testing.T) {
	sto := newBuilderTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	base := NewEntityBuilder().Component(posComp, Position{X: 5, Y: 5})
	e, err := NewEntityBuilder().
		Inherited(base).
		Component(velComp, Velocity{X: 1, Y: 1}).
		Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	pos := posComp.GetFromEntity(e)
	vel := velComp.GetFromEntity(e)
	if pos.X != 5 || pos.Y != 5 {
		t.Errorf("Position = %+v, want {5 5}", pos)
	}
	if vel.X != 1 || vel.Y != 1 {
		t.Errorf("Velocity = %+v, want {1 1}", vel)
	}
}

func TestBuilderChildEntity(t *testing.T) {
	sto := newBuilderTestStorage(t)
	posComp := FactoryNewComponent[Position]()

	child := NewEntityBuilder().Component(posComp, Position{X: 9, Y: 9})
	parent, err := NewEntityBuilder().
		Component(posComp, Position{X: 0, Y: 0}).
		ChildEntity(child).
		Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	children := parent.Children()
	if len(children) != 1 {
		t.Fatalf("len(Children()) = %d, want 1", len(children))
	}
	childPos := posComp.GetFromEntity(children[0])
	if childPos.X != 9 || childPos.Y != 9 {
		t.Errorf("child Position = %+v, want {9 9}", childPos)
	}
}

func TestBuilderChildren(t *testing.T) {
	sto := newBuilderTestStorage(t)
	posComp := FactoryNewComponent[Position]()

	parent, err := NewEntityBuilder().
		Component(posComp, Position{X: 0, Y: 0}).
		Children(func(cb *EntityChildBuilder) {
			for i := 0; i < 3; i++ {
				cb.Spawn(NewEntityBuilder().Component(posComp, Position{X: float64(i), Y: float64(i)}))
			}
		}).
		Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	children := parent.Children()
	if len(children) != 3 {
		t.Fatalf("len(Children()) = %d, want 3", len(children))
	}
}

func TestBuilderDependency(t *testing.T) {
	sto := newBuilderTestStorage(t)
	healthComp := FactoryNewComponent[Health]()

	factoryCalls := 0
	dep := func() *EntityBuilder {
		factoryCalls++
		return NewEntityBuilder().Component(healthComp, Health{Current: 10, Max: 10})
	}

	_, err := NewEntityBuilder().Dependency(healthComp, dep).Build(sto)
	if err != nil {
		t.Fatalf("Build (first): %v", err)
	}
	if factoryCalls != 1 {
		t.Errorf("factory called %d times, want 1", factoryCalls)
	}

	_, err = NewEntityBuilder().Dependency(healthComp, dep).Build(sto)
	if err != nil {
		t.Fatalf("Build (second): %v", err)
	}
	if factoryCalls != 1 {
		t.Errorf("factory called %d times after second build, want 1 (singleton already exists)", factoryCalls)
	}
}
