package forge

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheBitDrifter/table"
)

type Acceleration struct {
	X, Y float64
}

type Score struct {
	Value int
}

type Tag struct{}

func newSchedulerTestStorage(t *testing.T) *storage {
	t.Helper()
	schema := table.Factory.NewSchema()
	sto, err := Factory.NewStorage(schema)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return sto.(*storage)
}

// TestMovableEntities is S1: two systems, one moving position by velocity,
// one moving velocity by acceleration, applied to entities that may or may
// not carry acceleration.
func TestMovableEntities(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	accComp := FactoryNewComponent[Acceleration]()

	e1, err := NewEntityBuilder().
		Component(posComp, Position{X: 0, Y: 0}).
		Component(velComp, Velocity{X: 1, Y: 2}).
		Component(accComp, Acceleration{X: 0.01, Y: 0.08}).
		Build(sto)
	if err != nil {
		t.Fatalf("build e1: %v", err)
	}
	e2, err := NewEntityBuilder().
		Component(posComp, Position{X: 0, Y: 0}).
		Component(velComp, Velocity{X: 1, Y: 2}).
		Build(sto)
	if err != nil {
		t.Fatalf("build e2: %v", err)
	}

	// The position system runs after every Velocity system has finished, so
	// it moves by the already-accelerated velocity.
	b := NewSchedulerBuilder(2)
	AddSystem(b, posComp, "movePosition", NewWrite(posComp), func(_ Write[Position], cursor *Cursor) error {
		for cursor.Next() {
			pos := posComp.GetFromCursor(cursor)
			vel := velComp.GetFromCursor(cursor)
			pos.X += vel.X
			pos.Y += vel.Y
		}
		return nil
	})
	AddSystem(b, velComp, nil,
		Params2[Write[Velocity], OptionMut[Acceleration]]{A: NewWrite(velComp), B: NewOptionMut(accComp)},
		func(p Params2[Write[Velocity], OptionMut[Acceleration]], cursor *Cursor) error {
			for cursor.Next() {
				vel := p.A.Get(cursor)
				if acc, ok := p.B.Get(cursor); ok {
					vel.X += acc.X
					vel.Y += acc.Y
				}
			}
			return nil
		})
	b.DependsOn("movePosition", ComponentDone{Component: velComp})

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)
	if err := app.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	v1 := velComp.GetFromEntity(e1)
	p1 := posComp.GetFromEntity(e1)
	if !almostEqual(v1.X, 1.01, 1e-9) || !almostEqual(v1.Y, 2.08, 1e-9) {
		t.Errorf("e1 velocity = %+v, want {1.01 2.08}", v1)
	}
	if !almostEqual(p1.X, 1.01, 1e-9) || !almostEqual(p1.Y, 2.08, 1e-9) {
		t.Errorf("e1 position = %+v, want {1.01 2.08}", p1)
	}

	v2 := velComp.GetFromEntity(e2)
	p2 := posComp.GetFromEntity(e2)
	if v2.X != 1 || v2.Y != 2 {
		t.Errorf("e2 velocity = %+v, want {1 2}", v2)
	}
	if p2.X != 1 || p2.Y != 2 {
		t.Errorf("e2 position = %+v, want {1 2}", p2)
	}
}

// TestSingletonDependencySkipsSystem is S2: a system declaring Single[Score]
// is skipped entirely for phases where no Score instance exists yet.
func TestSingletonDependencySkipsSystem(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	scoreComp := FactoryNewComponent[Score]()

	var ran int32
	b := NewSchedulerBuilder(1)
	AddSystem(b, scoreComp, nil, NewSingleMut(scoreComp), func(s SingleMut[Score], cursor *Cursor) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)

	if err := app.Update(); err != nil {
		t.Fatalf("Update (no Score yet): %v", err)
	}
	if ran != 0 {
		t.Errorf("system ran %d times with no Score instance, want 0", ran)
	}

	if _, err := NewEntityBuilder().Component(scoreComp, Score{Value: 0}).Build(sto); err != nil {
		t.Fatalf("spawn Score: %v", err)
	}

	if err := app.Update(); err != nil {
		t.Fatalf("Update (with Score): %v", err)
	}
	if ran != 1 {
		t.Errorf("system ran %d times with a Score instance present, want 1", ran)
	}
}

// TestParallelNonConflict is S3: two systems with disjoint access may run
// concurrently on separate worker threads.
func TestParallelNonConflict(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()
	comp2 := FactoryNewComponent[Velocity]()

	if _, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := NewEntityBuilder().Component(comp2, Velocity{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}

	var runA, runB int32
	ready := make(chan struct{})
	release := make(chan struct{})

	b := NewSchedulerBuilder(2)
	AddSystem(b, comp1, nil, NewRead(comp1), func(_ Read[Position], cursor *Cursor) error {
		atomic.AddInt32(&runA, 1)
		close(ready)
		<-release
		for cursor.Next() {
		}
		return nil
	})
	AddSystem(b, comp2, nil, NewWrite(comp2), func(_ Write[Velocity], cursor *Cursor) error {
		<-ready
		atomic.AddInt32(&runB, 1)
		close(release)
		for cursor.Next() {
		}
		return nil
	})

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)
	if err := app.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// Both systems have disjoint access (Position vs Velocity), so neither
	// blocks on the other's component lock: B can observe A has already
	// started (via ready) and unblock it (via release) without deadlocking.
	if runA != 1 || runB != 1 {
		t.Errorf("runA=%d runB=%d, want 1 and 1", runA, runB)
	}
}

// TestWriteConflictSerialization is S4: two systems both writing the same
// component type must never run concurrently, and each runs exactly once.
func TestWriteConflictSerialization(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()

	if _, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}

	var mu sync.Mutex
	var inside int
	overlapped := false
	var runsA, runsB int32

	b := NewSchedulerBuilder(2)
	AddSystem(b, comp1, "A", NewWrite(comp1), func(_ Write[Position], cursor *Cursor) error {
		mu.Lock()
		inside++
		if inside > 1 {
			overlapped = true
		}
		mu.Unlock()
		atomic.AddInt32(&runsA, 1)
		for cursor.Next() {
		}
		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	})
	AddSystem(b, comp1, "B", NewWrite(comp1), func(_ Write[Position], cursor *Cursor) error {
		mu.Lock()
		inside++
		if inside > 1 {
			overlapped = true
		}
		mu.Unlock()
		atomic.AddInt32(&runsB, 1)
		for cursor.Next() {
		}
		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	})

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)
	if err := app.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if overlapped {
		t.Errorf("both writers of the same component type ran concurrently")
	}
	if runsA != 1 || runsB != 1 {
		t.Errorf("runsA=%d runsB=%d, want 1 and 1", runsA, runsB)
	}
}

// TestActionOrdering is S5: a system registered under an action that
// depends on another action must not start before every system under the
// predecessor action has completed.
func TestActionOrdering(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()
	comp2 := FactoryNewComponent[Velocity]()

	if _, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := NewEntityBuilder().Component(comp2, Velocity{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}

	var mu sync.Mutex
	var order []string

	b := NewSchedulerBuilder(2)
	AddSystem(b, comp1, "Action2", NewRead(comp1), func(_ Read[Position], cursor *Cursor) error {
		mu.Lock()
		order = append(order, "s1-start")
		mu.Unlock()
		for cursor.Next() {
		}
		return nil
	})
	AddSystem(b, comp2, "Action1", NewRead(comp2), func(_ Read[Velocity], cursor *Cursor) error {
		for cursor.Next() {
		}
		mu.Lock()
		order = append(order, "s2-done")
		mu.Unlock()
		return nil
	})
	b.DependsOn("Action2", "Action1")

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)
	if err := app.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(order) != 2 || order[0] != "s2-done" || order[1] != "s1-start" {
		t.Errorf("execution order = %v, want [s2-done s1-start]", order)
	}
}

// TestDeferredStructuralChange is S6: a structural change issued through
// World during a phase is invisible to other iterators in that same phase
// and takes effect only once Update returns.
func TestDeferredStructuralChange(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()
	tagComp := FactoryNewComponent[Tag]()

	e, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	sawTagDuringPhase := false

	b := NewSchedulerBuilder(1)
	AddSystem(b, comp1, "mutator",
		Params2[Write[Position], World]{A: NewWrite(comp1), B: World{}},
		func(p Params2[Write[Position], World], cursor *Cursor) error {
			for cursor.Next() {
				ent, err := cursor.CurrentEntity()
				if err != nil {
					return err
				}
				world := newWorld(sto)
				if err := world.AddComponent(ent, tagComp, Tag{}); err != nil {
					return err
				}
			}
			return nil
		})
	AddSystem(b, comp1, "observer", NewOption(tagComp), func(_ Option[Tag], cursor *Cursor) error {
		for cursor.Next() {
			if _, ok := tagComp.GetFromCursorSafe(cursor); ok {
				sawTagDuringPhase = true
			}
		}
		return nil
	})
	b.DependsOn("observer", "mutator")

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)
	if err := app.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if sawTagDuringPhase {
		t.Errorf("observer saw Tag within the same phase it was added, want deferred visibility")
	}

	rec, _ := sto.entities().get(e.Idx())
	if !sto.g.archetype(rec.archetype).Contains(ComponentTypeIdx(sto.RowIndexFor(tagComp))) {
		t.Errorf("entity archetype does not contain Tag after Update returned")
	}
}

// TestSharedActionCompletesOnAllSystems guards the per-action completion
// count: an action shared by two systems must stay incomplete until both
// have finished, not just the first to return.
func TestSharedActionCompletesOnAllSystems(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()
	comp2 := FactoryNewComponent[Velocity]()

	if _, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := NewEntityBuilder().Component(comp2, Velocity{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}

	release := make(chan struct{})
	s2Done := make(chan struct{})
	depStarted := make(chan struct{}, 1)

	b := NewSchedulerBuilder(3)
	AddSystem(b, comp1, "shared", NewRead(comp1), func(_ Read[Position], cursor *Cursor) error {
		<-release
		for cursor.Next() {
		}
		return nil
	})
	AddSystem(b, comp2, "shared", NewRead(comp2), func(_ Read[Velocity], cursor *Cursor) error {
		for cursor.Next() {
		}
		close(s2Done)
		return nil
	})
	AddSystem(b, comp1, "dependent", NewRead(comp1), func(_ Read[Position], cursor *Cursor) error {
		depStarted <- struct{}{}
		for cursor.Next() {
		}
		return nil
	})
	b.DependsOn("dependent", "shared")

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)

	done := make(chan error, 1)
	go func() { done <- app.Update() }()

	<-s2Done
	select {
	case <-depStarted:
		t.Fatalf("dependent system started before the other system sharing its action had finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}
}

// TestPanicInSystemDoesNotCrashPhase is S7: a panicking system unwinds its
// own call, releases its locks, lets the rest of the phase's dispatchable
// systems still run, and the panic is re-raised once Update returns.
func TestPanicInSystemDoesNotCrashPhase(t *testing.T) {
	sto := newSchedulerTestStorage(t)
	comp1 := FactoryNewComponent[Position]()
	comp2 := FactoryNewComponent[Velocity]()

	if _, err := NewEntityBuilder().Component(comp1, Position{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := NewEntityBuilder().Component(comp2, Velocity{}).Build(sto); err != nil {
		t.Fatalf("build: %v", err)
	}

	var ran int32
	b := NewSchedulerBuilder(2)
	AddSystem(b, comp1, nil, NewRead(comp1), func(_ Read[Position], cursor *Cursor) error {
		panic("boom")
	})
	AddSystem(b, comp2, nil, NewRead(comp2), func(_ Read[Velocity], cursor *Cursor) error {
		atomic.AddInt32(&ran, 1)
		for cursor.Next() {
		}
		return nil
	})

	sched, err := b.Build(sto)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	app := NewApp(sto, sched)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("Update did not re-raise the panicking system's panic")
			}
		}()
		_ = app.Update()
	}()

	if ran != 1 {
		t.Errorf("other system ran %d times, want 1 (it must still complete despite the panicking system)", ran)
	}
}
