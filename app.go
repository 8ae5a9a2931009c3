package forge

import (
	"fmt"

	"github.com/TheBitDrifter/bark"
)

// App owns the complete world state, storage plus the built scheduler, and
// drives phases via Update (§4.9, component J).
type App struct {
	sto   Storage
	sched *Scheduler
}

// NewApp builds an App over storage with the given scheduler. Use
// SchedulerBuilder.Build(storage) to produce sched.
func NewApp(sto Storage, sched *Scheduler) *App {
	return &App{sto: sto, sched: sched}
}

// Storage exposes the underlying Storage, e.g. for assembling entity
// builders before the first Update.
func (a *App) Storage() Storage {
	return a.sto
}

// Spawn creates an entity at the root level synchronously (§4.9: "entity
// creation at the root level"), bypassing the structural-change queue since
// it runs outside any phase.
func (a *App) Spawn(builder *EntityBuilder) (Entity, error) {
	return builder.Build(a.sto)
}

// Update runs one phase: the scheduler dispatches every registered system
// under its access and ordering constraints, then the structural-change
// queue is applied in issue order (§4.5, §4.8).
func (a *App) Update() error {
	return a.sched.Run(a.sto)
}

// UpdatedUntilAny repeats Update up to cap times, stopping as soon as
// predicate holds for at least one entity carrying component c. Returns an
// error if cap iterations elapse without that becoming true (§4.9).
func UpdatedUntilAny[T any](a *App, cap int, c AccessibleComponent[T], predicate func(*T) bool) error {
	for i := 0; i < cap; i++ {
		if err := a.Update(); err != nil {
			return err
		}
		if anySatisfies(a.sto, c, predicate) {
			return nil
		}
	}
	return fmt.Errorf("forge: updated_until_any exceeded %d iterations", cap)
}

// UpdatedUntilAll repeats Update up to cap times, stopping once predicate
// holds for every entity carrying component c (vacuously true when none
// do). Returns an error if cap iterations elapse without that holding
// (§4.9).
func UpdatedUntilAll[T any](a *App, cap int, c AccessibleComponent[T], predicate func(*T) bool) error {
	for i := 0; i < cap; i++ {
		if err := a.Update(); err != nil {
			return err
		}
		if allSatisfy(a.sto, c, predicate) {
			return nil
		}
	}
	return fmt.Errorf("forge: updated_until_all exceeded %d iterations", cap)
}

func anySatisfies[T any](sto Storage, c AccessibleComponent[T], predicate func(*T) bool) bool {
	cursor := newFilteredCursor(sto, []ComponentTypeIdx{ComponentTypeIdx(sto.RowIndexFor(c.Component))})
	for cursor.Next() {
		if predicate(c.GetFromCursor(cursor)) {
			return true
		}
	}
	return false
}

func allSatisfy[T any](sto Storage, c AccessibleComponent[T], predicate func(*T) bool) bool {
	cursor := newFilteredCursor(sto, []ComponentTypeIdx{ComponentTypeIdx(sto.RowIndexFor(c.Component))})
	for cursor.Next() {
		if !predicate(c.GetFromCursor(cursor)) {
			return false
		}
	}
	return true
}

// Assert iterates every archetype matching filter, requiring exactly count
// entities to match; fn is invoked once per matching entity and must hold
// for all of them. Violations panic (§4.9, §7: "propagate panic").
func (a *App) Assert(filter QueryNode, count int, fn func(cursor *Cursor)) {
	cursor := Factory.NewCursor(filter, a.sto)
	matched := 0
	for cursor.Next() {
		fn(cursor)
		matched++
	}
	if matched != count {
		panic(bark.AddTrace(AssertionCountError{Want: count, Got: matched}))
	}
}

// AssertAny is Assert's existential form: count entities must match filter,
// and fn must return true for at least one of them.
func (a *App) AssertAny(filter QueryNode, count int, fn func(cursor *Cursor) bool) {
	cursor := Factory.NewCursor(filter, a.sto)
	matched := 0
	satisfied := false
	for cursor.Next() {
		if fn(cursor) {
			satisfied = true
		}
		matched++
	}
	if matched != count {
		panic(bark.AddTrace(AssertionCountError{Want: count, Got: matched}))
	}
	if !satisfied {
		panic(bark.AddTrace(AssertionMatchError{}))
	}
}
