package forge

import (
	"errors"
	"fmt"
)

// ErrEntityNotFound is returned when an entity handle is looked up with a
// stale generation or an out-of-range slot (§6, §7: "surface as 'entity not
// found' to caller; no panic").
var ErrEntityNotFound = errors.New("forge: entity not found")

// ErrMissingSingleton is returned by the point-query accessors of Single/
// SingleMut when no instance of the singleton component type exists; the
// scheduler itself does not return this error, it simply skips the system
// (§4.6, §7).
var ErrMissingSingleton = errors.New("forge: singleton component not present")

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

type EntityRelationError struct {
	child, parent EntityIdx
}

func (e EntityRelationError) Error() string {
	return fmt.Sprintf("child (%v) already has parent %v", e.child, e.parent)
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %T", e.Component)
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %T", e.Component)
}

// CyclicActionError is reported at action-DAG registration time when a
// dependency declaration would introduce a cycle (§4.7, §7).
type CyclicActionError struct {
	Action ActionIdx
}

func (e CyclicActionError) Error() string {
	return fmt.Sprintf("action %d: cyclic dependency detected", e.Action)
}

// AccessConflictError is reported at system registration time when a single
// system's parameter list accesses the same component type as both Read and
// Write, or as Write more than once (§4.6's static conflict rule, §7).
type AccessConflictError struct {
	ComponentType ComponentTypeIdx
}

func (e AccessConflictError) Error() string {
	return fmt.Sprintf("component type %d: conflicting access within a single system", e.ComponentType)
}

// AssertionCountError is raised by the App façade's test helpers (§4.9) when
// the observed entity count does not match the expected count.
type AssertionCountError struct {
	Want, Got int
}

func (e AssertionCountError) Error() string {
	return fmt.Sprintf("assertion failed: want %d matching entities, got %d", e.Want, e.Got)
}

// AssertionMatchError is raised by assert_any when no entity satisfied the
// supplied predicate.
type AssertionMatchError struct{}

func (e AssertionMatchError) Error() string {
	return "assertion failed: no entity satisfied the predicate"
}

// NestedStructuralQueryError is reported at system registration time when a
// Query[P, F]'s inner parameter kind P declares structural access: a nested
// query may not itself perform structural changes (§4.6, spec's Open
// Question resolution on Query<P, F>).
type NestedStructuralQueryError struct{}

func (e NestedStructuralQueryError) Error() string {
	return "Query[P, F]: inner parameter must not declare structural access"
}

// PhaseAbortedError wraps the value recovered from a panicking system
// (§7: "the panic is re-raised at the end of the phase"). The recovered
// value is carried rather than stringified so the caller of Scheduler.Run
// that chooses to recover can still inspect or re-wrap the original panic.
type PhaseAbortedError struct {
	Recovered any
}

func (e PhaseAbortedError) Error() string {
	return fmt.Sprintf("forge: system panicked: %v", e.Recovered)
}
