package forge

import (
	"github.com/TheBitDrifter/table"
)

// Component represents a data attribute/state that can be attached to
// entities. Components can be used to create queries for entities.
type Component interface {
	table.ElementType
}

// componentTypeRegistry maps component type identity to a stable dense
// ComponentTypeIdx (§4.1, component B) and records which types are marked
// singleton. It wraps a table.Schema, which already performs the
// identity-to-row-index assignment the registry needs; the registry adds
// idempotent lookup by component identity and the singleton bookkeeping the
// schema itself has no notion of.
type componentTypeRegistry struct {
	schema     table.Schema
	byID       *intMap[uint32, ComponentTypeIdx]
	identities idxVec[ComponentTypeIdx, Component]
	singleton  idxVec[ComponentTypeIdx, bool]
	registered idxVec[ComponentTypeIdx, bool]
}

func newComponentTypeRegistry(schema table.Schema) *componentTypeRegistry {
	return &componentTypeRegistry{
		schema: schema,
		byID:   newIntMap[uint32, ComponentTypeIdx](64),
	}
}

// register assigns (or returns the existing) ComponentTypeIdx for c. The
// first call for a given component identity appends empty dependent
// structures (singleton/registered flags); later calls are no-ops beyond the
// lookup, matching §4.1's "idempotent" guarantee.
func (r *componentTypeRegistry) register(c Component) ComponentTypeIdx {
	if idx, ok := r.byID.get(uint32(c.ID())); ok {
		return idx
	}
	r.schema.Register(c)
	idx := ComponentTypeIdx(r.schema.RowIndexFor(c))
	r.byID.put(uint32(c.ID()), idx)
	r.identities.set(idx, c)
	r.singleton.set(idx, false)
	r.registered.set(idx, true)
	return idx
}

// lookup returns the ComponentTypeIdx for c if it has been registered.
func (r *componentTypeRegistry) lookup(c Component) (ComponentTypeIdx, bool) {
	return r.byID.get(uint32(c.ID()))
}

// identityOf returns the Component identity value registered under idx, the
// way archetypeGraph reconstructs a full component list for a signature
// without callers having to thread identity values through every graph
// transition themselves.
func (r *componentTypeRegistry) identityOf(idx ComponentTypeIdx) Component {
	return r.identities.get(idx)
}

// identitiesFor returns the Component identity values for every type in sig,
// in the same order, used whenever the graph needs to build a brand-new
// archetype table for a signature it has not seen before.
func (r *componentTypeRegistry) identitiesFor(sig []ComponentTypeIdx) []Component {
	out := make([]Component, len(sig))
	for i, t := range sig {
		out[i] = r.identities.get(t)
	}
	return out
}

// markSingleton flags a component type as singleton (§4.1). Calling it twice
// for the same type is a no-op; the registry has no "different policy" to
// conflict with since singleton-ness is a single boolean.
func (r *componentTypeRegistry) markSingleton(idx ComponentTypeIdx) {
	r.singleton.set(idx, true)
}

// isSingleton reports whether idx was marked singleton.
func (r *componentTypeRegistry) isSingleton(idx ComponentTypeIdx) bool {
	if int(idx) >= r.singleton.len() {
		return false
	}
	return r.singleton.get(idx)
}

// AccessibleComponent pairs a Component identity with a table.Accessor[T],
// the typed column handle table assigns it once registered. Read[T]/Write[T]
// wrap one of these per component type so a system can pull concrete values
// out of whatever archetype table the scheduler's Cursor is currently
// positioned over, without the system ever touching table.Accessor directly.
type AccessibleComponent[T any] struct {
	Component
	table.Accessor[T]
}

// GetFromCursor reads the component value at cursor's current entity. The
// Cursor always leaves entityIndex one past the row it just yielded, hence
// the -1: this mirrors EntityAt's own adjustment in cursor.go.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	return c.Get(
		cursor.entityIndex-1,
		cursor.currentArchetype.table,
	)
}

// GetFromCursorSafe is GetFromCursor guarded by a presence check, for
// parameter kinds (Option[T], OptionMut[T]) that may be iterating an
// ArchetypeImpl that doesn't carry T at all.
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	ok := c.Accessor.Check(cursor.currentArchetype.table)
	if ok {
		return true, c.GetFromCursor(cursor)
	}
	return false, nil
}

// CheckCursor reports whether the archetype table cursor currently points
// at carries this component type at all.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return c.Accessor.Check(cursor.currentArchetype.table)
}

// GetFromEntity reads the component value for entity directly, bypassing
// any Cursor, for point lookups on an Entity handle outside any cursor
// iteration.
func (c AccessibleComponent[T]) GetFromEntity(entity Entity) *T {
	return c.Get(entity.Index(), entity.Table())
}
