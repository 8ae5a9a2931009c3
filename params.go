package forge

import "github.com/TheBitDrifter/bark"

// ParamAccessKind distinguishes read from write access a system parameter
// declares against a component type (§4.6).
type ParamAccessKind int

const (
	AccessRead ParamAccessKind = iota
	AccessWrite
)

// ParamAccess is one (component type, read|write) entry in a parameter's
// declared access set. Presence narrows the matching archetype set the way
// Read/Write do; Option/OptionMut declare access without it, since their
// whole purpose is to tolerate the component's absence (§4.6).
type ParamAccess struct {
	Type     ComponentTypeIdx
	Kind     ParamAccessKind
	Presence bool
}

// ParamProperties is the result of a system parameter's "declare
// properties" stage (§4.6 step 1): its access set, whether it may perform
// structural changes, and which component types are presence-only filters
// that narrow the matching archetype set without granting data access.
type ParamProperties struct {
	Access     []ParamAccess
	FilterOnly []ComponentTypeIdx
	Singletons []ComponentTypeIdx
	Structural bool
}

// requiredTypes returns the component types that must be present on an
// archetype for a system declaring props to match it: every presence
// access plus every filter-only type. Singleton types are deliberately
// excluded, since Single/SingleMut are resolved by point-query against
// the whole storage rather than by filtering the system's own archetype
// set (§4.6).
func requiredTypes(props ParamProperties) []ComponentTypeIdx {
	out := make([]ComponentTypeIdx, 0, len(props.Access)+len(props.FilterOnly))
	for _, a := range props.Access {
		if a.Presence {
			out = append(out, a.Type)
		}
	}
	out = append(out, props.FilterOnly...)
	return out
}

// SystemParam is implemented by every parameter kind a system can declare.
// Properties drives both the scheduler's static conflict/lock-state
// resolution (component I) and the archetype filter a system iterates.
// Streaming itself (stage 3) is exposed by each concrete parameter type's
// own Get method against a *Cursor, the same shape
// AccessibleComponent already uses, since Go has no ergonomic way to
// express a single generic "yield T" stage across parameter kinds whose T
// differs per instantiation.
type SystemParam interface {
	Properties(sto *storage) ParamProperties
}

// Read declares read-only access to component type C (§4.6: "&C"); an
// archetype lacking C is filtered out of the system's matching set.
type Read[T any] struct {
	AccessibleComponent[T]
}

// NewRead builds a Read parameter over an already-constructed accessible
// component, mirroring FactoryNewComponent's role for plain components.
func NewRead[T any](c AccessibleComponent[T]) Read[T] {
	return Read[T]{AccessibleComponent: c}
}

func (r Read[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(r.Component)
	return ParamProperties{Access: []ParamAccess{{Type: t, Kind: AccessRead, Presence: true}}}
}

// Get reads the component value at the cursor's current position.
func (r Read[T]) Get(cursor *Cursor) *T {
	return r.GetFromCursor(cursor)
}

// Write declares write access to component type C (§4.6: "&mut C").
type Write[T any] struct {
	AccessibleComponent[T]
}

func NewWrite[T any](c AccessibleComponent[T]) Write[T] {
	return Write[T]{AccessibleComponent: c}
}

func (w Write[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(w.Component)
	return ParamProperties{Access: []ParamAccess{{Type: t, Kind: AccessWrite, Presence: true}}}
}

// Get returns the component value at the cursor's current position for
// mutation in place.
func (w Write[T]) Get(cursor *Cursor) *T {
	return w.GetFromCursor(cursor)
}

// Option declares read access to component type C without filtering
// archetypes lacking it: Get yields (nil, false) slot-by-slot where C is
// absent (§4.6: "Option<&C>").
type Option[T any] struct {
	AccessibleComponent[T]
}

func NewOption[T any](c AccessibleComponent[T]) Option[T] {
	return Option[T]{AccessibleComponent: c}
}

func (o Option[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(o.Component)
	return ParamProperties{Access: []ParamAccess{{Type: t, Kind: AccessRead}}}
}

// Get returns the component's value and whether the current archetype
// carries it at all.
func (o Option[T]) Get(cursor *Cursor) (*T, bool) {
	ok, v := o.GetFromCursorSafe(cursor)
	return v, ok
}

// OptionMut is Option with write access declared instead of read (§4.6:
// "Option<&mut C>"); the returned pointer is the same mutable slot Write
// would hand back, just without filtering archetypes lacking C.
type OptionMut[T any] struct {
	AccessibleComponent[T]
}

func NewOptionMut[T any](c AccessibleComponent[T]) OptionMut[T] {
	return OptionMut[T]{AccessibleComponent: c}
}

func (o OptionMut[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(o.Component)
	return ParamProperties{Access: []ParamAccess{{Type: t, Kind: AccessWrite}}}
}

func (o OptionMut[T]) Get(cursor *Cursor) (*T, bool) {
	ok, v := o.GetFromCursorSafe(cursor)
	return v, ok
}

// EntityParam yields the opaque Entity handle at the cursor's current
// position: no access, no filter (§4.6: "Entity").
type EntityParam struct{}

func (EntityParam) Properties(*storage) ParamProperties { return ParamProperties{} }

// Get resolves the entity occupying the cursor's current row.
func (EntityParam) Get(cursor *Cursor) (Entity, error) {
	idx := cursor.currentArchetype.EntityAt(cursor.entityIndex - 1)
	return cursor.storage.Entity(idx)
}

// Single declares read access to singleton component type C and requires
// it be present: a system declaring Single[C] is skipped for the phase if
// no instance exists (§4.1, §4.6).
type Single[T any] struct {
	AccessibleComponent[T]
}

func NewSingle[T any](c AccessibleComponent[T]) Single[T] {
	return Single[T]{AccessibleComponent: c}
}

func (s Single[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(s.Component)
	sto.reg.markSingleton(t)
	return ParamProperties{
		Access:     []ParamAccess{{Type: t, Kind: AccessRead}},
		Singletons: []ComponentTypeIdx{t},
	}
}

// Get performs the point-query for the singleton's unique instance,
// returning ErrMissingSingleton if none exists.
func (s Single[T]) Get(sto *storage) (*T, error) {
	t, ok := sto.reg.lookup(s.Component)
	if !ok || !sto.singletonExists(t) {
		return nil, ErrMissingSingleton
	}
	it := sto.g.filter([]ComponentTypeIdx{t})
	for {
		arch, ok := it.Next()
		if !ok {
			return nil, ErrMissingSingleton
		}
		if arch.table.Length() > 0 {
			return s.Accessor.Get(0, arch.table), nil
		}
	}
}

// SingleMut is Single with write access declared instead of read.
type SingleMut[T any] struct {
	AccessibleComponent[T]
}

func NewSingleMut[T any](c AccessibleComponent[T]) SingleMut[T] {
	return SingleMut[T]{AccessibleComponent: c}
}

func (s SingleMut[T]) Properties(sto *storage) ParamProperties {
	t := sto.reg.register(s.Component)
	sto.reg.markSingleton(t)
	return ParamProperties{
		Access:     []ParamAccess{{Type: t, Kind: AccessWrite}},
		Singletons: []ComponentTypeIdx{t},
	}
}

// Get performs the point-query for the singleton's unique instance,
// returning ErrMissingSingleton if none exists, and a pointer suitable for
// mutation.
func (s SingleMut[T]) Get(sto *storage) (*T, error) {
	t, ok := sto.reg.lookup(s.Component)
	if !ok || !sto.singletonExists(t) {
		return nil, ErrMissingSingleton
	}
	it := sto.g.filter([]ComponentTypeIdx{t})
	for {
		arch, ok := it.Next()
		if !ok {
			return nil, ErrMissingSingleton
		}
		if arch.table.Length() > 0 {
			return s.Accessor.Get(0, arch.table), nil
		}
	}
}

// QueryFilter is the F side of Query[P, F] (§4.6: "Query<P, F>"): a
// filter-only component-type set that narrows the matching archetype set
// without granting the nested parameter kind any additional data access.
// Grounded on original_source's queries.rs QueryFilter trait and its With
// implementer.
type QueryFilter interface {
	filterTypes(sto *storage) []ComponentTypeIdx
}

// NoFilter is the empty QueryFilter, for Query[P, NoFilter] when P's own
// declared access is all the filtering a nested query needs.
type NoFilter struct{}

func (NoFilter) filterTypes(*storage) []ComponentTypeIdx { return nil }

// With is a single-component filter (§4.6, original_source's With<C>):
// requires the component's presence without reading or writing it.
type With[T any] struct {
	Component AccessibleComponent[T]
}

// NewWith builds a With filter over an already-constructed accessible
// component.
func NewWith[T any](c AccessibleComponent[T]) With[T] {
	return With[T]{Component: c}
}

func (w With[T]) filterTypes(sto *storage) []ComponentTypeIdx {
	return []ComponentTypeIdx{sto.reg.register(w.Component)}
}

// Query is the nested sub-query parameter kind (§4.6: "Query<P, F>"): it
// composes another parameter kind P with a filter-only component set F,
// unioning P's own declared access with F's presence requirements. A
// Query may not itself perform structural changes; Properties panics with
// NestedStructuralQueryError if P's own properties report Structural
// (spec's Open Question resolution for Query<P, F>).
type Query[P SystemParam, F QueryFilter] struct {
	Param  P
	Filter F
}

// NewSubQuery builds a Query[P, F] parameter over an inner parameter kind
// and a filter, mirroring NewRead/NewWrite's role for their own kinds. It
// is named NewSubQuery, not NewQuery, since Factory.NewFilterBuilder
// already covers "build me a fresh query" for the unrelated And/Or/Not
// boolean DSL (query.go).
func NewSubQuery[P SystemParam, F QueryFilter](param P, filter F) Query[P, F] {
	return Query[P, F]{Param: param, Filter: filter}
}

func (q Query[P, F]) Properties(sto *storage) ParamProperties {
	inner := q.Param.Properties(sto)
	if inner.Structural {
		panic(bark.AddTrace(NestedStructuralQueryError{}))
	}
	filterTypes := q.Filter.filterTypes(sto)
	out := ParamProperties{
		Access:     inner.Access,
		Singletons: inner.Singletons,
	}
	out.FilterOnly = append(out.FilterOnly, inner.FilterOnly...)
	out.FilterOnly = append(out.FilterOnly, filterTypes...)
	return out
}

// Iter streams P's own values, but over the archetype set narrowed by both
// P's required types and F's filter-only types, independent of whatever
// other archetypes the owning system's other parameters may iterate
// (§4.6's point-query/sub-query contract).
func (q Query[P, F]) Iter(sto Storage) *Cursor {
	s := sto.(*storage)
	required := requiredTypes(q.Properties(s))
	return newFilteredCursor(s, required)
}

// World is the mutation-handle parameter kind: it declares no direct
// access but routes every call into the structural-change queue (F) and
// marks the owning system as performing structural changes (§4.6, §4.5).
type World struct {
	sto *storage
}

// newWorld builds a World bound to sto; only the scheduler constructs one,
// when assembling a running system's parameter list.
func newWorld(sto *storage) World {
	return World{sto: sto}
}

func (World) Properties(*storage) ParamProperties {
	return ParamProperties{Structural: true}
}

// Spawn enqueues (or, outside a locked phase, immediately builds) a new
// entity from builder.
func (w World) Spawn(builder *EntityBuilder) error {
	if !w.sto.Locked() {
		_, err := builder.buildWithParent(w.sto, nil)
		return err
	}
	w.sto.Enqueue(SpawnOperation{builder: builder})
	return nil
}

// SpawnChild enqueues (or immediately builds) a new entity parented to
// parent.
func (w World) SpawnChild(parent Entity, builder *EntityBuilder) error {
	p := parent.Idx()
	if !w.sto.Locked() {
		_, err := builder.buildWithParent(w.sto, &p)
		return err
	}
	w.sto.Enqueue(SpawnOperation{parent: &p, builder: builder})
	return nil
}

// Despawn removes e, deferred to the structural-change queue when the
// storage is currently locked by a running phase.
func (w World) Despawn(e Entity) error {
	return w.sto.EnqueueDestroyEntities(e)
}

// AddComponent adds c to e with the given value, deferred to the
// structural-change queue when locked.
func (w World) AddComponent(e Entity, c Component, value any) error {
	return w.sto.EnqueueAddComponent(e.Idx(), c, value)
}

// RemoveComponent removes c from e, deferred to the structural-change
// queue when locked.
func (w World) RemoveComponent(e Entity, c Component) error {
	return w.sto.EnqueueRemoveComponent(e.Idx(), c)
}
