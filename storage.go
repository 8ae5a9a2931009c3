package forge

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/TheBitDrifter/table"
)

// Storage owns the archetype graph, the component type registry, the entity
// registry, and the structural-change queue: together, components B through
// F of §2. It is the thing the App façade (component J), the World mutation
// handle, and every system parameter (component G) ultimately read from or
// write through.
type Storage interface {
	Entity(id EntityIdx) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	AddComponent(EntityIdx, Component, any) error
	EnqueueAddComponent(EntityIdx, Component, any) error
	RemoveComponent(EntityIdx, Component) error
	EnqueueRemoveComponent(EntityIdx, Component) error

	RowIndexFor(Component) uint32
	Locked() bool
	Lock()
	Unlock()
	Register(...Component)

	Archetypes() []*ArchetypeImpl
	FilterArchetypes(required []ComponentTypeIdx) *ArchetypeIter
	Enqueue(EntityOperation)

	registry() *componentTypeRegistry
	graph() *archetypeGraph
	entities() *entityRegistry
}

// storage implements Storage (§2, components B–F).
type storage struct {
	mu             sync.Mutex
	locked         bool
	reg            *componentTypeRegistry
	g              *archetypeGraph
	ents           *entityRegistry
	operationQueue EntityOperationsQueue
}

// newStorage builds a Storage over a fresh schema, exactly as the teacher's
// Factory.NewStorage did, but wires the schema into the full archetype graph
// (component C) and a parallel entity registry (component E) rather than a
// single flat archetype-by-mask map.
func newStorage(schema table.Schema) (Storage, error) {
	reg := newComponentTypeRegistry(schema)
	entryIndex := table.Factory.NewEntryIndex()
	g, err := newArchetypeGraph(schema, entryIndex, reg)
	if err != nil {
		return nil, err
	}
	return &storage{
		reg:            reg,
		g:              g,
		ents:           newEntityRegistry(),
		operationQueue: &entityOperationsQueue{},
	}, nil
}

func (s *storage) registry() *componentTypeRegistry { return s.reg }
func (s *storage) graph() *archetypeGraph            { return s.g }
func (s *storage) entities() *entityRegistry          { return s.ents }

// Entity retrieves a live entity handle by slot index. A stale lookup (empty
// slot, nothing registered yet) returns ErrEntityNotFound rather than
// panicking (§6, §7).
func (s *storage) Entity(id EntityIdx) (Entity, error) {
	rec, ok := s.ents.get(id)
	if !ok || !rec.alive {
		return nil, ErrEntityNotFound
	}
	return &entityHandle{idx: id, gen: rec.generation, sto: s}, nil
}

// NewEntities creates n new entities sharing the given component set,
// synchronously (§4.3's "entity creation from outside a running system
// happens synchronously on the owning thread").
func (s *storage) NewEntities(n int, components ...Component) ([]Entity, error) {
	if n <= 0 {
		return nil, nil
	}
	archIdx, err := s.g.archetypeForSignature(components)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, n)
	for i := 0; i < n; i++ {
		idx := s.ents.alloc(nil)
		entry, err := s.g.addEntity(archIdx, idx)
		if err != nil {
			return nil, err
		}
		s.ents.setLocation(idx, archIdx, entry)
		out[i] = &entityHandle{idx: idx, gen: s.ents.generationOf(idx), sto: s}
	}
	return out, nil
}

// EnqueueNewEntities defers creation to the structural-change queue whenever
// storage is locked (i.e. a scheduler phase is in flight), matching §4.5.
func (s *storage) EnqueueNewEntities(count int, components ...Component) error {
	if !s.Locked() {
		_, err := s.NewEntities(count, components...)
		return err
	}
	s.Enqueue(NewEntityOperation{count: count, components: components})
	return nil
}

// DestroyEntities despawns entities synchronously: it removes their table
// row (swap-remove) and bumps their slot generation so any stale handle is
// rejected afterward (I3, §4.4). Entities are removed one at a time, in
// slot-descending order per archetype, so the archetype's own entities
// vector stays consistent with whatever swap-remove the row deletion
// performs (I1).
func (s *storage) DestroyEntities(ents ...Entity) error {
	byArchetype := make(map[ArchetypeIdx][]Entity)
	for _, e := range ents {
		rec, ok := s.ents.get(e.Idx())
		if !ok || !rec.alive || rec.generation != e.Generation() {
			continue // already despawned; drop silently (§6)
		}
		byArchetype[rec.archetype] = append(byArchetype[rec.archetype], e)
	}
	for archIdx, group := range byArchetype {
		arch := s.g.archetype(archIdx)
		sort.Slice(group, func(i, j int) bool {
			ri, _ := s.ents.get(group[i].Idx())
			rj, _ := s.ents.get(group[j].Idx())
			return ri.entry.Index() > rj.entry.Index()
		})
		for _, e := range group {
			rec, _ := s.ents.get(e.Idx())
			pos := rec.entry.Index()
			if _, err := arch.table.DeleteEntries(int(rec.entry.ID())); err != nil {
				return err
			}
			arch.swapRemoveEntity(pos)
		}
	}
	for _, group := range byArchetype {
		for _, e := range group {
			s.ents.despawn(e.Idx())
		}
	}
	return nil
}

// EnqueueDestroyEntities defers despawn to the structural-change queue when
// storage is locked.
func (s *storage) EnqueueDestroyEntities(ents ...Entity) error {
	if !s.Locked() {
		return s.DestroyEntities(ents...)
	}
	for _, e := range ents {
		s.Enqueue(DespawnOperation{entity: e.Idx(), generation: e.Generation()})
	}
	return nil
}

// AddComponent overwrites c's value if the entity already carries it (§6:
// "never changes archetype twice"), or moves the entity to the
// with_component_added archetype and writes value otherwise.
func (s *storage) AddComponent(id EntityIdx, c Component, value any) error {
	rec, ok := s.ents.get(id)
	if !ok || !rec.alive {
		return ErrEntityNotFound
	}
	t := s.reg.register(c)
	origin := s.g.archetype(rec.archetype)
	if origin.Contains(t) {
		return writeComponentValue(origin.table, rec.entry.Index(), c, value)
	}
	dst, err := s.g.withComponentAdded(rec.archetype, t)
	if err != nil {
		return err
	}
	pos := rec.entry.Index()
	dstArch := s.g.archetype(dst)
	if err := origin.table.TransferEntries(dstArch.table, pos); err != nil {
		return err
	}
	origin.swapRemoveEntity(pos)
	dstArch.pushEntity(id)
	s.ents.setArchetype(id, dst)
	if value != nil {
		return writeComponentValue(dstArch.table, rec.entry.Index(), c, value)
	}
	return nil
}

// EnqueueAddComponent defers the add to the structural-change queue when
// storage is locked.
func (s *storage) EnqueueAddComponent(id EntityIdx, c Component, value any) error {
	if !s.Locked() {
		return s.AddComponent(id, c, value)
	}
	rec, ok := s.ents.get(id)
	if !ok {
		return nil
	}
	s.Enqueue(AddComponentOperation{entity: id, generation: rec.generation, component: c, value: value})
	return nil
}

// RemoveComponent is a no-op if c is absent (§6), otherwise moves the entity
// to the with_component_removed archetype.
func (s *storage) RemoveComponent(id EntityIdx, c Component) error {
	rec, ok := s.ents.get(id)
	if !ok || !rec.alive {
		return ErrEntityNotFound
	}
	t, ok := s.reg.lookup(c)
	if !ok {
		return nil
	}
	origin := s.g.archetype(rec.archetype)
	if !origin.Contains(t) {
		return nil
	}
	dst, err := s.g.withComponentRemoved(rec.archetype, t)
	if err != nil {
		return err
	}
	pos := rec.entry.Index()
	dstArch := s.g.archetype(dst)
	if err := origin.table.TransferEntries(dstArch.table, pos); err != nil {
		return err
	}
	origin.swapRemoveEntity(pos)
	dstArch.pushEntity(id)
	s.ents.setArchetype(id, dst)
	return nil
}

// EnqueueRemoveComponent defers the removal to the structural-change queue
// when storage is locked.
func (s *storage) EnqueueRemoveComponent(id EntityIdx, c Component) error {
	if !s.Locked() {
		return s.RemoveComponent(id, c)
	}
	rec, ok := s.ents.get(id)
	if !ok {
		return nil
	}
	s.Enqueue(RemoveComponentOperation{entity: id, generation: rec.generation, component: c})
	return nil
}

// RowIndexFor returns the dense index assigned to c, registering it first if
// necessary.
func (s *storage) RowIndexFor(c Component) uint32 {
	return uint32(s.reg.register(c))
}

// Register adds components to the schema without placing any entity.
func (s *storage) Register(comps ...Component) {
	for _, c := range comps {
		s.reg.register(c)
	}
}

// Locked reports whether a scheduler phase currently has storage locked
// (§4.5, §4.8: structural changes apply only once every system has
// finished).
func (s *storage) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Lock marks the start of a scheduler phase: further structural mutations
// are recorded into the queue rather than applied immediately.
func (s *storage) Lock() {
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

// Unlock marks the end of a scheduler phase and applies every queued
// structural change, in issue order (§4.5, P7).
func (s *storage) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
	if err := s.operationQueue.ProcessAll(s); err != nil {
		panic(err)
	}
}

// Archetypes returns every archetype currently in the graph.
func (s *storage) Archetypes() []*ArchetypeImpl {
	return s.g.all()
}

// FilterArchetypes returns the archetypes whose signature is a superset of
// required (§4.2's `filter`).
func (s *storage) FilterArchetypes(required []ComponentTypeIdx) *ArchetypeIter {
	return s.g.filter(required)
}

// Enqueue appends an operation to the structural-change queue under
// storage's mutex, so systems on different workers may enqueue concurrently.
func (s *storage) Enqueue(op EntityOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operationQueue.Enqueue(op)
}

// singletonExists reports whether any entity currently carries component
// type t, used by EntityBuilder's Dependency part and by the Single/
// SingleMut system parameters to decide between a point value and
// ErrMissingSingleton (§4.1, §4.6).
func (s *storage) singletonExists(t ComponentTypeIdx) bool {
	it := s.g.filter([]ComponentTypeIdx{t})
	for {
		arch, ok := it.Next()
		if !ok {
			return false
		}
		if arch.table.Length() > 0 {
			return true
		}
	}
}

// writeComponentValue writes value into c's column at pos within tbl, the
// same reflect-based row walk the teacher's entity.go AddComponentWithValue
// performs.
func writeComponentValue(tbl table.Table, pos int, c Component, value any) error {
	if value == nil {
		return nil
	}
	if !tbl.Contains(c) {
		return ComponentNotFoundError{Component: c}
	}
	valueType := reflect.TypeOf(value)
	for _, row := range tbl.Rows() {
		if row.Type().Elem() == valueType {
			reflect.Value(row).Index(pos).Set(reflect.ValueOf(value))
			return nil
		}
	}
	return fmt.Errorf("invalid value type %v for component %v", valueType, c)
}
