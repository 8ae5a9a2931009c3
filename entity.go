package forge

import (
	"github.com/TheBitDrifter/table"
)

// Entity is an opaque handle to a live (or once-live) game object: a slot
// index plus the generation it was allocated under (§3). The accessors of a
// handle whose generation is stale report absence rather than panicking
// (§7): Valid is false, Table is nil, Index is -1, Parent reports none and
// Children is empty. Storage.Entity returns ErrEntityNotFound for a slot
// that is not live.
type Entity interface {
	Idx() EntityIdx
	Generation() Generation
	Valid() bool

	Table() table.Table
	Index() int

	Parent() (Entity, bool)
	Children() []Entity
	Depth() int

	AddComponent(Component) error
	AddComponentWithValue(Component, any) error
	RemoveComponent(Component) error
	EnqueueAddComponent(Component) error
	EnqueueAddComponentWithValue(Component, any) error
	EnqueueRemoveComponent(Component) error
}

// entityHandle implements Entity by delegating to the owning storage, the
// way the teacher's entity type delegates to its Storage field.
type entityHandle struct {
	idx EntityIdx
	gen Generation
	sto *storage
}

func (e *entityHandle) Idx() EntityIdx         { return e.idx }
func (e *entityHandle) Generation() Generation { return e.gen }

func (e *entityHandle) Valid() bool {
	rec, ok := e.sto.ents.get(e.idx)
	return ok && rec.alive && rec.generation == e.gen
}

func (e *entityHandle) record() (entityRecord, bool) {
	rec, ok := e.sto.ents.get(e.idx)
	if !ok || !rec.alive || rec.generation != e.gen {
		return entityRecord{}, false
	}
	return rec, true
}

func (e *entityHandle) Table() table.Table {
	rec, ok := e.record()
	if !ok {
		return nil
	}
	return e.sto.g.archetype(rec.archetype).table
}

func (e *entityHandle) Index() int {
	rec, ok := e.record()
	if !ok {
		return -1
	}
	return rec.entry.Index()
}

func (e *entityHandle) Parent() (Entity, bool) {
	rec, ok := e.record()
	if !ok || !rec.hasParent {
		return nil, false
	}
	p, err := e.sto.Entity(rec.parent)
	if err != nil {
		return nil, false
	}
	return p, true
}

func (e *entityHandle) Children() []Entity {
	rec, ok := e.record()
	if !ok {
		return nil
	}
	out := make([]Entity, 0, len(rec.children))
	for _, c := range rec.children {
		if h, err := e.sto.Entity(c); err == nil {
			out = append(out, h)
		}
	}
	return out
}

func (e *entityHandle) Depth() int {
	rec, ok := e.record()
	if !ok {
		return 0
	}
	return rec.depth
}

func (e *entityHandle) AddComponent(c Component) error {
	return e.sto.AddComponent(e.idx, c, nil)
}

func (e *entityHandle) AddComponentWithValue(c Component, value any) error {
	return e.sto.AddComponent(e.idx, c, value)
}

func (e *entityHandle) RemoveComponent(c Component) error {
	return e.sto.RemoveComponent(e.idx, c)
}

func (e *entityHandle) EnqueueAddComponent(c Component) error {
	return e.sto.EnqueueAddComponent(e.idx, c, nil)
}

func (e *entityHandle) EnqueueAddComponentWithValue(c Component, value any) error {
	return e.sto.EnqueueAddComponent(e.idx, c, value)
}

func (e *entityHandle) EnqueueRemoveComponent(c Component) error {
	return e.sto.EnqueueRemoveComponent(e.idx, c)
}

// entityRecord is the entity registry's per-slot bookkeeping (§3's
// EntityLocation, §4.4's parent/child/depth tracking).
type entityRecord struct {
	alive      bool
	generation Generation
	archetype  ArchetypeIdx
	entry      table.Entry

	hasParent bool
	parent    EntityIdx
	children  []EntityIdx
	depth     int
}

// entityRegistry allocates EntityIdx from a LIFO free list of previously
// despawned slots (§4.4, component E).
type entityRegistry struct {
	slots idxVec[EntityIdx, entityRecord]
	free  idxFreeList[EntityIdx]
}

func newEntityRegistry() *entityRegistry {
	return &entityRegistry{}
}

// alloc reserves a slot, recycling a freed one when available, and returns
// its index. The caller is expected to follow up with setLocation.
func (r *entityRegistry) alloc(parent *EntityIdx) EntityIdx {
	var idx EntityIdx
	if reused, ok := r.free.pop(); ok {
		idx = reused
		rec := r.slots.get(idx)
		rec.generation++
		rec.alive = true
		rec.children = nil
		rec.hasParent = false
		rec.depth = 0
		r.slots.set(idx, rec)
	} else {
		idx = r.slots.push(entityRecord{alive: true})
	}
	if parent != nil {
		r.reparent(idx, *parent)
	}
	return idx
}

func (r *entityRegistry) setLocation(idx EntityIdx, arch ArchetypeIdx, entry table.Entry) {
	rec := r.slots.get(idx)
	rec.archetype = arch
	rec.entry = entry
	r.slots.set(idx, rec)
}

func (r *entityRegistry) setArchetype(idx EntityIdx, arch ArchetypeIdx) {
	rec := r.slots.get(idx)
	rec.archetype = arch
	r.slots.set(idx, rec)
}

func (r *entityRegistry) get(idx EntityIdx) (entityRecord, bool) {
	if int(idx) >= r.slots.len() {
		return entityRecord{}, false
	}
	return r.slots.get(idx), true
}

func (r *entityRegistry) generationOf(idx EntityIdx) Generation {
	return r.slots.get(idx).generation
}

// despawn marks a slot dead, bumps its generation so stale handles are
// rejected (I3), unlinks it from its parent, and recycles the slot.
func (r *entityRegistry) despawn(idx EntityIdx) {
	if int(idx) >= r.slots.len() {
		return
	}
	rec := r.slots.get(idx)
	if !rec.alive {
		return
	}
	if rec.hasParent {
		r.unlinkChild(rec.parent, idx)
	}
	rec.alive = false
	rec.generation++
	r.slots.set(idx, rec)
	r.free.push(idx)
}

// reparent sets child's parent to parent and recomputes child's depth by
// traversal (§4.4: "reparenting ... maintain depth consistency by traversal
// at commit time").
func (r *entityRegistry) reparent(child, parent EntityIdx) {
	rec := r.slots.get(child)
	if rec.hasParent {
		r.unlinkChild(rec.parent, child)
	}
	rec.hasParent = true
	rec.parent = parent
	rec.depth = r.depthOf(parent) + 1
	r.slots.set(child, rec)

	prec := r.slots.get(parent)
	prec.children = append(prec.children, child)
	r.slots.set(parent, prec)
}

func (r *entityRegistry) depthOf(idx EntityIdx) int {
	if int(idx) >= r.slots.len() {
		return 0
	}
	return r.slots.get(idx).depth
}

func (r *entityRegistry) unlinkChild(parent, child EntityIdx) {
	if int(parent) >= r.slots.len() {
		return
	}
	prec := r.slots.get(parent)
	for i, c := range prec.children {
		if c == child {
			prec.children = append(prec.children[:i], prec.children[i+1:]...)
			break
		}
	}
	r.slots.set(parent, prec)
}
