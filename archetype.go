package forge

import (
	"sort"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
)

// ArchetypeImpl is a single archetype: the set of entities sharing a
// component-type signature, stored columnarly in one table.Table (§3,
// component C). Archetype 0 is always the empty archetype.
type ArchetypeImpl struct {
	id        ArchetypeIdx
	signature []ComponentTypeIdx // sorted, unique (I4)
	sigMask   mask.Mask
	table     table.Table
	entities  []EntityIdx // current occupants in slot order (I1, §3)
	next      *intMap[uint32, ArchetypeIdx] // add-one-component edges
	prev      *intMap[uint32, ArchetypeIdx] // remove-one-component edges
}

// EntityAt returns the EntityIdx occupying slot pos, the reverse of
// EntityLocation needed by the EntityParam system parameter and by
// Cursor.CurrentEntity/EntityAtOffset while streaming over a cursor (§4.6).
func (a *ArchetypeImpl) EntityAt(pos int) EntityIdx {
	return a.entities[pos]
}

// Len reports how many entities currently occupy this archetype.
func (a *ArchetypeImpl) Len() int {
	return len(a.entities)
}

// pushEntity appends idx as the new last occupant, mirroring a table row
// appended by NewEntries/TransferEntries-in, and returns its slot position.
func (a *ArchetypeImpl) pushEntity(idx EntityIdx) int {
	a.entities = append(a.entities, idx)
	return len(a.entities) - 1
}

// swapRemoveEntity removes the occupant at pos the same way the underlying
// table.Table removes a row: the last occupant moves into the vacated slot
// (I1 is maintained for the swapped entity because its table.Entry is a
// live handle that already tracks its own new position).
func (a *ArchetypeImpl) swapRemoveEntity(pos int) {
	last := len(a.entities) - 1
	if pos != last {
		a.entities[pos] = a.entities[last]
	}
	a.entities = a.entities[:last]
}

// ID returns the archetype's dense index.
func (a *ArchetypeImpl) ID() uint32 {
	return uint32(a.id)
}

// Table returns the underlying column storage for this archetype.
func (a *ArchetypeImpl) Table() table.Table {
	return a.table
}

// Signature returns the sorted, unique component-type-idx vector identifying
// this archetype (§4.2).
func (a *ArchetypeImpl) Signature() []ComponentTypeIdx {
	return a.signature
}

// Contains reports whether t is part of this archetype's signature.
func (a *ArchetypeImpl) Contains(t ComponentTypeIdx) bool {
	var m mask.Mask
	m.Mark(uint32(t))
	return a.sigMask.ContainsAll(m)
}

// Mask exposes the archetype's signature as a mask.Mask, satisfying
// mask.Maskable the way table.Table already does in the teacher's query.go.
func (a *ArchetypeImpl) Mask() mask.Mask {
	return a.sigMask
}

func newArchetypeNode(schema table.Schema, entryIndex table.EntryIndex, id ArchetypeIdx, signature []ComponentTypeIdx, components []Component) (*ArchetypeImpl, error) {
	elementTypes := make([]table.ElementType, len(components))
	for i, comp := range components {
		elementTypes[i] = comp
	}
	tbl, err := table.NewTableBuilder().
		WithSchema(schema).
		WithEntryIndex(entryIndex).
		WithElementTypes(elementTypes...).
		WithEvents(Config.tableEvents).
		Build()
	if err != nil {
		return nil, err
	}
	var m mask.Mask
	for _, t := range signature {
		m.Mark(uint32(t))
	}
	return &ArchetypeImpl{
		id:        id,
		signature: signature,
		sigMask:   m,
		table:     tbl,
		next:      newIntMap[uint32, ArchetypeIdx](4),
		prev:      newIntMap[uint32, ArchetypeIdx](4),
	}, nil
}

// archetypeGraph owns every ArchetypeImpl and the memoized add/remove edges
// between them (§4.2, component C). Archetype 0 is the empty archetype,
// created eagerly so every entity without components still has a home.
type archetypeGraph struct {
	schema      table.Schema
	entryIndex  table.EntryIndex
	registry    *componentTypeRegistry
	nodes       idxVec[ArchetypeIdx, *ArchetypeImpl]
	bySignature map[mask.Mask]ArchetypeIdx
}

func newArchetypeGraph(schema table.Schema, entryIndex table.EntryIndex, registry *componentTypeRegistry) (*archetypeGraph, error) {
	g := &archetypeGraph{
		schema:      schema,
		entryIndex:  entryIndex,
		registry:    registry,
		bySignature: make(map[mask.Mask]ArchetypeIdx),
	}
	empty, err := newArchetypeNode(schema, entryIndex, 0, nil, nil)
	if err != nil {
		return nil, err
	}
	g.nodes.push(empty)
	g.bySignature[mask.Mask{}] = 0
	return g, nil
}

func (g *archetypeGraph) archetype(idx ArchetypeIdx) *ArchetypeImpl {
	return g.nodes.get(idx)
}

func (g *archetypeGraph) all() []*ArchetypeImpl {
	return g.nodes
}

// signature returns the sorted component-type-idx vector for archetype a.
func (g *archetypeGraph) signature(a ArchetypeIdx) []ComponentTypeIdx {
	return g.nodes.get(a).signature
}

// withComponentAdded follows (or creates) the `next[t]` edge from a,
// producing the archetype whose signature is sig(a) ∪ {t}. It fails if t is
// already in sig(a) (§4.2).
func (g *archetypeGraph) withComponentAdded(a ArchetypeIdx, t ComponentTypeIdx) (ArchetypeIdx, error) {
	node := g.nodes.get(a)
	if node.Contains(t) {
		return 0, ComponentExistsError{}
	}
	if dst, ok := node.next.get(uint32(t)); ok {
		return dst, nil
	}
	newSig := insertSorted(node.signature, t)
	dst, err := g.getOrCreate(newSig)
	if err != nil {
		return 0, err
	}
	node.next.put(uint32(t), dst)
	g.nodes.get(dst).prev.put(uint32(t), a)
	return dst, nil
}

// withComponentRemoved follows (or creates) the `prev[t]` edge from a,
// producing the archetype whose signature is sig(a) \ {t}. Removing an
// absent type is handled by callers as a no-op per §6, not here.
func (g *archetypeGraph) withComponentRemoved(a ArchetypeIdx, t ComponentTypeIdx) (ArchetypeIdx, error) {
	node := g.nodes.get(a)
	if dst, ok := node.prev.get(uint32(t)); ok {
		return dst, nil
	}
	newSig := removeSorted(node.signature, t)
	dst, err := g.getOrCreate(newSig)
	if err != nil {
		return 0, err
	}
	node.prev.put(uint32(t), dst)
	g.nodes.get(dst).next.put(uint32(t), a)
	return dst, nil
}

// getOrCreate finds the archetype matching signature sig or builds a new
// one, looking up each type's Component identity value from the registry
// (every type in sig must already be registered).
func (g *archetypeGraph) getOrCreate(sig []ComponentTypeIdx) (ArchetypeIdx, error) {
	var m mask.Mask
	for _, t := range sig {
		m.Mark(uint32(t))
	}
	if id, ok := g.bySignature[m]; ok {
		return id, nil
	}
	id := ArchetypeIdx(g.nodes.len())
	node, err := newArchetypeNode(g.schema, g.entryIndex, id, sig, g.registry.identitiesFor(sig))
	if err != nil {
		return 0, err
	}
	g.nodes.push(node)
	g.bySignature[m] = id
	return id, nil
}

// archetypeForSignature returns (creating if necessary) the archetype whose
// signature is exactly components' registered types, used by the entity
// builder (§4.3) once it has computed a full component set up front.
func (g *archetypeGraph) archetypeForSignature(components []Component) (ArchetypeIdx, error) {
	sig := make([]ComponentTypeIdx, len(components))
	for i, c := range components {
		sig[i] = g.registry.register(c)
	}
	sort.Slice(sig, func(i, j int) bool { return sig[i] < sig[j] })
	sig = dedupSorted(sig)
	return g.getOrCreate(sig)
}

// addEntity inserts a fresh row into a's table for idx and returns that
// row's table.Entry, whose Index() is the entity's slot position.
func (g *archetypeGraph) addEntity(a ArchetypeIdx, idx EntityIdx) (table.Entry, error) {
	node := g.nodes.get(a)
	entries, err := node.table.NewEntries(1)
	if err != nil {
		return nil, err
	}
	node.pushEntity(idx)
	return entries[0], nil
}

func insertSorted(sig []ComponentTypeIdx, t ComponentTypeIdx) []ComponentTypeIdx {
	out := make([]ComponentTypeIdx, 0, len(sig)+1)
	inserted := false
	for _, s := range sig {
		if !inserted && t < s {
			out = append(out, t)
			inserted = true
		}
		out = append(out, s)
	}
	if !inserted {
		out = append(out, t)
	}
	return out
}

func removeSorted(sig []ComponentTypeIdx, t ComponentTypeIdx) []ComponentTypeIdx {
	out := make([]ComponentTypeIdx, 0, len(sig))
	for _, s := range sig {
		if s != t {
			out = append(out, s)
		}
	}
	return out
}

func dedupSorted(sig []ComponentTypeIdx) []ComponentTypeIdx {
	if len(sig) < 2 {
		return sig
	}
	out := sig[:1]
	for _, s := range sig[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
