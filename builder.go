package forge

import "fmt"

// entityPart is one tagged piece of an EntityBuilder's recipe (§4.3,
// component D/E). Each part contributes to the three-phase build in order:
// fold the destination archetype, write component values once the entity has
// a row, then spawn whatever other entities the part implies.
type entityPart interface {
	createArchetype(sto *storage, base ArchetypeIdx) (ArchetypeIdx, error)
	addComponents(sto *storage, arch *ArchetypeImpl, pos int) error
	spawnChildren(sto *storage, parent EntityIdx) error
}

// EntityBuilder assembles an entity from an ordered list of parts: plain and
// optional components, inherited builders, child entities (static and
// dynamic), and singleton dependencies (§4.3).
type EntityBuilder struct {
	parts []entityPart
}

// NewEntityBuilder returns an empty builder.
func NewEntityBuilder() *EntityBuilder {
	return &EntityBuilder{}
}

// Component adds a component with an explicit value. If a component of the
// same type was already added earlier in the chain, the later call
// overwrites it, since parts are applied strictly in append order.
func (b *EntityBuilder) Component(c Component, value any) *EntityBuilder {
	b.parts = append(b.parts, componentPart{component: c, value: value, present: true})
	return b
}

// ComponentOption adds a component only when present is true, letting
// callers build conditional entity recipes without branching the whole
// chain.
func (b *EntityBuilder) ComponentOption(c Component, value any, present bool) *EntityBuilder {
	b.parts = append(b.parts, componentPart{component: c, value: value, present: present})
	return b
}

// Inherited folds another builder's components and children into this one.
// Components the other builder adds after this call in its own chain still
// overwrite this builder's earlier components of the same type, and vice
// versa: ordering is entirely determined by append order across both
// builders combined.
func (b *EntityBuilder) Inherited(other *EntityBuilder) *EntityBuilder {
	b.parts = append(b.parts, other)
	return b
}

// ChildEntity declares a child entity to be spawned once this entity
// exists, parented to it.
func (b *EntityBuilder) ChildEntity(child *EntityBuilder) *EntityBuilder {
	b.parts = append(b.parts, childPart{child: child})
	return b
}

// Children registers a closure that spawns a dynamic number of children
// once this entity exists, via the EntityChildBuilder it is handed.
func (b *EntityBuilder) Children(fn func(*EntityChildBuilder)) *EntityBuilder {
	b.parts = append(b.parts, childrenPart{fn: fn})
	return b
}

// Dependency spawns a parentless entity from factory the first time this
// entity is built, but only if no instance of the singleton component type
// already exists (§4.3, §4.1).
func (b *EntityBuilder) Dependency(singleton Component, factory func() *EntityBuilder) *EntityBuilder {
	b.parts = append(b.parts, dependencyPart{singleton: singleton, factory: factory})
	return b
}

// Build spawns the entity described by b synchronously into sto.
func (b *EntityBuilder) Build(sto Storage) (Entity, error) {
	s, ok := sto.(*storage)
	if !ok {
		return nil, fmt.Errorf("forge: unsupported storage implementation %T", sto)
	}
	return b.buildWithParent(s, nil)
}

// buildWithParent runs the three-phase build: fold the destination
// archetype, insert a row, write values, then spawn whatever children the
// recipe implies. It is the method SpawnOperation defers to when a builder
// is enqueued from within a running system.
func (b *EntityBuilder) buildWithParent(sto *storage, parent *EntityIdx) (Entity, error) {
	archIdx, err := b.createArchetype(sto, ArchetypeIdx(0))
	if err != nil {
		return nil, err
	}
	idx := sto.ents.alloc(parent)
	entry, err := sto.g.addEntity(archIdx, idx)
	if err != nil {
		return nil, err
	}
	sto.ents.setLocation(idx, archIdx, entry)

	arch := sto.g.archetype(archIdx)
	if err := b.addComponents(sto, arch, entry.Index()); err != nil {
		return nil, err
	}
	if err := b.spawnChildren(sto, idx); err != nil {
		return nil, err
	}
	return &entityHandle{idx: idx, gen: sto.ents.generationOf(idx), sto: sto}, nil
}

func (b *EntityBuilder) createArchetype(sto *storage, base ArchetypeIdx) (ArchetypeIdx, error) {
	cur := base
	for _, p := range b.parts {
		next, err := p.createArchetype(sto, cur)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

func (b *EntityBuilder) addComponents(sto *storage, arch *ArchetypeImpl, pos int) error {
	for _, p := range b.parts {
		if err := p.addComponents(sto, arch, pos); err != nil {
			return err
		}
	}
	return nil
}

func (b *EntityBuilder) spawnChildren(sto *storage, parent EntityIdx) error {
	for _, p := range b.parts {
		if err := p.spawnChildren(sto, parent); err != nil {
			return err
		}
	}
	return nil
}

// componentPart carries a single component value, added only when present.
type componentPart struct {
	component Component
	value     any
	present   bool
}

func (p componentPart) createArchetype(sto *storage, base ArchetypeIdx) (ArchetypeIdx, error) {
	if !p.present {
		return base, nil
	}
	t := sto.reg.register(p.component)
	if sto.g.archetype(base).Contains(t) {
		return base, nil
	}
	return sto.g.withComponentAdded(base, t)
}

func (p componentPart) addComponents(sto *storage, arch *ArchetypeImpl, pos int) error {
	if !p.present {
		return nil
	}
	return writeComponentValue(arch.table, pos, p.component, p.value)
}

func (p componentPart) spawnChildren(*storage, EntityIdx) error { return nil }

// childPart spawns a single child entity parented to the entity being
// built.
type childPart struct {
	child *EntityBuilder
}

func (p childPart) createArchetype(_ *storage, base ArchetypeIdx) (ArchetypeIdx, error) {
	return base, nil
}

func (p childPart) addComponents(*storage, *ArchetypeImpl, int) error { return nil }

func (p childPart) spawnChildren(sto *storage, parent EntityIdx) error {
	_, err := p.child.buildWithParent(sto, &parent)
	return err
}

// childrenPart spawns a dynamic number of children through the closure's
// EntityChildBuilder (§4.3: "used instead of a static child when children
// are created conditionally or in a loop").
type childrenPart struct {
	fn func(*EntityChildBuilder)
}

func (p childrenPart) createArchetype(_ *storage, base ArchetypeIdx) (ArchetypeIdx, error) {
	return base, nil
}

func (p childrenPart) addComponents(*storage, *ArchetypeImpl, int) error { return nil }

func (p childrenPart) spawnChildren(sto *storage, parent EntityIdx) error {
	cb := &EntityChildBuilder{sto: sto, parent: parent}
	p.fn(cb)
	return cb.err
}

// dependencyPart spawns a parentless entity the first time no instance of
// singleton exists yet.
type dependencyPart struct {
	singleton Component
	factory   func() *EntityBuilder
}

func (p dependencyPart) createArchetype(_ *storage, base ArchetypeIdx) (ArchetypeIdx, error) {
	return base, nil
}

func (p dependencyPart) addComponents(*storage, *ArchetypeImpl, int) error { return nil }

func (p dependencyPart) spawnChildren(sto *storage, _ EntityIdx) error {
	if t, ok := sto.reg.lookup(p.singleton); ok && sto.singletonExists(t) {
		return nil
	}
	_, err := p.factory().buildWithParent(sto, nil)
	return err
}

// EntityChildBuilder is handed to an EntityBuilder.Children closure so it
// can spawn a variable number of children, each parented to the entity
// under construction. The first error from any Spawn call is sticky and
// surfaces from the enclosing build.
type EntityChildBuilder struct {
	sto    *storage
	parent EntityIdx
	err    error
}

// Spawn builds child as a new entity parented to the entity under
// construction.
func (cb *EntityChildBuilder) Spawn(child *EntityBuilder) {
	if cb.err != nil {
		return
	}
	if _, err := child.buildWithParent(cb.sto, &cb.parent); err != nil {
		cb.err = err
	}
}
