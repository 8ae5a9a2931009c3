package forge

import (
	"reflect"

	"github.com/TheBitDrifter/table"
)

// EntityOperation represents a structural change recorded during a scheduler
// phase and applied once the phase ends (§4.5, component F).
type EntityOperation interface {
	Apply(*storage) error
}

// entityOperationsQueue holds operations in issue order; ProcessAll applies
// them on a single thread, coalescing same-entity operations simply by
// replaying them in that order (P7: "operations applied in the order they
// were appended").
type entityOperationsQueue struct {
	operations []EntityOperation
}

// EntityOperationsQueue provides an interface for queuing and processing
// operations, mirroring the teacher's operation_queue.go shape.
type EntityOperationsQueue interface {
	Enqueue(EntityOperation)
	ProcessAll(*storage) error
}

// ProcessAll applies every queued operation to sto and clears the queue
// afterward. Called once per phase from storage.Unlock (§4.5, §4.8).
func (queue *entityOperationsQueue) ProcessAll(sto *storage) error {
	ops := queue.operations
	queue.operations = nil
	for _, op := range ops {
		if err := op.Apply(sto); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue adds an operation to the queue. storage.Enqueue is the only
// caller, and it holds storage's mutex around each append, so systems
// running in parallel may enqueue concurrently; ProcessAll runs from
// storage.Unlock once the phase's systems have finished.
func (queue *entityOperationsQueue) Enqueue(op EntityOperation) {
	queue.operations = append(queue.operations, op)
}

// NewEntityOperation creates multiple entities sharing the same components.
type NewEntityOperation struct {
	count      int
	components []Component
}

func (op NewEntityOperation) Apply(sto *storage) error {
	_, err := sto.NewEntities(op.count, op.components...)
	return err
}

// DespawnOperation removes an entity from storage if it is still the exact
// generation that issued the despawn (§6: "structural change targeting an
// already-despawned entity is silently dropped").
type DespawnOperation struct {
	entity     EntityIdx
	generation Generation
}

func (op DespawnOperation) Apply(sto *storage) error {
	rec, ok := sto.ents.get(op.entity)
	if !ok || !rec.alive || rec.generation != op.generation {
		return nil
	}
	return sto.DestroyEntities(&entityHandle{idx: op.entity, gen: op.generation, sto: sto})
}

// AddComponentOperation adds (or overwrites the value of) a component on an
// entity.
type AddComponentOperation struct {
	entity     EntityIdx
	generation Generation
	component  Component
	value      any
}

func (op AddComponentOperation) Apply(sto *storage) error {
	rec, ok := sto.ents.get(op.entity)
	if !ok || !rec.alive || rec.generation != op.generation {
		return nil
	}
	return sto.AddComponent(op.entity, op.component, op.value)
}

// RemoveComponentOperation removes a component from an entity; a no-op if
// already absent or the entity is gone (§6).
type RemoveComponentOperation struct {
	entity     EntityIdx
	generation Generation
	component  Component
}

func (op RemoveComponentOperation) Apply(sto *storage) error {
	rec, ok := sto.ents.get(op.entity)
	if !ok || !rec.alive || rec.generation != op.generation {
		return nil
	}
	return sto.RemoveComponent(op.entity, op.component)
}

// UpdateComponentValueOperation is the optional fast path described in
// §4.5: mutate a component's value in place without ever changing
// archetype.
type UpdateComponentValueOperation struct {
	entity     EntityIdx
	generation Generation
	component  Component
	updater    func(current any) any
}

func (op UpdateComponentValueOperation) Apply(sto *storage) error {
	rec, ok := sto.ents.get(op.entity)
	if !ok || !rec.alive || rec.generation != op.generation {
		return nil
	}
	arch := sto.g.archetype(rec.archetype)
	t, ok := sto.reg.lookup(op.component)
	if !ok || !arch.Contains(t) {
		return nil
	}
	current, err := readComponentValue(arch.table, rec.entry.Index(), op.component)
	if err != nil {
		return err
	}
	return writeComponentValue(arch.table, rec.entry.Index(), op.component, op.updater(current))
}

// readComponentValue is the read-side counterpart of writeComponentValue,
// used by UpdateComponentValueOperation's read-modify-write fast path.
func readComponentValue(tbl table.Table, pos int, c Component) (any, error) {
	if !tbl.Contains(c) {
		return nil, ComponentNotFoundError{Component: c}
	}
	componentType := reflect.TypeOf(c)
	for _, row := range tbl.Rows() {
		if row.Type().Elem() == componentType {
			return reflect.Value(row).Index(pos).Interface(), nil
		}
	}
	return nil, ComponentNotFoundError{Component: c}
}

// SpawnOperation defers building a full entity (via the builder, §4.3) with
// an optional parent until apply time.
type SpawnOperation struct {
	parent  *EntityIdx
	builder *EntityBuilder
}

func (op SpawnOperation) Apply(sto *storage) error {
	_, err := op.builder.buildWithParent(sto, op.parent)
	return err
}
