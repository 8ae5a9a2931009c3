package forge

import "github.com/TheBitDrifter/table"

// factory implements the factory pattern for forge components.
type factory struct{}

// Factory is the global factory instance for creating forge components.
var Factory factory

// NewStorage creates a new Storage instance with the given schema.
func (f factory) NewStorage(schema table.Schema) (Storage, error) {
	return newStorage(schema)
}

// NewFilterBuilder creates a new And/Or/Not filter builder for hand-assembled
// cursors and App.Assert/AssertAny filters.
func (f factory) NewFilterBuilder() FilterBuilder {
	return newFilterBuilder()
}

// NewCursor creates a new Cursor with the specified query and storage.
func (f factory) NewCursor(query QueryNode, storage Storage) *Cursor {
	return newCursor(query, storage)
}

// FactoryNewComponent creates a new AccessibleComponent for type T.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	iden := table.FactoryNewElementType[T]()
	return AccessibleComponent[T]{
		Component: iden,
		Accessor:  table.FactoryNewAccessor[T](iden),
	}
}

// FactoryNewCache creates a new Cache with the specified capacity.
func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}

// NewSchedulerBuilder starts a scheduler build with the given worker-thread
// count (§4.8, component I).
func (f factory) NewSchedulerBuilder(threadCount uint32) *SchedulerBuilder {
	return NewSchedulerBuilder(threadCount)
}

// NewApp builds an App façade (§4.9, component J) over storage and a
// scheduler already built against it.
func (f factory) NewApp(storage Storage, sched *Scheduler) *App {
	return NewApp(storage, sched)
}
