/*
Package forge provides a parallel-scheduling Entity-Component-System (ECS)
runtime for games and simulations.

Forge keeps entities with the same component types together in one
archetype-based columnar store for cache-friendly iteration, and schedules
registered systems across a worker pool by statically resolving which ones
can run concurrently from their declared component access and an explicit
ordering DAG.

Core Concepts:

  - Entity: an (index, generation) handle to a game object.
  - Component: a data attribute attached to entities, identified by a
    registered type.
  - Archetype: the set of entities sharing exactly one component-type
    signature, stored in one table.Table.
  - System: a registered function with a declared parameter list; the
    scheduler runs systems in parallel whenever their declared access and
    ordering dependencies allow it.
  - App: owns the complete world state and drives phases via Update.

Basic Usage:

	schema := table.Factory.NewSchema()
	storage, _ := forge.Factory.NewStorage(schema)

	position := forge.FactoryNewComponent[Position]()
	velocity := forge.FactoryNewComponent[Velocity]()

	entities, _ := storage.NewEntities(100, position, velocity)

	query := forge.Factory.NewFilterBuilder()
	queryNode := query.And(position, velocity)
	cursor := forge.Factory.NewCursor(queryNode, storage)

	for cursor.Next() {
		pos := position.GetFromCursor(cursor)
		vel := velocity.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
	}

Systems attach to an App through a SchedulerBuilder, which resolves access
conflicts and ordering dependencies once at build time so Update can
dispatch every phase without re-validating them.
*/
package forge
