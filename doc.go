// The [surreallms] package wires the persistence layer of a learning
// management system: an authoritative store that takes conditional writes and
// a derived SurrealDB store that serves lookups and searches.
//
// # Stores
//
// Writes go through [write.Executor] to one of three authoritative backends,
// selected with [Config.Store]:
//
//   - postgres: rows in PostgreSQL via gorm, with per-cell expiry and a reaper for dead rows
//   - redis: one hash per record, applied atomically by a Lua script
//   - memory: an in-process map, for tests and local development
//
// Reads go through [search.Facade] to SurrealDB, or to an in-process index
// when [Config.Search] is "memory". The derived store is filled by
// replication outside this module and may lag behind writes.
//
// # Services
//
// [App] exposes one service per record kind. Writes report an applied flag:
// false means the record was not in the state the operation needs. It is
// never an error.
//
//	app, err := surreallms.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	id, applied, err := app.Topics.Create(ctx, "Concurrency", 0)
//
// [write.Executor]: https://pkg.go.dev/github.com/surrealdb/surreallms/pkg/write#Executor
// [search.Facade]: https://pkg.go.dev/github.com/surrealdb/surreallms/pkg/search#Facade
package surreallms
