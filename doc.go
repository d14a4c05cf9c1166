// Package taskcache is a write-behind cache and task lifecycle layer for
// multi-tenant, record-backed services.
//
// Components:
//   - Cached[V]: stages entity snapshots in a volatile store and drains them
//     in bulk to a durable docstore.Collection. Terminal task statuses bypass
//     staging and are written through.
//   - Tasks[V]: status/progress/report/log transitions for long-running tasks,
//     each followed by a concurrent persist and notify.
//   - Dispatcher + SignalRegistry: per-type listener callbacks and webhook
//     delivery with per-listener failure isolation.
//   - TypeRegistry: resolves task references to processors by type name.
//   - Drainer: periodic FlushQueueToDB for a set of registered caches.
//
// Keys:
//
//	{project}:{Type}:{uid}                       - fast-read snapshot (TTL)
//	{project}:{Type}_updates_hash                - staged writes, uid -> snapshot
//	{project}:{Type}_updates_hash:drain:{gen}    - a drain in progress
//
// Flush pattern:
//
//	gen := gens.Bump(hash)          // new drain generation
//	RENAME hash -> hash:drain:gen   // later saves start a fresh hash
//	HGETALL drain; BulkUpsert; DEL drain
package taskcache
