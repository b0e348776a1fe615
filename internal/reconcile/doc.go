// Package reconcile applies a desired entity graph to the persisted graph in
// one pass.
//
// A graph schema lists collections parents-first. For each collection in that
// order the Reconciler:
//
//  1. rewrites reference fields that name a record created earlier in the
//     pass (placeholder identity) to the identity the store assigned
//  2. runs syncer.Sync against the collection's existing records
//  3. remembers which identity each desired record resolved to, created or
//     matched, for deeper collections
//
// Every change from every level is then handed to the change log as one
// batch, stamped with the pass ID, actor, and context.
//
// # Transactions
//
// Request.WithTransaction selects the mode explicitly. Transactional passes
// run inside Backend.Atomic: every record write and the change log batch
// commit together or not at all. Best-effort passes commit each write on its
// own; if a level fails, the changes already applied are still appended to
// the change log before the error is returned, so the log never misses a
// persisted write.
//
// # Concurrency
//
// Passes over the same graph and scope are serialized by a guard.Keyed lock
// held from planning until the change log write completes. Passes over
// different scopes run in parallel.
//
// # References
//
// Rewriting only flows downward: a reference can resolve to a record created
// or matched at a shallower level, never to a sibling created at the same level. The
// schema compiler rejects self-referencing collections for that reason. By
// default a reference that still holds a placeholder is persisted as is and
// logged as a warning; WithStrictReferences turns it into an error raised
// before the collection is written.
package reconcile
