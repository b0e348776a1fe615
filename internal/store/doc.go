// Package store provides SQLite-backed persistence for reconciled graphs and
// their change log.
//
// The store holds:
//   - Records: entity rows of any object type, fields kept as canonical JSON
//   - Change log: append-only audit entries, hash-chained in seq order
//   - Passes: one summary row per reconciliation pass
//
// # Critical Patterns
//
// Append-only change log
//   - SQLite triggers abort every UPDATE and DELETE on change_log
//   - Each entry's hash covers its predecessor's hash (ir.EntryHash), so
//     VerifyChain detects edited, dropped, or reordered rows
//
// Deterministic reads
//   - Records are returned ORDER BY id ASC, change log entries ORDER BY seq ASC
//
// Null clears
//   - Storage does not distinguish a null field from an absent one: Create
//     drops null-valued fields and Update removes fields set to null. Callers
//     that feed desired records from documents apply Normalize first so
//     reconciliation stays idempotent against reloaded rows.
//
// # Sessions
//
// Store implements reconcile.Backend. Session returns a best-effort session
// where every callback commits on its own; Atomic runs a whole pass in one
// transaction.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
