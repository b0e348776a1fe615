// Package audit turns the changes of one reconciliation pass into change log
// entries.
//
// The Registry stamps every ChangeRecord with the pass identity, actor,
// free-text context, and timestamp, applies the payload Policy, and hands the
// whole batch to a Sink in one call. The Sink (the SQLite store in
// production) assigns sequence numbers and the hash chain.
//
// The change log is append-only: nothing in this package, or in any Sink it
// writes to, updates or removes a prior entry.
//
// # Payload policy
//
// Whole-graph mutations can produce before/after payloads too large to be
// worth keeping. Policy makes the trade-off explicit:
//
//   - PayloadFull keeps every payload verbatim
//   - PayloadSuppress drops payloads; only action, type, key, and context remain
//   - PayloadTruncate keeps payloads up to MaxPayloadBytes of canonical JSON
//     and replaces larger ones with a summary of their size and field names
package audit
