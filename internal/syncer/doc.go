// Package syncer reconciles one persisted collection against its desired
// state.
//
// A Sync call computes a plan (see package plan), then issues writes through
// three injected callbacks in a fixed order:
//
//  1. One DeleteMany for every existing record without a desired match
//     (skipped entirely when the collection disallows deletions)
//  2. One Update per matched pair whose fields actually differ
//  3. One Create per unmatched desired record, stripped to creatable fields
//
// Unchanged pairs produce no write and no ChangeRecord, so syncing the same
// state twice is a no-op the second time.
//
// A callback failure aborts the remaining steps and is returned as an
// *OpError. Writes already issued are not compensated here; callers that need
// all-or-nothing behavior run the callbacks inside one transaction.
package syncer
