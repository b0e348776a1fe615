// Package ir provides the record model shared by every graphsync package.
//
// This package contains value and record types, canonical JSON, and hashing.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records are opaque field bags (Object) with an integer "id" field
//   - id <= 0 (or a missing id) marks a client-assigned placeholder
//   - NO float types anywhere - numbers are int64, decimals travel as strings
//   - Null is a value; a missing key is a different value
//   - Equality and hashing always go through canonical JSON (RFC 8785)
package ir
