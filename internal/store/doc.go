// Package store provides persistent storage for loom-chat using SQLite.
//
// # Data Models
//
//   - User: A participant with a unique username and display profile
//   - Conversation: A channel of fixed kind (direct, group, assistant)
//   - Membership: Links a user to a conversation
//   - Message: A message row; Body == nil marks a tombstone
//
// Identifiers are snowflakes held as uint64 in Go and stored as INTEGER in
// SQLite. Timestamps are stored as RFC3339 TEXT in UTC.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The schema is created on open; there is no separate migration step.
//
// # Deletion Model
//
// Messages are never removed. A delete clears the body, stamps the
// metadata with deleted/deletedAt markers, and keeps the row so history
// pagination and reply threading stay stable.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateUser: Username or id already taken
//
// All methods accept context.Context for cancellation support.
package store
