// Package store provides persistent storage for veche using SQLite.
//
// # Architecture
//
// The Store interface owns all durable entities: users, templates, polls,
// votes, wizard sessions and template-instantiation sessions. Business logic
// lives above it (decision engine, wizard); the store only enforces the
// structural invariants the rest of the system relies on:
//
//   - at most one vote per (poll, voter), replaced atomically on re-vote
//   - at most one wizard session per user
//   - a decision number is assigned at most once per poll
//   - user permissions are never downgraded by re-registration
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateTemplate: Template name already taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir() path for integration tests.
package store
