// Package store persists engine state across sessions.
//
// A snapshot holds the core graph tier and every known motif:
//
//	{header: {version, timestamp, checksum}, core_graph: {nodes, edges}, motifs}
//
// The checksum is a domain-separated SHA-256 of the JSON body, so a
// truncated or edited snapshot is rejected on load instead of silently
// merged. Snapshots from another format version are rejected as well.
//
// Two backends implement SnapshotStore:
//   - Store: SQLite in WAL mode with versioned schema steps
//   - BadgerStore: embedded key-value store, on disk or in memory
//
// Motif rows are upserted as state changes and never regress to an older
// registry version. Session rows record the lifetime of each session.
//
// # SQLite
//
// Pragmas are set in the DSN so every pooled connection gets them:
// journal_mode=WAL, synchronous=NORMAL (FULL with SQLiteConfig.SyncFull),
// busy_timeout (5s by default) and foreign_keys=on.
//
// The schema is a list of numbered steps. Open applies every step above
// the stored user_version, each in one transaction with its version bump.
// A database whose user_version is above the newest step is refused with
// ErrSchemaTooNew.
package store
