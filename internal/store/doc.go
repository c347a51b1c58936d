// Package store provides SQLite-backed durable storage for the
// archive: folders, documents, versions, and CRDT record fields.
//
// The store tracks:
//   - Folders: customer/object namespaces documents are filed under
//   - Documents: logical files grouped by folder, type, and date
//   - Versions: immutable, monotonically numbered snapshots of a document
//   - Records: per-folder field maps with LWW register metadata
//
// # Critical Patterns
//
// Versions are append-only. A version row is never edited in place and
// a version number is never reused, even if a later version is deleted.
// The UNIQUE(document_id, version_no) constraint backs this up.
//
// CRDT record merges read-modify-write the full field map inside one
// transaction, so concurrent local writers cannot lose updates.
//
// Every operation uses a short-lived transaction: open, one
// transaction, done. No lock spans multiple logical steps.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Schema changes are sequential migrations gated on PRAGMA
// user_version against the compile-time currentSchemaVersion. A
// migration's structural part (table/index creation) runs
// synchronously before the version counter advances; expensive
// population work (the full-text index over existing documents) runs
// as a detached background job whose completion time nothing depends
// on.
package store
