// Package store implements the record store of a classlog device and the
// change-log machinery the sync engine drives.
//
// The record store is a SQLite database holding the shared schema: classes,
// students, observations, and attachments. Row-level edits are tracked in a
// change_log table maintained by triggers; a changeset is the set of rows
// touched since a per-peer checkpoint, encoded as one opaque blob.
//
// The sync engine consumes this package through the ChangeLogStore interface
// only: export the pending changeset for a peer, and apply an incoming one.
// Applying is atomic and uses a replace policy: an incoming row always
// replaces the local one with the same primary key, whatever their relative
// ages. A referential-integrity violation rolls the entire apply back and
// leaves the store untouched.
//
// The store also persists the per-peer sync_state bookkeeping, which is
// written exclusively through the orchestrator's RecordSyncResult calls.
package store
