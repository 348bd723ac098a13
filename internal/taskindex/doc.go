// Package taskindex mirrors task summaries into SQLite so listings and
// filters do not rescan every task directory.
//
// The task directories remain the source of truth. The orchestrator upserts
// a summary after every state change; Rebuild regenerates the whole index
// from disk when it drifts or the schema version changes.
package taskindex
