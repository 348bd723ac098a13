// Package statestore persists the JSON state records that describe every
// long-running unit of work (tasks, drawings, graph builds, reports).
//
// Records are tagged-union objects (see Value) so readers never type-assert
// raw interface{} maps: accessors such as Object.String and Object.Int return
// a caller-supplied default when a key is absent or holds another kind.
// Writes replace the whole file via temp-file + rename; Patch performs a
// shallow read-merge-write and stamps updated_at. A missing or unparseable
// file reads as an empty record.
package statestore
