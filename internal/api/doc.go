// Package api is the transport-neutral layer shared by the CLI and the HTTP
// daemon.
//
// Build wires every service from configuration into a Services bundle:
// the state store, background runner, task pipeline, drawing, relationship
// graph, weekly reports, tag catalog and the SQLite task index. Task-level
// helpers (describe, list, delete, tag edits, reindex) live here so both
// surfaces behave the same.
//
// The wire types in types.go are the JSON payloads of the daemon API and
// Client is a typed client for it.
package api
