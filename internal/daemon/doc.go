// Package daemon coordinates the long-running paperflow process.
//
// It wraps the service bundle built by package api in a single lifecycle
// with flock-based locking to prevent multiple instances, and serves the
// HTTP JSON API over tasks, drawings, the relationship graph, weekly
// reports and tags. Background work runs on the bundle's runner; the daemon
// only owns startup, shutdown and transport.
package daemon
