// Package preflight provides readiness checks for the services and paths
// paperflow depends on.
//
// RunAll backs the daemon's startup log and the "paperflow status" command.
// Credential checks only look for presence; the language model check makes
// a single live request.
package preflight
