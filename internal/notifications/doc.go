// Package notifications publishes pipeline events to ntfy.
//
// NewService returns a no-op publisher when notifications.ntfy_topic is
// unset, so callers publish unconditionally. Publishing failures are
// returned to the caller, which logs them; they never fail the work that
// triggered them.
package notifications
