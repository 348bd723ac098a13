// Package logs reads the daemon log for `paperflow logs` and the
// /api/logs endpoint.
//
// Reads are offset based: Last returns the final N lines plus the offset to
// resume from, Since continues from an offset, and Follow polls until the
// context ends. A file that shrank below the offset (rotation, truncation)
// is read again from the start.
package logs
