// Package mineru wraps the remote PDF-to-Markdown extraction service.
//
// URL sources are submitted with POST /extract/task and polled at
// /extract/task/{id}. Local files are registered with POST /file-urls/batch,
// uploaded with PUT to the returned presigned URL, and polled at
// /extract-results/batch/{id}. Every response carries a {code, msg, data}
// envelope; any code other than 0 is an error.
//
// The client performs single requests only. Polling cadence and overall
// deadlines belong to the caller (see internal/jobs).
package mineru
