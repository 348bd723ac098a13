// Package source resolves the document reference handed to an extraction
// run: a local file, an http(s) URL submitted as-is, or a gs:// object that
// is downloaded into the task directory first.
package source
