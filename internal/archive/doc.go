// Package archive unpacks extraction result bundles with path-traversal
// protection.
package archive
