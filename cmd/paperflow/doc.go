// Package main hosts the paperflow CLI entrypoint and command graph.
//
// The Cobra command tree runs document pipelines in the foreground, hands
// longer work to a running daemon over its HTTP API, and exposes the task,
// drawing, graph, report, and tag catalogs stored under the output
// directory. Configuration resolution and service construction live in
// context.go so subcommands only describe their flags and rendering.
package main
