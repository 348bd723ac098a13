// Package jobs owns the per-document task directory and drives it through
// extraction, translation, and analysis.
//
// Every stage records its progress in the task's state.json through the
// state store and either returns nil with its success state written, or
// returns an error with the failure already recorded. Stages check their
// own preconditions so any of them can be re-run after a partial failure.
package jobs
