// Package workflow runs tasks through the extraction, translation, and
// analysis stages.
//
// A Pipeline executes registered stage handlers in order and logs each
// transition. The Manager wraps the pipeline for the daemon: submissions
// are handed to the background runner and return once the task record shows
// the work as queued, while Run executes the same stages in the foreground
// for the CLI. Stage failures are recorded on the task by the stages
// themselves; the runner only steps in for failures the stages could not
// record, such as panics.
package workflow
