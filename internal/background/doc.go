// Package background runs long operations on detached goroutines.
//
// Every job reports through a state record: the initial record is written
// before Start returns, and a deferred guard records a terminal failure for
// any error or panic so no record is left claiming to be in progress.
package background
