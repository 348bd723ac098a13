// Package daemonrun hosts the foreground daemon process: logger setup, log
// retention, preflight logging, the PID file and signal handling around
// package daemon.
package daemonrun
