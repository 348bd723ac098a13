// Package grsai wraps the nano-banana image generation API used for
// research illustrations. Submissions return a remote id that is polled
// through /v1/draw/result until the task succeeds or fails.
package grsai
