package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"paperflow/internal/services/mineru"
)

// FakeExtractor is an in-memory extraction service. Polls return Statuses in
// order, repeating the last one; Fetch writes Bundle to the destination.
type FakeExtractor struct {
	Statuses  []mineru.Status
	Bundle    []byte
	SubmitErr error
	FetchErr  error

	mu        sync.Mutex
	polls     int
	submitted []mineru.Source
	fetched   []string
}

// Submit implements jobs.Extractor.
func (f *FakeExtractor) Submit(_ context.Context, src mineru.Source) (mineru.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return mineru.Handle{}, f.SubmitErr
	}
	f.submitted = append(f.submitted, src)
	return mineru.Handle{ID: "task-1", Batch: src.Path != "", Name: src.Name()}, nil
}

// Poll implements jobs.Extractor.
func (f *FakeExtractor) Poll(context.Context, mineru.Handle) (mineru.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return mineru.Status{}, errors.New("no status scripted")
	}
	idx := min(f.polls, len(f.Statuses)-1)
	f.polls++
	return f.Statuses[idx], nil
}

// Fetch implements jobs.Extractor.
func (f *FakeExtractor) Fetch(_ context.Context, bundleURL, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return f.FetchErr
	}
	f.fetched = append(f.fetched, bundleURL)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, f.Bundle, 0o644)
}

// Polls returns how many status checks were made.
func (f *FakeExtractor) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Submitted returns the sources passed to Submit.
func (f *FakeExtractor) Submitted() []mineru.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mineru.Source(nil), f.submitted...)
}

// Done is a terminal success status pointing at url.
func Done(url string) mineru.Status {
	return mineru.Status{State: mineru.StateDone, BundleURL: url}
}
