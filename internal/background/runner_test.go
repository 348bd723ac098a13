package background_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

func newRunner(t *testing.T, max int) (*background.Runner, *statestore.Store) {
	t.Helper()
	store := statestore.New()
	return background.NewRunner(context.Background(), store, logging.NewNop(), max), store
}

func TestRunnerWritesInitialBeforeReturning(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")
	release := make(chan struct{})

	err := runner.Start(context.Background(), background.Job{
		Name:      "initial",
		StatePath: path,
		Initial:   statestore.M{"state": "queued", "progress": 0},
		Work: func(ctx context.Context, _ *background.Progress) error {
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	rec := store.Read(path)
	if got := rec.String("state", ""); got != "queued" {
		t.Fatalf("expected queued before work finishes, got %q", got)
	}
	close(release)
	runner.Wait()
}

func TestRunnerSucceededStatePatchesProgress(t *testing.T) {
	runner, store := newRunner(t, 2)
	path := filepath.Join(t.TempDir(), "state.json")

	err := runner.Start(context.Background(), background.Job{
		Name:           "ok",
		StatePath:      path,
		Initial:        statestore.M{"state": "queued", "note": "keep"},
		SucceededState: "succeeded",
		Work: func(ctx context.Context, p *background.Progress) error {
			return p.Report(40, statestore.M{"state": "running"})
		},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	runner.Wait()

	rec := store.Read(path)
	if rec.String("state", "") != "succeeded" || rec.Int("progress", -1) != 100 {
		t.Fatalf("unexpected terminal record: %v", rec.Map())
	}
	if rec.String("note", "") != "keep" {
		t.Fatalf("expected untouched keys to survive, got %v", rec.Map())
	}
}

func TestRunnerRecordsFailureForError(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")

	_ = runner.Start(context.Background(), background.Job{
		Name:      "boom",
		StatePath: path,
		Initial:   statestore.M{"state": "queued"},
		Work: func(ctx context.Context, p *background.Progress) error {
			if err := p.Report(10, statestore.M{"state": "running"}); err != nil {
				return err
			}
			return services.Wrap(services.ErrExternalTool, "draw", "submit", "Remote rejected request", errors.New("quota exceeded"))
		},
	})
	runner.Wait()

	rec := store.Read(path)
	if rec.String("state", "") != background.StateFailed {
		t.Fatalf("expected failed state, got %v", rec.Map())
	}
	if got := rec.String("error", ""); got != "Remote rejected request: quota exceeded" {
		t.Fatalf("unexpected error text %q", got)
	}
	if rec.Int("progress", -1) != 10 {
		t.Fatalf("expected failure to keep last progress, got %v", rec.Map())
	}
}

func TestRunnerRecordsFailureForPanic(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")

	_ = runner.Start(context.Background(), background.Job{
		Name:           "panic",
		StatePath:      path,
		Initial:        statestore.M{"state": "queued"},
		SucceededState: "succeeded",
		Work: func(ctx context.Context, _ *background.Progress) error {
			panic("nil map write")
		},
	})
	runner.Wait()

	rec := store.Read(path)
	if rec.String("state", "") != background.StateFailed {
		t.Fatalf("expected failed state after panic, got %v", rec.Map())
	}
	if got := rec.String("error", ""); got != "panic: nil map write" {
		t.Fatalf("unexpected panic description %q", got)
	}
}

func TestRunnerCustomFailureFields(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")

	_ = runner.Start(context.Background(), background.Job{
		Name:      "translate",
		StatePath: path,
		Initial:   statestore.M{"state": "parsed"},
		Failure: func(_ error, msg string) statestore.M {
			return statestore.M{"translate_state": "failed", "translate_error": msg}
		},
		Work: func(ctx context.Context, _ *background.Progress) error {
			return errors.New("engine offline")
		},
	})
	runner.Wait()

	rec := store.Read(path)
	if rec.String("state", "") != "parsed" {
		t.Fatalf("expected state untouched, got %v", rec.Map())
	}
	if rec.String("translate_state", "") != "failed" || rec.String("translate_error", "") != "engine offline" {
		t.Fatalf("unexpected failure fields: %v", rec.Map())
	}
}

func TestRunnerDetachesFromCallerCancellation(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	_ = runner.Start(ctx, background.Job{
		Name:           "detached",
		StatePath:      path,
		SucceededState: "done",
		Work: func(jobCtx context.Context, _ *background.Progress) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return jobCtx.Err()
		},
	})
	<-started
	cancel()
	runner.Wait()

	if got := store.Read(path).String("state", ""); got != "done" {
		t.Fatalf("expected job to survive caller cancellation, got %q", got)
	}
}

func TestRunnerBaseCancellationStopsJobs(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	store := statestore.New()
	runner := background.NewRunner(base, store, logging.NewNop(), 1)
	path := filepath.Join(t.TempDir(), "state.json")

	started := make(chan struct{})
	_ = runner.Start(context.Background(), background.Job{
		Name:      "shutdown",
		StatePath: path,
		Work: func(jobCtx context.Context, _ *background.Progress) error {
			close(started)
			<-jobCtx.Done()
			return jobCtx.Err()
		},
	})
	<-started
	cancel()
	runner.Wait()

	if got := store.Read(path).String("state", ""); got != background.StateFailed {
		t.Fatalf("expected failed after shutdown, got %q", got)
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	runner, _ := newRunner(t, 2)
	dir := t.TempDir()
	var active, peak atomic.Int32

	for i := range 6 {
		err := runner.Start(context.Background(), background.Job{
			Name:      "bounded",
			StatePath: filepath.Join(dir, string(rune('a'+i)), "state.json"),
			Work: func(ctx context.Context, _ *background.Progress) error {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Start %d returned error: %v", i, err)
		}
	}
	runner.Wait()
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak.Load())
	}
}

func TestRunnerRejectsIncompleteJob(t *testing.T) {
	runner, _ := newRunner(t, 1)
	if err := runner.Start(context.Background(), background.Job{StatePath: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing work, got %v", err)
	}
	err := runner.Start(context.Background(), background.Job{Work: func(context.Context, *background.Progress) error { return nil }})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing path, got %v", err)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")
	var seen []int

	_ = runner.Start(context.Background(), background.Job{
		Name:      "progress",
		StatePath: path,
		Work: func(ctx context.Context, p *background.Progress) error {
			for _, pct := range []int{5, 30, 12, 250} {
				if err := p.Report(pct, nil); err != nil {
					return err
				}
				seen = append(seen, store.Read(path).Int("progress", -1))
			}
			return nil
		},
	})
	runner.Wait()

	want := []int{5, 30, 30, 100}
	if len(seen) != len(want) {
		t.Fatalf("unexpected progress history %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress history = %v, want %v", seen, want)
		}
	}
}

func TestRunnerSkipsRecordedFailure(t *testing.T) {
	runner, store := newRunner(t, 1)
	path := filepath.Join(t.TempDir(), "state.json")
	recorded := errors.New("already written")

	_ = runner.Start(context.Background(), background.Job{
		Name:      "recorded",
		StatePath: path,
		Initial:   statestore.M{"state": "parsed"},
		Failure: func(err error, msg string) statestore.M {
			if errors.Is(err, recorded) {
				return nil
			}
			return statestore.M{"state": "failed", "error": msg}
		},
		Work: func(ctx context.Context, _ *background.Progress) error {
			return recorded
		},
	})
	runner.Wait()

	rec := store.Read(path)
	if rec.String("state", "") != "parsed" || rec.Has("error") {
		t.Fatalf("expected record untouched, got %v", rec)
	}
}
