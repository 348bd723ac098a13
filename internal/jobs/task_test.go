package jobs_test

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"paperflow/internal/jobs"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

func fixedStore() *statestore.Store {
	return statestore.New(statestore.WithClock(func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	}))
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"paper", "paper"},
		{"  My Paper v2.pdf ", "My_Paper_v2.pdf"},
		{"a/b\\c:d", "a_b_c_d"},
		{"深度 学习", "深度_学习"},
		{"", "job"},
		{"   ", "job"},
		{"été", "été"},
		{strings.Repeat("x", 100), strings.Repeat("x", 80)},
	}
	for _, tt := range tests {
		if got := jobs.Slug(tt.in); got != tt.want {
			t.Fatalf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateTaskWritesInitialRecord(t *testing.T) {
	store := fixedStore()
	root := t.TempDir()

	task, err := jobs.CreateTask(store, root, "paper")
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	if task.ID != "20250102_030405_paper" {
		t.Fatalf("unexpected id %q", task.ID)
	}
	if info, err := os.Stat(task.ResultDir); err != nil || !info.IsDir() {
		t.Fatalf("expected result dir: %v", err)
	}
	rec := store.Read(task.StatePath)
	if rec.String("job_id", "") != task.ID || rec.String("state", "") != jobs.StateQueued {
		t.Fatalf("unexpected initial record %v", rec.Map())
	}
	if rec.String("created_at", "") != "2025-01-02 03:04:05" || rec.String("hint", "") != "paper" {
		t.Fatalf("unexpected initial record %v", rec.Map())
	}
	if task.CachePath != filepath.Join(task.ResultDir, "translated.md.cache.json") {
		t.Fatalf("unexpected cache path %q", task.CachePath)
	}

	again, err := jobs.CreateTask(store, root, "paper")
	if err != nil {
		t.Fatalf("second CreateTask returned error: %v", err)
	}
	if again.ID != task.ID+"_2" {
		t.Fatalf("expected suffixed id on collision, got %q", again.ID)
	}
}

func TestCreateTaskIDIsTimeOrdered(t *testing.T) {
	task, err := jobs.CreateTask(statestore.New(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	if !regexp.MustCompile(`^\d{8}_\d{6}_job$`).MatchString(task.ID) {
		t.Fatalf("unexpected id %q", task.ID)
	}
}

func TestOpenTask(t *testing.T) {
	root := t.TempDir()
	task, err := jobs.CreateTask(fixedStore(), root, "paper")
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}

	opened, err := jobs.OpenTask(root, " /"+task.ID+"/ ")
	if err != nil {
		t.Fatalf("OpenTask returned error: %v", err)
	}
	if opened != task {
		t.Fatalf("expected identical paths, got %+v want %+v", opened, task)
	}

	for _, bad := range []string{"", "..", "a/b", `a\b`, "x..y"} {
		if _, err := jobs.OpenTask(root, bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("OpenTask(%q) expected validation error, got %v", bad, err)
		}
	}
	if _, err := jobs.OpenTask(root, "20990101_000000_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	root := t.TempDir()
	task, err := jobs.CreateTask(fixedStore(), root, "paper")
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	if err := jobs.DeleteTask(root, task.ID); err != nil {
		t.Fatalf("DeleteTask returned error: %v", err)
	}
	if _, err := os.Stat(task.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected task dir removed, stat err=%v", err)
	}
	if err := jobs.DeleteTask(root, "../outside"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
