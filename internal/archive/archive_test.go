package archive_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"paperflow/internal/archive"
	"paperflow/internal/services"
)

type entry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"full.md", "full.md", false},
		{`images\a.png`, "images/a.png", false},
		{"./a/./b.txt", "a/b.txt", false},
		{"a/../b.txt", "b.txt", false},
		{"/abs/c.txt", "abs/c.txt", false},
		{"../evil.txt", "", true},
		{`..\evil.txt`, "", true},
		{"a/../../evil.txt", "", true},
		{".", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := archive.EntryPath(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("%q: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestExtractWritesEntries(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	data := buildZip(t, []entry{
		{"images/", ""},
		{"full.md", "# Title\n"},
		{`images\fig1.png`, "png"},
	})
	if err := os.WriteFile(zipPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "result")

	if err := archive.Extract(zipPath, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "full.md"))
	if err != nil || string(got) != "# Title\n" {
		t.Fatalf("full.md mismatch: %q %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "images", "fig1.png")); err != nil {
		t.Fatalf("expected backslash entry under images/: %v", err)
	}

	// Re-extraction overwrites rather than failing.
	if err := archive.Extract(zipPath, dest); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "result")
	data := buildZip(t, []entry{
		{"ok.txt", "fine"},
		{"../evil.txt", "bad"},
	})

	err := archive.ExtractReader(bytes.NewReader(data), int64(len(data)), dest)
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if !errors.Is(err, services.ErrSecurity) || !errors.Is(err, archive.ErrUnsafePath) {
		t.Fatalf("unexpected error classification: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("traversal entry was written outside destination")
	}
}

func TestExtractContainsAbsoluteEntries(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "result")
	data := buildZip(t, []entry{{"/etc/passwd", "root"}})

	if err := archive.ExtractReader(bytes.NewReader(data), int64(len(data)), dest); err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "etc", "passwd"))
	if err != nil || string(got) != "root" {
		t.Fatalf("expected entry inside destination: %q %v", got, err)
	}
}

func TestExtractInvalidArchive(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.zip")
	if err := os.WriteFile(bogus, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := archive.Extract(bogus, filepath.Join(dir, "out"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
