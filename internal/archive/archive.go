package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"paperflow/internal/services"
)

var (
	// ErrUnsafePath reports an entry name containing a parent reference.
	ErrUnsafePath = errors.New("unsafe archive entry")
	// ErrZipSlip reports an entry that resolves outside the destination.
	ErrZipSlip = errors.New("archive entry escapes destination")
)

// Extract unpacks the zip archive at archivePath into destDir. Entry names
// are normalized (backslashes become slashes, "." segments dropped); any
// entry with a ".." segment or resolving outside destDir aborts the whole
// extraction. Files written before the violation are left in place.
func Extract(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	// Non-local names are vetted entry by entry in extractFiles.
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && reader != nil) {
		return services.Wrap(services.ErrExternalTool, "archive", "open", "Result bundle is not a readable zip", err)
	}
	defer reader.Close()
	return extractFiles(reader.File, destDir)
}

// ExtractReader is Extract for an in-memory or already-open archive.
func ExtractReader(r io.ReaderAt, size int64, destDir string) error {
	reader, err := zip.NewReader(r, size)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && reader != nil) {
		return services.Wrap(services.ErrExternalTool, "archive", "open", "Result bundle is not a readable zip", err)
	}
	return extractFiles(reader.File, destDir)
}

func extractFiles(files []*zip.File, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	for _, file := range files {
		rel, err := EntryPath(file.Name)
		if err != nil {
			return services.Wrap(services.ErrSecurity, "archive", "extract", "Rejected archive entry "+file.Name, err)
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if !within(root, target) {
			return services.Wrap(services.ErrSecurity, "archive", "extract", "Rejected archive entry "+file.Name, ErrZipSlip)
		}

		if file.FileInfo().IsDir() || strings.HasSuffix(file.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", rel, err)
			}
			continue
		}
		if err := writeEntry(file, target); err != nil {
			return fmt.Errorf("extract %s: %w", rel, err)
		}
	}
	return nil
}

// EntryPath normalizes a raw zip entry name into a slash-separated relative
// path. It returns "" for entries that normalize to nothing and
// ErrUnsafePath when a ".." segment remains after cleaning.
func EntryPath(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(cleaned, "/") {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			return "", ErrUnsafePath
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "/"), nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

func writeEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
