package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

// Task states.
const (
	StateQueued      = "queued"
	StateParsing     = "parsing"
	StateParsed      = "parsed"
	StateTranslating = "translating"
	StateTranslated  = "translated"
	StateAnalyzing   = "analyzing"
	StateAnalyzed    = "analyzed"
	StateFailed      = "failed"
)

// File names inside a task directory.
const (
	StateFileName      = "state.json"
	ResultDirName      = "result"
	OriginalFileName   = "full.md"
	TranslatedFileName = "translated.md"
	AnalysisFileName   = "analysis.json"
)

const (
	idTimeLayout = "20060102_150405"
	maxSlugRunes = 80
)

var (
	slugInvalid    = regexp.MustCompile(`[^\p{L}\p{N}_\-. ]+`)
	slugWhitespace = regexp.MustCompile(`\s+`)

	// ErrInvalidTaskID rejects ids that are not a single path element.
	ErrInvalidTaskID = errors.New("invalid task id")
)

// Task is one document's working directory and the paths derived from it.
type Task struct {
	ID             string
	Dir            string
	StatePath      string
	ResultDir      string
	OriginalPath   string
	TranslatedPath string
	CachePath      string
	AnalysisPath   string
}

func newTask(rootDir, id string) Task {
	dir := filepath.Join(rootDir, id)
	result := filepath.Join(dir, ResultDirName)
	translated := filepath.Join(result, TranslatedFileName)
	return Task{
		ID:             id,
		Dir:            dir,
		StatePath:      filepath.Join(dir, StateFileName),
		ResultDir:      result,
		OriginalPath:   filepath.Join(result, OriginalFileName),
		TranslatedPath: translated,
		CachePath:      translated + ".cache.json",
		AnalysisPath:   filepath.Join(dir, AnalysisFileName),
	}
}

// Slug turns a free-form hint into a file-name-safe fragment.
func Slug(hint string) string {
	s := strings.TrimSpace(norm.NFC.String(hint))
	s = slugInvalid.ReplaceAllString(s, "_")
	s = slugWhitespace.ReplaceAllString(s, "_")
	if runes := []rune(s); len(runes) > maxSlugRunes {
		s = string(runes[:maxSlugRunes])
	}
	if s == "" {
		return "job"
	}
	return s
}

// CreateTask allocates a new time-ordered task directory under rootDir and
// writes its initial record. A same-second collision gets a numeric suffix.
func CreateTask(store *statestore.Store, rootDir, hint string) (Task, error) {
	if store == nil {
		store = statestore.New()
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return Task{}, services.Wrap(services.ErrConfiguration, "jobs", "create", "Create output directory", err)
	}
	base := store.Time().Format(idTimeLayout) + "_" + Slug(hint)
	id := base
	for n := 2; ; n++ {
		err := os.Mkdir(filepath.Join(rootDir, id), 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return Task{}, services.Wrap(services.ErrConfiguration, "jobs", "create", "Create task directory", err)
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}

	task := newTask(rootDir, id)
	if err := os.MkdirAll(task.ResultDir, 0o755); err != nil {
		return Task{}, services.Wrap(services.ErrConfiguration, "jobs", "create", "Create result directory", err)
	}
	initial := statestore.M{
		"job_id":     id,
		"state":      StateQueued,
		"hint":       hint,
		"created_at": store.Now(),
		"tags":       []string{},
	}
	if _, err := store.Patch(task.StatePath, initial); err != nil {
		return Task{}, services.Wrap(services.ErrConfiguration, "jobs", "create", "Write initial state", err)
	}
	return task, nil
}

// SanitizeID trims id and rejects anything that could name more than one
// path element.
func SanitizeID(id string) (string, error) {
	id = strings.Trim(strings.TrimSpace(id), "/")
	if id == "" || id == "." || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return id, nil
}

// OpenTask rebuilds the paths of an existing task.
func OpenTask(rootDir, id string) (Task, error) {
	clean, err := SanitizeID(id)
	if err != nil {
		return Task{}, services.Wrap(services.ErrValidation, "jobs", "open", "Invalid task id", err)
	}
	task := newTask(rootDir, clean)
	info, err := os.Stat(task.Dir)
	if err != nil || !info.IsDir() {
		return Task{}, services.Wrap(services.ErrNotFound, "jobs", "open", "Task not found: "+clean, err)
	}
	return task, nil
}

// DeleteTask removes a task directory.
func DeleteTask(rootDir, id string) error {
	task, err := OpenTask(rootDir, id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(task.Dir); err != nil {
		return services.Wrap(services.ErrConfiguration, "jobs", "delete", "Remove task directory", err)
	}
	return nil
}
