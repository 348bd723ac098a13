package jobs

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"paperflow/internal/fields"
	"paperflow/internal/fileutil"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

// Directories under the output root that hold other artifacts, not tasks.
var reservedDirs = map[string]bool{
	"drawings":           true,
	"weekly_reports":     true,
	"relationship_graph": true,
}

var idTimePrefix = regexp.MustCompile(`^(\d{8}_\d{6})`)

// Summary is the listing view of one task.
type Summary struct {
	ID                string   `json:"job_id" yaml:"job_id"`
	State             string   `json:"state" yaml:"state"`
	Error             string   `json:"error,omitempty" yaml:"error,omitempty"`
	PDF               string   `json:"pdf" yaml:"pdf"`
	Title             string   `json:"title" yaml:"title"`
	Authors           string   `json:"authors" yaml:"authors"`
	Year              string   `json:"year" yaml:"year"`
	Tags              []string `json:"tags" yaml:"tags"`
	TranslateState    string   `json:"translate_state" yaml:"translate_state"`
	TranslateLanguage string   `json:"translate_language" yaml:"translate_language"`
	HasTranslation    bool     `json:"has_translation" yaml:"has_translation"`
	HasAnalysis       bool     `json:"has_analysis" yaml:"has_analysis"`
	CreatedAt         string   `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt         string   `json:"updated_at" yaml:"updated_at"`
}

// Filter narrows ListTasks to tasks dated within [Start, End] (inclusive
// calendar days). Zero values leave that side open.
type Filter struct {
	Start time.Time
	End   time.Time
}

func (f Filter) active() bool {
	return !f.Start.IsZero() || !f.End.IsZero()
}

// Summarize reads a task's record and analysis into a Summary.
func Summarize(store *statestore.Store, task Task) Summary {
	if store == nil {
		store = statestore.New()
	}
	rec := store.Read(task.StatePath)
	summary := Summary{
		ID:                task.ID,
		State:             rec.String("state", ""),
		Error:             rec.Text("error", ""),
		PDF:               rec.String("pdf", rec.String("pdf_original", "")),
		Tags:              trimmedStrings(rec.Strings("tags")),
		TranslateState:    strings.TrimSpace(rec.Text("translate_state", "")),
		TranslateLanguage: strings.TrimSpace(rec.Text("translate_language", "")),
		HasTranslation:    fileutil.Exists(task.TranslatedPath),
		HasAnalysis:       fileutil.Exists(task.AnalysisPath),
		CreatedAt:         rec.String("created_at", ""),
		UpdatedAt:         rec.String("updated_at", ""),
	}
	if summary.HasAnalysis {
		summary.Title, summary.Authors, summary.Year = fields.Summary(ReadAnalysis(task))
	}
	return summary
}

// ReadAnalysis loads a task's analysis.json; a missing or malformed file
// yields an empty object.
func ReadAnalysis(task Task) statestore.Object {
	data, err := os.ReadFile(task.AnalysisPath)
	if err != nil {
		return statestore.Object{}
	}
	v, err := statestore.ParseValue(data)
	if err != nil {
		return statestore.Object{}
	}
	if obj, ok := v.(statestore.Object); ok {
		return obj
	}
	return statestore.Object{}
}

// ListTasks returns every task under rootDir, newest id first. A directory
// counts as a task when it holds a state record or an extracted full.md.
func ListTasks(store *statestore.Store, rootDir string, filter Filter) ([]Summary, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "jobs", "list", "Read output directory", err)
	}
	if store == nil {
		store = statestore.New()
	}
	out := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || reservedDirs[entry.Name()] {
			continue
		}
		task := newTask(rootDir, entry.Name())
		if !fileutil.Exists(task.StatePath) && !fileutil.Exists(task.OriginalPath) {
			continue
		}
		summary := Summarize(store, task)
		if filter.active() && !filter.includes(TaskTime(task.ID, summary.UpdatedAt)) {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// AnalyzedTasks returns tasks that have an analysis, newest id first.
func AnalyzedTasks(rootDir string) ([]Task, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "jobs", "list analyzed", "Read output directory", err)
	}
	out := make([]Task, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || reservedDirs[entry.Name()] {
			continue
		}
		task := newTask(rootDir, entry.Name())
		if fileutil.Exists(task.AnalysisPath) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// TaskTime dates a task from its id prefix, falling back to updated_at.
func TaskTime(id, updatedAt string) time.Time {
	if m := idTimePrefix.FindStringSubmatch(id); m != nil {
		if t, err := time.ParseInLocation(idTimeLayout, m[1], time.Local); err == nil {
			return t
		}
	}
	updatedAt = strings.TrimSpace(updatedAt)
	for _, layout := range []string{statestore.TimestampLayout, "2006/01/02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, updatedAt, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (f Filter) includes(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	day := dateOf(t)
	if !f.Start.IsZero() && day.Before(dateOf(f.Start)) {
		return false
	}
	if !f.End.IsZero() && day.After(dateOf(f.End)) {
		return false
	}
	return true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func trimmedStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
