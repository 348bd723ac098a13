// Package tags normalizes user tags, keeps the shared tag catalog, and
// aggregates tag usage across tasks.
package tags

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"paperflow/internal/fileutil"
	"paperflow/internal/jobs"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

const (
	// MaxTagRunes caps a single tag.
	MaxTagRunes = 32
	// MaxTags caps the tags kept on one task or in the catalog.
	MaxTags = 20
	// CatalogFileName is the catalog file under the output root.
	CatalogFileName = "tags_catalog.json"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	folder     = cases.Fold()
)

// Normalize collapses whitespace, strips surrounding '#', and caps length.
func Normalize(tag string) string {
	tag = whitespace.ReplaceAllString(strings.TrimSpace(tag), " ")
	tag = strings.TrimSpace(strings.Trim(tag, "#"))
	if runes := []rune(tag); len(runes) > MaxTagRunes {
		tag = string(runes[:MaxTagRunes])
	}
	return tag
}

// NormalizeAll normalizes tags, drops empties and case-insensitive
// duplicates (first spelling wins), and keeps at most MaxTags.
func NormalizeAll(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, min(len(tags), MaxTags))
	for _, tag := range tags {
		nt := Normalize(tag)
		if nt == "" {
			continue
		}
		key := Key(nt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, nt)
		if len(out) >= MaxTags {
			break
		}
	}
	return out
}

// Key is the case-folded identity of a tag.
func Key(tag string) string {
	return folder.String(tag)
}

// Catalog is the list of known tags offered even when no task uses them.
type Catalog struct {
	path  string
	store *statestore.Store
}

// NewCatalog opens the catalog under outputDir.
func NewCatalog(store *statestore.Store, outputDir string) *Catalog {
	if store == nil {
		store = statestore.New()
	}
	return &Catalog{path: filepath.Join(outputDir, CatalogFileName), store: store}
}

// List returns the normalized catalog. The file may hold either
// {"tags": [...]} or a bare list; anything unreadable yields no tags.
func (c *Catalog) List() []string {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return []string{}
	}
	var wrapped struct {
		Tags []any `json:"tags"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Tags != nil {
		return NormalizeAll(stringify(wrapped.Tags))
	}
	var bare []any
	if err := json.Unmarshal(data, &bare); err == nil {
		return NormalizeAll(stringify(bare))
	}
	return []string{}
}

// Add appends tag to the catalog.
func (c *Catalog) Add(tag string) ([]string, error) {
	current := c.List()
	nt := Normalize(tag)
	if nt == "" {
		return current, nil
	}
	return c.write(append(current, nt))
}

// Remove drops tag (case-insensitively) from the catalog.
func (c *Catalog) Remove(tag string) ([]string, error) {
	current := c.List()
	nt := Normalize(tag)
	if nt == "" {
		return current, nil
	}
	key := Key(nt)
	kept := make([]string, 0, len(current))
	for _, t := range current {
		if Key(t) != key {
			kept = append(kept, t)
		}
	}
	return c.write(kept)
}

// Ensure merges tags into the catalog.
func (c *Catalog) Ensure(tags []string) ([]string, error) {
	return c.write(append(c.List(), tags...))
}

func (c *Catalog) write(tags []string) ([]string, error) {
	tags = NormalizeAll(tags)
	payload := map[string]any{"tags": tags, "updated_at": c.store.Now()}
	if err := fileutil.WriteJSON(c.path, payload); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "tags", "catalog", "Write tag catalog", err)
	}
	return tags, nil
}

// Patch edits one task's tags. When Replace is set the task's tags become
// exactly Tags; otherwise Add and Remove are applied in that order.
type Patch struct {
	Add     string
	Remove  string
	Replace bool
	Tags    []string
}

// ApplyPatch updates the tags in a task state record and returns the
// resulting list.
func ApplyPatch(store *statestore.Store, statePath string, patch Patch) ([]string, error) {
	if store == nil {
		store = statestore.New()
	}
	var next []string
	if patch.Replace {
		next = NormalizeAll(patch.Tags)
	} else {
		next = NormalizeAll(store.Read(statePath).Strings("tags"))
		if add := Normalize(patch.Add); add != "" {
			next = NormalizeAll(append(next, add))
		}
		if rm := Normalize(patch.Remove); rm != "" {
			key := Key(rm)
			kept := next[:0]
			for _, t := range next {
				if Key(t) != key {
					kept = append(kept, t)
				}
			}
			next = kept
		}
	}
	if _, err := store.Patch(statePath, statestore.M{"tags": next}); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "tags", "apply", "Persist task tags", err)
	}
	return next, nil
}

// TaskRef identifies a task carrying a tag.
type TaskRef struct {
	JobID   string `json:"job_id" yaml:"job_id"`
	Title   string `json:"title" yaml:"title"`
	Authors string `json:"authors" yaml:"authors"`
}

// Usage aggregates one tag across tasks.
type Usage struct {
	Tag   string    `json:"tag" yaml:"tag"`
	Count int       `json:"count" yaml:"count"`
	Jobs  []TaskRef `json:"jobs" yaml:"jobs"`
}

// List aggregates tag usage across every task under outputDir, including
// catalog tags no task uses. Results are ordered by count (descending),
// then tag.
func List(store *statestore.Store, outputDir string) ([]Usage, error) {
	summaries, err := jobs.ListTasks(store, outputDir, jobs.Filter{})
	if err != nil {
		return nil, err
	}
	byTag := make(map[string]*Usage)
	for _, summary := range summaries {
		for _, tag := range NormalizeAll(summary.Tags) {
			usage, ok := byTag[tag]
			if !ok {
				usage = &Usage{Tag: tag, Jobs: []TaskRef{}}
				byTag[tag] = usage
			}
			usage.Count++
			usage.Jobs = append(usage.Jobs, TaskRef{JobID: summary.ID, Title: summary.Title, Authors: summary.Authors})
		}
	}
	for _, tag := range NewCatalog(store, outputDir).List() {
		if _, ok := byTag[tag]; !ok {
			byTag[tag] = &Usage{Tag: tag, Jobs: []TaskRef{}}
		}
	}

	out := make([]Usage, 0, len(byTag))
	for _, usage := range byTag {
		out = append(out, *usage)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case nil:
		default:
			data, err := json.Marshal(val)
			if err == nil {
				out = append(out, string(data))
			}
		}
	}
	return out
}
