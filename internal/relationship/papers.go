package relationship

import (
	"strings"
	"unicode/utf8"

	"paperflow/internal/config"
	"paperflow/internal/fields"
	"paperflow/internal/jobs"
	"paperflow/internal/statestore"
)

const (
	maxAbstractRunes = 260
	maxListItems     = 6
	maxItemRunes     = 90
	maxPaperTags     = 12
)

// Paper is the condensed view of one analyzed task sent to the model.
type Paper struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         string   `json:"authors"`
	Year            string   `json:"year"`
	Tags            []string `json:"tags"`
	Abstract        string   `json:"abstract"`
	MainConclusions []string `json:"main_conclusions"`
	Innovations     []string `json:"innovations"`
	Methods         []string `json:"methods"`
	Limitations     []string `json:"limitations"`
	Insights        []string `json:"insights"`
}

// CollectPapers summarizes the newest analyzed tasks under outputDir.
// maxPapers is clamped to the configured bounds.
func CollectPapers(store *statestore.Store, outputDir string, maxPapers int) ([]Paper, error) {
	tasks, err := jobs.AnalyzedTasks(outputDir)
	if err != nil {
		return nil, err
	}
	limit := config.ClampPapers(maxPapers)
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	papers := make([]Paper, 0, len(tasks))
	for _, task := range tasks {
		analysis := jobs.ReadAnalysis(task)
		if len(analysis) == 0 {
			continue
		}
		papers = append(papers, summarize(task.ID, store.Read(task.StatePath), analysis))
	}
	return papers, nil
}

func summarize(id string, state, analysis statestore.Object) Paper {
	tags := make([]string, 0, maxPaperTags)
	for _, tag := range state.Strings("tags") {
		if tag = strings.TrimSpace(tag); tag != "" && len(tags) < maxPaperTags {
			tags = append(tags, tag)
		}
	}
	return Paper{
		ID:              id,
		Title:           fields.Pick(analysis, fields.Title, id),
		Authors:         fields.Pick(analysis, fields.Authors, ""),
		Year:            fields.Pick(analysis, fields.Year, ""),
		Tags:            tags,
		Abstract:        ellipsize(fields.Pick(analysis, fields.Abstract, ""), maxAbstractRunes),
		MainConclusions: compact(fields.PickList(analysis, fields.Conclusions)),
		Innovations:     compact(fields.PickList(analysis, fields.Innovations)),
		Methods:         compact(fields.PickList(analysis, fields.Methods)),
		Limitations:     compact(fields.PickList(analysis, fields.Limitations)),
		Insights:        compact(fields.PickList(analysis, fields.Insights)),
	}
}

func compact(items []string) []string {
	out := make([]string, 0, min(len(items), maxListItems))
	for _, item := range items {
		if len(out) == maxListItems {
			break
		}
		out = append(out, ellipsize(item, maxItemRunes))
	}
	return out
}

// ellipsize cuts s to limit runes, ending with "…" when shortened.
func ellipsize(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:limit-1]), isSpace) + "…"
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '　'
}
