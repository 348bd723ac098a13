// Package fields resolves analysis fields that may appear under several
// names. Analyses are produced by a language model, so the same field can be
// keyed in Chinese, in English, or under a legacy alias; each table below is
// consulted in order and the first usable value wins.
package fields

import (
	"strconv"
	"strings"

	"paperflow/internal/statestore"
)

// NotMentioned is the placeholder for a field the analysis did not provide.
const NotMentioned = "未提及"

// Alias tables, highest priority first.
var (
	Title            = []string{"标题", "title", "paper_title"}
	Authors          = []string{"作者", "authors"}
	Year             = []string{"年份", "year"}
	Abstract         = []string{"摘要", "abstract"}
	Conclusions      = []string{"主要结论", "main_conclusions"}
	Innovations      = []string{"创新点", "innovations"}
	Methods          = []string{"实验方法", "methods"}
	Limitations      = []string{"不足", "limitations"}
	Steps            = []string{"实验详细步骤", "experimental_steps"}
	Characterization = []string{"表征方法", "characterization_methods"}
	Insights         = []string{"研究启发", "insights"}
)

var (
	stepIndexKeys   = []string{"步骤", "step", "index"}
	stepContentKeys = []string{"内容", "content"}
)

// Pick returns the first non-blank scalar found under keys, trimmed.
// Numbers are rendered in their shortest form so a numeric year still
// resolves.
func Pick(obj statestore.Object, keys []string, def string) string {
	for _, key := range keys {
		v, ok := obj.Get(key)
		if !ok {
			continue
		}
		switch v.(type) {
		case statestore.String, statestore.Number:
			if text := strings.TrimSpace(statestore.Text(v)); text != "" {
				return text
			}
		}
	}
	return def
}

// PickList returns the first array found under keys with each element
// rendered as trimmed text; blank elements are dropped.
func PickList(obj statestore.Object, keys []string) []string {
	for _, key := range keys {
		v, ok := obj.Get(key)
		if !ok {
			continue
		}
		arr, ok := v.(statestore.Array)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if text := strings.TrimSpace(statestore.Text(item)); text != "" {
				out = append(out, text)
			}
		}
		return out
	}
	return []string{}
}

// Step is one numbered experimental step.
type Step struct {
	Index   string `json:"步骤"`
	Content string `json:"内容"`
}

// PickSteps reads the first array under keys as experimental steps. Object
// elements contribute their index/content pair; scalar elements become
// unnumbered steps.
func PickSteps(obj statestore.Object, keys []string) []Step {
	for _, key := range keys {
		v, ok := obj.Get(key)
		if !ok {
			continue
		}
		arr, ok := v.(statestore.Array)
		if !ok {
			continue
		}
		out := make([]Step, 0, len(arr))
		for _, item := range arr {
			if entry, ok := item.(statestore.Object); ok {
				content := Pick(entry, stepContentKeys, "")
				if content == "" {
					continue
				}
				out = append(out, Step{Index: Pick(entry, stepIndexKeys, ""), Content: content})
				continue
			}
			if text := strings.TrimSpace(statestore.Text(item)); text != "" {
				out = append(out, Step{Content: text})
			}
		}
		return out
	}
	return []Step{}
}

// Paper is the resolved view of one analysis used by reports and listings.
type Paper struct {
	JobID            string   `json:"job_id,omitempty"`
	Title            string   `json:"标题"`
	Authors          string   `json:"作者"`
	Year             string   `json:"年份"`
	Abstract         string   `json:"摘要"`
	Conclusions      []string `json:"主要结论"`
	Innovations      []string `json:"创新点"`
	Methods          []string `json:"实验方法"`
	Limitations      []string `json:"不足"`
	Steps            []Step   `json:"实验详细步骤"`
	Characterization []string `json:"表征方法"`
	Insights         []string `json:"研究启发"`
}

// Resolve builds a Paper from an analysis record, filling placeholders for
// absent scalar fields.
func Resolve(analysis statestore.Object) Paper {
	return Paper{
		Title:            Pick(analysis, Title, NotMentioned),
		Authors:          Pick(analysis, Authors, NotMentioned),
		Year:             Pick(analysis, Year, ""),
		Abstract:         Pick(analysis, Abstract, NotMentioned),
		Conclusions:      PickList(analysis, Conclusions),
		Innovations:      PickList(analysis, Innovations),
		Methods:          PickList(analysis, Methods),
		Limitations:      PickList(analysis, Limitations),
		Steps:            PickSteps(analysis, Steps),
		Characterization: PickList(analysis, Characterization),
		Insights:         PickList(analysis, Insights),
	}
}

// Summary returns title, authors and year without placeholders, for
// listings.
func Summary(analysis statestore.Object) (title, authors, year string) {
	return Pick(analysis, Title, ""), Pick(analysis, Authors, ""), Pick(analysis, Year, "")
}

// StepLabel renders a step index, falling back to its 1-based position.
func StepLabel(step Step, position int) string {
	if step.Index != "" {
		return step.Index
	}
	return strconv.Itoa(position)
}
