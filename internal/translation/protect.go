package translation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```.*?\n.*?\n```")
	inlinePattern = regexp.MustCompile("`[^`\n]+`")
	tablePattern  = regexp.MustCompile(`(?is)<table.*?>.*?</table>`)
)

// Placeholder tags, in protection order.
const (
	TagFence  = "FENCE"
	TagInline = "INLINE"
	TagTable  = "TABLE"
)

// Protected holds the spans lifted out of a document before translation.
type Protected struct {
	Fences  []string
	Inlines []string
	Tables  []string
}

// Placeholder renders the marker substituted for the i-th span of tag.
func Placeholder(tag string, i int) string {
	return fmt.Sprintf("[[[%s_%d]]]", tag, i)
}

// Protect replaces fenced code, then inline code, then HTML tables with
// numbered placeholders.
func Protect(text string) (string, Protected) {
	var p Protected
	text, p.Fences = protect(fencePattern, text, TagFence)
	text, p.Inlines = protect(inlinePattern, text, TagInline)
	text, p.Tables = protect(tablePattern, text, TagTable)
	return text, p
}

// Restore puts tables back first, then inline code, then fences, so spans
// nested inside fences come back verbatim.
func (p Protected) Restore(text string) string {
	text = restore(text, TagTable, p.Tables)
	text = restore(text, TagInline, p.Inlines)
	return restore(text, TagFence, p.Fences)
}

func protect(pattern *regexp.Regexp, text, tag string) (string, []string) {
	var items []string
	out := pattern.ReplaceAllStringFunc(text, func(match string) string {
		items = append(items, match)
		return Placeholder(tag, len(items)-1)
	})
	return out, items
}

func restore(text, tag string, items []string) string {
	for i, value := range items {
		text = strings.ReplaceAll(text, Placeholder(tag, i), value)
	}
	return text
}
