package translation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// SplitParagraphs splits on blank lines and drops empty parts.
func SplitParagraphs(text string) []string {
	raw := paragraphBreak.Split(strings.TrimSpace(text), -1)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Chunk greedily packs paragraphs into chunks of at most maxChars runes,
// counting two runes for each paragraph separator. A paragraph longer than
// the budget becomes its own chunk.
func Chunk(parts []string, maxChars int) []string {
	var chunks []string
	var cur []string
	curLen := 0
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		add := n
		if len(cur) > 0 {
			add += 2
		}
		if len(cur) > 0 && curLen+add > maxChars {
			chunks = append(chunks, strings.Join(cur, "\n\n"))
			cur = []string{p}
			curLen = n
			continue
		}
		cur = append(cur, p)
		curLen += add
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, "\n\n"))
	}
	return chunks
}
