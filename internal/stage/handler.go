package stage

import (
	"context"
	"strings"
	"unicode"

	"paperflow/internal/jobs"
)

// Request carries the inputs a stage needs beyond the task itself.
type Request struct {
	Task           jobs.Task
	Source         string
	TargetLanguage string
	MaxChars       int
}

// Handler describes the contract the workflow pipeline needs from each stage.
type Handler interface {
	Name() string
	Execute(context.Context, Request) error
	HealthCheck(context.Context) Health
}

// Label turns a state or stage name such as "translating" or
// "relationship_graph" into a display label.
func Label(name string) string {
	parts := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, part := range parts {
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
