package llm

import (
	"context"
	"strings"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a text transformation provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Completer is the text transformation collaborator used by translation,
// analysis, prompt polishing, graph synthesis, and report polishing.
type Completer interface {
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message, temperature float64) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	return f(ctx, messages, temperature)
}

// LastUserContent returns the content of the final user message, which is
// handy for stub completers in tests.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// SystemContent returns the first system message content.
func SystemContent(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
