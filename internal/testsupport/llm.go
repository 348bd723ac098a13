package testsupport

import (
	"context"
	"errors"
	"strings"
	"sync"

	"paperflow/internal/services/llm"
)

const translatePrefix = "Translate the following content:\n\n"

// UpperCompleter answers translation prompts with the chunk uppercased and
// anything else with Reply. It records every call.
type UpperCompleter struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls []string
}

// Complete implements llm.Completer.
func (c *UpperCompleter) Complete(_ context.Context, messages []llm.Message, _ float64) (string, error) {
	user := llm.LastUserContent(messages)
	c.mu.Lock()
	c.calls = append(c.calls, user)
	c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	if idx := strings.Index(user, translatePrefix); idx >= 0 {
		return strings.ToUpper(user[idx+len(translatePrefix):]), nil
	}
	return c.Reply, nil
}

// Calls returns the user prompts seen so far.
func (c *UpperCompleter) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ScriptedCompleter returns queued replies in order and fails once they
// run out.
type ScriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	messages [][]llm.Message
}

// NewScriptedCompleter queues replies.
func NewScriptedCompleter(replies ...string) *ScriptedCompleter {
	return &ScriptedCompleter{replies: replies}
}

// Complete implements llm.Completer.
func (c *ScriptedCompleter) Complete(_ context.Context, messages []llm.Message, _ float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, messages)
	if len(c.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

// Messages returns every conversation sent so far.
func (c *ScriptedCompleter) Messages() [][]llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]llm.Message(nil), c.messages...)
}
