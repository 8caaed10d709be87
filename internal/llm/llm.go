// Package llm is the language-model provider boundary: a list of
// role-tagged messages plus generation parameters in, one text completion out.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role tags a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one role-tagged prompt message.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request. JSON asks providers that support
// it to constrain the output to a JSON object.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// Completer returns one text completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// splitSystem separates system messages, joined by blank lines, from the
// conversation. Providers that take the system prompt as a separate field
// use it.
func splitSystem(messages []Message) (string, []Message) {
	var (
		system []string
		rest   []Message
	)
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
