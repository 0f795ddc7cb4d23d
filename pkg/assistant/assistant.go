// Package assistant is the boundary to the reply producer. The session
// layer treats it as a black box that turns a prompt into text which may
// embed a structured workspace tree.
package assistant

import (
	"context"
	"strings"
)

// Mention is the prefix a chat message uses to address the assistant.
const Mention = "@ai"

// Producer generates an assistant reply for a prompt. The reply may be
// plain text or a JSON envelope carrying a fileTree; the caller runs it
// through workspace.ParseReply either way.
type Producer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f ProducerFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ExtractPrompt reports whether text addresses the assistant and returns
// the prompt with the mention stripped. A message that is only the
// mention yields an empty prompt and false.
func ExtractPrompt(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, Mention) {
		return "", false
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(trimmed, Mention))
	if prompt == "" {
		return "", false
	}
	return prompt, true
}
