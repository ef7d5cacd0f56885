// Package llm defines the provider-agnostic interface code generation uses
// to reach a language model.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Provider is a text-completion backend (Anthropic, OpenAI, Gemini, Ollama).
type Provider interface {
	// Complete sends a prompt and returns the model's text answer.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request is a single-turn or short multi-turn prompt.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64 // nil = provider default
}

// Message is one turn of the prompt.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserPrompt builds a request holding one user message.
func UserPrompt(system, prompt string, maxTokens int) *Request {
	return &Request{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:    maxTokens,
	}
}

// Response is what the provider returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens" or the provider's raw value
}

// Text returns the trimmed content, or ErrEmptyCompletion when there is none.
func (r *Response) Text() (string, error) {
	s := strings.TrimSpace(r.Content)
	if s == "" {
		return "", ErrEmptyCompletion
	}
	return s, nil
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
