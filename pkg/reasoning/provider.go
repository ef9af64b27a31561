// Package reasoning abstracts the two text-generation tiers the core relies
// on: a cheap local tier for routine work and an expensive remote tier that
// additionally supports structured multi-turn tool calling.
package reasoning

import (
	"context"
	"errors"
	"strings"
)

// Tier names a reasoning cost tier.
type Tier string

const (
	// TierLocal is the cheap tier, typically an OpenAI-compatible server on
	// the same machine.
	TierLocal Tier = "local"

	// TierRemote is the expensive hosted tier.
	TierRemote Tier = "remote"
)

// Message is one entry in a conversation.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured tool invocation emitted by a model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request carries the parameters of one generation call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model output of one generation call.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Provider is a reasoning service in one cost tier.
type Provider interface {
	// Generate makes a single generation call.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Tier returns the cost tier this provider serves.
	Tier() Tier
}

// IsRetryable reports whether an error is worth retrying (transient network
// failures, timeouts, rate limits, server errors). Cancellation counts as
// retryable: it reflects the caller's deadline, not a fault in the request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"ECONNRESET", "ETIMEDOUT", "connection refused", "timeout", "429", "rate limit", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
