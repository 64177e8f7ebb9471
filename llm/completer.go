package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ToolSchema describes a tool the model may call.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is a single outbound completion call. Credential is
// an opaque API key handle obtained from the pool for this one call.
type CompletionRequest struct {
	Credential  string        `json:"-"`
	Model       string        `json:"model,omitempty"`
	System      string        `json:"system,omitempty"`
	Messages    []Message     `json:"messages"`
	Tools       []ToolSchema  `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Completer is the boundary to an LLM provider. Implementations may
// return classified *types.Error values so the caller can decide
// between in-place retry and credential rotation.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

func (f CompleterFunc) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// Caller is the narrow prompt-in/text-out surface the pipeline stages
// use. The workflow stage executor implements it on top of Completer,
// adding credential selection, retries, and rate limiting.
type Caller interface {
	Call(ctx context.Context, system, user string) (string, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, system, user string) (string, error)

func (f CallerFunc) Call(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}
