// Package model defines the language-model contract the agent core consumes
// and an OpenAI-compatible implementation of it.
//
// A LanguageModel takes a prompt (system text, messages, optional tool
// definitions, optional response schema) and returns text and/or tool calls.
// Everything above this package (agent loop, repair, router) is written
// against the interface, so tests drive it with modeltest.Scripted.
package model

import (
	"context"
	"encoding/json"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation sent to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
// Arguments holds whatever the model produced; it may be malformed.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// Request is a single model invocation.
type Request struct {
	System          string
	Messages        []Message
	Tools           []ToolDefinition
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64

	// ResponseSchema asks for a JSON object conforming to the schema.
	ResponseSchema json.RawMessage
	ResponseName   string
}

// FinishReason explains why the model stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)

// Response is the model's reply.
type Response struct {
	Text         string       `json:"text"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	ModelID      string       `json:"model_id"`
}

// LanguageModel is the invocation primitive.
type LanguageModel interface {
	ModelID() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Float returns a pointer to f, for Request.Temperature and TopP.
func Float(f float64) *float64 { return &f }
