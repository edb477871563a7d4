// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package providers

import "context"

// StopReason is why a tool-augmented chat call stopped producing content.
type StopReason string

const (
	StopEndTurn    StopReason = "end-turn"
	StopToolUse    StopReason = "tool-use"
	StopMaxTokens  StopReason = "max-tokens"
	StopError      StopReason = "error"
)

// Message is one turn in a chat-completions-shaped conversation. The shape
// mirrors the OpenAI chat-completions wire format closely enough that a
// single json.Marshal of a []Message slice is a valid request body for any
// compatible provider.
type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	Name             string     `json:"name,omitempty"`
}

// ToolCall carries either the outbound (Type+Function) shape used when
// echoing an assistant turn back to the provider, or the inbound
// (Name+Arguments) shape parsed out of a response — both live on one type
// because the two call sites never populate both at once.
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type,omitempty"`
	Function  *FunctionCall          `json:"function,omitempty"`
	Name      string                 `json:"-"`
	Arguments map[string]interface{} `json:"-"`
}

// FunctionCall is the outbound function-call payload nested in a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises one callable tool to the provider.
type ToolDefinition struct {
	Type     string                  `json:"type"`
	Function ToolFunctionDefinition  `json:"function"`
}

// ToolFunctionDefinition is the JSON-schema description of a tool.
type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo reports token accounting for one chat call.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the normalized result of a (possibly tool-augmented) chat
// call, independent of which provider produced it.
type LLMResponse struct {
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	FinishReason     string     `json:"finish_reason"`
	Usage            *UsageInfo `json:"usage,omitempty"`
}

// StreamEventKind tags one event in a tool-augmented streaming chat.
type StreamEventKind string

const (
	StreamResponseStart    StreamEventKind = "response-start"
	StreamTextDelta        StreamEventKind = "text-delta"
	StreamToolCallDelta    StreamEventKind = "tool-call-delta"
	StreamToolCallComplete StreamEventKind = "tool-call-complete"
	StreamDone             StreamEventKind = "done"
)

// StreamEvent is one item in the lazy sequence a streaming chat call yields.
type StreamEvent struct {
	Kind         StreamEventKind
	TextDelta    string
	ToolCall     *ToolCall
	FinishReason string
	Usage        *UsageInfo
	Err          error
}

// LLMProvider is the capability-queried contract every concrete provider
// client satisfies. Capability predicates let callers degrade gracefully
// (e.g. skip tool specs for a provider that can't use them) instead of
// branching on provider identity.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (<-chan StreamEvent, error)
	GetDefaultModel() string
	SupportsTools() bool
	SupportsStreaming() bool
	SupportsVision() bool
}
