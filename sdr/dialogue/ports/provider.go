package dialogueports

import (
	"context"
)

// Message roles understood by every Completer.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages that requested a tool
	ToolCallID string     // tool messages answering a call
	Name       string     // tool name for tool messages
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // system instruction, rendered first
	Messages []PromptMessage   // ordered chat history (already windowed)
	Tools    []ToolSpec        // tool declarations available to the model
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and tool preferences.
type Options struct {
	Model        string // overrides the provider default when set
	MaxNewTokens int
	Temperature  float32
	// ToolChoice: "auto" | "none"
	ToolChoice string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage // optional usage information
}

// Completer is the black-box completion interface.
type Completer interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
