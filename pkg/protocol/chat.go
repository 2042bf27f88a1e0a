package protocol

import (
	"encoding/json"

	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

// ChatRequest is the body of POST /api/chat/completions.
type ChatRequest struct {
	Model            string            `json:"model"`
	Messages         []types.Message   `json:"messages"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []SafetySetting   `json:"safetySettings,omitempty"`
	Tools            []ChatTool        `json:"tools,omitempty"`
	Stream           bool              `json:"stream"`
	SessionID        string            `json:"sessionId,omitempty"`
}

// SafetySetting tunes one content-safety category.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// ChatTool declares one function tool in the HTTP dialect.
type ChatTool struct {
	Type     string              `json:"type"` // "function"
	Function FunctionDeclaration `json:"function"`
}

// ChatChunk is one decoded SSE frame of the streaming response.
type ChatChunk struct {
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice holds the incremental delta for one candidate.
type ChatChoice struct {
	Delta        ChatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// ChatDelta is the incremental payload of a chunk. The decoder classifies a
// frame by exactly one of these fields, in strict priority order: ToolCalls,
// then a function-call part, then ReasoningContent, then Content.
type ChatDelta struct {
	Content          string           `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []types.ToolCall `json:"tool_calls,omitempty"`
	Parts            []ChatDeltaPart  `json:"parts,omitempty"`
}

// ChatDeltaPart is a structured part inside a delta; only function calls are
// meaningful here, text rides in Content.
type ChatDeltaPart struct {
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
	Text         string        `json:"text,omitempty"`
}

// ChatUsage reports token accounting when the stream ends.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DecodeChatChunk parses one SSE payload defensively. Callers treat an error
// as a skippable malformed frame, never as fatal to the stream.
func DecodeChatChunk(data []byte) (*ChatChunk, error) {
	var chunk ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}
