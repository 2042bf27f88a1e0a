package loqui

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

// ConversationLog is the ordered, append-only message history — the single
// source of truth for a conversation. The only non-append mutation is
// replacing the buffer of the one currently open assistant message, until it
// is flushed.
type ConversationLog struct {
	mu       sync.Mutex
	messages []types.Message

	open       strings.Builder
	openActive bool
}

// NewConversationLog creates an empty log.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{}
}

// AppendUser appends a user message.
func (l *ConversationLog) AppendUser(content any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, types.Message{Role: types.RoleUser, Content: content})
}

// AppendAssistantDelta accumulates an incremental fragment into the open
// assistant buffer, opening it on the first delta of a turn.
func (l *ConversationLog) AppendAssistantDelta(delta string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openActive = true
	l.open.WriteString(delta)
}

// FlushAssistant closes the open assistant buffer into the log. It reports
// false when no buffer was open; flushing twice never duplicates a message.
func (l *ConversationLog) FlushAssistant() (types.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *ConversationLog) flushLocked() (types.Message, bool) {
	if !l.openActive {
		return types.Message{}, false
	}
	msg := types.Message{Role: types.RoleAssistant, Content: l.open.String()}
	l.messages = append(l.messages, msg)
	l.open.Reset()
	l.openActive = false
	return msg, true
}

// DiscardOpen drops the open assistant buffer without appending it. Error
// paths use this to leave the log consistent: no half-flushed message, no
// stale pointer.
func (l *ConversationLog) DiscardOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open.Reset()
	l.openActive = false
}

// OpenText returns the current open-buffer contents without flushing.
func (l *ConversationLog) OpenText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.openActive {
		return ""
	}
	return l.open.String()
}

// AppendToolCall appends the assistant entry carrying the model's tool calls.
// Callers must flush the open buffer first; this is enforced here so the
// invariant holds on every dispatch path.
func (l *ConversationLog) AppendToolCall(calls []types.ToolCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	l.messages = append(l.messages, types.Message{
		Role:      types.RoleAssistant,
		Content:   nil,
		ToolCalls: calls,
	})
}

// AppendToolResult appends the tool entry for one executed call. The payload
// is stored as its JSON encoding; execution failures pass an error payload
// here so the model can react to them.
func (l *ConversationLog) AppendToolResult(id string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(`{"error":"unencodable tool result"}`)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, types.Message{
		Role:       types.RoleTool,
		Content:    string(encoded),
		ToolCallID: id,
	})
}

// Messages returns a snapshot of the log.
func (l *ConversationLog) Messages() []types.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of flushed entries.
func (l *ConversationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
