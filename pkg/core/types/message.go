package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation log.
//
// Content is one of: string, []Part, or nil. A nil Content is valid for
// assistant messages that carry only tool calls.
type Message struct {
	Role       Role       `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// MarshalJSON handles the flexible Content field.
// - string -> "string"
// - Part   -> [Part]
// - []Part -> [Part...]
// - nil    -> null
func (m Message) MarshalJSON() ([]byte, error) {
	type rawMessage struct {
		Role       Role       `json:"role"`
		Content    any        `json:"content"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}

	var content any
	switch c := m.Content.(type) {
	case string:
		content = c
	case Part:
		content = []Part{c}
	case []Part:
		content = c
	case nil:
		content = nil
	default:
		content = m.Content
	}

	return json.Marshal(rawMessage{
		Role:       m.Role,
		Content:    content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	})
}

// UnmarshalJSON handles flexible Content parsing.
func (m *Message) UnmarshalJSON(data []byte) error {
	type rawMessage struct {
		Role       Role            `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		m.Content = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(raw.Content, &str); err == nil {
		m.Content = str
		return nil
	}

	parts, err := UnmarshalParts(raw.Content)
	if err != nil {
		return err
	}
	m.Content = parts
	return nil
}

// Parts returns Content as []Part regardless of representation.
func (m *Message) Parts() []Part {
	switch c := m.Content.(type) {
	case string:
		return []Part{TextPart{Type: "text", Text: c}}
	case Part:
		return []Part{c}
	case []Part:
		return c
	default:
		return nil
	}
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []Part:
		var out string
		for _, p := range c {
			if tp, ok := p.(TextPart); ok {
				out += tp.Text
			}
		}
		return out
	default:
		return ""
	}
}

// Part is the interface for structured message content.
type Part interface {
	PartType() string
}

// TextPart is plain text content.
type TextPart struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

func (p TextPart) PartType() string { return "text" }

// InlineDataPart is base64-encoded inline media (image attachments, PCM audio).
type InlineDataPart struct {
	Type     string `json:"type"` // "inline_data"
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

func (p InlineDataPart) PartType() string { return "inline_data" }

// UnmarshalParts decodes a JSON array of parts into typed Part values.
func UnmarshalParts(data []byte) ([]Part, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	parts := make([]Part, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, err
		}
		switch head.Type {
		case "text":
			var p TextPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case "inline_data":
			var p InlineDataPart
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		default:
			return nil, fmt.Errorf("unknown part type %q", head.Type)
		}
	}
	return parts, nil
}

// ToolCall is a structured request by the model to invoke an external
// capability. Serialized in the vendor "function" dialect on the wire.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// MarshalJSON emits the vendor function-call dialect.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	args, err := json.Marshal(c.Args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}{
		ID:   c.ID,
		Type: "function",
		Function: struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{Name: c.Name, Arguments: string(args)},
	})
}

// UnmarshalJSON accepts both the vendor function dialect and the flat form.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var vendor struct {
		ID       string `json:"id"`
		Function *struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &vendor); err != nil {
		return err
	}
	c.ID = vendor.ID
	if vendor.Function != nil {
		c.Name = vendor.Function.Name
		if vendor.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(vendor.Function.Arguments), &c.Args); err != nil {
				return fmt.Errorf("decode tool call arguments: %w", err)
			}
		}
		return nil
	}
	c.Name = vendor.Name
	if len(vendor.Args) > 0 {
		if err := json.Unmarshal(vendor.Args, &c.Args); err != nil {
			return err
		}
	}
	return nil
}
