// Package protocol defines the wire types for both transports of the
// streaming conversation service: the bidirectional live socket and the
// HTTP SSE chat-completions endpoint.
package protocol

import (
	"encoding/json"

	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

// --- Outbound socket frames ---

// SetupEnvelope is the handshake sent immediately after the socket opens.
type SetupEnvelope struct {
	Setup Setup `json:"setup"`
}

// Setup carries model, generation, and tool configuration for the session.
type Setup struct {
	Model             string             `json:"model"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Tools             []ToolDeclarations `json:"tools,omitempty"`
}

// GenerationConfig tunes model output.
type GenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"topP,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// SystemInstruction is the role-free system prompt.
type SystemInstruction struct {
	Parts []TurnPart `json:"parts"`
}

// ToolDeclarations groups function declarations for the setup frame.
type ToolDeclarations struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable tool to the model.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ClientContentEnvelope carries user turns into the session.
type ClientContentEnvelope struct {
	ClientContent ClientContent `json:"clientContent"`
}

// ClientContent is a batch of role-tagged turns.
type ClientContent struct {
	Turns        []Turn `json:"turns"`
	TurnComplete bool   `json:"turnComplete"`
}

// Turn is one role-tagged sequence of parts.
type Turn struct {
	Role  string     `json:"role"`
	Parts []TurnPart `json:"parts"`
}

// TurnPart is a single part of a turn: text or inline media.
type TurnPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64 media tagged with its MIME type.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInputEnvelope carries captured media chunks (microphone frames).
type RealtimeInputEnvelope struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput is a batch of realtime media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
	// Interrupt is manufactured client-side: while a tool call is in
	// flight the server cannot be interrupted by voice activity, so the
	// client marks the frames itself.
	Interrupt bool `json:"interrupt,omitempty"`
}

// MediaChunk is one realtime media frame.
type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// ToolResponseEnvelope returns tool execution results to the model.
type ToolResponseEnvelope struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// ToolResponse is a batch of function responses.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// FunctionResponse is the result of one function call.
type FunctionResponse struct {
	ID       string `json:"id"`
	Response any    `json:"response"`
}

// --- Inbound socket frames ---

// ServerMessage is the union of everything the socket can deliver. Exactly
// one of the pointer fields is set per frame.
type ServerMessage struct {
	SetupComplete        json.RawMessage       `json:"setupComplete,omitempty"`
	ToolCall             *ServerToolCall       `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
}

// ServerToolCall requests execution of one or more functions.
type ServerToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is one requested invocation.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCallCancellation withdraws previously issued tool calls.
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// ServerContent carries model output and turn boundaries.
type ServerContent struct {
	Interrupted  bool       `json:"interrupted,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	ModelTurn    *ModelTurn `json:"modelTurn,omitempty"`
}

// ModelTurn is a batch of model output parts.
type ModelTurn struct {
	Parts []TurnPart `json:"parts"`
}

// ToolCallIntent is the common shape every dialect decoder produces at the
// boundary, regardless of how the transport spelled the call.
type ToolCallIntent struct {
	Calls []types.ToolCall
}
