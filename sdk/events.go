package loqui

import (
	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

// EventKind is the closed vocabulary of engine events.
type EventKind string

const (
	EventOpen          EventKind = "open"
	EventClose         EventKind = "close"
	EventSetupComplete EventKind = "setupcomplete"
	EventContent       EventKind = "content"
	EventReasoning     EventKind = "reasoning"
	EventAudio         EventKind = "audio"
	EventToolCall      EventKind = "toolcall"
	EventTurnComplete  EventKind = "turncomplete"
	EventInterrupted   EventKind = "interrupted"
	EventError         EventKind = "error"
)

// EngineEvent is the tagged union the engine emits. The set of
// implementations is closed; consumers switch on Kind or on the concrete
// type.
type EngineEvent interface {
	Kind() EventKind
}

// OpenEvent fires when the transport is established.
type OpenEvent struct{}

func (OpenEvent) Kind() EventKind { return EventOpen }

// CloseEvent fires exactly once when the transport terminates.
type CloseEvent struct {
	Code   int
	Reason string
}

func (CloseEvent) Kind() EventKind { return EventClose }

// SetupCompleteEvent fires when the socket handshake is acknowledged.
type SetupCompleteEvent struct{}

func (SetupCompleteEvent) Kind() EventKind { return EventSetupComplete }

// ContentEvent carries an incremental text fragment of the assistant turn.
type ContentEvent struct {
	Delta string
}

func (ContentEvent) Kind() EventKind { return EventContent }

// ReasoningEvent carries an incremental reasoning fragment. Reasoning text
// is surfaced but never written to the conversation log.
type ReasoningEvent struct {
	Delta string
}

func (ReasoningEvent) Kind() EventKind { return EventReasoning }

// AudioEvent carries one inbound PCM16 frame.
type AudioEvent struct {
	Frame AudioFrame
}

func (AudioEvent) Kind() EventKind { return EventAudio }

// ToolCallEvent fires when the model requests tool execution, before the
// calls are dispatched.
type ToolCallEvent struct {
	Calls []types.ToolCall
}

func (ToolCallEvent) Kind() EventKind { return EventToolCall }

// TurnCompleteEvent bounds a turn. Clip is the merged WAV unit for the turn
// when audio arrived, nil otherwise.
type TurnCompleteEvent struct {
	Message *types.Message
	Clip    *WAVClip
}

func (TurnCompleteEvent) Kind() EventKind { return EventTurnComplete }

// InterruptedEvent fires when the server cut the model turn short. Like
// TurnCompleteEvent it closes the current audio unit.
type InterruptedEvent struct {
	Clip *WAVClip
}

func (InterruptedEvent) Kind() EventKind { return EventInterrupted }

// ErrorEvent surfaces a non-fatal or terminal engine error.
type ErrorEvent struct {
	Err *core.Error
}

func (ErrorEvent) Kind() EventKind { return EventError }

// Callbacks is the callback-style alternative to consuming Events().
// Nil fields are skipped.
type Callbacks struct {
	OnOpen          func()
	OnClose         func(code int, reason string)
	OnSetupComplete func()
	OnContent       func(delta string)
	OnReasoning     func(delta string)
	OnAudio         func(frame AudioFrame)
	OnToolCall      func(calls []types.ToolCall)
	OnTurnComplete  func(msg *types.Message, clip *WAVClip)
	OnInterrupted   func(clip *WAVClip)
	OnError         func(err *core.Error)
}

func (c Callbacks) dispatch(event EngineEvent) {
	switch e := event.(type) {
	case OpenEvent:
		if c.OnOpen != nil {
			c.OnOpen()
		}
	case CloseEvent:
		if c.OnClose != nil {
			c.OnClose(e.Code, e.Reason)
		}
	case SetupCompleteEvent:
		if c.OnSetupComplete != nil {
			c.OnSetupComplete()
		}
	case ContentEvent:
		if c.OnContent != nil {
			c.OnContent(e.Delta)
		}
	case ReasoningEvent:
		if c.OnReasoning != nil {
			c.OnReasoning(e.Delta)
		}
	case AudioEvent:
		if c.OnAudio != nil {
			c.OnAudio(e.Frame)
		}
	case ToolCallEvent:
		if c.OnToolCall != nil {
			c.OnToolCall(e.Calls)
		}
	case TurnCompleteEvent:
		if c.OnTurnComplete != nil {
			c.OnTurnComplete(e.Message, e.Clip)
		}
	case InterruptedEvent:
		if c.OnInterrupted != nil {
			c.OnInterrupted(e.Clip)
		}
	case ErrorEvent:
		if c.OnError != nil {
			c.OnError(e.Err)
		}
	}
}
