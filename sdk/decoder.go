package loqui

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/core/types"
	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

// decodedFrame is the classification of one transport frame. At most one of
// Intent, Reasoning, and Content is set; Audio may accompany Content on the
// socket path.
type decodedFrame struct {
	SetupComplete bool
	Cancellation  *protocol.ToolCallCancellation
	Intent        *protocol.ToolCallIntent
	Reasoning     string
	Content       string
	Audio         []pcmChunk
	TurnComplete  bool
	Interrupted   bool
}

type pcmChunk struct {
	Data       []byte
	SampleRate int
}

// decodeLiveFrame parses one socket message into a decodedFrame.
func decodeLiveFrame(data []byte) (*decodedFrame, *core.Error) {
	var msg protocol.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, core.NewProtocolParseError("malformed socket frame", err)
	}

	out := &decodedFrame{}
	switch {
	case len(msg.SetupComplete) > 0:
		out.SetupComplete = true
	case msg.ToolCall != nil:
		calls := make([]types.ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			calls = append(calls, types.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out.Intent = &protocol.ToolCallIntent{Calls: calls}
	case msg.ToolCallCancellation != nil:
		out.Cancellation = msg.ToolCallCancellation
	case msg.ServerContent != nil:
		sc := msg.ServerContent
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
		if sc.ModelTurn != nil {
			audio, rest := partitionParts(sc.ModelTurn.Parts)
			out.Audio = audio
			for _, part := range rest {
				out.Content += part.Text
			}
		}
	default:
		return nil, core.NewProtocolParseError("unrecognized socket frame", nil)
	}
	return out, nil
}

// partitionParts splits a model turn into PCM audio parts and the remainder.
func partitionParts(parts []protocol.TurnPart) ([]pcmChunk, []protocol.TurnPart) {
	var audio []pcmChunk
	var rest []protocol.TurnPart
	for _, part := range parts {
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/pcm") {
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				// Undecodable audio is dropped like any other malformed frame.
				continue
			}
			audio = append(audio, pcmChunk{
				Data:       pcm,
				SampleRate: pcmSampleRate(part.InlineData.MIMEType),
			})
			continue
		}
		rest = append(rest, part)
	}
	return audio, rest
}

const defaultPCMSampleRate = 24000

// pcmSampleRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000".
func pcmSampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		param = strings.TrimSpace(param)
		if value, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return defaultPCMSampleRate
}

// decodeChatFrame parses one SSE payload. Classification is strict priority:
// vendor tool-call field, then a structured function-call part, then the
// reasoning delta, then the content delta; at most one applies per frame.
func decodeChatFrame(data []byte) (*decodedFrame, *core.Error) {
	chunk, err := protocol.DecodeChatChunk(data)
	if err != nil {
		return nil, core.NewProtocolParseError("malformed stream frame", err)
	}
	if len(chunk.Choices) == 0 {
		return &decodedFrame{}, nil
	}
	delta := chunk.Choices[0].Delta

	switch {
	case len(delta.ToolCalls) > 0:
		return &decodedFrame{Intent: &protocol.ToolCallIntent{Calls: delta.ToolCalls}}, nil
	case functionCallPart(delta.Parts) != nil:
		fc := functionCallPart(delta.Parts)
		return &decodedFrame{Intent: &protocol.ToolCallIntent{Calls: []types.ToolCall{
			{ID: fc.ID, Name: fc.Name, Args: fc.Args},
		}}}, nil
	case delta.ReasoningContent != "":
		return &decodedFrame{Reasoning: delta.ReasoningContent}, nil
	default:
		return &decodedFrame{Content: delta.Content}, nil
	}
}

func functionCallPart(parts []protocol.ChatDeltaPart) *protocol.FunctionCall {
	for _, part := range parts {
		if part.FunctionCall != nil {
			return part.FunctionCall
		}
	}
	return nil
}
