package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupEnvelope_Marshal(t *testing.T) {
	temp := 0.7
	env := SetupEnvelope{Setup: Setup{
		Model:            "models/flash-live",
		GenerationConfig: &GenerationConfig{Temperature: &temp, ResponseModalities: []string{"AUDIO"}},
		Tools: []ToolDeclarations{{FunctionDeclarations: []FunctionDeclaration{{
			Name: "get_weather",
		}}}},
	}}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	for _, want := range []string{`"setup"`, `"model":"models/flash-live"`, `"functionDeclarations"`, `"responseModalities":["AUDIO"]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("payload %s missing %s", data, want)
		}
	}
}

func TestServerMessage_ClassifyFields(t *testing.T) {
	raw := `{"serverContent":{"turnComplete":true,"modelTurn":{"parts":[{"text":"hi"},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}}]}}}`
	var msg ServerMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if msg.ServerContent == nil || !msg.ServerContent.TurnComplete {
		t.Fatalf("serverContent = %#v", msg.ServerContent)
	}
	parts := msg.ServerContent.ModelTurn.Parts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("inlineData = %#v", parts[1].InlineData)
	}
}

func TestServerMessage_ToolCall(t *testing.T) {
	raw := `{"toolCall":{"functionCalls":[{"id":"fc_1","name":"search","args":{"q":"go"}}]}}`
	var msg ServerMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if msg.ToolCall == nil || len(msg.ToolCall.FunctionCalls) != 1 {
		t.Fatalf("toolCall = %#v", msg.ToolCall)
	}
	fc := msg.ToolCall.FunctionCalls[0]
	if fc.Name != "search" || fc.Args["q"] != "go" {
		t.Errorf("functionCall = %#v", fc)
	}
}

func TestDecodeChatChunk_Malformed(t *testing.T) {
	if _, err := DecodeChatChunk([]byte(`{"choices":`)); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
}

func TestDecodeChatChunk_ReasoningDelta(t *testing.T) {
	chunk, err := DecodeChatChunk([]byte(`{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`))
	if err != nil {
		t.Fatalf("DecodeChatChunk error: %v", err)
	}
	if chunk.Choices[0].Delta.ReasoningContent != "hmm" {
		t.Errorf("delta = %#v", chunk.Choices[0].Delta)
	}
}
