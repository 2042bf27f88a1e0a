package loqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

func TestHistoryService_CreateSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/history/sessions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization=%q", auth)
		}
		json.NewEncoder(w).Encode(types.Session{ID: "sess_1", Title: "New chat"})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithAPIKey("sk-test"))
	session, err := client.History.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if session.ID != "sess_1" {
		t.Fatalf("session=%+v", session)
	}
}

func TestHistoryService_SaveAndGetMessages(t *testing.T) {
	t.Parallel()

	var saved []types.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/history/sessions/sess_2/messages":
			var body struct {
				Messages []types.Message `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode save body: %v", err)
			}
			saved = body.Messages
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/api/history/sessions/sess_2/messages":
			json.NewEncoder(w).Encode(saved)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	messages := []types.Message{
		{Role: types.RoleUser, Content: "Hi"},
		{Role: types.RoleAssistant, Content: "Hello"},
	}
	if err := client.History.SaveMessages(context.Background(), "sess_2", messages); err != nil {
		t.Fatalf("SaveMessages error: %v", err)
	}

	loaded, err := client.History.GetMessages(context.Background(), "sess_2")
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	if len(loaded) != 2 || loaded[1].Content != "Hello" {
		t.Fatalf("loaded=%+v", loaded)
	}
}

func TestHistoryService_RenamePinDelete(t *testing.T) {
	t.Parallel()

	var patches []map[string]any
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history/sessions/sess_3" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPatch:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			patches = append(patches, body)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()
	if err := client.History.Rename(ctx, "sess_3", "Plans"); err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	if err := client.History.SetPinned(ctx, "sess_3", true); err != nil {
		t.Fatalf("SetPinned error: %v", err)
	}
	if err := client.History.Delete(ctx, "sess_3"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	if len(patches) != 2 || patches[0]["title"] != "Plans" || patches[1]["pinned"] != true {
		t.Fatalf("patches=%+v", patches)
	}
	if !deleted {
		t.Fatalf("delete never reached the server")
	}
}

func TestHistoryService_ServerErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.History.SaveMessages(context.Background(), "sess_4", nil)
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrPersistence {
		t.Fatalf("error=%v, want persistence error", err)
	}
}

func TestSpeechService_Transcribe(t *testing.T) {
	t.Parallel()

	wav := PCMToWAV([]byte{0, 1, 2, 3}, 16000, 16, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcribe-audio" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("content type=%q", ct)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	text, err := client.Speech.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text=%q, want %q", text, "hello world")
	}
}
