package loqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/core/types"
)

// SessionStore is the persistence contract the engine hands the log to at
// turn boundaries. Failures are reported as persistence errors; the
// conversation continues in memory.
type SessionStore interface {
	CreateSession(ctx context.Context) (*types.Session, error)
	SaveMessages(ctx context.Context, sessionID string, messages []types.Message) error
}

// HistoryService talks to the session CRUD endpoints under /api/history/*.
type HistoryService struct {
	client *Client
}

// CreateSession implements SessionStore.
func (h *HistoryService) CreateSession(ctx context.Context) (*types.Session, error) {
	var session types.Session
	if err := h.do(ctx, http.MethodPost, "/api/history/sessions", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns all session metadata, pinned first.
func (h *HistoryService) ListSessions(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	if err := h.do(ctx, http.MethodGet, "/api/history/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetMessages loads the stored message body of one session.
func (h *HistoryService) GetMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	var messages []types.Message
	path := "/api/history/sessions/" + sessionID + "/messages"
	if err := h.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveMessages implements SessionStore.
func (h *HistoryService) SaveMessages(ctx context.Context, sessionID string, messages []types.Message) error {
	path := "/api/history/sessions/" + sessionID + "/messages"
	return h.do(ctx, http.MethodPut, path, map[string]any{"messages": messages}, nil)
}

// Rename sets a session title.
func (h *HistoryService) Rename(ctx context.Context, sessionID, title string) error {
	path := "/api/history/sessions/" + sessionID
	return h.do(ctx, http.MethodPatch, path, map[string]any{"title": title}, nil)
}

// SetPinned pins or unpins a session.
func (h *HistoryService) SetPinned(ctx context.Context, sessionID string, pinned bool) error {
	path := "/api/history/sessions/" + sessionID
	return h.do(ctx, http.MethodPatch, path, map[string]any{"pinned": pinned}, nil)
}

// Delete removes a session and its stored messages.
func (h *HistoryService) Delete(ctx context.Context, sessionID string) error {
	path := "/api/history/sessions/" + sessionID
	return h.do(ctx, http.MethodDelete, path, nil, nil)
}

func (h *HistoryService) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return core.NewPersistenceError("encode request", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.client.endpoint(path), body)
	if err != nil {
		return core.NewPersistenceError("build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	h.client.authorize(req.Header)

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		return core.NewPersistenceError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return core.NewPersistenceError(
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.NewPersistenceError("decode response", err)
	}
	return nil
}

// SpeechService talks to the transcription endpoint.
type SpeechService struct {
	client *Client
}

// Transcribe posts a WAV blob to /api/transcribe-audio and returns the text.
func (s *SpeechService) Transcribe(ctx context.Context, wav []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.endpoint("/api/transcribe-audio"), bytes.NewReader(wav))
	if err != nil {
		return "", core.NewAudioError(err.Error())
	}
	req.Header.Set("Content-Type", "audio/wav")
	s.client.authorize(req.Header)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", &core.Error{Type: core.ErrTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", core.NewAPIError(fmt.Sprintf("transcribe status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.NewProtocolParseError("decode transcription", err)
	}
	return out.Text, nil
}
