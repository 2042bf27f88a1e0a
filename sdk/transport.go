package loqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Frame is one raw unit delivered by a TransportChannel.
type Frame struct {
	Data []byte // raw frame payload, nil on boundary frames
	// End marks the end of one response stream: for HTTP, the [DONE]
	// terminator or EOF; for the socket, connection closure.
	End       bool
	CloseCode int    // websocket close code when End originates from the socket
	Reason    string // close reason, if any
	Err       error  // terminal transport error, if any
}

// TransportChannel moves raw protocol frames between the engine and the
// service. Two implementations exist: a full-duplex websocket and a
// connectionless HTTP byte stream.
type TransportChannel interface {
	// Connect establishes the channel. A failed Connect leaves no
	// partially registered state behind.
	Connect(ctx context.Context) error
	// Send writes one outbound payload. For the HTTP variant, Send issues
	// a streaming request whose frames arrive on Frames.
	Send(ctx context.Context, payload any) error
	// Frames delivers inbound frames until the channel closes.
	Frames() <-chan Frame
	// Close tears the channel down. Idempotent.
	Close() error
}

// TransportError wraps dial/IO failures while talking to the service.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical engine errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

// --- Socket variant ---

type socketChannel struct {
	url    string
	header http.Header
	setup  protocol.SetupEnvelope

	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newSocketChannel(wsURL string, header http.Header, setup protocol.SetupEnvelope) *socketChannel {
	return &socketChannel{
		url:    wsURL,
		header: header,
		setup:  setup,
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
}

// Connect dials the socket and sends the setup handshake. It returns once
// the connection is open and setup is written; the setupComplete ack arrives
// as a regular frame.
func (s *socketChannel) Connect(ctx context.Context) error {
	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	conn, resp, err := dialer.DialContext(dialCtx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return &TransportError{Op: "GET", URL: s.url, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return &TransportError{Op: "GET", URL: s.url, Err: err}
	}

	if err := conn.WriteJSON(s.setup); err != nil {
		_ = conn.Close()
		return &TransportError{Op: "GET", URL: s.url, Err: fmt.Errorf("send setup: %w", err)}
	}

	s.conn = conn
	go s.readLoop()
	return nil
}

func (s *socketChannel) readLoop() {
	defer close(s.frames)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := ""
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
				reason = closeErr.Text
			}
			var frameErr error
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				frameErr = err
			}
			s.emit(Frame{End: true, CloseCode: code, Reason: reason, Err: frameErr})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.emit(Frame{Data: append([]byte(nil), data...)})
	}
}

// emit delivers a frame to the consumer. Delivery blocks when the buffer is
// full so a slow consumer pauses the socket read instead of losing frames;
// Close unblocks any pending delivery.
func (s *socketChannel) emit(frame Frame) {
	select {
	case s.frames <- frame:
	case <-s.done:
	}
}

func (s *socketChannel) Send(_ context.Context, payload any) error {
	if s.closed.Load() {
		return &TransportError{Op: "WRITE", URL: s.url, Err: fmt.Errorf("channel is closed")}
	}
	if s.conn == nil {
		return &TransportError{Op: "WRITE", URL: s.url, Err: fmt.Errorf("channel is not connected")}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(payload); err != nil {
		return &TransportError{Op: "WRITE", URL: s.url, Err: err}
	}
	return nil
}

func (s *socketChannel) Frames() <-chan Frame {
	return s.frames
}

func (s *socketChannel) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			s.writeMu.Unlock()
			_ = s.conn.Close()
		}
	})
	return nil
}

// --- HTTP variant ---

type httpChannel struct {
	endpoint string
	header   http.Header
	client   *http.Client

	frames chan Frame
	done   chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
}

func newHTTPChannel(endpoint string, header http.Header, client *http.Client) *httpChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpChannel{
		endpoint: endpoint,
		header:   header,
		client:   client,
		frames:   make(chan Frame, 256),
		done:     make(chan struct{}),
	}
}

// Connect is a no-op success marker; the HTTP variant is connectionless.
func (h *httpChannel) Connect(_ context.Context) error {
	if h.closed.Load() {
		return &TransportError{Op: "POST", URL: h.endpoint, Err: fmt.Errorf("channel is closed")}
	}
	return nil
}

// Send issues one streaming POST; decoded SSE payloads arrive on Frames,
// terminated by an End frame.
func (h *httpChannel) Send(ctx context.Context, payload any) error {
	if h.closed.Load() {
		return &TransportError{Op: "POST", URL: h.endpoint, Err: fmt.Errorf("channel is closed")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return &TransportError{Op: "POST", URL: h.endpoint, Err: err}
	}
	for key, values := range h.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return &TransportError{Op: "POST", URL: h.endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return &TransportError{
			Op:  "POST",
			URL: h.endpoint,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.streamBody(resp.Body)
	return nil
}

func (h *httpChannel) streamBody(body io.ReadCloser) {
	defer h.wg.Done()
	reader := newSSEReader(body)
	defer reader.Close()

	for {
		payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				h.emit(Frame{End: true})
			} else {
				h.emit(Frame{End: true, Err: err})
			}
			return
		}
		h.emit(Frame{Data: payload})
	}
}

// emit delivers a frame to the consumer, blocking when the buffer is full.
// Close unblocks any pending delivery.
func (h *httpChannel) emit(frame Frame) {
	select {
	case h.frames <- frame:
	case <-h.done:
	}
}

func (h *httpChannel) Frames() <-chan Frame {
	return h.frames
}

func (h *httpChannel) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		h.mu.Lock()
		if h.cancel != nil {
			h.cancel()
		}
		h.mu.Unlock()
		h.wg.Wait()
		close(h.frames)
	})
	return nil
}
