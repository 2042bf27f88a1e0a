package loqui

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqui-ai/loqui-go/pkg/core"
	"github.com/loqui-ai/loqui-go/pkg/core/types"
	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

// Mode selects the transport an Engine speaks.
type Mode string

const (
	// ModeLive uses the bidirectional streaming socket.
	ModeLive Mode = "live"
	// ModeStream uses the HTTP endpoint with an incremental event stream.
	ModeStream Mode = "stream"
)

// Dispatch-loop states.
type engineState int32

const (
	stateIdle engineState = iota
	stateStreaming
	stateExecuting
	stateTurnComplete
)

const (
	defaultMaxToolRounds = 8
	socketRetryAttempts  = 3
	socketRetryDelay     = 2 * time.Second

	defaultLivePath = "/api/live"
	defaultChatPath = "/api/chat/completions"
)

// EngineConfig configures a StreamingConversationEngine.
type EngineConfig struct {
	Mode  Mode
	Model string

	System           string
	GenerationConfig *protocol.GenerationConfig
	SafetySettings   []protocol.SafetySetting

	// Tools is the injected executor; nil disables tool dispatch.
	Tools ToolExecutor
	// Renderer receives debounce-batched text; nil disables rendering.
	Renderer Renderer
	// Store receives the log at turn boundaries; nil keeps everything
	// in memory.
	Store SessionStore
	// Playback drains inbound audio; nil skips playback (WAV units are
	// still produced).
	Playback PlaybackDevice

	// SessionID resumes an existing session instead of creating one.
	SessionID string

	// MaxToolRounds bounds consecutive tool round trips within one turn.
	// Default 8.
	MaxToolRounds int
	// AudioQueueSize bounds the playback queue in chunks. Default 64.
	AudioQueueSize int
	// FlushInterval is the renderer debounce window. Default 300ms.
	FlushInterval time.Duration
}

// Prompt is one outbound user message.
type Prompt struct {
	Text  string
	Image *ImageAttachment
}

// ImageAttachment is inline image data sent with a prompt.
type ImageAttachment struct {
	MIMEType string
	Data     []byte
}

// Engine converts a transport's partially-ordered byte stream into a
// consistent conversation: it demultiplexes frames into typed events,
// maintains the append-only ConversationLog with exactly-once tool round
// trips, reconstitutes streamed PCM into WAV units, and handles
// reconnection. All engine state lives on this struct; one engine serves
// one conversation.
type Engine struct {
	client *Client
	cfg    EngineConfig
	logger *slog.Logger

	log     *ConversationLog
	audio   *AudioPipeline
	flusher *debounceFlusher

	events chan EngineEvent
	done   chan struct{}

	transport TransportChannel
	session   *types.Session

	// alive gates every log mutation: a stale read loop observing
	// alive=false must not touch the log after Disconnect.
	alive atomic.Bool
	state atomic.Int32

	loopCtx    context.Context
	loopCancel context.CancelFunc

	mu       sync.Mutex
	turnWait chan struct{}

	closeOnce sync.Once
	closeEmit sync.Once
}

// NewEngine creates an engine for one conversation.
func (c *Client) NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Model == "" {
		return nil, core.NewInvalidConfigError("model must not be empty")
	}
	switch cfg.Mode {
	case ModeLive, ModeStream:
	default:
		return nil, core.NewInvalidConfigError(fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}

	e := &Engine{
		client:  c,
		cfg:     cfg,
		logger:  c.logger.With("component", "engine", "mode", string(cfg.Mode)),
		log:     NewConversationLog(),
		audio:   NewAudioPipeline(cfg.Playback, AudioPipelineConfig{QueueSize: cfg.AudioQueueSize}, c.metrics),
		flusher: newDebounceFlusher(cfg.Renderer, cfg.FlushInterval),
		events:  make(chan EngineEvent, 512),
		done:    make(chan struct{}),
	}
	if cfg.SessionID != "" {
		e.session = &types.Session{ID: cfg.SessionID}
	}
	return e, nil
}

// Log exposes the conversation log (read via Messages snapshots).
func (e *Engine) Log() *ConversationLog { return e.log }

// Session returns the session metadata once one exists.
func (e *Engine) Session() *types.Session { return e.session }

// Events yields engine events until Disconnect.
func (e *Engine) Events() <-chan EngineEvent { return e.events }

// Process consumes events through callbacks until the engine disconnects.
func (e *Engine) Process(cb Callbacks) {
	for {
		select {
		case event := <-e.events:
			cb.dispatch(event)
		case <-e.done:
			for {
				select {
				case event := <-e.events:
					cb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) emit(event EngineEvent) {
	select {
	case e.events <- event:
	default:
		// Never block the read loop on a slow consumer.
	}
}

func (e *Engine) emitClose(code int, reason string) {
	e.closeEmit.Do(func() {
		e.emit(CloseEvent{Code: code, Reason: reason})
	})
}

// Connect establishes the transport. On the socket it resolves only after
// the setup handshake is acknowledged; the HTTP variant is connectionless
// and Connect is a no-op success marker. Abnormal socket closure (1006)
// during the handshake is retried up to 3 attempts with a fixed 2s delay;
// any other closure is terminal.
func (e *Engine) Connect(ctx context.Context) error {
	e.loopCtx, e.loopCancel = context.WithCancel(context.Background())

	if e.cfg.Mode == ModeStream {
		header := make(http.Header)
		e.client.authorize(header)
		ch := newHTTPChannel(e.client.endpoint(defaultChatPath), header, e.client.httpClient)
		if err := ch.Connect(ctx); err != nil {
			return err
		}
		e.transport = ch
		e.alive.Store(true)
		e.emit(OpenEvent{})
		return nil
	}

	ch, err := e.connectSocket(ctx, true)
	if err != nil {
		return err
	}
	e.transport = ch
	e.alive.Store(true)
	go e.readLoop(ch)
	return nil
}

// connectSocket dials and completes the setup handshake, retrying abnormal
// closures. emitOpen controls whether an open event fires on the first
// successful dial (reconnects stay silent until setup completes).
func (e *Engine) connectSocket(ctx context.Context, emitOpen bool) (*socketChannel, error) {
	wsURL, err := e.client.wsEndpoint(defaultLivePath)
	if err != nil {
		return nil, err
	}
	header := make(http.Header)
	e.client.authorize(header)
	setup := e.buildSetup()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if e.client.metrics != nil {
				e.client.metrics.ReconnectAttempts.Inc()
			}
			select {
			case <-time.After(socketRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ch := newSocketChannel(wsURL, header, setup)
		if err := ch.Connect(ctx); err != nil {
			return nil, err
		}
		if emitOpen && attempt == 1 {
			e.emit(OpenEvent{})
		}

		frame, ok := e.awaitFrame(ctx, ch)
		if !ok {
			_ = ch.Close()
			return nil, ctx.Err()
		}
		if frame.End {
			_ = ch.Close()
			if frame.CloseCode == 1006 && attempt < socketRetryAttempts {
				e.logger.Warn("abnormal closure during setup, retrying",
					"attempt", attempt, "code", frame.CloseCode)
				continue
			}
			e.emitClose(frame.CloseCode, frame.Reason)
			return nil, core.NewTransportError(
				fmt.Sprintf("socket closed during setup (code %d) after %d attempts", frame.CloseCode, attempt))
		}

		decoded, decErr := decodeLiveFrame(frame.Data)
		if decErr != nil || !decoded.SetupComplete {
			_ = ch.Close()
			return nil, core.NewTransportError("unexpected first frame before setup completion")
		}
		e.emit(SetupCompleteEvent{})
		return ch, nil
	}
}

func (e *Engine) awaitFrame(ctx context.Context, ch *socketChannel) (Frame, bool) {
	select {
	case frame, open := <-ch.Frames():
		if !open {
			return Frame{End: true, CloseCode: 1006}, true
		}
		return frame, true
	case <-ctx.Done():
		return Frame{}, false
	}
}

func (e *Engine) buildSetup() protocol.SetupEnvelope {
	setup := protocol.Setup{
		Model:            e.cfg.Model,
		GenerationConfig: e.cfg.GenerationConfig,
	}
	if e.cfg.System != "" {
		setup.SystemInstruction = &protocol.SystemInstruction{
			Parts: []protocol.TurnPart{{Text: e.cfg.System}},
		}
	}
	if e.cfg.Tools != nil {
		if decls := e.cfg.Tools.Declarations(); len(decls) > 0 {
			setup.Tools = []protocol.ToolDeclarations{{FunctionDeclarations: decls}}
		}
	}
	return protocol.SetupEnvelope{Setup: setup}
}

// readLoop drains the socket until closure, reconnecting on abnormal
// closure. It re-checks liveness before every mutation so a user-initiated
// Disconnect can never be followed by a log write from a stale loop.
func (e *Engine) readLoop(ch *socketChannel) {
	for {
		frame, open := <-ch.Frames()
		if !open {
			// The channel drained without a terminal frame. Treat it as an
			// abnormal closure so consumers always observe a close.
			if e.alive.Load() {
				e.log.DiscardOpen()
				e.flusher.Reset()
				e.alive.Store(false)
				e.emitClose(1006, "transport stream ended")
				e.finishTurn()
			}
			return
		}
		if !e.alive.Load() {
			return
		}

		if frame.End {
			if frame.CloseCode == 1006 {
				e.logger.Warn("abnormal socket closure, reconnecting", "reason", frame.Reason)
				next, err := e.connectSocket(e.loopCtx, false)
				if err == nil {
					if e.alive.Load() {
						e.mu.Lock()
						e.transport = next
						e.mu.Unlock()
						ch = next
						continue
					}
					_ = next.Close()
					return
				}
				e.emit(ErrorEvent{Err: core.NewTransportError("reconnect failed: " + err.Error())})
			}
			e.log.DiscardOpen()
			e.flusher.Reset()
			e.alive.Store(false)
			e.emitClose(frame.CloseCode, frame.Reason)
			e.finishTurn()
			return
		}

		e.handleLiveFrame(frame.Data)
	}
}

func (e *Engine) handleLiveFrame(data []byte) {
	if e.client.metrics != nil {
		e.client.metrics.FramesDecoded.WithLabelValues(string(ModeLive)).Inc()
	}
	decoded, err := decodeLiveFrame(data)
	if err != nil {
		e.skipMalformed(err)
		return
	}

	switch {
	case decoded.SetupComplete:
		e.emit(SetupCompleteEvent{})
	case decoded.Cancellation != nil:
		// Calls withdrawn by the server; nothing is pending client-side
		// because dispatch is synchronous within the loop.
		e.logger.Debug("tool call cancellation", "ids", decoded.Cancellation.IDs)
	case decoded.Intent != nil:
		e.state.Store(int32(stateExecuting))
		responses := e.dispatchToolCalls(e.loopCtx, decoded.Intent.Calls)
		if e.alive.Load() {
			if err := e.sendTransport(e.loopCtx, protocol.ToolResponseEnvelope{
				ToolResponse: protocol.ToolResponse{FunctionResponses: responses},
			}); err != nil {
				e.emit(ErrorEvent{Err: core.NewTransportError(err.Error())})
			}
		}
		e.state.Store(int32(stateStreaming))
	default:
		e.applyContent(decoded)
	}
}

// applyContent folds a decoded content frame into the log, audio pipeline,
// and event stream.
func (e *Engine) applyContent(decoded *decodedFrame) {
	for _, chunk := range decoded.Audio {
		frame := e.audio.Push(chunk.Data, chunk.SampleRate)
		e.emit(AudioEvent{Frame: frame})
	}
	if decoded.Reasoning != "" {
		e.emit(ReasoningEvent{Delta: decoded.Reasoning})
	}
	if decoded.Content != "" {
		e.state.Store(int32(stateStreaming))
		e.log.AppendAssistantDelta(decoded.Content)
		e.flusher.Add(decoded.Content)
		e.emit(ContentEvent{Delta: decoded.Content})
	}

	switch {
	case decoded.Interrupted:
		clip, _ := e.audio.EndTurn()
		e.audio.Flush()
		e.log.FlushAssistant()
		e.flusher.Finalize()
		e.emit(InterruptedEvent{Clip: clip})
		e.state.Store(int32(stateIdle))
		e.persist()
		e.finishTurn()
	case decoded.TurnComplete:
		e.completeTurn()
	}
}

func (e *Engine) completeTurn() {
	clip, _ := e.audio.EndTurn()
	msg, flushed := e.log.FlushAssistant()
	e.flusher.Finalize()
	e.state.Store(int32(stateTurnComplete))
	e.persist()

	event := TurnCompleteEvent{Clip: clip}
	if flushed {
		event.Message = &msg
	}
	e.emit(event)
	e.state.Store(int32(stateIdle))
	e.finishTurn()
}

func (e *Engine) skipMalformed(err *core.Error) {
	e.logger.Warn("malformed frame skipped", "error", err)
	if e.client.metrics != nil {
		e.client.metrics.ParseErrorsSkipped.Inc()
	}
}

// dispatchToolCalls runs one tool round trip: flush the open assistant
// buffer, execute every call, and append exactly the call entry and its
// result entries to the log. Execution failures become error payloads the
// model can react to.
func (e *Engine) dispatchToolCalls(ctx context.Context, calls []types.ToolCall) []protocol.FunctionResponse {
	e.log.FlushAssistant()
	e.flusher.Finalize()

	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	e.emit(ToolCallEvent{Calls: calls})
	if e.client.metrics != nil {
		e.client.metrics.ToolRounds.Inc()
	}

	e.log.AppendToolCall(calls)

	responses := make([]protocol.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		payload := e.executeCall(ctx, call)
		e.log.AppendToolResult(call.ID, payload)
		responses = append(responses, protocol.FunctionResponse{ID: call.ID, Response: payload})
	}
	return responses
}

func (e *Engine) executeCall(ctx context.Context, call types.ToolCall) any {
	if e.cfg.Tools == nil {
		return map[string]any{"error": fmt.Sprintf("tool %q has no executor", call.Name)}
	}
	result, err := e.cfg.Tools.Execute(ctx, call.Name, call.Args)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"response": result}
}

// SendMessage appends a user message and drives the decode/dispatch loop
// until TurnComplete. On the socket the background read loop does the
// decoding and SendMessage waits for the turn boundary; on HTTP it owns the
// stream, re-issuing the request after each tool round trip.
func (e *Engine) SendMessage(ctx context.Context, prompt Prompt) error {
	if !e.alive.Load() {
		return core.NewTransportError("engine is not connected")
	}

	e.ensureSession(ctx)
	e.log.AppendUser(userContent(prompt))

	if e.cfg.Mode == ModeLive {
		return e.sendLive(ctx, prompt)
	}
	return e.streamTurn(ctx)
}

func userContent(prompt Prompt) any {
	if prompt.Image == nil {
		return prompt.Text
	}
	parts := []types.Part{}
	if prompt.Text != "" {
		parts = append(parts, types.TextPart{Type: "text", Text: prompt.Text})
	}
	parts = append(parts, types.InlineDataPart{
		Type:     "inline_data",
		MIMEType: prompt.Image.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(prompt.Image.Data),
	})
	return parts
}

func (e *Engine) sendLive(ctx context.Context, prompt Prompt) error {
	parts := []protocol.TurnPart{}
	if prompt.Text != "" {
		parts = append(parts, protocol.TurnPart{Text: prompt.Text})
	}
	if prompt.Image != nil {
		parts = append(parts, protocol.TurnPart{InlineData: &protocol.InlineData{
			MIMEType: prompt.Image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(prompt.Image.Data),
		}})
	}

	wait := e.armTurnWait()
	e.state.Store(int32(stateStreaming))
	err := e.sendTransport(ctx, protocol.ClientContentEnvelope{
		ClientContent: protocol.ClientContent{
			Turns:        []protocol.Turn{{Role: "user", Parts: parts}},
			TurnComplete: true,
		},
	})
	if err != nil {
		e.log.DiscardOpen()
		e.state.Store(int32(stateIdle))
		return err
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// streamTurn drives the HTTP dispatch loop as an explicit state machine:
// STREAMING consumes one response stream, a detected tool intent moves to
// EXECUTING and back, and an end without intent completes the turn.
func (e *Engine) streamTurn(ctx context.Context) error {
	for round := 0; ; round++ {
		if round > e.cfg.MaxToolRounds {
			err := core.NewToolExecutionError("dispatch", fmt.Errorf("exceeded %d tool rounds", e.cfg.MaxToolRounds))
			e.log.DiscardOpen()
			e.flusher.Reset()
			e.emit(ErrorEvent{Err: err})
			e.state.Store(int32(stateIdle))
			return err
		}

		req := protocol.ChatRequest{
			Model:            e.cfg.Model,
			Messages:         e.requestMessages(),
			GenerationConfig: e.cfg.GenerationConfig,
			SafetySettings:   e.cfg.SafetySettings,
			Stream:           true,
			SessionID:        e.sessionID(),
		}
		if e.cfg.Tools != nil {
			req.Tools = chatTools(e.cfg.Tools.Declarations())
		}

		e.state.Store(int32(stateStreaming))
		if err := e.sendTransport(ctx, req); err != nil {
			e.log.DiscardOpen()
			e.flusher.Reset()
			e.state.Store(int32(stateIdle))
			e.emit(ErrorEvent{Err: core.NewTransportError(err.Error())})
			return err
		}

		intent, err := e.consumeStream(ctx)
		if err != nil {
			e.log.DiscardOpen()
			e.flusher.Reset()
			e.state.Store(int32(stateIdle))
			return err
		}
		if intent == nil {
			e.completeTurn()
			return nil
		}

		e.state.Store(int32(stateExecuting))
		e.dispatchToolCalls(ctx, intent.Calls)
		// Loop re-enters STREAMING with the extended log and the same
		// tool declaration set.
	}
}

// consumeStream reads one HTTP response stream to its end, returning the
// tool-call intent when one was detected.
func (e *Engine) consumeStream(ctx context.Context) (*protocol.ToolCallIntent, error) {
	var intent *protocol.ToolCallIntent

	for {
		select {
		case frame, open := <-e.transport.Frames():
			if !open {
				return intent, core.NewTransportError("stream closed")
			}
			if !e.alive.Load() {
				return nil, core.NewTransportError("engine disconnected")
			}
			if frame.End {
				if frame.Err != nil {
					e.emit(ErrorEvent{Err: core.NewTransportError(frame.Err.Error())})
					return nil, core.NewTransportError(frame.Err.Error())
				}
				return intent, nil
			}

			if e.client.metrics != nil {
				e.client.metrics.FramesDecoded.WithLabelValues(string(ModeStream)).Inc()
			}
			decoded, decErr := decodeChatFrame(frame.Data)
			if decErr != nil {
				e.skipMalformed(decErr)
				continue
			}
			if decoded.Intent != nil {
				if intent == nil {
					intent = decoded.Intent
				} else {
					intent.Calls = append(intent.Calls, decoded.Intent.Calls...)
				}
				continue
			}
			e.applyContent(decoded)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// requestMessages prefixes the system instruction onto the log snapshot.
func (e *Engine) requestMessages() []types.Message {
	messages := e.log.Messages()
	if e.cfg.System == "" {
		return messages
	}
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.Message{Role: "system", Content: e.cfg.System})
	return append(out, messages...)
}

func (e *Engine) sessionID() string {
	if e.session == nil {
		return ""
	}
	return e.session.ID
}

// ensureSession creates the session lazily on the first user message. A
// persistence failure is reported and the conversation continues in memory
// under a locally generated id.
func (e *Engine) ensureSession(ctx context.Context) {
	if e.session != nil {
		return
	}
	now := time.Now()
	if e.cfg.Store != nil {
		session, err := e.cfg.Store.CreateSession(ctx)
		if err == nil {
			e.session = session
			return
		}
		e.logger.Warn("session create failed, continuing in memory", "error", err)
		e.emit(ErrorEvent{Err: core.NewPersistenceError("create session", err)})
	}
	e.session = &types.Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}

// persist hands the log to external storage at a turn boundary.
func (e *Engine) persist() {
	if e.cfg.Store == nil || e.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cfg.Store.SaveMessages(ctx, e.session.ID, e.log.Messages()); err != nil {
		e.logger.Warn("history save failed, conversation continues in memory", "error", err)
		e.emit(ErrorEvent{Err: core.NewPersistenceError("save messages", err)})
	}
	e.session.UpdatedAt = time.Now()
}

func (e *Engine) sendTransport(ctx context.Context, payload any) error {
	e.mu.Lock()
	transport := e.transport
	e.mu.Unlock()
	if transport == nil {
		return core.NewTransportError("engine is not connected")
	}
	return transport.Send(ctx, payload)
}

func (e *Engine) armTurnWait() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turnWait = make(chan struct{})
	return e.turnWait
}

func (e *Engine) finishTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turnWait != nil {
		close(e.turnWait)
		e.turnWait = nil
	}
}

// StreamMicrophone forwards captured frames as realtime-input chunks until
// ctx is cancelled. While a tool call is in flight the frames are marked
// interrupt:true, because the server cannot be interrupted mid-tool-use by
// voice activity.
func (e *Engine) StreamMicrophone(ctx context.Context, device CaptureDevice) error {
	if e.cfg.Mode != ModeLive {
		return core.NewInvalidConfigError("microphone streaming requires live mode")
	}
	err := device.Start(func(pcm []byte) {
		if !e.alive.Load() {
			return
		}
		interrupt := engineState(e.state.Load()) == stateExecuting
		if sendErr := e.sendTransport(ctx, realtimeChunk(pcm, interrupt)); sendErr != nil {
			e.logger.Debug("dropping capture frame", "error", sendErr)
		}
	})
	if err != nil {
		return core.NewAudioError(err.Error())
	}

	select {
	case <-ctx.Done():
	case <-e.done:
	}
	if err := device.Stop(); err != nil {
		return core.NewAudioError(err.Error())
	}
	return nil
}

// Disconnect closes the transport. It is idempotent, never duplicates the
// close event, and guarantees no in-flight read loop mutates the log
// afterward.
func (e *Engine) Disconnect() error {
	e.closeOnce.Do(func() {
		e.alive.Store(false)
		if e.loopCancel != nil {
			e.loopCancel()
		}
		e.mu.Lock()
		transport := e.transport
		e.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		e.log.DiscardOpen()
		e.flusher.Reset()
		e.emitClose(1000, "client disconnect")
		e.finishTurn()
		close(e.done)
	})
	return nil
}
