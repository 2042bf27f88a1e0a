package loqui

import (
	"strings"
	"sync"
	"time"
)

// Renderer is the narrow display callback contract the engine drives. The
// engine assumes nothing about the implementation beyond these signatures.
type Renderer interface {
	// BeginMessage starts a new assistant message surface.
	BeginMessage()
	// AppendDelta appends a batched text fragment to the open message.
	AppendDelta(text string)
	// FinalizeMessage closes the open message surface.
	FinalizeMessage()
}

const defaultFlushInterval = 300 * time.Millisecond

// debounceFlusher batches accumulated text so the renderer is touched at
// most once per interval instead of once per delta. All renderer calls
// happen under mu, so a timer flush and a Finalize never interleave and no
// delta can reach the renderer after FinalizeMessage.
type debounceFlusher struct {
	renderer Renderer
	interval time.Duration

	mu      sync.Mutex
	pending strings.Builder
	timer   *time.Timer
	begun   bool
}

func newDebounceFlusher(renderer Renderer, interval time.Duration) *debounceFlusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &debounceFlusher{renderer: renderer, interval: interval}
}

// Add buffers a delta and arms the flush timer.
func (f *debounceFlusher) Add(delta string) {
	if f == nil || f.renderer == nil || delta == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begun {
		f.begun = true
		f.renderer.BeginMessage()
	}
	f.pending.WriteString(delta)
	if f.timer == nil {
		f.timer = time.AfterFunc(f.interval, f.flush)
	}
}

func (f *debounceFlusher) flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := f.pending.String()
	f.pending.Reset()
	f.timer = nil
	if text != "" {
		f.renderer.AppendDelta(text)
	}
}

// Finalize flushes any pending text and closes the message surface.
func (f *debounceFlusher) Finalize() {
	if f == nil || f.renderer == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if text := f.pending.String(); text != "" {
		f.renderer.AppendDelta(text)
	}
	f.pending.Reset()
	if f.begun {
		f.renderer.FinalizeMessage()
	}
	f.begun = false
}

// Reset drops pending text without finalizing, for error paths.
func (f *debounceFlusher) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending.Reset()
	f.begun = false
	f.mu.Unlock()
}
