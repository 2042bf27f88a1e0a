package loqui

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingRenderer struct {
	mu        sync.Mutex
	begun     int
	finalized int
	batches   []string
}

func (r *recordingRenderer) BeginMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun++
}

func (r *recordingRenderer) AppendDelta(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, text)
}

func (r *recordingRenderer) FinalizeMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized++
}

func (r *recordingRenderer) snapshot() (int, int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batches := make([]string, len(r.batches))
	copy(batches, r.batches)
	return r.begun, r.finalized, batches
}

func TestDebounceFlusher_BatchesDeltasWithinInterval(t *testing.T) {
	t.Parallel()

	renderer := &recordingRenderer{}
	flusher := newDebounceFlusher(renderer, 50*time.Millisecond)

	flusher.Add("a")
	flusher.Add("b")
	flusher.Add("c")

	time.Sleep(150 * time.Millisecond)
	begun, _, batches := renderer.snapshot()
	if begun != 1 {
		t.Fatalf("begun=%d, want 1", begun)
	}
	// Three deltas inside one window land as a single batch.
	if len(batches) != 1 || batches[0] != "abc" {
		t.Fatalf("batches=%q, want one %q batch", batches, "abc")
	}
}

func TestDebounceFlusher_FinalizeFlushesPendingText(t *testing.T) {
	t.Parallel()

	renderer := &recordingRenderer{}
	flusher := newDebounceFlusher(renderer, time.Hour)

	flusher.Add("tail")
	flusher.Finalize()

	_, finalized, batches := renderer.snapshot()
	if finalized != 1 {
		t.Fatalf("finalized=%d, want 1", finalized)
	}
	if strings.Join(batches, "") != "tail" {
		t.Fatalf("batches=%q", batches)
	}
}

func TestDebounceFlusher_FinalizeWithoutDeltasIsNoOp(t *testing.T) {
	t.Parallel()

	renderer := &recordingRenderer{}
	flusher := newDebounceFlusher(renderer, time.Hour)
	flusher.Finalize()

	begun, finalized, _ := renderer.snapshot()
	if begun != 0 || finalized != 0 {
		t.Fatalf("begun=%d finalized=%d, want untouched renderer", begun, finalized)
	}
}

func TestDebounceFlusher_ResetDropsPending(t *testing.T) {
	t.Parallel()

	renderer := &recordingRenderer{}
	flusher := newDebounceFlusher(renderer, time.Hour)

	flusher.Add("doomed")
	flusher.Reset()
	flusher.Finalize()

	_, _, batches := renderer.snapshot()
	if len(batches) != 0 {
		t.Fatalf("batches=%q, want none after reset", batches)
	}
}

func TestDebounceFlusher_NilRendererSafe(t *testing.T) {
	t.Parallel()

	flusher := newDebounceFlusher(nil, 0)
	flusher.Add("x")
	flusher.Finalize()
	flusher.Reset()
}

type sequenceRenderer struct {
	mu     sync.Mutex
	events []string
}

func (r *sequenceRenderer) BeginMessage()           { r.record("begin") }
func (r *sequenceRenderer) AppendDelta(text string) { r.record("append:" + text) }
func (r *sequenceRenderer) FinalizeMessage()        { r.record("finalize") }

func (r *sequenceRenderer) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *sequenceRenderer) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// A timer flush racing a Finalize must never deliver a delta after the
// message was finalized, and the pending text lands exactly once.
func TestDebounceFlusher_NoDeltaAfterFinalize(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		renderer := &sequenceRenderer{}
		flusher := newDebounceFlusher(renderer, time.Millisecond)

		flusher.Add("hello")
		// Jitter so some iterations finalize while the timer is firing.
		time.Sleep(time.Duration(i%3) * 500 * time.Microsecond)
		flusher.Finalize()
		time.Sleep(3 * time.Millisecond)

		var delivered strings.Builder
		finalized := false
		seq := renderer.sequence()
		for _, event := range seq {
			switch {
			case event == "finalize":
				finalized = true
			case strings.HasPrefix(event, "append:"):
				if finalized {
					t.Fatalf("delta delivered after finalize: %v", seq)
				}
				delivered.WriteString(strings.TrimPrefix(event, "append:"))
			}
		}
		if !finalized || delivered.String() != "hello" {
			t.Fatalf("sequence=%v, want %q delivered then finalized", seq, "hello")
		}
	}
}
