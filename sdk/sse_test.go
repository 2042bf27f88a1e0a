package loqui

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReader_FramesByBlankLine(t *testing.T) {
	t.Parallel()

	stream := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"
	reader := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	first, err := reader.Next()
	if err != nil {
		t.Fatalf("first Next error: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Fatalf("first=%q", first)
	}

	second, err := reader.Next()
	if err != nil {
		t.Fatalf("second Next error: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Fatalf("second=%q", second)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("err=%v, want io.EOF", err)
	}
}

func TestSSEReader_DoneTerminatorIsEOF(t *testing.T) {
	t.Parallel()

	stream := "data: {\"a\":1}\n\ndata: [DONE]\n\ndata: {\"never\":true}\n\n"
	reader := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first Next error: %v", err)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("err=%v, want io.EOF at [DONE]", err)
	}
}

func TestSSEReader_IgnoresNonDataLines(t *testing.T) {
	t.Parallel()

	stream := ": keep-alive\nevent: message\ndata: {\"x\":3}\n\n"
	reader := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	payload, err := reader.Next()
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if string(payload) != `{"x":3}` {
		t.Fatalf("payload=%q", payload)
	}
}

func TestSSEReader_CRLFLines(t *testing.T) {
	t.Parallel()

	stream := "data: {\"y\":4}\r\n\r\n"
	reader := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	payload, err := reader.Next()
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if string(payload) != `{"y":4}` {
		t.Fatalf("payload=%q", payload)
	}
}

func TestSSEReader_TruncatedFinalEventStillDelivered(t *testing.T) {
	t.Parallel()

	// No trailing blank line: the payload still flushes at EOF.
	stream := "data: {\"z\":5}"
	reader := newSSEReader(io.NopCloser(strings.NewReader(stream)))

	payload, err := reader.Next()
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if string(payload) != `{"z":5}` {
		t.Fatalf("payload=%q", payload)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("err=%v, want io.EOF", err)
	}
}
