package loqui

import (
	"encoding/base64"
	"sync"

	"github.com/loqui-ai/loqui-go/pkg/protocol"
)

// CaptureSampleRate is the fixed microphone capture rate.
const CaptureSampleRate = 16000

// AudioFrame is one inbound PCM16 frame with its per-turn sequence number.
// Seq increases strictly within a turn and resets at turn boundaries.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Seq        int64
}

// PlaybackDevice is the audio output abstraction the pipeline drains into.
// Implementations live outside the engine (see pkg/audio/miniaudio).
type PlaybackDevice interface {
	// Write queues PCM16 bytes for playback.
	Write(pcm []byte) error
	// Clear drops any queued audio immediately.
	Clear()
}

// CaptureDevice delivers fixed-size microphone frames through a callback.
type CaptureDevice interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
}

// AudioPipelineConfig configures inbound audio buffering.
type AudioPipelineConfig struct {
	// QueueSize bounds the playback queue in chunks. When the queue is
	// full the oldest chunk is dropped and counted; the per-turn
	// accumulator is never dropped, so the merged WAV unit stays intact.
	// Default: 64.
	QueueSize int
}

// AudioPipeline ingests streamed PCM16, drains it into a playback device,
// and mirrors every byte into a per-turn accumulator that becomes one WAV
// unit at TurnComplete or Interrupted.
type AudioPipeline struct {
	device  PlaybackDevice
	queue   chan []byte
	metrics *Metrics

	mu          sync.Mutex
	accumulator []byte
	sampleRate  int
	seq         int64
	draining    bool
}

// NewAudioPipeline creates a pipeline. device may be nil when playback is
// not wanted (the WAV units are still produced).
func NewAudioPipeline(device PlaybackDevice, cfg AudioPipelineConfig, metrics *Metrics) *AudioPipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &AudioPipeline{
		device:  device,
		queue:   make(chan []byte, cfg.QueueSize),
		metrics: metrics,
	}
}

// Push ingests one inbound PCM chunk and returns it as a sequenced frame.
func (p *AudioPipeline) Push(pcm []byte, sampleRate int) AudioFrame {
	p.mu.Lock()
	p.seq++
	frame := AudioFrame{Data: pcm, SampleRate: sampleRate, Seq: p.seq}
	p.accumulator = append(p.accumulator, pcm...)
	p.sampleRate = sampleRate
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.AudioBytesQueued.Add(float64(len(pcm)))
	}
	p.enqueue(pcm)
	p.drain()
	return frame
}

// enqueue adds a chunk to the bounded playback queue, dropping the oldest
// chunk when full.
func (p *AudioPipeline) enqueue(pcm []byte) {
	for {
		select {
		case p.queue <- pcm:
			return
		default:
		}
		select {
		case <-p.queue:
			if p.metrics != nil {
				p.metrics.AudioChunksDropped.Inc()
			}
		default:
		}
	}
}

// drain moves queued chunks into the playback device without blocking.
func (p *AudioPipeline) drain() {
	if p.device == nil {
		return
	}
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.draining = false
			p.mu.Unlock()
		}()
		for {
			select {
			case chunk := <-p.queue:
				if err := p.device.Write(chunk); err != nil {
					return
				}
			default:
				return
			}
		}
	}()
}

// EndTurn merges the accumulated PCM of the turn into a WAV unit and resets
// the accumulator and sequence counter. It reports false when no audio
// arrived during the turn.
func (p *AudioPipeline) EndTurn() (*WAVClip, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accumulator) == 0 {
		p.seq = 0
		return nil, false
	}
	clip := &WAVClip{
		Data:       PCMToWAV(p.accumulator, p.sampleRate, 16, 1),
		SampleRate: p.sampleRate,
	}
	p.accumulator = nil
	p.seq = 0
	return clip, true
}

// Flush drops queued playback audio, for interruptions.
func (p *AudioPipeline) Flush() {
	for {
		select {
		case <-p.queue:
		default:
			if p.device != nil {
				p.device.Clear()
			}
			return
		}
	}
}

// realtimeChunk builds the outbound realtime-input envelope for one captured
// microphone frame. interrupt is set while a tool call is in flight: the
// server cannot be interrupted mid-tool-use by voice activity, so the client
// manufactures the semantics itself.
func realtimeChunk(pcm []byte, interrupt bool) protocol.RealtimeInputEnvelope {
	return protocol.RealtimeInputEnvelope{
		RealtimeInput: protocol.RealtimeInput{
			MediaChunks: []protocol.MediaChunk{{
				MIMEType: "audio/pcm;rate=16000",
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
			Interrupt: interrupt,
		},
	}
}
