package loqui

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrumentation. All counters are optional:
// a nil *Metrics disables collection.
type Metrics struct {
	FramesDecoded      *prometheus.CounterVec
	ParseErrorsSkipped prometheus.Counter
	ReconnectAttempts  prometheus.Counter
	ToolRounds         prometheus.Counter
	AudioBytesQueued   prometheus.Counter
	AudioChunksDropped prometheus.Counter
}

// NewMetrics creates and registers the engine metrics. reg may be nil, in
// which case the default registerer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "frames_decoded_total",
			Help:      "Protocol frames decoded, by transport.",
		}, []string{"transport"}),
		ParseErrorsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "parse_errors_skipped_total",
			Help:      "Malformed frames logged and skipped.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "reconnect_attempts_total",
			Help:      "Socket reconnect attempts after abnormal closure.",
		}),
		ToolRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "tool_rounds_total",
			Help:      "Tool round trips dispatched.",
		}),
		AudioBytesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "audio_bytes_queued_total",
			Help:      "Inbound PCM bytes queued for playback.",
		}),
		AudioChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loqui",
			Name:      "audio_chunks_dropped_total",
			Help:      "Playback chunks dropped by the bounded queue.",
		}),
	}
	reg.MustRegister(
		m.FramesDecoded,
		m.ParseErrorsSkipped,
		m.ReconnectAttempts,
		m.ToolRounds,
		m.AudioBytesQueued,
		m.AudioChunksDropped,
	)
	return m
}
