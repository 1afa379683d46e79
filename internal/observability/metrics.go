package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_assistant_active_sessions",
		Help: "Number of connected client sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_sessions_total",
		Help: "Total number of client sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_session_duration_seconds",
		Help:    "Duration of client sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_turns_total",
		Help: "Conversation turns started, by input source",
	}, []string{"source"}) // source: "text" or "voice"

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_cancellations_total",
		Help: "Turns that superseded a response still in progress",
	})

	staleDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_stale_dropped_total",
		Help: "Work dropped because its generation token was superseded",
	}, []string{"stage"}) // stage: "purge", "pipeline", "worker"

	sentencesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_sentences_streamed_total",
		Help: "Sentences streamed to clients",
	})

	// Collaborator metrics
	completionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_completion_requests_total",
		Help: "Total number of text completion requests",
	}, []string{"status"})

	completionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_completion_latency_seconds",
		Help:    "Text completion latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_stt_requests_total",
		Help: "Total number of voice captures",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_stt_latency_seconds",
		Help:    "Capture plus transcription latency in seconds",
		Buckets: []float64{1, 2, 5, 10, 15, 20},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_assistant_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single client session. A nil *Metrics
// records nothing.
type Metrics struct {
	startTime time.Time
	mu        sync.Mutex
	ended     bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session; repeated calls are ignored
func (m *Metrics) RecordSessionEnd() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records a new conversation turn and whether it superseded a
// response that was still in progress
func (m *Metrics) RecordTurn(source string, superseded bool) {
	if m == nil {
		return
	}
	turnsTotal.WithLabelValues(source).Inc()
	if superseded {
		cancellationsTotal.Inc()
	}
}

// RecordStaleDropped records work discarded at the given stage
func (m *Metrics) RecordStaleDropped(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	staleDropped.WithLabelValues(stage).Add(float64(n))
}

// RecordSentenceStreamed records one streamed sentence
func (m *Metrics) RecordSentenceStreamed() {
	if m == nil {
		return
	}
	sentencesStreamed.Inc()
}

// RecordCompletion records a text completion call
func (m *Metrics) RecordCompletion(latency time.Duration, success bool) {
	if m == nil {
		return
	}
	completionLatency.Observe(latency.Seconds())
	completionRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTS records a speech synthesis call
func (m *Metrics) RecordTTS(latency time.Duration, success bool) {
	if m == nil {
		return
	}
	ttsLatency.Observe(latency.Seconds())
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSTT records a voice capture
func (m *Metrics) RecordSTT(latency time.Duration, success bool) {
	if m == nil {
		return
	}
	sttLatency.Observe(latency.Seconds())
	sttRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	if m == nil {
		return
	}
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordCapturedAudio records microphone bytes handed to transcription.
// Capture is shared by every session, so it is not tracked per session.
func RecordCapturedAudio(bytes int) {
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
