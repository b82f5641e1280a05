package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Solve metrics
	solvesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "captcha_solver_solves_in_flight",
		Help: "Number of solve attempts currently running",
	})

	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_solver_solves_total",
		Help: "Total number of solve attempts by outcome",
	}, []string{"outcome"})

	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captcha_solver_solve_duration_seconds",
		Help:    "End-to-end duration of a solve attempt in seconds",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	// Stage metrics
	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_solver_stage_failures_total",
		Help: "Total number of pipeline stage failures",
	}, []string{"stage"})

	downloadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captcha_solver_download_latency_seconds",
		Help:    "Challenge audio download latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	transcodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captcha_solver_transcode_latency_seconds",
		Help:    "Audio normalization latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	transcodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "captcha_solver_transcode_fallbacks_total",
		Help: "Solve attempts that fell back to the raw downloaded audio",
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_solver_stt_requests_total",
		Help: "Total number of speech-to-text requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "captcha_solver_stt_latency_seconds",
		Help:    "Speech-to-text request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captcha_solver_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Metrics tracks metrics for a single solve attempt
type Metrics struct {
	attemptID      string
	startTime      time.Time
	downloadStart  time.Time
	transcodeStart time.Time
	sttStart       time.Time
	mu             sync.Mutex
}

// NewSolveMetrics creates a new metrics tracker for a solve attempt
func NewSolveMetrics(attemptID string) *Metrics {
	return &Metrics{
		attemptID: attemptID,
		startTime: time.Now(),
	}
}

// RecordSolveStart records the start of a solve attempt
func (m *Metrics) RecordSolveStart() {
	solvesInFlight.Inc()
}

// RecordSolveEnd records the end of a solve attempt
func (m *Metrics) RecordSolveEnd(success bool) {
	solvesInFlight.Dec()
	solveDuration.Observe(time.Since(m.startTime).Seconds())

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	solvesTotal.WithLabelValues(outcome).Inc()
}

// RecordDownloadStart records the start of the challenge download
func (m *Metrics) RecordDownloadStart() {
	m.mu.Lock()
	m.downloadStart = time.Now()
	m.mu.Unlock()
}

// RecordDownloadEnd records the end of the challenge download
func (m *Metrics) RecordDownloadEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.downloadStart.IsZero() {
		downloadLatency.Observe(time.Since(m.downloadStart).Seconds())
	}
	if !success {
		stageFailures.WithLabelValues("download").Inc()
	}
}

// RecordTranscodeStart records the start of audio normalization
func (m *Metrics) RecordTranscodeStart() {
	m.mu.Lock()
	m.transcodeStart = time.Now()
	m.mu.Unlock()
}

// RecordTranscodeEnd records the end of audio normalization
func (m *Metrics) RecordTranscodeEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transcodeStart.IsZero() {
		transcodeLatency.Observe(time.Since(m.transcodeStart).Seconds())
	}
	if !success {
		stageFailures.WithLabelValues("transcode").Inc()
	}
}

// RecordTranscodeFallback records a fall back to the raw downloaded audio
func (m *Metrics) RecordTranscodeFallback() {
	transcodeFallbacks.Inc()
}

// RecordSTTStart records the start of a speech-to-text request
func (m *Metrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStart = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the end of a speech-to-text request
func (m *Metrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStart.IsZero() {
		sttLatency.Observe(time.Since(m.sttStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	sttRequests.WithLabelValues(status).Inc()
}

// RecordStageFailure records a pipeline stage failure
func (m *Metrics) RecordStageFailure(stage string) {
	stageFailures.WithLabelValues(stage).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
