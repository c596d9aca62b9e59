// Package metrics holds the Prometheus collectors for the chat pipeline.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wellbeing"

// Pipeline stages.
const (
	StageHistory    = "history"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageTracking   = "tracking"
	StagePersist    = "persist"
)

type Metrics struct {
	chatTurns        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	sensitiveMatches *prometheus.CounterVec
	keywordMatches   prometheus.Counter
	trackingFailures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome (Success or Failure).",
		}, []string{"outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_stage_duration_seconds",
			Help:      "Duration of each chat pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		sensitiveMatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensitive_matches_total",
			Help:      "Messages matching a sensitive lexicon category.",
		}, []string{"category"}),
		keywordMatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyword_matches_total",
			Help:      "Keyword corpus matches across all messages.",
		}),
		trackingFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_failures_total",
			Help:      "Failed best-effort counter updates by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) TurnOutcome(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SensitiveMatch(category string) {
	if m == nil {
		return
	}
	m.sensitiveMatches.WithLabelValues(category).Inc()
}

func (m *Metrics) KeywordMatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keywordMatches.Add(float64(n))
}

func (m *Metrics) TrackingFailure(kind string) {
	if m == nil {
		return
	}
	m.trackingFailures.WithLabelValues(kind).Inc()
}
