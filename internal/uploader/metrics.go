package uploader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindJob      = "job"
	kindAnalysis = "analysis"

	outcomeSubmitted = "submitted"
	outcomeError     = "error"
)

// Metrics exposes uploader activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	cycles        prometheus.Counter
	cyclesSkipped prometheus.Counter
	submissions   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics registers the uploader collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enaupload",
			Subsystem: "uploader",
			Name:      "cycles_total",
			Help:      "Upload cycles run by this process.",
		}),
		cyclesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enaupload",
			Subsystem: "uploader",
			Name:      "cycles_skipped_total",
			Help:      "Upload cycles skipped because another process held the lease.",
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enaupload",
			Subsystem: "uploader",
			Name:      "submissions_total",
			Help:      "Registry submissions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enaupload",
			Subsystem: "uploader",
			Name:      "submission_duration_seconds",
			Help:      "Time spent in the registry adapter per submission.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),
	}
}

func (m *Metrics) cycle(skipped bool) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	if skipped {
		m.cyclesSkipped.Inc()
	}
}

func (m *Metrics) submission(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, outcome).Inc()
	if took > 0 {
		m.duration.WithLabelValues(kind).Observe(took.Seconds())
	}
}
