package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-agent/internal/domain"
	"voice-agent/internal/usecase"
)

// Metrics groups all Prometheus instruments used by the turn loop.
type Metrics struct {
	registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	ListenFailures *prometheus.CounterVec
	JobPolls       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome code.",
		}, []string{"code"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one turn, listening included.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each turn stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failed stages by stage and error code.",
		}, []string{"stage", "code"}),
		ListenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_failures_total",
			Help:      "Listen attempts that produced no text, by code.",
		}, []string{"code"}),
		JobPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_polls_total",
			Help:      "Synthesis job polls by observed status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) StageCompleted(stage usecase.Stage, elapsed time.Duration, err error) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		code, _ := usecase.CodeOf(err)
		m.StageErrors.WithLabelValues(string(stage), string(code)).Inc()
	}
}

func (m *Metrics) TurnCompleted(elapsed time.Duration, err error) {
	m.TurnDuration.Observe(elapsed.Seconds())
	code := "OK"
	if err != nil {
		c, _ := usecase.CodeOf(err)
		code = string(c)
	}
	m.Turns.WithLabelValues(code).Inc()
}

func (m *Metrics) ListenFailed(code usecase.ErrorCode) {
	m.ListenFailures.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) JobPolled(status domain.JobStatus) {
	m.JobPolls.WithLabelValues(string(status)).Inc()
}

// Handler serves this registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ usecase.Observer = (*Metrics)(nil)
