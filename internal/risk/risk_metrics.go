package risk

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the risk pipeline.
type Metrics struct {
	ProcessTotal       *prometheus.CounterVec
	EvaluationsTotal   *prometheus.CounterVec
	HistorySamples     prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns risk metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuntwatch_checkins_processed_total",
			Help: "Total check-in events processed by terminal outcome.",
		}, []string{"outcome"}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuntwatch_evaluations_total",
			Help: "Total risk evaluations by resulting level.",
		}, []string{"level"}),
		HistorySamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuntwatch_weight_history_samples",
			Help:    "Weight-bearing history samples available per evaluation.",
			Buckets: prometheus.LinearBuckets(0, 1, HistoryWindow+1), // 0 .. 4
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuntwatch_escalation_notifications_total",
			Help: "Total escalation notifications by delivery status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.ProcessTotal,
		m.EvaluationsTotal,
		m.HistorySamples,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns a ServiceHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnProcess: func(outcome string) {
			m.ProcessTotal.WithLabelValues(outcome).Inc()
		},
		OnEvaluate: func(level Level, historySamples int) {
			m.EvaluationsTotal.WithLabelValues(string(level)).Inc()
			m.HistorySamples.Observe(float64(historySamples))
		},
		OnNotify: func(ok bool) {
			status := "sent"
			if !ok {
				status = "error"
			}
			m.NotificationsTotal.WithLabelValues(status).Inc()
		},
	}
}
