package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// パイプラインのPrometheusメトリクス
// nil の *Metrics は何も記録しない
type Metrics struct {
	Registry *prometheus.Registry

	EventsProduced   *prometheus.CounterVec
	EventsDispatched prometheus.Counter
	RulesTriggered   *prometheus.CounterVec
	ScanMatches      prometheus.Counter
	ScanErrors       prometheus.Counter
	SinkErrors       prometheus.Counter
	InvalidEvents    prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// 新しいMetricsを作成（専用のレジストリに登録）
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		EventsProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_events_produced_total",
			Help: "Events sent into the pipeline queue, by producer",
		}, []string{"producer"}),
		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_events_dispatched_total",
			Help: "Events forwarded to the sinks",
		}),
		RulesTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_rules_triggered_total",
			Help: "Rule matches stamped by the dispatcher",
		}, []string{"rule"}),
		ScanMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_scan_matches_total",
			Help: "Signature matches reported by the scanner",
		}),
		ScanErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_scan_errors_total",
			Help: "Scans that failed and were treated as no match",
		}),
		SinkErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_sink_errors_total",
			Help: "Events a sink failed to accept",
		}),
		InvalidEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_events_invalid_total",
			Help: "Inbound serialized events rejected as malformed",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_queue_depth",
			Help: "Events waiting in the pipeline queue",
		}),
	}
}

func (m *Metrics) IncProduced(producer string) {
	if m != nil {
		m.EventsProduced.WithLabelValues(producer).Inc()
	}
}

func (m *Metrics) IncDispatched() {
	if m != nil {
		m.EventsDispatched.Inc()
	}
}

func (m *Metrics) IncRuleTriggered(rule string) {
	if m != nil {
		m.RulesTriggered.WithLabelValues(rule).Inc()
	}
}

func (m *Metrics) AddScanMatches(n int) {
	if m != nil {
		m.ScanMatches.Add(float64(n))
	}
}

func (m *Metrics) IncScanErrors() {
	if m != nil {
		m.ScanErrors.Inc()
	}
}

func (m *Metrics) IncSinkErrors() {
	if m != nil {
		m.SinkErrors.Inc()
	}
}

func (m *Metrics) IncInvalidEvents() {
	if m != nil {
		m.InvalidEvents.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
