// Package metrics はジョブライフサイクルの Prometheus 指標を提供します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は変換サービスの計測指標をまとめた構造体です。
// nil レシーバーでも安全に呼べるため、テストでは未配線のままで構いません。
type Metrics struct {
	registry *prometheus.Registry

	DocumentsReceived  prometheus.Counter
	JobsEnqueued       prometheus.Counter
	JobsSucceeded      prometheus.Counter
	JobsFailed         prometheus.Counter
	JobsInFlight       prometheus.Gauge
	ConversionDuration prometheus.Histogram
}

// New は指標を登録済みの Metrics を作成します。
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		DocumentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdfmill_documents_received_total",
			Help: "受領したドキュメント数（検証通過分）",
		}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdfmill_jobs_enqueued_total",
			Help: "キューに投入されたジョブ数",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdfmill_jobs_succeeded_total",
			Help: "変換に成功したジョブ数",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdfmill_jobs_failed_total",
			Help: "変換に失敗したジョブ数",
		}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pdfmill_jobs_in_flight",
			Help: "現在処理中のジョブ数",
		}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdfmill_conversion_duration_seconds",
			Help:    "1ジョブあたりの変換所要時間",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Handler は /metrics 用の HTTP ハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReceived はドキュメント受領を記録します。
func (m *Metrics) ObserveReceived() {
	if m == nil {
		return
	}
	m.DocumentsReceived.Inc()
}

// ObserveEnqueued はジョブ投入を記録します。
func (m *Metrics) ObserveEnqueued() {
	if m == nil {
		return
	}
	m.JobsEnqueued.Inc()
}

// ObserveStarted は処理開始を記録します。
func (m *Metrics) ObserveStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

// ObserveFinished は処理終了を記録します。所要時間は秒で渡します。
func (m *Metrics) ObserveFinished(succeeded bool, seconds float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.ConversionDuration.Observe(seconds)
	if succeeded {
		m.JobsSucceeded.Inc()
	} else {
		m.JobsFailed.Inc()
	}
}
