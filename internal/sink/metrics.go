package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drksbr/facecam/internal/util/bytelimiter"
)

const (
	resultStored   = "stored"
	resultRejected = "rejected"
	resultError    = "error"
)

type sinkMetrics struct {
	uploads *prometheus.CounterVec
	bytes   prometheus.Counter
}

func newSinkMetrics(reg prometheus.Registerer, inflight *bytelimiter.ByteLimiter) *sinkMetrics {
	m := &sinkMetrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facecam_sink_uploads_total",
			Help: "Uploads received by endpoint and result",
		}, []string{"endpoint", "result"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facecam_sink_stored_bytes_total",
			Help: "Image bytes written to disk",
		}),
	}
	inflightGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "facecam_sink_inflight_bytes",
		Help: "Request bytes currently reserved by uploads in progress",
	}, func() float64 {
		return float64(inflight.Used())
	})
	reg.MustRegister(m.uploads, m.bytes, inflightGauge)
	return m
}

func (m *sinkMetrics) observe(endpoint, result string, n int) {
	m.uploads.WithLabelValues(endpoint, result).Inc()
	if n > 0 {
		m.bytes.Add(float64(n))
	}
}
