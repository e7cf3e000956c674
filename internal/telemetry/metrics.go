package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Upload outcomes used as the "result" label.
const (
	ResultOK         = "ok"
	ResultRejected   = "rejected"
	ResultTransport  = "transport"
	ResultAllocation = "allocation"
)

// Metrics are the capture loop counters.
type Metrics struct {
	FramesCaptured  prometheus.Counter
	CaptureFailures prometheus.Counter
	Uploads         *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	PayloadBytes    prometheus.Counter
	Reconnects      prometheus.Counter
	LinkUp          prometheus.Gauge
	LastUploadTime  prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facecam_frames_captured_total",
			Help: "Frames successfully captured",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facecam_capture_failures_total",
			Help: "Capture attempts that returned no frame",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facecam_uploads_total",
			Help: "Upload attempts by result",
		}, []string{"result"}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecam_upload_duration_seconds",
			Help:    "Time spent in the upload request",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		PayloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facecam_payload_bytes_total",
			Help: "Multipart bytes sent to the endpoint",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facecam_reconnect_requests_total",
			Help: "Reconnect requests issued while the link was down",
		}),
		LinkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facecam_link_up",
			Help: "1 when the uplink was connected at the last check",
		}),
		LastUploadTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facecam_last_upload_timestamp_seconds",
			Help: "Unix time of the last successful upload",
		}),
	}
	for _, result := range []string{ResultOK, ResultRejected, ResultTransport, ResultAllocation} {
		m.Uploads.WithLabelValues(result)
	}

	reg.MustRegister(
		m.FramesCaptured,
		m.CaptureFailures,
		m.Uploads,
		m.UploadDuration,
		m.PayloadBytes,
		m.Reconnects,
		m.LinkUp,
		m.LastUploadTime,
	)
	return m
}
