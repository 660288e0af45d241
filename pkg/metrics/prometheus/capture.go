package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomul/pkg/metrics"
)

// captureMetrics is the Prometheus implementation of metrics.CaptureMetrics.
type captureMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

// NewCaptureMetrics creates Prometheus-backed capture store metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCaptureMetrics() metrics.CaptureMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newCaptureMetrics(metrics.GetRegistry())
}

func newCaptureMetrics(reg prometheus.Registerer) *captureMetrics {
	return &captureMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "capture",
				Name:      "operations_total",
				Help:      "Total number of capture store operations by store, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "capture",
				Name:      "operation_duration_milliseconds",
				Help:      "Duration of capture store operations in milliseconds",
				Buckets: []float64{
					0.1,   // memory
					1,     // local disk
					10,    // badger sync
					50,    // small object upload
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - large datasets
					30000, // 30s
				},
			},
			[]string{"store", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "capture",
				Name:      "bytes_total",
				Help:      "Total payload bytes moved by capture store operations",
			},
			[]string{"store", "operation"},
		),
	}
}

func (m *captureMetrics) ObserveOperation(store string, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(store, operation, status).Inc()
	m.operationDuration.WithLabelValues(store, operation).Observe(duration.Seconds() * 1000)
}

func (m *captureMetrics) RecordBytes(store string, operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(store, operation).Add(float64(bytes))
}
