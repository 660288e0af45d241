// Package prometheus implements the pkg/metrics interfaces on the
// registry created by metrics.InitRegistry.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dicomul/pkg/metrics"
)

const namespace = "dicomul"

// associationMetrics is the Prometheus implementation of
// metrics.AssociationMetrics.
type associationMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsRefused     *prometheus.CounterVec
	connectionsForceClosed prometheus.Counter
	activeAssociations     prometheus.Gauge
	associationsTotal      *prometheus.CounterVec
	associationDuration    *prometheus.HistogramVec
	pdusTotal              *prometheus.CounterVec
	pduBytes               *prometheus.CounterVec
	pduSize                *prometheus.HistogramVec
	contextsTotal          *prometheus.CounterVec
	identityTotal          *prometheus.CounterVec
	unitsTotal             *prometheus.CounterVec
	unitBytes              *prometheus.HistogramVec
}

// NewAssociationMetrics creates Prometheus-backed association metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewAssociationMetrics() metrics.AssociationMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newAssociationMetrics(metrics.GetRegistry())
}

func newAssociationMetrics(reg prometheus.Registerer) *associationMetrics {
	return &associationMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_accepted_total",
				Help:      "Total number of transport connections handed to an association",
			},
		),
		connectionsRefused: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_refused_total",
				Help:      "Total number of connections closed before negotiation by reason",
			},
			[]string{"reason"},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_force_closed_total",
				Help:      "Total number of connections closed after the shutdown timeout",
			},
		),
		activeAssociations: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "associations_active",
				Help:      "Current number of live associations",
			},
		),
		associationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "associations_total",
				Help:      "Total number of finished associations by outcome",
			},
			[]string{"outcome"}, // released, rejected, aborted, dropped
		),
		associationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "association_duration_seconds",
				Help:      "Time from connect to the terminal state",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{"outcome"},
		),
		pdusTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pdus_total",
				Help:      "Total number of PDUs by direction and type",
			},
			[]string{"direction", "type"},
		),
		pduBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pdu_bytes_total",
				Help:      "Total encoded PDU bytes by direction",
			},
			[]string{"direction"},
		),
		pduSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pdu_size_bytes",
				Help:      "Distribution of encoded PDU sizes",
				Buckets: []float64{
					64,      // release and abort
					1024,    // small commands
					16384,   // default max PDU length
					65536,   // 64KB
					262144,  // 256KB
					1048576, // 1MB
					4194304, // 4MB
				},
			},
			[]string{"direction"},
		),
		contextsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presentation_contexts_total",
				Help:      "Total number of negotiated presentation contexts by result",
			},
			[]string{"result"},
		),
		identityTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_verifications_total",
				Help:      "Total number of user identity verifications by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		unitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Total number of reassembled commands and datasets",
			},
			[]string{"command"},
		),
		unitBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_size_bytes",
				Help:      "Distribution of reassembled command and dataset sizes",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"command"},
		),
	}
}

func (m *associationMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *associationMetrics) RecordConnectionRefused(reason string) {
	if m == nil {
		return
	}
	m.connectionsRefused.WithLabelValues(reason).Inc()
}

func (m *associationMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connectionsForceClosed.Inc()
}

func (m *associationMetrics) SetActiveAssociations(count int32) {
	if m == nil {
		return
	}
	m.activeAssociations.Set(float64(count))
}

func (m *associationMetrics) RecordAssociation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.associationsTotal.WithLabelValues(outcome).Inc()
	m.associationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *associationMetrics) RecordPDU(direction string, pduType string, bytes int) {
	if m == nil {
		return
	}
	m.pdusTotal.WithLabelValues(direction, pduType).Inc()
	m.pduBytes.WithLabelValues(direction).Add(float64(bytes))
	m.pduSize.WithLabelValues(direction).Observe(float64(bytes))
}

func (m *associationMetrics) RecordPresentationContext(result string) {
	if m == nil {
		return
	}
	m.contextsTotal.WithLabelValues(result).Inc()
}

func (m *associationMetrics) RecordIdentity(mode string, outcome string) {
	if m == nil {
		return
	}
	m.identityTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *associationMetrics) RecordUnit(command bool, bytes int) {
	if m == nil {
		return
	}
	label := strconv.FormatBool(command)
	m.unitsTotal.WithLabelValues(label).Inc()
	m.unitBytes.WithLabelValues(label).Observe(float64(bytes))
}
