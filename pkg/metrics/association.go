package metrics

import (
	"time"
)

// AssociationMetrics provides observability for the DICOM adapter.
//
// Implementations collect connection lifecycle, association outcome,
// PDU traffic and negotiation results. Pass nil to disable collection.
//
// Example usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewAssociationMetrics()
//	adapter := dicom.New(cfg, deps, m)
type AssociationMetrics interface {
	// RecordConnectionAccepted counts a transport connection handed to an
	// association.
	RecordConnectionAccepted()

	// RecordConnectionRefused counts a connection closed before any PDU
	// was read, e.g. because the connection limit was reached.
	RecordConnectionRefused(reason string)

	// RecordConnectionForceClosed counts connections closed by shutdown
	// after the grace period.
	RecordConnectionForceClosed()

	// SetActiveAssociations updates the number of live associations.
	SetActiveAssociations(count int32)

	// RecordAssociation records a finished association.
	//
	// Parameters:
	//   - outcome: "released", "rejected", "aborted" or "dropped"
	//   - duration: time from transport connect to the terminal state
	RecordAssociation(outcome string, duration time.Duration)

	// RecordPDU records one PDU crossing the transport.
	//
	// Parameters:
	//   - direction: "in" or "out"
	//   - pduType: PDU type name, e.g. "P-DATA-TF"
	//   - bytes: encoded size including the 6-byte header
	RecordPDU(direction string, pduType string, bytes int)

	// RecordPresentationContext counts one negotiated context by result
	// name ("acceptance", "abstract-syntax-not-supported", ...).
	RecordPresentationContext(result string)

	// RecordIdentity counts one user identity verification.
	//
	// Parameters:
	//   - mode: identity mode name, e.g. "username-password"
	//   - outcome: "accepted" or "rejected"
	RecordIdentity(mode string, outcome string)

	// RecordUnit counts one reassembled command or dataset.
	RecordUnit(command bool, bytes int)
}
