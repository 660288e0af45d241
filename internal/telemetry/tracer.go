package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Peer and storage keys follow the OpenTelemetry semantic
// conventions; protocol keys live under "dicom.".
const (
	AttrPeerAddr   = "network.peer.address"
	AttrAssocID    = "dicom.association.id"
	AttrSide       = "dicom.association.side"
	AttrState      = "dicom.association.state"
	AttrOutcome    = "dicom.association.outcome"
	AttrCallingAE  = "dicom.calling_ae"
	AttrCalledAE   = "dicom.called_ae"
	AttrCondition  = "dicom.condition"
	AttrPresCtxID  = "dicom.pres_ctx.id"
	AttrCommand    = "dicom.pdv.command"
	AttrBytes      = "dicom.bytes"
	AttrStoreType  = "store.type"
	AttrStorageKey = "storage.key"
)

// Span names.
const (
	SpanAssociation  = "dicom.association"
	SpanCaptureWrite = "capture.write"
	SpanAuditRecord  = "audit.record"
)

func State(s string) attribute.KeyValue { return attribute.String(AttrState, s) }
func Outcome(s string) attribute.KeyValue { return attribute.String(AttrOutcome, s) }
func CallingAE(ae string) attribute.KeyValue { return attribute.String(AttrCallingAE, ae) }
func CalledAE(ae string) attribute.KeyValue { return attribute.String(AttrCalledAE, ae) }

// Condition tags a span with a condition identifier such as "UL:0101".
func Condition(id string) attribute.KeyValue { return attribute.String(AttrCondition, id) }

func PresCtxID(id uint8) attribute.KeyValue { return attribute.Int(AttrPresCtxID, int(id)) }
func Command(command bool) attribute.KeyValue { return attribute.Bool(AttrCommand, command) }
func Bytes(n int) attribute.KeyValue { return attribute.Int(AttrBytes, n) }
func StorageKey(key string) attribute.KeyValue { return attribute.String(AttrStorageKey, key) }

// StartAssociationSpan starts the root span of one association. Acceptor
// spans are server spans and requestor spans are client spans.
func StartAssociationSpan(ctx context.Context, id, side, peer string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	kind := trace.SpanKindServer
	if side == "requestor" {
		kind = trace.SpanKindClient
	}
	all := append([]attribute.KeyValue{
		attribute.String(AttrAssocID, id),
		attribute.String(AttrSide, side),
		attribute.String(AttrPeerAddr, peer),
	}, attrs...)
	return StartSpan(ctx, SpanAssociation, trace.WithAttributes(all...), trace.WithSpanKind(kind))
}

// StartStoreSpan starts a span for one storage backend call.
func StartStoreSpan(ctx context.Context, name, storeType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String(AttrStoreType, storeType)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}
