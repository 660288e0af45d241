package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for association correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID

	// ========================================================================
	// Association
	// ========================================================================
	KeyAssocID   = "assoc_id"   // Association identifier (UUID)
	KeyPeer      = "peer"       // Remote address of the peer
	KeyCallingAE = "calling_ae" // Calling AE title
	KeyCalledAE  = "called_ae"  // Called AE title
	KeyState     = "state"      // Association protocol state
	KeyOutcome   = "outcome"    // Final association outcome

	// ========================================================================
	// PDUs
	// ========================================================================
	KeyPDUType   = "pdu_type"  // PDU type name
	KeyPDULen    = "pdu_len"   // PDU length in bytes, header included
	KeyMaxPDU    = "max_pdu"   // Negotiated maximum PDU length
	KeyDirection = "direction" // in or out
	KeySource    = "source"    // Reject or abort source
	KeyReason    = "reason"    // Reject or abort reason
	KeyResult    = "result"    // Reject or presentation context result

	// ========================================================================
	// Presentation Contexts
	// ========================================================================
	KeyPresCtxID      = "pres_ctx_id"     // Presentation context ID
	KeyAbstractSyntax = "abstract_syntax" // Abstract syntax (SOP class) UID
	KeyTransferSyntax = "transfer_syntax" // Transfer syntax UID
	KeyRole           = "role"            // Negotiated SCU/SCP role
	KeyCommand        = "command"         // PDV carries a command
	KeyBytes          = "bytes"           // Payload byte count

	// ========================================================================
	// Identity
	// ========================================================================
	KeyIdentityMode = "identity_mode" // User identity negotiation mode
	KeyUsername     = "username"      // Authenticated user name
	KeyProvider     = "provider"      // Identity provider that handled the request

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCondition  = "condition"   // Condition identifier (module:code)
	KeyOperation  = "operation"   // Sub-operation type

	// ========================================================================
	// Storage Backends
	// ========================================================================
	KeyStoreType = "store_type" // Store type: memory, filesystem, badger, s3
	KeyBucket    = "bucket"     // S3 bucket name
	KeyKey       = "key"        // Object key
	KeyPath      = "path"       // Filesystem path
)

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Association
// ----------------------------------------------------------------------------

// AssocID returns a slog.Attr for the association identifier
func AssocID(id string) slog.Attr {
	return slog.String(KeyAssocID, id)
}

// Peer returns a slog.Attr for the remote peer address
func Peer(addr string) slog.Attr {
	return slog.String(KeyPeer, addr)
}

// CallingAE returns a slog.Attr for the calling AE title
func CallingAE(ae string) slog.Attr {
	return slog.String(KeyCallingAE, ae)
}

// CalledAE returns a slog.Attr for the called AE title
func CalledAE(ae string) slog.Attr {
	return slog.String(KeyCalledAE, ae)
}

// State returns a slog.Attr for an association state
func State(s fmt.Stringer) slog.Attr {
	return slog.String(KeyState, s.String())
}

// Outcome returns a slog.Attr for the final association outcome
func Outcome(o string) slog.Attr {
	return slog.String(KeyOutcome, o)
}

// ----------------------------------------------------------------------------
// PDUs
// ----------------------------------------------------------------------------

// PDUType returns a slog.Attr for a PDU type
func PDUType(t fmt.Stringer) slog.Attr {
	return slog.String(KeyPDUType, t.String())
}

// PDULen returns a slog.Attr for a PDU length
func PDULen(n int) slog.Attr {
	return slog.Int(KeyPDULen, n)
}

// MaxPDU returns a slog.Attr for a negotiated maximum PDU length
func MaxPDU(n uint32) slog.Attr {
	return slog.Uint64(KeyMaxPDU, uint64(n))
}

// ----------------------------------------------------------------------------
// Presentation Contexts
// ----------------------------------------------------------------------------

// PresCtxID returns a slog.Attr for a presentation context ID
func PresCtxID(id uint8) slog.Attr {
	return slog.Int(KeyPresCtxID, int(id))
}

// AbstractSyntax returns a slog.Attr for an abstract syntax UID
func AbstractSyntax(u string) slog.Attr {
	return slog.String(KeyAbstractSyntax, u)
}

// TransferSyntax returns a slog.Attr for a transfer syntax UID
func TransferSyntax(u string) slog.Attr {
	return slog.String(KeyTransferSyntax, u)
}

// Role returns a slog.Attr for a negotiated role
func Role(r fmt.Stringer) slog.Attr {
	return slog.String(KeyRole, r.String())
}

// ----------------------------------------------------------------------------
// Identity
// ----------------------------------------------------------------------------

// IdentityMode returns a slog.Attr for a user identity mode
func IdentityMode(m fmt.Stringer) slog.Attr {
	return slog.String(KeyIdentityMode, m.String())
}

// Username returns a slog.Attr for an authenticated user name
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Condition returns a slog.Attr for a condition identifier such as "UL:0101"
func Condition(id string) slog.Attr {
	return slog.String(KeyCondition, id)
}

// StoreType returns a slog.Attr for a storage backend type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}
