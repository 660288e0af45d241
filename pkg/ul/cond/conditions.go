package cond

// Success.
var Normal = New(ModuleUpperLayer, 0x0000, SeverityOk, "normal")

// Encoding conditions.
var (
	MalformedPdu               = New(ModuleUpperLayer, 0x0101, SeverityError, "malformed PDU")
	PduTooLarge                = New(ModuleUpperLayer, 0x0102, SeverityError, "PDU too large")
	UnknownPduType             = New(ModuleUpperLayer, 0x0103, SeverityError, "unknown PDU type")
	TruncatedItem              = New(ModuleUpperLayer, 0x0104, SeverityError, "truncated item")
	IllegalPduLength           = New(ModuleUpperLayer, 0x0105, SeverityError, "illegal PDU length")
	ResponseTooLarge           = New(ModuleUpperLayer, 0x0106, SeverityError, "response too large")
	UnknownPresentationContext = New(ModuleUpperLayer, 0x0107, SeverityError, "unknown presentation context")
	InvalidUID                 = New(ModuleUpperLayer, 0x0108, SeverityError, "invalid UID")
	InvalidParameter           = New(ModuleUpperLayer, 0x0109, SeverityError, "invalid parameter")
)

// Association conditions.
var (
	SequencingError       = New(ModuleAssociation, 0x0201, SeverityError, "unexpected PDU for association state")
	AssociationRejected   = New(ModuleAssociation, 0x0202, SeverityError, "association rejected")
	AssociationAborted    = New(ModuleAssociation, 0x0203, SeverityError, "association aborted")
	PeerAborted           = New(ModuleAssociation, 0x0204, SeverityError, "association aborted by peer")
	RoleNegotiationFailed = New(ModuleAssociation, 0x0205, SeverityWarning, "role negotiation failed")
	AssociationReleased   = New(ModuleAssociation, 0x0206, SeverityOk, "association released")
)

// Transport conditions.
var (
	ReadTimeout     = New(ModuleTransport, 0x0301, SeverityError, "read timeout")
	TransportClosed = New(ModuleTransport, 0x0302, SeverityError, "transport closed")
	TransportFailed = New(ModuleTransport, 0x0303, SeverityError, "transport failure")
)

// Identity conditions.
var (
	IdentityRejected = New(ModuleIdentity, 0x0401, SeverityError, "user identity rejected")
)
