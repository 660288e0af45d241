// Package pdu encodes and decodes DICOM Upper Layer protocol data units
// (PS3.8 section 9.3) and the items nested inside them.
//
// Every PDU starts with a six byte header {type, reserved, length u32}. Items
// inside A-ASSOCIATE-RQ/AC use a four byte header {type, reserved, length
// u16}. All integers are big-endian. Each nested item is decoded from a
// reader bounded to the item's declared length, and that length is checked
// against what remains of the enclosing item before anything is read.
//
// The package is stateless; a Codec only carries the size ceiling applied
// when decoding.
package pdu

import "fmt"

// Type is the PDU type byte.
type Type uint8

const (
	TypeAssociateRQ Type = 0x01
	TypeAssociateAC Type = 0x02
	TypeAssociateRJ Type = 0x03
	TypePDataTF     Type = 0x04
	TypeReleaseRQ   Type = 0x05
	TypeReleaseRP   Type = 0x06
	TypeAbort       Type = 0x07
)

func (t Type) String() string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("PDU(0x%02X)", uint8(t))
	}
}

// Known reports whether t is one of the seven PDU types.
func (t Type) Known() bool {
	return t >= TypeAssociateRQ && t <= TypeAbort
}

const (
	// HeaderSize is the size of the PDU header.
	HeaderSize = 6

	// ProtocolVersion is the only protocol version defined by PS3.8.
	ProtocolVersion uint16 = 0x0001

	// AETitleLength is the fixed wire width of an AE title.
	AETitleLength = 16
)

// PDU is one decoded protocol data unit. The concrete types are
// *AssociateRQ, *AssociateAC, *AssociateRJ, *PDataTF, *ReleaseRQ,
// *ReleaseRP and *Abort.
type PDU interface {
	Type() Type
}

// AssociateRQ is the A-ASSOCIATE-RQ PDU.
type AssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextRQ
	UserInfo             UserInformation
}

func (*AssociateRQ) Type() Type { return TypeAssociateRQ }

// AssociateAC is the A-ASSOCIATE-AC PDU. The AE title fields are echoed
// from the request and carry no meaning on receipt.
type AssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextAC
	UserInfo             UserInformation
}

func (*AssociateAC) Type() Type { return TypeAssociateAC }

// Rejection results.
const (
	RejectPermanent uint8 = 1
	RejectTransient uint8 = 2
)

// Rejection sources.
const (
	RejectSourceServiceUser         uint8 = 1
	RejectSourceServiceProviderACSE uint8 = 2
	RejectSourceServiceProviderPres uint8 = 3
)

// Rejection reasons for source service-user.
const (
	RejectReasonNoReason                       uint8 = 1
	RejectReasonApplicationContextNotSupported uint8 = 2
	RejectReasonCallingAETitleNotRecognized    uint8 = 3
	RejectReasonCalledAETitleNotRecognized     uint8 = 7
)

// Rejection reasons for source service-provider (ACSE and presentation).
const (
	RejectReasonACSENoReason                uint8 = 1
	RejectReasonProtocolVersionNotSupported uint8 = 2
	RejectReasonTemporaryCongestion         uint8 = 1
	RejectReasonLocalLimitExceeded          uint8 = 2
)

// AssociateRJ is the A-ASSOCIATE-RJ PDU.
type AssociateRJ struct {
	Result uint8
	Source uint8
	Reason uint8
}

func (*AssociateRJ) Type() Type { return TypeAssociateRJ }

func (rj *AssociateRJ) String() string {
	result := "permanent"
	if rj.Result == RejectTransient {
		result = "transient"
	}
	var source, reason string
	switch rj.Source {
	case RejectSourceServiceUser:
		source = "service-user"
		switch rj.Reason {
		case RejectReasonNoReason:
			reason = "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			reason = "application-context-name-not-supported"
		case RejectReasonCallingAETitleNotRecognized:
			reason = "calling-AE-title-not-recognized"
		case RejectReasonCalledAETitleNotRecognized:
			reason = "called-AE-title-not-recognized"
		}
	case RejectSourceServiceProviderACSE:
		source = "service-provider (ACSE)"
		switch rj.Reason {
		case RejectReasonACSENoReason:
			reason = "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			reason = "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPres:
		source = "service-provider (presentation)"
		switch rj.Reason {
		case RejectReasonTemporaryCongestion:
			reason = "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			reason = "local-limit-exceeded"
		}
	default:
		source = fmt.Sprintf("source %d", rj.Source)
	}
	if reason == "" {
		reason = fmt.Sprintf("reason %d", rj.Reason)
	}
	return fmt.Sprintf("%s rejection by %s: %s", result, source, reason)
}

// PDV is one presentation data value item of a P-DATA-TF PDU.
type PDV struct {
	ContextID uint8
	Command   bool
	Last      bool
	Data      []byte
}

// PDVHeaderSize is the item length field plus context ID and control header.
const PDVHeaderSize = 6

const (
	pdvCommandBit = 0x01
	pdvLastBit    = 0x02
)

func (v PDV) control() uint8 {
	var c uint8
	if v.Command {
		c |= pdvCommandBit
	}
	if v.Last {
		c |= pdvLastBit
	}
	return c
}

// PDataTF is the P-DATA-TF PDU.
type PDataTF struct {
	Values []PDV
}

func (*PDataTF) Type() Type { return TypePDataTF }

// ReleaseRQ is the A-RELEASE-RQ PDU.
type ReleaseRQ struct{}

func (*ReleaseRQ) Type() Type { return TypeReleaseRQ }

// ReleaseRP is the A-RELEASE-RP PDU.
type ReleaseRP struct{}

func (*ReleaseRP) Type() Type { return TypeReleaseRP }

// Abort sources.
const (
	AbortSourceServiceUser     uint8 = 0
	AbortSourceServiceProvider uint8 = 2
)

// Abort reasons, meaningful for source service-provider only.
const (
	AbortReasonNotSpecified          uint8 = 0
	AbortReasonUnrecognizedPDU       uint8 = 1
	AbortReasonUnexpectedPDU         uint8 = 2
	AbortReasonUnrecognizedParameter uint8 = 4
	AbortReasonUnexpectedParameter   uint8 = 5
	AbortReasonInvalidParameter      uint8 = 6
)

// Abort is the A-ABORT PDU.
type Abort struct {
	Source uint8
	Reason uint8
}

func (*Abort) Type() Type { return TypeAbort }

func (a *Abort) String() string {
	source := "service-user"
	switch a.Source {
	case AbortSourceServiceUser:
	case AbortSourceServiceProvider:
		source = "service-provider"
	default:
		source = fmt.Sprintf("source %d", a.Source)
	}
	var reason string
	switch a.Reason {
	case AbortReasonNotSpecified:
		reason = "reason-not-specified"
	case AbortReasonUnrecognizedPDU:
		reason = "unrecognized-PDU"
	case AbortReasonUnexpectedPDU:
		reason = "unexpected-PDU"
	case AbortReasonUnrecognizedParameter:
		reason = "unrecognized-PDU-parameter"
	case AbortReasonUnexpectedParameter:
		reason = "unexpected-PDU-parameter"
	case AbortReasonInvalidParameter:
		reason = "invalid-PDU-parameter-value"
	default:
		reason = fmt.Sprintf("reason %d", a.Reason)
	}
	return fmt.Sprintf("abort by %s: %s", source, reason)
}
