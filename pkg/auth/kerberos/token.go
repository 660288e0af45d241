package kerberos

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Mechanism OIDs accepted in a Kerberos identity token.
var (
	// OIDKerberosV5 is the standard Kerberos 5 OID (RFC 4121).
	OIDKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

	// OIDMSKerberosV5 is the Kerberos 5 OID sent by Windows clients.
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}

	// OIDSPNEGO identifies a SPNEGO negotiation token.
	OIDSPNEGO = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 2}
)

// GSS-API krb5 token IDs (RFC 4121 section 4.1).
const (
	tokenIDAPReq uint16 = 0x0100
	tokenIDAPRep uint16 = 0x0200
)

const (
	tagGSSInitial   = 0x60
	tagAPReq        = 0x6e
	tagNegTokenInit = 0xa0

	negStateAcceptCompleted = 0

	// keyUsageAPRepEncPart is the key usage for the AP-REP encrypted part.
	keyUsageAPRepEncPart = 12
)

var (
	errEmptyToken      = errors.New("empty kerberos token")
	errNoKerberosMech  = errors.New("spnego token does not offer kerberos")
	errNoMechToken     = errors.New("spnego token carries no mechanism token")
	errUnexpectedToken = errors.New("unexpected token")
)

// extractAPReq returns the DER AP-REQ inside an identity token and whether
// it arrived inside SPNEGO. Accepted forms:
//
//	0x6e ...                          raw AP-REQ
//	0x60 len krb5-OID 01 00 AP-REQ    GSS-API initial context token
//	0x60 len SPNEGO-OID NegTokenInit  SPNEGO, mech token in either form above
//	0xa0 ...                          bare NegTokenInit
func extractAPReq(token []byte) ([]byte, bool, error) {
	if len(token) == 0 {
		return nil, false, errEmptyToken
	}

	switch token[0] {
	case tagAPReq:
		return token, false, nil

	case tagNegTokenInit:
		mech, err := mechTokenFromNegTokenInit(token)
		if err != nil {
			return nil, false, err
		}
		raw, err := extractKrb5(mech)
		return raw, true, err

	case tagGSSInitial:
		mechOID, inner, err := unwrapGSS(token)
		if err != nil {
			return nil, false, err
		}
		switch {
		case mechOID.Equal(OIDSPNEGO):
			mech, err := mechTokenFromNegTokenInit(inner)
			if err != nil {
				return nil, false, err
			}
			raw, err := extractKrb5(mech)
			return raw, true, err
		case isKerberosOID(mechOID):
			raw, err := krb5Payload(inner, tokenIDAPReq)
			return raw, false, err
		default:
			return nil, false, fmt.Errorf("%w: mechanism %s", errUnexpectedToken, mechOID.String())
		}
	}

	return nil, false, fmt.Errorf("%w: leading byte 0x%02x", errUnexpectedToken, token[0])
}

// extractKrb5 unwraps a SPNEGO mech token, which is either a raw AP-REQ or a
// krb5 GSS-API initial context token.
func extractKrb5(mech []byte) ([]byte, error) {
	if len(mech) == 0 {
		return nil, errNoMechToken
	}
	if mech[0] == tagAPReq {
		return mech, nil
	}
	mechOID, inner, err := unwrapGSS(mech)
	if err != nil {
		return nil, err
	}
	if !isKerberosOID(mechOID) {
		return nil, fmt.Errorf("%w: mechanism %s", errUnexpectedToken, mechOID.String())
	}
	return krb5Payload(inner, tokenIDAPReq)
}

func mechTokenFromNegTokenInit(b []byte) ([]byte, error) {
	isInit, tok, err := spnego.UnmarshalNegToken(b)
	if err != nil {
		return nil, fmt.Errorf("parse spnego token: %w", err)
	}
	if !isInit {
		return nil, fmt.Errorf("%w: NegTokenResp in a request", errUnexpectedToken)
	}
	neg, ok := tok.(spnego.NegTokenInit)
	if !ok {
		return nil, fmt.Errorf("%w: NegTokenInit type %T", errUnexpectedToken, tok)
	}

	offered := false
	for _, mech := range neg.MechTypes {
		if isKerberosOID(mech) {
			offered = true
			break
		}
	}
	if !offered {
		return nil, errNoKerberosMech
	}
	if len(neg.MechTokenBytes) == 0 {
		return nil, errNoMechToken
	}
	return neg.MechTokenBytes, nil
}

func isKerberosOID(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(OIDKerberosV5) || oid.Equal(OIDMSKerberosV5)
}

// unwrapGSS splits a GSS-API initial context token into its mechanism OID
// and the bytes that follow it.
func unwrapGSS(token []byte) (asn1.ObjectIdentifier, []byte, error) {
	if len(token) < 2 || token[0] != tagGSSInitial {
		return nil, nil, fmt.Errorf("%w: not a GSS-API token", errUnexpectedToken)
	}
	n, hdr, err := parseASN1Length(token[1:])
	if err != nil {
		return nil, nil, err
	}
	body := token[1+hdr:]
	if n > len(body) {
		return nil, nil, fmt.Errorf("GSS-API token truncated: need %d bytes, have %d", n, len(body))
	}
	body = body[:n]

	var oid asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(body, &oid)
	if err != nil {
		return nil, nil, fmt.Errorf("parse mechanism OID: %w", err)
	}
	return oid, rest, nil
}

// krb5Payload strips the two-byte krb5 token ID.
func krb5Payload(inner []byte, want uint16) ([]byte, error) {
	if len(inner) < 2 {
		return nil, fmt.Errorf("krb5 token too short: %d bytes", len(inner))
	}
	if id := uint16(inner[0])<<8 | uint16(inner[1]); id != want {
		return nil, fmt.Errorf("%w: krb5 token ID 0x%04x, want 0x%04x", errUnexpectedToken, id, want)
	}
	return inner[2:], nil
}

// wrapGSS builds a GSS-API initial context token around inner.
func wrapGSS(mech asn1.ObjectIdentifier, inner []byte) ([]byte, error) {
	oid, err := asn1.Marshal(mech)
	if err != nil {
		return nil, fmt.Errorf("marshal mechanism OID: %w", err)
	}

	content := make([]byte, 0, len(oid)+len(inner))
	content = append(content, oid...)
	content = append(content, inner...)

	length := encodeASN1Length(len(content))
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, tagGSSInitial)
	out = append(out, length...)
	return append(out, content...), nil
}

// wrapKrb5 wraps a Kerberos message in a krb5 GSS-API token.
func wrapKrb5(tokenID uint16, msg []byte) ([]byte, error) {
	inner := make([]byte, 0, 2+len(msg))
	inner = append(inner, byte(tokenID>>8), byte(tokenID))
	inner = append(inner, msg...)
	return wrapGSS(OIDKerberosV5, inner)
}

// buildAPRep creates the mutual authentication reply (RFC 4120 section
// 5.5.2). ctime and cusec are echoed from the authenticator; a client
// subkey is echoed back so both sides agree on it.
func buildAPRep(apReq messages.APReq, sessionKey types.EncryptionKey) ([]byte, error) {
	encPart := messages.EncAPRepPart{
		CTime: apReq.Authenticator.CTime,
		Cusec: apReq.Authenticator.Cusec,
	}
	if hasSubkey(apReq) {
		encPart.Subkey = apReq.Authenticator.SubKey
	}

	encInner, err := asn1.Marshal(encPart)
	if err != nil {
		return nil, fmt.Errorf("marshal EncAPRepPart: %w", err)
	}
	encBytes := asn1tools.AddASNAppTag(encInner, 27)

	encrypted, err := crypto.GetEncryptedData(encBytes, sessionKey, keyUsageAPRepEncPart, 0)
	if err != nil {
		return nil, fmt.Errorf("encrypt EncAPRepPart: %w", err)
	}

	apRep := messages.APRep{
		PVNO:    5,
		MsgType: 15,
		EncPart: encrypted,
	}
	repInner, err := asn1.Marshal(apRep)
	if err != nil {
		return nil, fmt.Errorf("marshal AP-REP: %w", err)
	}

	return wrapKrb5(tokenIDAPRep, asn1tools.AddASNAppTag(repInner, 15))
}

func hasSubkey(apReq messages.APReq) bool {
	return apReq.Authenticator.SubKey.KeyType != 0 && len(apReq.Authenticator.SubKey.KeyValue) > 0
}

func encodeASN1Length(length int) []byte {
	if length < 128 {
		return []byte{byte(length)}
	}

	var b []byte
	for length > 0 {
		b = append([]byte{byte(length & 0xff)}, b...)
		length >>= 8
	}
	return append([]byte{byte(0x80 | len(b))}, b...)
}

// parseASN1Length returns the length value and the number of bytes it used.
func parseASN1Length(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty length field")
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, fmt.Errorf("invalid ASN.1 length: %d bytes", numBytes)
	}
	if 1+numBytes > len(data) {
		return 0, 0, fmt.Errorf("truncated ASN.1 length")
	}

	length := 0
	for i := 1; i <= numBytes; i++ {
		length = (length << 8) | int(data[i])
	}
	return length, 1 + numBytes, nil
}
