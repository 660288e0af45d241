package pdu

import (
	"fmt"

	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// IdentityMode is the user identity type of a User Identity Negotiation
// request.
type IdentityMode uint8

const (
	IdentityNone             IdentityMode = 0
	IdentityUsername         IdentityMode = 1
	IdentityUsernamePassword IdentityMode = 2
	IdentityKerberos         IdentityMode = 3
	IdentitySAML             IdentityMode = 4
	IdentityJWT              IdentityMode = 5
	IdentityUnknown          IdentityMode = 0xFF
)

func (m IdentityMode) String() string {
	switch m {
	case IdentityNone:
		return "none"
	case IdentityUsername:
		return "username"
	case IdentityUsernamePassword:
		return "username-password"
	case IdentityKerberos:
		return "kerberos"
	case IdentitySAML:
		return "saml"
	case IdentityJWT:
		return "jwt"
	default:
		return "unknown"
	}
}

// ParseIdentityMode is the inverse of IdentityMode.String.
func ParseIdentityMode(s string) (IdentityMode, error) {
	for m := IdentityNone; m <= IdentityJWT; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return IdentityUnknown, fmt.Errorf("unknown identity mode %q", s)
}

func clampIdentityMode(b uint8) IdentityMode {
	if b < uint8(IdentityUsername) || b > uint8(IdentityJWT) {
		return IdentityUnknown
	}
	return IdentityMode(b)
}

const (
	// MaxIdentityField is the largest primary or secondary field.
	MaxIdentityField = 0xFFFF

	// MaxServerResponse bounds the server response plus its length field.
	MaxServerResponse = 0xFFFF

	minUserIdentityRQ = 10
	minUserIdentityAC = 6
)

// UserIdentity is the closed union of the two User Identity Negotiation
// sub-items: *UserIdentityRQ and *UserIdentityAC.
type UserIdentity interface {
	ItemType() ItemType
	isUserIdentity()
}

// UserIdentityRQ is the User Identity Negotiation request sub-item.
// Secondary is carried only in IdentityUsernamePassword mode.
type UserIdentityRQ struct {
	Mode                      IdentityMode
	PositiveResponseRequested bool
	Primary                   []byte
	Secondary                 []byte
}

func (UserIdentityRQ) ItemType() ItemType { return ItemUserIdentityRQ }
func (UserIdentityRQ) isUserIdentity()    {}

// UserIdentityAC is the User Identity Negotiation acknowledge sub-item.
type UserIdentityAC struct {
	ServerResponse []byte
}

func (UserIdentityAC) ItemType() ItemType { return ItemUserIdentityAC }
func (UserIdentityAC) isUserIdentity()    {}

// DecodeUserIdentity decodes either user identity sub-item, selected by its
// item type byte. buf starts at the item type and may extend past the item.
func DecodeUserIdentity(buf []byte) (UserIdentity, error) {
	if len(buf) == 0 {
		return nil, cond.IllegalPduLength.Errorf("empty user identity item")
	}
	switch ItemType(buf[0]) {
	case ItemUserIdentityRQ:
		return DecodeUserIdentityRQ(buf)
	case ItemUserIdentityAC:
		return DecodeUserIdentityAC(buf)
	default:
		return nil, cond.MalformedPdu.Errorf("item type 0x%02X is not a user identity item", buf[0])
	}
}

// DecodeUserIdentityRQ decodes a user identity request item. buf starts at
// the item type and may extend past the item.
func DecodeUserIdentityRQ(buf []byte) (*UserIdentityRQ, error) {
	if len(buf) < minUserIdentityRQ {
		return nil, cond.IllegalPduLength.Errorf("user identity request is %d bytes, need at least %d", len(buf), minUserIdentityRQ)
	}
	r := ulenc.NewReader(buf)
	r.Skip(2)
	n := r.ReadUint16()
	if int(n) > len(buf)-ItemHeaderSize {
		return nil, cond.IllegalPduLength.Errorf("user identity request has %d bytes, item length claims %d", len(buf)-ItemHeaderSize, n)
	}
	return decodeUserIdentityRQBody(n, r.Sub(int(n)))
}

// decodeUserIdentityRQBody decodes the item content; body is bounded to n
// bytes.
func decodeUserIdentityRQBody(n uint16, body *ulenc.Reader) (*UserIdentityRQ, error) {
	length := int(n)
	if length < 6 {
		return nil, cond.IllegalPduLength.Errorf("user identity request item length %d, need at least 6", length)
	}
	id := &UserIdentityRQ{}
	id.Mode = clampIdentityMode(body.ReadUint8())
	id.PositiveResponseRequested = body.ReadUint8() != 0

	primary := int(body.ReadUint16())
	if primary > length-6 {
		return nil, cond.IllegalPduLength.Errorf("user identity request item length %d, primary field length %d", length, primary)
	}
	id.Primary = nilIfEmpty(body.ReadBytes(primary))

	secondary := int(body.ReadUint16())
	if id.Mode == IdentityUsernamePassword {
		if secondary > length-6-primary {
			return nil, cond.IllegalPduLength.Errorf("user identity request item length %d, primary field length %d, secondary field length %d",
				length, primary, secondary)
		}
		id.Secondary = nilIfEmpty(body.ReadBytes(secondary))
	}
	if err := itemErr(body, ItemUserIdentityRQ); err != nil {
		return nil, err
	}
	return id, nil
}

// Encode returns the complete sub-item.
func (u UserIdentityRQ) Encode() ([]byte, error) {
	w := ulenc.NewWriter(ItemHeaderSize + 6 + len(u.Primary) + len(u.Secondary))
	u.appendTo(w)
	if err := w.Err(); err != nil {
		return nil, encodeErr(err, "user identity request")
	}
	return w.Bytes(), nil
}

func (u UserIdentityRQ) appendTo(w *ulenc.Writer) {
	if u.Mode < IdentityUsername || u.Mode > IdentityJWT {
		w.Fail(cond.InvalidParameter.Errorf("cannot encode user identity mode %s", u.Mode))
		return
	}
	if len(u.Primary) > MaxIdentityField || len(u.Secondary) > MaxIdentityField {
		w.Fail(cond.IllegalPduLength.Errorf("user identity fields of %d and %d bytes exceed %d", len(u.Primary), len(u.Secondary), MaxIdentityField))
		return
	}
	if u.Mode != IdentityUsernamePassword && len(u.Secondary) > 0 {
		w.Fail(cond.InvalidParameter.Errorf("user identity mode %s carries no secondary field", u.Mode))
		return
	}
	writeItem(w, ItemUserIdentityRQ, func(w *ulenc.Writer) {
		w.WriteUint8(uint8(u.Mode))
		w.WriteUint8(boolByte(u.PositiveResponseRequested))
		w.WriteUint16(uint16(len(u.Primary)))
		w.WriteBytes(u.Primary)
		w.WriteUint16(uint16(len(u.Secondary)))
		w.WriteBytes(u.Secondary)
	})
}

// DecodeUserIdentityAC decodes a user identity acknowledge item. buf starts
// at the item type and may extend past the item.
func DecodeUserIdentityAC(buf []byte) (*UserIdentityAC, error) {
	if len(buf) < minUserIdentityAC {
		return nil, cond.IllegalPduLength.Errorf("user identity acknowledge is %d bytes, need at least %d", len(buf), minUserIdentityAC)
	}
	r := ulenc.NewReader(buf)
	r.Skip(2)
	n := r.ReadUint16()
	if int(n) > len(buf)-ItemHeaderSize {
		return nil, cond.IllegalPduLength.Errorf("user identity acknowledge has %d bytes, item length claims %d", len(buf)-ItemHeaderSize, n)
	}
	return decodeUserIdentityACBody(n, r.Sub(int(n)))
}

func decodeUserIdentityACBody(n uint16, body *ulenc.Reader) (*UserIdentityAC, error) {
	length := int(n)
	if length < 2 {
		return nil, cond.IllegalPduLength.Errorf("user identity acknowledge item length %d, need at least 2", length)
	}
	rsp := int(body.ReadUint16())
	if rsp > length-2 {
		return nil, cond.IllegalPduLength.Errorf("user identity acknowledge item length %d, server response length %d", length, rsp)
	}
	id := &UserIdentityAC{ServerResponse: nilIfEmpty(body.ReadBytes(rsp))}
	if err := itemErr(body, ItemUserIdentityAC); err != nil {
		return nil, err
	}
	return id, nil
}

// Encode returns the complete sub-item.
func (u UserIdentityAC) Encode() ([]byte, error) {
	w := ulenc.NewWriter(ItemHeaderSize + 2 + len(u.ServerResponse))
	u.appendTo(w)
	if err := w.Err(); err != nil {
		return nil, encodeErr(err, "user identity acknowledge")
	}
	return w.Bytes(), nil
}

func (u UserIdentityAC) appendTo(w *ulenc.Writer) {
	if len(u.ServerResponse)+2 > MaxServerResponse {
		w.Fail(cond.ResponseTooLarge.Errorf("user identity server response of %d bytes exceeds %d", len(u.ServerResponse)+2, MaxServerResponse))
		return
	}
	writeItem(w, ItemUserIdentityAC, func(w *ulenc.Writer) {
		w.WriteUint16(uint16(len(u.ServerResponse)))
		w.WriteBytes(u.ServerResponse)
	})
}
