package pdu

import (
	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// MaxImplementationVersionName is the longest implementation version name.
const MaxImplementationVersionName = 16

// SubItem is one item of the user information item. The concrete types are
// MaxLength, ImplementationClassUID, ImplementationVersionName,
// AsyncOperationsWindow, RoleSelection, ExtendedNegotiation, UserIdentityRQ,
// UserIdentityAC and RawItem.
type SubItem interface {
	ItemType() ItemType
	appendTo(w *ulenc.Writer)
}

// UserInformation is the ordered list of user information sub-items.
type UserInformation []SubItem

// MaxLength is the maximum length sub-item. Zero means no limit.
type MaxLength struct {
	Length uint32
}

func (MaxLength) ItemType() ItemType { return ItemMaxLength }

func (m MaxLength) appendTo(w *ulenc.Writer) {
	writeItem(w, ItemMaxLength, func(w *ulenc.Writer) { w.WriteUint32(m.Length) })
}

// ImplementationClassUID identifies the peer implementation.
type ImplementationClassUID struct {
	UID string
}

func (ImplementationClassUID) ItemType() ItemType { return ItemImplementationClass }

func (i ImplementationClassUID) appendTo(w *ulenc.Writer) {
	writeItem(w, ItemImplementationClass, func(w *ulenc.Writer) { w.WriteString(i.UID) })
}

// ImplementationVersionName is the optional implementation version.
type ImplementationVersionName struct {
	Name string
}

func (ImplementationVersionName) ItemType() ItemType { return ItemImplementationVer }

func (i ImplementationVersionName) appendTo(w *ulenc.Writer) {
	if len(i.Name) > MaxImplementationVersionName {
		w.Fail(cond.InvalidParameter.Errorf("implementation version name %q exceeds %d characters", i.Name, MaxImplementationVersionName))
		return
	}
	writeItem(w, ItemImplementationVer, func(w *ulenc.Writer) { w.WriteString(i.Name) })
}

// AsyncOperationsWindow negotiates the number of outstanding operations.
type AsyncOperationsWindow struct {
	Invoked   uint16
	Performed uint16
}

func (AsyncOperationsWindow) ItemType() ItemType { return ItemAsyncOperations }

func (a AsyncOperationsWindow) appendTo(w *ulenc.Writer) {
	writeItem(w, ItemAsyncOperations, func(w *ulenc.Writer) {
		w.WriteUint16(a.Invoked)
		w.WriteUint16(a.Performed)
	})
}

// RoleSelection proposes or confirms SCU/SCP roles for one SOP class.
type RoleSelection struct {
	SOPClassUID string
	SCU         bool
	SCP         bool
}

func (RoleSelection) ItemType() ItemType { return ItemRoleSelection }

func (r RoleSelection) appendTo(w *ulenc.Writer) {
	writeItem(w, ItemRoleSelection, func(w *ulenc.Writer) {
		mark := w.Reserve16()
		w.WriteString(r.SOPClassUID)
		w.Patch16(mark)
		w.WriteUint8(boolByte(r.SCU))
		w.WriteUint8(boolByte(r.SCP))
	})
}

func decodeRoleSelection(n uint16, body *ulenc.Reader) (RoleSelection, error) {
	var rs RoleSelection
	if n < 4 {
		return rs, cond.IllegalPduLength.Errorf("role selection item length %d, need at least 4", n)
	}
	uidLen := body.ReadUint16()
	if int(uidLen) > int(n)-4 {
		return rs, cond.IllegalPduLength.Errorf("role selection item length %d, SOP class UID length %d", n, uidLen)
	}
	rs.SOPClassUID = trimUID(body.ReadString(int(uidLen)))
	rs.SCU = body.ReadUint8() != 0
	rs.SCP = body.ReadUint8() != 0
	return rs, itemErr(body, ItemRoleSelection)
}

// RawItem preserves a user information sub-item this package does not
// interpret.
type RawItem struct {
	Type ItemType
	Data []byte
}

func (r RawItem) ItemType() ItemType { return r.Type }

func (r RawItem) appendTo(w *ulenc.Writer) {
	writeItem(w, r.Type, func(w *ulenc.Writer) { w.WriteBytes(r.Data) })
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// decodeUserInformation decodes the sub-items of a user information item.
// identity selects which user identity variant the enclosing PDU may carry.
func decodeUserInformation(body *ulenc.Reader, identity ItemType) (UserInformation, error) {
	var (
		info            UserInformation
		haveMaxLength   bool
		haveImplClassID bool
	)
	for body.Remaining() > 0 {
		t, n, sub, err := nextItem(body, "user information")
		if err != nil {
			return nil, err
		}
		switch t {
		case ItemMaxLength:
			if haveMaxLength {
				return nil, cond.MalformedPdu.Errorf("duplicate %s sub-item", t)
			}
			haveMaxLength = true
			if n != 4 {
				return nil, cond.IllegalPduLength.Errorf("%s item length %d, expected 4", t, n)
			}
			info = append(info, MaxLength{Length: sub.ReadUint32()})
		case ItemImplementationClass:
			if haveImplClassID {
				return nil, cond.MalformedPdu.Errorf("duplicate %s sub-item", t)
			}
			haveImplClassID = true
			info = append(info, ImplementationClassUID{UID: trimUID(string(sub.Rest()))})
		case ItemImplementationVer:
			if n > MaxImplementationVersionName {
				return nil, cond.IllegalPduLength.Errorf("%s item length %d exceeds %d", t, n, MaxImplementationVersionName)
			}
			info = append(info, ImplementationVersionName{Name: trimAE(string(sub.Rest()))})
		case ItemAsyncOperations:
			if n != 4 {
				return nil, cond.IllegalPduLength.Errorf("%s item length %d, expected 4", t, n)
			}
			info = append(info, AsyncOperationsWindow{Invoked: sub.ReadUint16(), Performed: sub.ReadUint16()})
		case ItemRoleSelection:
			rs, err := decodeRoleSelection(n, sub)
			if err != nil {
				return nil, err
			}
			info = append(info, rs)
		case ItemExtendedNegotiation:
			en, err := decodeExtendedNegotiationBody(n, sub)
			if err != nil {
				return nil, err
			}
			info = append(info, en)
		case ItemUserIdentityRQ, ItemUserIdentityAC:
			if t != identity {
				return nil, cond.MalformedPdu.Errorf("%s sub-item in the wrong PDU", t)
			}
			if t == ItemUserIdentityRQ {
				id, err := decodeUserIdentityRQBody(n, sub)
				if err != nil {
					return nil, err
				}
				info = append(info, *id)
			} else {
				id, err := decodeUserIdentityACBody(n, sub)
				if err != nil {
					return nil, err
				}
				info = append(info, *id)
			}
		default:
			info = append(info, RawItem{Type: t, Data: nilIfEmpty(sub.Rest())})
		}
		if err := itemErr(sub, t); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func (u UserInformation) appendTo(w *ulenc.Writer) {
	if len(u) == 0 {
		return
	}
	writeItem(w, ItemUserInformation, func(w *ulenc.Writer) {
		for _, item := range u {
			item.appendTo(w)
		}
	})
}

// MaxLength returns the maximum length sub-item value.
func (u UserInformation) MaxLength() (uint32, bool) {
	for _, item := range u {
		if m, ok := item.(MaxLength); ok {
			return m.Length, true
		}
	}
	return 0, false
}

// ImplementationClassUID returns the implementation class UID, or "".
func (u UserInformation) ImplementationClassUID() string {
	for _, item := range u {
		if i, ok := item.(ImplementationClassUID); ok {
			return i.UID
		}
	}
	return ""
}

// ImplementationVersionName returns the implementation version name, or "".
func (u UserInformation) ImplementationVersionName() string {
	for _, item := range u {
		if i, ok := item.(ImplementationVersionName); ok {
			return i.Name
		}
	}
	return ""
}

// AsyncOperationsWindow returns the asynchronous operations window sub-item.
func (u UserInformation) AsyncOperationsWindow() (AsyncOperationsWindow, bool) {
	for _, item := range u {
		if a, ok := item.(AsyncOperationsWindow); ok {
			return a, true
		}
	}
	return AsyncOperationsWindow{}, false
}

// RoleSelections returns all role selection sub-items in order.
func (u UserInformation) RoleSelections() []RoleSelection {
	var out []RoleSelection
	for _, item := range u {
		if r, ok := item.(RoleSelection); ok {
			out = append(out, r)
		}
	}
	return out
}

// ExtendedNegotiations returns all extended negotiation sub-items in order.
func (u UserInformation) ExtendedNegotiations() []ExtendedNegotiation {
	var out []ExtendedNegotiation
	for _, item := range u {
		if e, ok := item.(ExtendedNegotiation); ok {
			out = append(out, e)
		}
	}
	return out
}

// UserIdentity returns the user identity sub-item, or nil.
func (u UserInformation) UserIdentity() UserIdentity {
	for _, item := range u {
		switch v := item.(type) {
		case UserIdentityRQ:
			return &v
		case UserIdentityAC:
			return &v
		}
	}
	return nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
