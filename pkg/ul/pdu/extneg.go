package pdu

import (
	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// ExtendedNegotiation carries service-class-specific application
// information for one SOP class.
type ExtendedNegotiation struct {
	SOPClassUID string
	AppInfo     []byte
}

func (ExtendedNegotiation) ItemType() ItemType { return ItemExtendedNegotiation }

// DecodeExtendedNegotiation decodes an extended negotiation item. buf starts
// at the item type and may extend past the item.
func DecodeExtendedNegotiation(buf []byte) (*ExtendedNegotiation, error) {
	if len(buf) < ItemHeaderSize+2 {
		return nil, cond.IllegalPduLength.Errorf("extended negotiation is %d bytes, need at least %d", len(buf), ItemHeaderSize+2)
	}
	r := ulenc.NewReader(buf)
	if t := ItemType(r.ReadUint8()); t != ItemExtendedNegotiation {
		return nil, cond.MalformedPdu.Errorf("item type 0x%02X is not an extended negotiation item", uint8(t))
	}
	r.Skip(1)
	n := r.ReadUint16()
	if int(n) > len(buf)-ItemHeaderSize {
		return nil, cond.IllegalPduLength.Errorf("extended negotiation has %d bytes, item length claims %d", len(buf)-ItemHeaderSize, n)
	}
	en, err := decodeExtendedNegotiationBody(n, r.Sub(int(n)))
	if err != nil {
		return nil, err
	}
	return &en, nil
}

func decodeExtendedNegotiationBody(n uint16, body *ulenc.Reader) (ExtendedNegotiation, error) {
	var en ExtendedNegotiation
	length := int(n)
	if length < 2 {
		return en, cond.IllegalPduLength.Errorf("extended negotiation item length %d, need at least 2", length)
	}
	uidLen := int(body.ReadUint16())
	if uidLen > length-2 {
		return en, cond.IllegalPduLength.Errorf("extended negotiation item length %d, SOP class UID length %d", length, uidLen)
	}
	en.SOPClassUID = trimUID(body.ReadString(uidLen))
	en.AppInfo = nilIfEmpty(body.Rest())
	return en, itemErr(body, ItemExtendedNegotiation)
}

// Encode returns the complete sub-item.
func (e ExtendedNegotiation) Encode() ([]byte, error) {
	w := ulenc.NewWriter(ItemHeaderSize + 2 + len(e.SOPClassUID) + len(e.AppInfo))
	e.appendTo(w)
	if err := w.Err(); err != nil {
		return nil, encodeErr(err, "extended negotiation")
	}
	return w.Bytes(), nil
}

func (e ExtendedNegotiation) appendTo(w *ulenc.Writer) {
	writeItem(w, ItemExtendedNegotiation, func(w *ulenc.Writer) {
		w.WriteUint16(uint16(len(e.SOPClassUID)))
		w.WriteString(e.SOPClassUID)
		w.WriteBytes(e.AppInfo)
	})
}
