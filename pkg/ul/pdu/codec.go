package pdu

import (
	"encoding/binary"
	"io"

	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// DefaultMaxPDUSize is the default ceiling on a received PDU body.
const DefaultMaxPDUSize = 1 << 20

// Codec decodes PDUs under a size ceiling. The zero value applies
// DefaultMaxPDUSize.
type Codec struct {
	// MaxPDUSize is the largest PDU body accepted. Zero selects
	// DefaultMaxPDUSize.
	MaxPDUSize uint32

	// Unlimited disables the ceiling.
	Unlimited bool
}

func (c Codec) ceiling() uint32 {
	if c.MaxPDUSize == 0 {
		return DefaultMaxPDUSize
	}
	return c.MaxPDUSize
}

// CheckHeader validates a six byte PDU header and returns the type and
// declared body length.
func (c Codec) CheckHeader(hdr []byte) (Type, uint32, error) {
	if len(hdr) < HeaderSize {
		return 0, 0, cond.MalformedPdu.Errorf("%d bytes, need %d for a PDU header", len(hdr), HeaderSize)
	}
	t := Type(hdr[0])
	n := binary.BigEndian.Uint32(hdr[2:6])
	if !t.Known() {
		return t, n, cond.UnknownPduType.Errorf("type 0x%02X, length %d", hdr[0], n)
	}
	if !c.Unlimited && n > c.ceiling() {
		return t, n, cond.PduTooLarge.Errorf("%s declares %d bytes, ceiling %d", t, n, c.ceiling())
	}
	return t, n, nil
}

// Decode decodes exactly one PDU from buf, header included.
func (c Codec) Decode(buf []byte) (PDU, error) {
	t, n, err := c.CheckHeader(buf)
	if err != nil {
		return nil, err
	}
	avail := uint64(len(buf) - HeaderSize)
	if uint64(n) > avail {
		return nil, cond.MalformedPdu.Errorf("%s declares %d bytes, %d available", t, n, avail)
	}
	if uint64(n) < avail {
		return nil, cond.MalformedPdu.Errorf("%s declares %d bytes, followed by %d trailing bytes", t, n, avail-uint64(n))
	}
	return decodeBody(t, buf[HeaderSize:])
}

// Decode decodes one PDU with the default ceiling.
func Decode(buf []byte) (PDU, error) {
	return Codec{}.Decode(buf)
}

// ReadRaw reads one complete PDU from r, header included. The ceiling is
// checked before the body is allocated. Transport errors are returned
// unchanged; a stream ending inside a PDU yields io.ErrUnexpectedEOF.
func (c Codec) ReadRaw(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	_, n, err := c.CheckHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize+int(n))
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Encode encodes p, header included.
func Encode(p PDU) ([]byte, error) {
	return AppendEncode(make([]byte, 0, EncodedSizeHint(p)), p)
}

// EncodedSizeHint returns the encoded size of a P-DATA-TF and a small
// default for every other PDU.
func EncodedSizeHint(p PDU) int {
	d, ok := p.(*PDataTF)
	if !ok {
		return 256
	}
	n := HeaderSize
	for _, v := range d.Values {
		n += PDVHeaderSize + len(v.Data)
	}
	return n
}

// AppendEncode encodes p into dst[:0], growing it if needed, and returns
// the encoded bytes.
func AppendEncode(dst []byte, p PDU) ([]byte, error) {
	w := ulenc.NewWriterBuffer(dst)
	w.WriteUint8(uint8(p.Type()))
	w.WriteUint8(0)
	mark := w.Reserve32()
	switch v := p.(type) {
	case *AssociateRQ:
		v.appendBody(w)
	case *AssociateAC:
		v.appendBody(w)
	case *AssociateRJ:
		w.WriteUint8(0)
		w.WriteUint8(v.Result)
		w.WriteUint8(v.Source)
		w.WriteUint8(v.Reason)
	case *PDataTF:
		v.appendBody(w)
	case *ReleaseRQ, *ReleaseRP:
		w.WriteZeros(4)
	case *Abort:
		w.WriteZeros(2)
		w.WriteUint8(v.Source)
		w.WriteUint8(v.Reason)
	default:
		return nil, cond.UnknownPduType.Errorf("cannot encode %T", p)
	}
	w.Patch32(mark)
	if err := w.Err(); err != nil {
		return nil, encodeErr(err, p.Type().String())
	}
	return w.Bytes(), nil
}

// WritePDU encodes p and writes it to w, returning the number of bytes
// written.
func WritePDU(w io.Writer, p PDU) (int, error) {
	buf, err := Encode(p)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

func decodeBody(t Type, body []byte) (PDU, error) {
	switch t {
	case TypeAssociateRQ:
		return decodeAssociateRQ(body)
	case TypeAssociateAC:
		return decodeAssociateAC(body)
	case TypeAssociateRJ:
		if err := fixedBody(t, body); err != nil {
			return nil, err
		}
		return &AssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
	case TypePDataTF:
		return decodePDataTF(body)
	case TypeReleaseRQ:
		if err := fixedBody(t, body); err != nil {
			return nil, err
		}
		return &ReleaseRQ{}, nil
	case TypeReleaseRP:
		if err := fixedBody(t, body); err != nil {
			return nil, err
		}
		return &ReleaseRP{}, nil
	case TypeAbort:
		if err := fixedBody(t, body); err != nil {
			return nil, err
		}
		return &Abort{Source: body[2], Reason: body[3]}, nil
	default:
		return nil, cond.UnknownPduType.Errorf("type 0x%02X", uint8(t))
	}
}

func fixedBody(t Type, body []byte) error {
	if len(body) != 4 {
		return cond.MalformedPdu.Errorf("%s body is %d bytes, expected 4", t, len(body))
	}
	return nil
}

func decodePDataTF(body []byte) (*PDataTF, error) {
	r := ulenc.NewReader(body)
	p := &PDataTF{}
	for r.Remaining() > 0 {
		if r.Remaining() < 4 {
			return nil, cond.TruncatedItem.Errorf("P-DATA-TF: %d bytes left at offset %d, need 4 for a PDV length", r.Remaining(), r.Position())
		}
		n := r.ReadUint32()
		if uint64(n) > uint64(r.Remaining()) {
			return nil, cond.TruncatedItem.Errorf("P-DATA-TF: PDV declares %d bytes, %d remaining", n, r.Remaining())
		}
		if n < 2 {
			return nil, cond.MalformedPdu.Errorf("P-DATA-TF: PDV length %d, need at least 2", n)
		}
		item := r.Sub(int(n))
		id := item.ReadUint8()
		ctl := item.ReadUint8()
		p.Values = append(p.Values, PDV{
			ContextID: id,
			Command:   ctl&pdvCommandBit != 0,
			Last:      ctl&pdvLastBit != 0,
			Data:      nilIfEmpty(item.Rest()),
		})
		if err := r.Err(); err != nil {
			return nil, cond.TruncatedItem.Wrap(err, "P-DATA-TF")
		}
	}
	if len(p.Values) == 0 {
		return nil, cond.MalformedPdu.Errorf("P-DATA-TF carries no PDV")
	}
	return p, nil
}

func (p *PDataTF) appendBody(w *ulenc.Writer) {
	if len(p.Values) == 0 {
		w.Fail(cond.InvalidParameter.Errorf("P-DATA-TF needs at least one PDV"))
		return
	}
	for _, v := range p.Values {
		w.WriteUint32(uint32(len(v.Data) + 2))
		w.WriteUint8(v.ContextID)
		w.WriteUint8(v.control())
		w.WriteBytes(v.Data)
	}
}
