package pdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	appContext = "1.2.840.10008.3.1.1.1"
	scImage    = "1.2.840.10008.5.1.4.1.1.7"
	explicitLE = "1.2.840.10008.1.2.1"
	implicitLE = "1.2.840.10008.1.2"
	verifySOP  = "1.2.840.10008.1.1"
)

func sampleRQ() *AssociateRQ {
	return &AssociateRQ{
		ProtocolVersion:    ProtocolVersion,
		CalledAETitle:      "STORESCP",
		CallingAETitle:     "STORESCU",
		ApplicationContext: appContext,
		PresentationContexts: []PresentationContextRQ{
			{ID: 1, AbstractSyntax: scImage, TransferSyntaxes: []string{explicitLE, implicitLE}},
			{ID: 3, AbstractSyntax: verifySOP, TransferSyntaxes: []string{implicitLE}},
		},
		UserInfo: UserInformation{
			MaxLength{Length: 16384},
			ImplementationClassUID{UID: "1.2.826.0.1.3680043.9.7433"},
			AsyncOperationsWindow{Invoked: 1, Performed: 1},
			RoleSelection{SOPClassUID: scImage, SCU: true, SCP: true},
			ImplementationVersionName{Name: "DICOMUL_100"},
			ExtendedNegotiation{SOPClassUID: scImage, AppInfo: []byte{0x01, 0x00, 0x01}},
			UserIdentityRQ{Mode: IdentityUsernamePassword, PositiveResponseRequested: true, Primary: []byte("alice"), Secondary: []byte("secret")},
			RawItem{Type: 0x57, Data: []byte{0x00, 0x01}},
		},
	}
}

func sampleAC() *AssociateAC {
	return &AssociateAC{
		ProtocolVersion:    ProtocolVersion,
		CalledAETitle:      "STORESCP",
		CallingAETitle:     "STORESCU",
		ApplicationContext: appContext,
		PresentationContexts: []PresentationContextAC{
			{ID: 1, Result: ResultAcceptance, TransferSyntax: implicitLE},
			{ID: 3, Result: ResultAbstractSyntaxNotSupported},
		},
		UserInfo: UserInformation{
			MaxLength{Length: 0},
			ImplementationClassUID{UID: "1.2.826.0.1.3680043.9.7433"},
			RoleSelection{SOPClassUID: scImage, SCU: false, SCP: true},
			UserIdentityAC{ServerResponse: []byte("token")},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"associate rq", sampleRQ()},
		{"associate rq without user info", &AssociateRQ{
			ProtocolVersion:    ProtocolVersion,
			CalledAETitle:      "ANY-SCP",
			CallingAETitle:     "ECHOSCU",
			ApplicationContext: appContext,
			PresentationContexts: []PresentationContextRQ{
				{ID: 255, AbstractSyntax: verifySOP, TransferSyntaxes: []string{implicitLE}},
			},
		}},
		{"associate ac", sampleAC()},
		{"associate rj", &AssociateRJ{Result: RejectPermanent, Source: RejectSourceServiceUser, Reason: RejectReasonCalledAETitleNotRecognized}},
		{"p-data-tf", &PDataTF{Values: []PDV{
			{ContextID: 1, Command: true, Last: true, Data: []byte{0x08, 0x00, 0x00, 0x00}},
			{ContextID: 1, Data: bytes.Repeat([]byte{0xAB}, 300)},
			{ContextID: 3, Last: true},
		}}},
		{"release rq", &ReleaseRQ{}},
		{"release rp", &ReleaseRP{}},
		{"abort", &Abort{Source: AbortSourceServiceProvider, Reason: AbortReasonInvalidParameter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.pdu)
			require.NoError(t, err)
			assert.Equal(t, uint8(tt.pdu.Type()), buf[0])
			assert.Equal(t, uint32(len(buf)-HeaderSize), binary.BigEndian.Uint32(buf[2:6]))

			got, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.pdu, got)
		})
	}
}

func TestEncodeFixedLayouts(t *testing.T) {
	buf, err := Encode(&ReleaseRQ{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}, buf)

	buf, err = Encode(&Abort{Source: AbortSourceServiceProvider, Reason: AbortReasonUnexpectedPDU})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x02, 0x02}, buf)

	buf, err = Encode(&PDataTF{Values: []PDV{{ContextID: 1, Command: true, Last: true, Data: []byte{0xAA}}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x04, 0x00, 0x00, 0x00, 0x00, 0x07,
		0x00, 0x00, 0x00, 0x03, 0x01, 0x03, 0xAA,
	}, buf)
}

func TestAppendEncodeReusesBuffer(t *testing.T) {
	p := &PDataTF{Values: []PDV{
		{ContextID: 1, Command: true, Last: true, Data: make([]byte, 20)},
		{ContextID: 3, Last: false, Data: make([]byte, 100)},
	}}
	assert.Equal(t, 6+26+106, EncodedSizeHint(p))
	assert.Equal(t, 256, EncodedSizeHint(&ReleaseRQ{}))

	scratch := append(make([]byte, 0, 512), "stale"...)
	buf, err := AppendEncode(scratch, p)
	require.NoError(t, err)
	assert.Len(t, buf, EncodedSizeHint(p))
	assert.Same(t, &scratch[:1][0], &buf[:1][0])

	want, err := Encode(p)
	require.NoError(t, err)
	assert.Equal(t, want, buf)

	// A buffer that is too small is grown.
	buf, err = AppendEncode(make([]byte, 0, 4), p)
	require.NoError(t, err)
	assert.Equal(t, want, buf)
}

func TestEncodeAssociateHeaderLayout(t *testing.T) {
	buf, err := Encode(sampleRQ())
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x01}, buf[6:8])
	assert.Equal(t, "STORESCP        ", string(buf[10:26]))
	assert.Equal(t, "STORESCU        ", string(buf[26:42]))
	assert.Equal(t, make([]byte, 32), buf[42:74])
	assert.Equal(t, byte(ItemApplicationContext), buf[74])
	assert.Equal(t, uint16(len(appContext)), binary.BigEndian.Uint16(buf[76:78]))
}

func TestEncodeRejectsInvalidValues(t *testing.T) {
	rq := sampleRQ()
	rq.CalledAETitle = "A-TITLE-LONGER-THAN-16"
	_, err := Encode(rq)
	assert.True(t, errors.Is(err, cond.InvalidParameter), "got %v", err)

	rq = sampleRQ()
	rq.PresentationContexts[0].ID = 2
	_, err = Encode(rq)
	assert.True(t, errors.Is(err, cond.InvalidParameter), "got %v", err)

	rq = sampleRQ()
	rq.ApplicationContext = ""
	_, err = Encode(rq)
	assert.True(t, errors.Is(err, cond.InvalidParameter), "got %v", err)

	ac := sampleAC()
	ac.UserInfo = append(UserInformation{}, UserIdentityRQ{Mode: IdentityUsername, Primary: []byte("bob")})
	_, err = Encode(ac)
	assert.True(t, errors.Is(err, cond.InvalidParameter), "got %v", err)

	_, err = Encode(&PDataTF{})
	assert.True(t, errors.Is(err, cond.InvalidParameter), "got %v", err)
}

func TestDecodeKeepsNonConformantUIDs(t *testing.T) {
	rq := sampleRQ()
	rq.PresentationContexts[0].AbstractSyntax = "1.2.X"
	rq.PresentationContexts[0].TransferSyntaxes = []string{"01.2"}

	raw, err := Encode(rq)
	require.NoError(t, err)
	p, err := Decode(raw)
	require.NoError(t, err)

	got := p.(*AssociateRQ).PresentationContexts[0]
	assert.Equal(t, "1.2.X", got.AbstractSyntax)
	assert.Equal(t, []string{"01.2"}, got.TransferSyntaxes)
}

func TestDecodeHeaderErrors(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00, 0x00})
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)

	_, err = Decode([]byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x00})
	assert.True(t, errors.Is(err, cond.UnknownPduType), "got %v", err)

	// Declared length exceeds the available bytes.
	_, err = Decode([]byte{0x05, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00})
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)

	// Trailing bytes after the declared body.
	_, err = Decode([]byte{0x05, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0xFF})
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)

	// Fixed-size PDU with a wrong body size.
	_, err = Decode([]byte{0x06, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00})
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
}

func TestDecodeCeiling(t *testing.T) {
	huge := []byte{0x04, 0x00, 0x00, 0x20, 0x00, 0x00}

	_, err := Decode(huge)
	assert.True(t, errors.Is(err, cond.PduTooLarge), "got %v", err)

	// With the ceiling disabled the header passes and the missing body is
	// reported instead.
	_, err = Codec{Unlimited: true}.Decode(huge)
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)

	buf, err := Encode(sampleRQ())
	require.NoError(t, err)
	_, err = Codec{MaxPDUSize: 64}.Decode(buf)
	assert.True(t, errors.Is(err, cond.PduTooLarge), "got %v", err)
}

func TestReadRaw(t *testing.T) {
	buf, err := Encode(sampleAC())
	require.NoError(t, err)
	rel, err := Encode(&ReleaseRQ{})
	require.NoError(t, err)

	stream := bytes.NewReader(append(append([]byte{}, buf...), rel...))
	var c Codec

	raw, err := c.ReadRaw(stream)
	require.NoError(t, err)
	assert.Equal(t, buf, raw)

	raw, err = c.ReadRaw(stream)
	require.NoError(t, err)
	p, err := c.Decode(raw)
	require.NoError(t, err)
	assert.IsType(t, &ReleaseRQ{}, p)

	_, err = c.ReadRaw(stream)
	assert.Error(t, err)
}

func TestReadRawCeilingBeforeAllocation(t *testing.T) {
	stream := bytes.NewReader([]byte{0x04, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Codec{}.ReadRaw(stream)
	assert.True(t, errors.Is(err, cond.PduTooLarge), "got %v", err)
}

func TestReadRawTruncatedBody(t *testing.T) {
	stream := bytes.NewReader([]byte{0x05, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00})
	_, err := Codec{}.ReadRaw(stream)
	assert.ErrorContains(t, err, "unexpected EOF")
}

// contextItemOffset is the offset of the first presentation context item
// in an encoded sampleRQ.
func contextItemOffset() int {
	return HeaderSize + associateFixedSize + ItemHeaderSize + len(appContext)
}

func TestDecodeNestedItemOverflow(t *testing.T) {
	buf, err := Encode(sampleRQ())
	require.NoError(t, err)
	off := contextItemOffset()
	require.Equal(t, byte(ItemPresentationContext), buf[off])

	t.Run("item exceeds PDU", func(t *testing.T) {
		b := append([]byte{}, buf...)
		binary.BigEndian.PutUint16(b[off+2:], 0xFFFF)
		_, err := Decode(b)
		assert.True(t, errors.Is(err, cond.TruncatedItem), "got %v", err)
	})

	t.Run("sub-item exceeds parent item", func(t *testing.T) {
		b := append([]byte{}, buf...)
		abstract := off + ItemHeaderSize + 4
		require.Equal(t, byte(ItemAbstractSyntax), b[abstract])
		// Still inside the PDU, but past the end of the presentation context.
		binary.BigEndian.PutUint16(b[abstract+2:], 0x00C0)
		_, err := Decode(b)
		assert.True(t, errors.Is(err, cond.TruncatedItem), "got %v", err)
	})

	t.Run("pdv exceeds PDU", func(t *testing.T) {
		b := []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x10, 0x01, 0x03}
		_, err := Decode(b)
		assert.True(t, errors.Is(err, cond.TruncatedItem), "got %v", err)
	})
}

func TestDecodeStructuralErrors(t *testing.T) {
	t.Run("even context id", func(t *testing.T) {
		buf, err := Encode(sampleRQ())
		require.NoError(t, err)
		buf[contextItemOffset()+ItemHeaderSize] = 2
		_, err = Decode(buf)
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})

	t.Run("duplicate max length", func(t *testing.T) {
		rq := sampleRQ()
		rq.UserInfo = append(rq.UserInfo, MaxLength{Length: 1})
		buf, err := Encode(rq)
		require.NoError(t, err)
		_, err = Decode(buf)
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})

	t.Run("duplicate context id", func(t *testing.T) {
		rq := sampleRQ()
		rq.PresentationContexts[1].ID = 1
		buf, err := Encode(rq)
		require.NoError(t, err)
		_, err = Decode(buf)
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})

	t.Run("short associate body", func(t *testing.T) {
		_, err := Decode([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01})
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})

	t.Run("empty p-data-tf", func(t *testing.T) {
		_, err := Decode([]byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x00})
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})

	t.Run("accepted context without transfer syntax", func(t *testing.T) {
		ac := sampleAC()
		ac.PresentationContexts[1].Result = ResultUserRejection
		buf, err := Encode(ac)
		require.NoError(t, err)
		// Flip the rejected context to acceptance; its transfer syntax is empty.
		i := bytes.Index(buf, []byte{byte(ItemPresentationContextA), 0x00, 0x00, 0x08, 0x03, 0x00, byte(ResultUserRejection)})
		require.Positive(t, i)
		buf[i+6] = byte(ResultAcceptance)
		_, err = Decode(buf)
		assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
	})
}

func TestDecodeIgnoresUnknownAssociateItems(t *testing.T) {
	buf, err := Encode(sampleRQ())
	require.NoError(t, err)
	buf = append(buf, 0x77, 0x00, 0x00, 0x02, 0xDE, 0xAD)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(buf)-HeaderSize))

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, sampleRQ(), got)
}

func TestAssociateRJString(t *testing.T) {
	rj := &AssociateRJ{Result: RejectPermanent, Source: RejectSourceServiceProviderACSE, Reason: RejectReasonProtocolVersionNotSupported}
	assert.Equal(t, "permanent rejection by service-provider (ACSE): protocol-version-not-supported", rj.String())
}

func FuzzDecode(f *testing.F) {
	for _, p := range []PDU{sampleRQ(), sampleAC(), &ReleaseRQ{}, &Abort{}, &PDataTF{Values: []PDV{{ContextID: 1, Last: true}}}} {
		buf, err := Encode(p)
		require.NoError(f, err)
		f.Add(buf)
	}
	f.Add([]byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, err := Decode(data)
		if err != nil && cond.From(err) == nil {
			t.Fatalf("decode returned a non-condition error: %v", err)
		}
	})
}
