package pdu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendedNegotiationRoundTrip(t *testing.T) {
	v := ExtendedNegotiation{SOPClassUID: "1.2.840.10008.5.1.4.1.2.2.1", AppInfo: []byte{0x01, 0x01, 0x00}}
	buf, err := v.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(ItemExtendedNegotiation), buf[0])
	assert.Equal(t, uint16(2+len(v.SOPClassUID)+3), binary.BigEndian.Uint16(buf[2:4]))

	got, err := DecodeExtendedNegotiation(buf)
	require.NoError(t, err)
	assert.Equal(t, v, *got)
}

func TestExtendedNegotiationLengthValidation(t *testing.T) {
	for length := 0; length <= 16; length++ {
		for uidLen := 0; uidLen <= 16; uidLen++ {
			body := make([]byte, max(length, 2))
			binary.BigEndian.PutUint16(body, uint16(uidLen))
			for i := 2; i < len(body); i++ {
				body[i] = '1'
			}
			buf := append([]byte{byte(ItemExtendedNegotiation), 0, byte(length >> 8), byte(length)}, body...)

			got, err := DecodeExtendedNegotiation(buf)
			if length >= 2 && uidLen <= length-2 {
				require.NoError(t, err, "length=%d uid=%d", length, uidLen)
				assert.Len(t, got.SOPClassUID, uidLen)
				assert.Len(t, got.AppInfo, length-2-uidLen)
			} else {
				assert.True(t, errors.Is(err, cond.IllegalPduLength), "length=%d uid=%d: got %v", length, uidLen, err)
			}
		}
	}
}

func TestExtendedNegotiationWrongItem(t *testing.T) {
	_, err := DecodeExtendedNegotiation([]byte{0x54, 0x00, 0x00, 0x02, 0x00, 0x00})
	assert.True(t, errors.Is(err, cond.MalformedPdu), "got %v", err)
}

func TestUserInformationAccessors(t *testing.T) {
	info := sampleRQ().UserInfo

	n, ok := info.MaxLength()
	assert.True(t, ok)
	assert.Equal(t, uint32(16384), n)
	assert.Equal(t, "1.2.826.0.1.3680043.9.7433", info.ImplementationClassUID())
	assert.Equal(t, "DICOMUL_100", info.ImplementationVersionName())

	async, ok := info.AsyncOperationsWindow()
	assert.True(t, ok)
	assert.Equal(t, AsyncOperationsWindow{Invoked: 1, Performed: 1}, async)

	require.Len(t, info.RoleSelections(), 1)
	assert.True(t, info.RoleSelections()[0].SCP)
	require.Len(t, info.ExtendedNegotiations(), 1)

	id, ok := info.UserIdentity().(*UserIdentityRQ)
	require.True(t, ok)
	assert.Equal(t, []byte("alice"), id.Primary)

	var empty UserInformation
	_, ok = empty.MaxLength()
	assert.False(t, ok)
	assert.Nil(t, empty.UserIdentity())
}
