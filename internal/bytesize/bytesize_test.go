package bytesize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		// Plain numbers
		{"plain zero", "0", 0, false},
		{"plain bytes", "16384", 16384, false},

		// Bytes suffix
		{"bytes B", "1024B", 1024, false},
		{"bytes b lowercase", "1024b", 1024, false},

		// Binary units
		{"kibibytes Ki", "16Ki", 16 * 1024, false},
		{"kibibytes KiB", "16KiB", 16 * 1024, false},
		{"mebibytes MiB", "1MiB", 1024 * 1024, false},
		{"gibibytes Gi", "4Gi", 4 * 1024 * 1024 * 1024, false},
		{"tebibytes TiB", "1TiB", 1024 * 1024 * 1024 * 1024, false},

		// Decimal units
		{"kilobytes KB", "64KB", 64000, false},
		{"megabytes M", "1M", 1000 * 1000, false},
		{"gigabytes GB", "1GB", 1000 * 1000 * 1000, false},

		// Case and whitespace
		{"lowercase kib", "16kib", 16 * 1024, false},
		{"uppercase KIB", "16KIB", 16 * 1024, false},
		{"surrounding space", "  16KiB  ", 16 * 1024, false},
		{"space between", "16 KiB", 16 * 1024, false},

		// Floating point
		{"float mebibytes", "1.5MiB", ByteSize(1.5 * 1024 * 1024), false},

		// Error cases
		{"empty string", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"invalid unit", "1Xi", 0, true},
		{"negative number", "-1Ki", 0, true},
		{"no number", "KiB", 0, true},
		{"overflow", "20000000TiB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("16KiB")))
	assert.Equal(t, 16*KiB, b)

	assert.Error(t, b.UnmarshalText([]byte("sixteen")))
}

func TestMarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{16384, "16KiB"},
		{MiB, "1MiB"},
		{16385, "16385"},
		{3 * GiB, "3GiB"},
	}
	for _, tt := range tests {
		got, err := tt.in.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))

		var back ByteSize
		require.NoError(t, back.UnmarshalText(got))
		assert.Equal(t, tt.in, back)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "16.00KiB", (16 * KiB).String())
	assert.Equal(t, "1.50GiB", ByteSize(1.5*float64(GiB)).String())
}

func TestConversions(t *testing.T) {
	assert.Equal(t, uint32(16384), (16 * KiB).Uint32())
	assert.Equal(t, uint32(math.MaxUint32), (8 * GiB).Uint32())
	assert.Equal(t, 4096, (4 * KiB).Int())
	assert.Equal(t, uint64(GiB), GiB.Uint64())
}

func TestJSONSchema(t *testing.T) {
	s := ByteSize(0).JSONSchema()
	require.Len(t, s.OneOf, 2)
	assert.Equal(t, "integer", s.OneOf[0].Type)
	assert.Equal(t, "string", s.OneOf[1].Type)
}
