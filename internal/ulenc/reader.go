package ulenc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned when a read would go past the end of the reader.
var ErrShortRead = errors.New("ulenc: short read")

// ErrLengthOverflow is returned by Sub when a declared length exceeds the
// remaining bytes of the enclosing reader.
var ErrLengthOverflow = errors.New("ulenc: declared length exceeds remaining bytes")

// Reader reads big-endian wire data from a bounded window with error
// accumulation. Once an error occurs, all subsequent reads return zero
// values.
type Reader struct {
	data []byte
	pos  int
	base int
	err  error
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.base+r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() uint8 {
	if !r.require(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	if !r.require(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadBytes copies the next n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.require(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

// ReadString reads n bytes as a string.
func (r *Reader) ReadString(n int) string {
	if !r.require(n) {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

// Rest copies all remaining bytes.
func (r *Reader) Rest() []byte {
	return r.ReadBytes(r.Remaining())
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	if !r.require(n) {
		return
	}
	r.pos += n
}

// Sub returns a reader over the next n bytes and advances past them. When n
// exceeds the remaining bytes the parent records ErrLengthOverflow and the
// returned reader is already failed.
func (r *Reader) Sub(n int) *Reader {
	if r.err != nil {
		return &Reader{err: r.err}
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: declared %d at offset %d, remaining %d", ErrLengthOverflow, n, r.base+r.pos, len(r.data)-r.pos)
		return &Reader{err: r.err}
	}
	sub := &Reader{data: r.data[r.pos : r.pos+n], base: r.base + r.pos}
	r.pos += n
	return sub
}

// Peek returns the byte at the cursor without consuming it.
func (r *Reader) Peek() (uint8, bool) {
	if r.err != nil || r.pos >= len(r.data) {
		return 0, false
	}
	return r.data[r.pos], true
}

// Fail records err unless an error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

// Position returns the cursor offset relative to the outermost reader.
func (r *Reader) Position() int {
	return r.base + r.pos
}
