package ulenc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFieldTooLong is returned when a back-patched length does not fit its field.
var ErrFieldTooLong = errors.New("ulenc: field too long")

// Writer appends big-endian wire data to a growing buffer.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// NewWriterBuffer creates a Writer that appends to buf[:0], reusing its
// capacity.
func NewWriterBuffer(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// WriteUint16 appends a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteUint32 appends a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, data...)
}

// WriteString appends the bytes of s.
func (w *Writer) WriteString(s string) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, s...)
}

// WritePadded appends s padded with pad to width bytes. Longer strings are
// an error.
func (w *Writer) WritePadded(s string, width int, pad byte) {
	if w.err != nil {
		return
	}
	if len(s) > width {
		w.err = fmt.Errorf("%w: %q exceeds %d bytes", ErrFieldTooLong, s, width)
		return
	}
	w.buf = append(w.buf, s...)
	for i := len(s); i < width; i++ {
		w.buf = append(w.buf, pad)
	}
}

// WriteZeros appends n zero bytes.
func (w *Writer) WriteZeros(n int) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, make([]byte, n)...)
}

// Reserve16 appends a placeholder for a 16 bit length and returns its offset.
func (w *Writer) Reserve16() int {
	off := len(w.buf)
	w.WriteUint16(0)
	return off
}

// Patch16 writes the number of bytes appended since Reserve16 into the
// placeholder at offset.
func (w *Writer) Patch16(offset int) {
	if w.err != nil {
		return
	}
	n := len(w.buf) - offset - 2
	if n > 0xFFFF {
		w.err = fmt.Errorf("%w: %d bytes in 16 bit length at offset %d", ErrFieldTooLong, n, offset)
		return
	}
	w.WriteAt(offset, binary.BigEndian.AppendUint16(nil, uint16(n)))
}

// Reserve32 appends a placeholder for a 32 bit length and returns its offset.
func (w *Writer) Reserve32() int {
	off := len(w.buf)
	w.WriteUint32(0)
	return off
}

// Patch32 is the 32 bit counterpart of Patch16.
func (w *Writer) Patch32(offset int) {
	if w.err != nil {
		return
	}
	n := uint64(len(w.buf) - offset - 4)
	if n > 0xFFFFFFFF {
		w.err = fmt.Errorf("%w: %d bytes in 32 bit length at offset %d", ErrFieldTooLong, n, offset)
		return
	}
	w.WriteAt(offset, binary.BigEndian.AppendUint32(nil, uint32(n)))
}

// WriteAt overwrites bytes at offset.
func (w *Writer) WriteAt(offset int, data []byte) {
	if w.err != nil {
		return
	}
	if offset < 0 || offset+len(data) > len(w.buf) {
		w.err = fmt.Errorf("ulenc: WriteAt out of bounds: offset %d + %d > %d", offset, len(data), len(w.buf))
		return
	}
	copy(w.buf[offset:], data)
}

// Fail records err unless an error is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Bytes returns the accumulated bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length of the buffer.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first error encountered, or nil.
func (w *Writer) Err() error {
	return w.err
}
