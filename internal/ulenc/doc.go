// Package ulenc provides the bounded cursor used to read and write DICOM
// Upper Layer PDUs and items.
//
// Reader follows the error-accumulation pattern of bufio.Scanner: callers
// perform a sequence of reads and check Err once. Every read is checked
// against the bytes remaining in the reader, and Sub carves out a child reader
// for a length-prefixed item after verifying that the declared length fits in
// the parent:
//
//	r := ulenc.NewReader(body)
//	itemType := r.ReadUint8()
//	r.Skip(1)
//	item := r.Sub(int(r.ReadUint16()))
//	id := item.ReadUint8()
//	if err := r.Err(); err != nil {
//	    return err
//	}
//
// A child's errors are reported on the child only; the parent records an
// error when the child itself could not be carved out.
//
// Writer appends to a growing buffer and supports length back-patching for
// the 16 and 32 bit length fields of items and PDUs:
//
//	w := ulenc.NewWriter(64)
//	w.WriteUint8(0x10)
//	w.WriteZeros(1)
//	mark := w.Reserve16()
//	w.WriteString(uid)
//	w.Patch16(mark)
//
// All integers are big-endian, as PS3.8 requires.
package ulenc
