// Package nbo implements the network byte order (big-endian) serializer used
// by system link packets and stored profile blobs.
package nbo

import (
	"encoding/binary"
	"math"
)

// Writer appends NBO encoded values to a growable buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded data. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards everything written.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// PutByte appends a single byte.
func (w *Writer) PutByte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

// PutBool appends a bool as one byte (0 or 1).
func (w *Writer) PutBool(v bool) *Writer {
	if v {
		return w.PutByte(1)
	}
	return w.PutByte(0)
}

// PutBytes appends raw bytes with no length prefix.
func (w *Writer) PutBytes(p []byte) *Writer {
	w.buf = append(w.buf, p...)
	return w
}

// PutUint16 appends a 2 byte big-endian value.
func (w *Writer) PutUint16(v uint16) *Writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

// PutUint32 appends a 4 byte big-endian value.
func (w *Writer) PutUint32(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

// PutInt32 appends a 4 byte big-endian signed value.
func (w *Writer) PutInt32(v int32) *Writer {
	return w.PutUint32(uint32(v))
}

// PutUint64 appends an 8 byte big-endian value.
func (w *Writer) PutUint64(v uint64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
	return w
}

// PutInt64 appends an 8 byte big-endian signed value.
func (w *Writer) PutInt64(v int64) *Writer {
	return w.PutUint64(uint64(v))
}

// PutFloat32 appends the IEEE-754 bits of v.
func (w *Writer) PutFloat32(v float32) *Writer {
	return w.PutUint32(math.Float32bits(v))
}

// PutFloat64 appends the IEEE-754 bits of v.
func (w *Writer) PutFloat64(v float64) *Writer {
	return w.PutUint64(math.Float64bits(v))
}

// PutString appends an int32 length followed by the string bytes.
func (w *Writer) PutString(s string) *Writer {
	w.PutInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// PutBlob appends an int32 length followed by the bytes.
func (w *Writer) PutBlob(p []byte) *Writer {
	w.PutInt32(int32(len(p)))
	w.buf = append(w.buf, p...)
	return w
}
