package nbo

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrOverflow is reported when a read runs past the end of the buffer.
var ErrOverflow = errors.New("nbo: read past end of buffer")

// Reader decodes NBO values from a fixed buffer. A short read never panics:
// it marks the reader as overflowed and yields the zero value. The flag is
// sticky, so callers can decode a whole structure and check once.
type Reader struct {
	data     []byte
	pos      int
	overflow bool
}

// NewReader attaches a reader to data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// HasOverflow reports whether any read went past the end of the buffer.
func (r *Reader) HasOverflow() bool {
	return r.overflow
}

// Err returns ErrOverflow once the reader has overflowed.
func (r *Reader) Err() error {
	if r.overflow {
		return ErrOverflow
	}
	return nil
}

// Fail marks the reader as overflowed. Decoders call it when they hit a
// value they cannot interpret, such as an unknown type tag.
func (r *Reader) Fail() {
	r.overflow = true
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.pos
}

// take returns the next n bytes or nil on overflow.
func (r *Reader) take(n int) []byte {
	if r.overflow || n < 0 || r.pos+n > len(r.data) {
		r.overflow = true
		return nil
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

// Byte reads one byte.
func (r *Reader) Byte() byte {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

// Bool reads one byte and reports whether it is non-zero.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// Bytes reads n raw bytes into a new slice.
func (r *Reader) Bytes(n int) []byte {
	p := r.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// ReadInto fills dst completely or overflows.
func (r *Reader) ReadInto(dst []byte) {
	p := r.take(len(dst))
	if p != nil {
		copy(dst, p)
	}
}

// Uint16 reads a 2 byte big-endian value.
func (r *Reader) Uint16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

// Uint32 reads a 4 byte big-endian value.
func (r *Reader) Uint32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

// Int32 reads a 4 byte big-endian signed value.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Uint64 reads an 8 byte big-endian value.
func (r *Reader) Uint64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

// Int64 reads an 8 byte big-endian signed value.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Float32 reads IEEE-754 single precision bits.
func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

// Float64 reads IEEE-754 double precision bits.
func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}

// ReadString reads an int32 length prefixed string. A negative length or one
// longer than the remaining data overflows the reader.
func (r *Reader) ReadString() string {
	n := r.Int32()
	if r.overflow {
		return ""
	}
	p := r.take(int(n))
	if p == nil {
		return ""
	}
	return string(p)
}

// Blob reads an int32 length prefixed byte slice.
func (r *Reader) Blob() []byte {
	n := r.Int32()
	if r.overflow {
		return nil
	}
	return r.Bytes(int(n))
}
