package nbo

import (
	"bytes"
	"math"
	"testing"
)

// TestScalarRoundTrip verifies every scalar survives an encode/decode pass
func TestScalarRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.PutByte(0xAB).
		PutBool(true).
		PutUint16(0xBEEF).
		PutInt32(-42).
		PutUint32(0xDEADBEEF).
		PutInt64(math.MinInt64).
		PutUint64(0x0102030405060708).
		PutFloat32(3.5).
		PutFloat64(-1.25)

	r := NewReader(w.Bytes())
	if got := r.Byte(); got != 0xAB {
		t.Errorf("Byte = %#x, want 0xAB", got)
	}
	if got := r.Bool(); !got {
		t.Error("Bool = false, want true")
	}
	if got := r.Uint16(); got != 0xBEEF {
		t.Errorf("Uint16 = %#x", got)
	}
	if got := r.Int32(); got != -42 {
		t.Errorf("Int32 = %d, want -42", got)
	}
	if got := r.Uint32(); got != 0xDEADBEEF {
		t.Errorf("Uint32 = %#x", got)
	}
	if got := r.Int64(); got != math.MinInt64 {
		t.Errorf("Int64 = %d", got)
	}
	if got := r.Uint64(); got != 0x0102030405060708 {
		t.Errorf("Uint64 = %#x", got)
	}
	if got := r.Float32(); got != 3.5 {
		t.Errorf("Float32 = %v", got)
	}
	if got := r.Float64(); got != -1.25 {
		t.Errorf("Float64 = %v", got)
	}
	if r.HasOverflow() {
		t.Fatal("unexpected overflow")
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining())
	}
}

// TestBigEndianLayout verifies the wire order is network byte order
func TestBigEndianLayout(t *testing.T) {
	w := NewWriter(8)
	w.PutUint32(0x01020304)
	if !bytes.Equal(w.Bytes(), []byte{1, 2, 3, 4}) {
		t.Errorf("got % x, want 01 02 03 04", w.Bytes())
	}

	w.Reset()
	w.PutString("SQ")
	if !bytes.Equal(w.Bytes(), []byte{0, 0, 0, 2, 'S', 'Q'}) {
		t.Errorf("string layout = % x", w.Bytes())
	}
}

// TestStrings verifies length prefixed strings and blobs
func TestStrings(t *testing.T) {
	tests := []string{"", "a", "PlayerOne", string(make([]byte, 300))}
	for _, s := range tests {
		w := NewWriter(0)
		w.PutString(s).PutBlob([]byte(s))
		r := NewReader(w.Bytes())
		if got := r.ReadString(); got != s {
			t.Errorf("String round trip %q -> %q", s, got)
		}
		if got := r.Blob(); !bytes.Equal(got, []byte(s)) {
			t.Errorf("Blob round trip len %d -> %d", len(s), len(got))
		}
		if r.HasOverflow() {
			t.Errorf("overflow for %d byte string", len(s))
		}
	}
}

// TestOverflowIsSticky verifies short reads flag the reader and yield zero values
func TestOverflowIsSticky(t *testing.T) {
	r := NewReader([]byte{0, 0, 0})
	if got := r.Uint32(); got != 0 {
		t.Errorf("short Uint32 = %d, want 0", got)
	}
	if !r.HasOverflow() {
		t.Fatal("expected overflow")
	}
	if r.Err() != ErrOverflow {
		t.Errorf("Err = %v, want ErrOverflow", r.Err())
	}
	// Even a read that would fit stays failed
	if got := r.Byte(); got != 0 {
		t.Errorf("Byte after overflow = %d, want 0", got)
	}
}

// TestStringLengthValidation verifies bogus lengths never allocate or panic
func TestStringLengthValidation(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"negative length", []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"length past end", []byte{0, 0, 0, 10, 'a', 'b'}},
		{"truncated prefix", []byte{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			if got := r.ReadString(); got != "" {
				t.Errorf("String = %q, want empty", got)
			}
			if !r.HasOverflow() {
				t.Error("expected overflow")
			}
		})
	}
}
