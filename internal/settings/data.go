// Package settings holds the online data model shared by the session
// subsystem, the system link codec, and profile storage: typed settings
// values, contexts, properties, and game settings.
package settings

import (
	"fmt"
	"strconv"

	"online-subsystem/internal/nbo"
)

// DataType tags the value held by a Data.
type DataType uint8

const (
	TypeEmpty DataType = iota
	TypeInt32
	TypeInt64
	TypeDouble
	TypeString
	TypeFloat
	TypeBlob
	TypeDateTime
)

// String returns a human-readable type name
func (t DataType) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeFloat:
		return "float"
	case TypeBlob:
		return "blob"
	case TypeDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Data is a self-describing settings value.
type Data struct {
	Type DataType `json:"type"`
	// Int holds Int32 and Int64 values. DateTime packs two int32 halves.
	Int int64 `json:"int,omitempty"`
	// Float holds Float and Double values.
	Float float64 `json:"float,omitempty"`
	Str   string  `json:"str,omitempty"`
	Blob  []byte  `json:"blob,omitempty"`
}

// Int32Data wraps an int32.
func Int32Data(v int32) Data { return Data{Type: TypeInt32, Int: int64(v)} }

// Int64Data wraps an int64.
func Int64Data(v int64) Data { return Data{Type: TypeInt64, Int: v} }

// FloatData wraps a float32.
func FloatData(v float32) Data { return Data{Type: TypeFloat, Float: float64(v)} }

// DoubleData wraps a float64.
func DoubleData(v float64) Data { return Data{Type: TypeDouble, Float: v} }

// StringData wraps a string.
func StringData(v string) Data { return Data{Type: TypeString, Str: v} }

// BlobData wraps raw bytes.
func BlobData(v []byte) Data { return Data{Type: TypeBlob, Blob: v} }

// DateTimeData packs a date/time pair.
func DateTimeData(lo, hi int32) Data {
	return Data{Type: TypeDateTime, Int: int64(uint64(uint32(hi))<<32 | uint64(uint32(lo)))}
}

// Int32 returns the value as an int32 when the type is Int32.
func (d Data) Int32() (int32, bool) {
	if d.Type != TypeInt32 {
		return 0, false
	}
	return int32(d.Int), true
}

// DateTime returns the two halves of a DateTime value.
func (d Data) DateTime() (lo, hi int32) {
	return int32(uint32(d.Int)), int32(uint32(uint64(d.Int) >> 32))
}

// Equal reports whether two values have the same type and contents.
func (d Data) Equal(o Data) bool {
	if d.Type != o.Type {
		return false
	}
	switch d.Type {
	case TypeInt32, TypeInt64, TypeDateTime:
		return d.Int == o.Int
	case TypeFloat:
		return float32(d.Float) == float32(o.Float)
	case TypeDouble:
		return d.Float == o.Float
	case TypeString:
		return d.Str == o.Str
	case TypeBlob:
		return string(d.Blob) == string(o.Blob)
	}
	return true
}

// String formats the value for display. Empty values show as "--".
func (d Data) String() string {
	switch d.Type {
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(d.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(d.Float, 'f', -1, 32)
	case TypeDouble:
		return strconv.FormatFloat(d.Float, 'f', -1, 64)
	case TypeString:
		return d.Str
	case TypeBlob:
		return fmt.Sprintf("%d bytes", len(d.Blob))
	case TypeDateTime:
		lo, hi := d.DateTime()
		return fmt.Sprintf("%d:%d", hi, lo)
	default:
		return "--"
	}
}

// Encode writes the type tag followed by the value.
func (d Data) Encode(w *nbo.Writer) {
	w.PutByte(byte(d.Type))
	switch d.Type {
	case TypeFloat:
		w.PutFloat32(float32(d.Float))
	case TypeInt32:
		w.PutInt32(int32(d.Int))
	case TypeInt64:
		w.PutInt64(d.Int)
	case TypeDouble:
		w.PutFloat64(d.Float)
	case TypeBlob:
		w.PutBlob(d.Blob)
	case TypeString:
		w.PutString(d.Str)
	case TypeDateTime:
		lo, hi := d.DateTime()
		w.PutInt32(lo).PutInt32(hi)
	}
}

// DecodeData reads a tagged value. An unknown tag fails the reader.
func DecodeData(r *nbo.Reader) Data {
	d := Data{Type: DataType(r.Byte())}
	switch d.Type {
	case TypeEmpty:
	case TypeFloat:
		d.Float = float64(r.Float32())
	case TypeInt32:
		d.Int = int64(r.Int32())
	case TypeInt64:
		d.Int = r.Int64()
	case TypeDouble:
		d.Float = r.Float64()
	case TypeBlob:
		d.Blob = r.Blob()
	case TypeString:
		d.Str = r.ReadString()
	case TypeDateTime:
		lo := r.Int32()
		hi := r.Int32()
		d = DateTimeData(lo, hi)
	default:
		r.Fail()
	}
	return d
}
