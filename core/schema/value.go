package schema

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Kind is the storage type of a field.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	// KindRef is a reference to another persistent object, stored as its OID.
	KindRef
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
	KindRef:     "ref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParsePrimitiveKind maps a declared type name to a non-reference kind.
func ParsePrimitiveKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && k != KindRef {
			return k, nil
		}
	}
	return KindInvalid, zerrors.NewUnsupported("field type", name)
}

// Value is a field value tagged with its kind.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// BoolValue creates a bool value.
func BoolValue(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Int8Value creates an int8 value.
func Int8Value(v int8) Value { return Value{kind: KindInt8, i: int64(v)} }

// Int16Value creates an int16 value.
func Int16Value(v int16) Value { return Value{kind: KindInt16, i: int64(v)} }

// Int32Value creates an int32 value.
func Int32Value(v int32) Value { return Value{kind: KindInt32, i: int64(v)} }

// Int64Value creates an int64 value.
func Int64Value(v int64) Value { return Value{kind: KindInt64, i: v} }

// Float32Value creates a float32 value.
func Float32Value(v float32) Value { return Value{kind: KindFloat32, f: float64(v)} }

// Float64Value creates a float64 value.
func Float64Value(v float64) Value { return Value{kind: KindFloat64, f: v} }

// StringValue creates a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// BytesValue creates a byte array value. The slice is copied.
func BytesValue(v []byte) Value { return Value{kind: KindBytes, b: bytes.Clone(v)} }

// RefValue creates a reference to the object with the given OID, 0 for nil.
func RefValue(oid int64) Value { return Value{kind: KindRef, i: oid} }

// ZeroValue returns the zero value of kind k.
func ZeroValue(k Kind) Value { return Value{kind: k} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the value of a bool.
func (v Value) AsBool() bool { return v.i != 0 }

// AsInt returns the value of any integer kind.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the value of a float kind.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the value of a string.
func (v Value) AsString() string { return v.s }

// AsBytes returns the value of a byte array.
func (v Value) AsBytes() []byte { return v.b }

// AsRef returns the referenced OID, 0 for nil.
func (v Value) AsRef() int64 { return v.i }

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.i == o.i && v.f == o.f && v.s == o.s && bytes.Equal(v.b, o.b)
}

// String formats the value for display and text export.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindInt8, KindInt16, KindInt32, KindInt64, KindRef:
		return strconv.FormatInt(v.i, 10)
	case KindFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBytes:
		return hex.EncodeToString(v.b)
	}
	return ""
}

// ParseValue parses the text form produced by String.
func ParseValue(k Kind, text string) (Value, error) {
	switch k {
	case KindBool:
		b, err := strconv.ParseBool(text)
		return BoolValue(b), err
	case KindInt8, KindInt16, KindInt32, KindInt64, KindRef:
		i, err := strconv.ParseInt(text, 10, bitSize(k))
		return Value{kind: k, i: i}, err
	case KindFloat32:
		f, err := strconv.ParseFloat(text, 32)
		return Float32Value(float32(f)), err
	case KindFloat64:
		f, err := strconv.ParseFloat(text, 64)
		return Float64Value(f), err
	case KindString:
		return StringValue(text), nil
	case KindBytes:
		b, err := hex.DecodeString(text)
		return BytesValue(b), err
	}
	return Value{}, zerrors.NewUnsupported("field kind", k.String())
}

func bitSize(k Kind) int {
	switch k {
	case KindInt8:
		return 8
	case KindInt16:
		return 16
	case KindInt32:
		return 32
	}
	return 64
}

// convert turns a Go value into a Value of kind k.
func convert(k Kind, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		if v.kind != k {
			return Value{}, fmt.Errorf("cannot store %s in %s field", v.kind, k)
		}
		return v, nil
	}

	switch k {
	case KindBool:
		if b, ok := x.(bool); ok {
			return BoolValue(b), nil
		}
	case KindInt8, KindInt16, KindInt32, KindInt64:
		if i, ok := toInt64(x); ok {
			if bits := bitSize(k); bits < 64 {
				lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
				if i < lo || i > hi {
					return Value{}, fmt.Errorf("%d overflows %s", i, k)
				}
			}
			return Value{kind: k, i: i}, nil
		}
	case KindFloat32, KindFloat64:
		switch f := x.(type) {
		case float32:
			return Value{kind: k, f: float64(f)}, nil
		case float64:
			if k == KindFloat32 && math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return Value{}, fmt.Errorf("%g overflows float32", f)
			}
			if k == KindFloat32 {
				f = float64(float32(f))
			}
			return Value{kind: k, f: f}, nil
		}
	case KindString:
		if s, ok := x.(string); ok {
			return StringValue(s), nil
		}
	case KindBytes:
		if b, ok := x.([]byte); ok {
			return BytesValue(b), nil
		}
	case KindRef:
		switch r := x.(type) {
		case nil:
			return RefValue(0), nil
		case int64:
			return RefValue(r), nil
		case interface{ OID() int64 }:
			if r.OID() == 0 {
				return Value{}, fmt.Errorf("referenced object is not persistent")
			}
			return RefValue(r.OID()), nil
		}
	}
	return Value{}, fmt.Errorf("cannot store %T in %s field", x, k)
}

func toInt64(x any) (int64, bool) {
	switch i := x.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	}
	return 0, false
}
