// Package scalar is the closed set of numeric kinds carried by params and
// log variables, with their little-endian wire encoding.
package scalar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("scalar: unsupported type")
	ErrShortValue      = errors.New("scalar: short value")
	ErrOutOfRange      = errors.New("scalar: value out of range")
)

// Kind identifies one supported scalar type.
type Kind uint8

const (
	Invalid Kind = iota
	U8
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
)

var kindInfo = [...]struct {
	name  string
	width int
}{
	Invalid: {"invalid", 0},
	U8:      {"u8", 1},
	U16:     {"u16", 2},
	U32:     {"u32", 4},
	U64:     {"u64", 8},
	I8:      {"i8", 1},
	I16:     {"i16", 2},
	I32:     {"i32", 4},
	I64:     {"i64", 8},
	F32:     {"f32", 4},
	F64:     {"f64", 8},
}

func (k Kind) Valid() bool {
	return k > Invalid && int(k) < len(kindInfo)
}

// Width is the encoded size in bytes, 0 for an invalid kind.
func (k Kind) Width() int {
	if !k.Valid() {
		return 0
	}
	return kindInfo[k].width
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindInfo[k].name
}

func (k Kind) Signed() bool {
	return k == I8 || k == I16 || k == I32 || k == I64
}

func (k Kind) Float() bool {
	return k == F32 || k == F64
}

// ParseKind maps a kind name ("u16", "f32", ...) back to its Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k := U8; k <= F64; k++ {
		if kindInfo[k].name == name {
			return k, nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// Value is an immutable typed scalar. Integers are held widened (signed ones
// sign-extended), floats as float64 bits.
type Value struct {
	kind Kind
	bits uint64
}

func Uint8(v uint8) Value     { return Value{kind: U8, bits: uint64(v)} }
func Uint16(v uint16) Value   { return Value{kind: U16, bits: uint64(v)} }
func Uint32(v uint32) Value   { return Value{kind: U32, bits: uint64(v)} }
func Uint64(v uint64) Value   { return Value{kind: U64, bits: v} }
func Int8(v int8) Value       { return Value{kind: I8, bits: uint64(int64(v))} }
func Int16(v int16) Value     { return Value{kind: I16, bits: uint64(int64(v))} }
func Int32(v int32) Value     { return Value{kind: I32, bits: uint64(int64(v))} }
func Int64(v int64) Value     { return Value{kind: I64, bits: uint64(v)} }
func Float32(v float32) Value { return Value{kind: F32, bits: math.Float64bits(float64(v))} }
func Float64(v float64) Value { return Value{kind: F64, bits: math.Float64bits(v)} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsZero() bool { return v.kind == Invalid }

// Cast reads exactly kind.Width() bytes of b as a little-endian kind.
func Cast(kind Kind, b []byte) (Value, error) {
	if !kind.Valid() {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	w := kind.Width()
	if len(b) < w {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortValue, kind, w, len(b))
	}
	switch kind {
	case U8:
		return Uint8(b[0]), nil
	case U16:
		return Uint16(binary.LittleEndian.Uint16(b)), nil
	case U32:
		return Uint32(binary.LittleEndian.Uint32(b)), nil
	case U64:
		return Uint64(binary.LittleEndian.Uint64(b)), nil
	case I8:
		return Int8(int8(b[0])), nil
	case I16:
		return Int16(int16(binary.LittleEndian.Uint16(b))), nil
	case I32:
		return Int32(int32(binary.LittleEndian.Uint32(b))), nil
	case I64:
		return Int64(int64(binary.LittleEndian.Uint64(b))), nil
	case F32:
		return Float32(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case F64:
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
}

// Bytes returns the little-endian encoding at the kind's width.
func (v Value) Bytes() []byte {
	buf := make([]byte, v.kind.Width())
	switch v.kind {
	case U8, I8:
		buf[0] = byte(v.bits)
	case U16, I16:
		binary.LittleEndian.PutUint16(buf, uint16(v.bits))
	case U32, I32:
		binary.LittleEndian.PutUint32(buf, uint32(v.bits))
	case U64, I64:
		binary.LittleEndian.PutUint64(buf, v.bits)
	case F32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float64())))
	case F64:
		binary.LittleEndian.PutUint64(buf, v.bits)
	}
	return buf
}

func (v Value) Uint64() uint64 {
	switch {
	case v.kind.Float():
		return uint64(v.Float64())
	default:
		return v.bits
	}
}

func (v Value) Int64() int64 {
	switch {
	case v.kind.Float():
		return int64(v.Float64())
	default:
		return int64(v.bits)
	}
}

func (v Value) Float64() float64 {
	switch {
	case v.kind.Float():
		return math.Float64frombits(v.bits)
	case v.kind.Signed():
		return float64(int64(v.bits))
	default:
		return float64(v.bits)
	}
}

// Interface returns the value as its natural Go type.
func (v Value) Interface() any {
	switch v.kind {
	case U8:
		return uint8(v.bits)
	case U16:
		return uint16(v.bits)
	case U32:
		return uint32(v.bits)
	case U64:
		return v.bits
	case I8:
		return int8(v.bits)
	case I16:
		return int16(v.bits)
	case I32:
		return int32(v.bits)
	case I64:
		return int64(v.bits)
	case F32:
		return float32(v.Float64())
	case F64:
		return v.Float64()
	}
	return nil
}

func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.bits == o.bits
}

func (v Value) String() string {
	switch {
	case !v.kind.Valid():
		return "<none>"
	case v.kind.Float():
		bitSize := 64
		if v.kind == F32 {
			bitSize = 32
		}
		return strconv.FormatFloat(v.Float64(), 'g', -1, bitSize)
	case v.kind.Signed():
		return strconv.FormatInt(int64(v.bits), 10)
	default:
		return strconv.FormatUint(v.bits, 10)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.kind.Valid() {
		return []byte("null"), nil
	}
	if v.kind.Float() {
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return []byte(strconv.Quote(v.String())), nil
		}
	}
	return []byte(v.String()), nil
}

// Convert re-types v as kind. Integer conversions are range checked; float
// to integer truncates toward zero.
func (v Value) Convert(kind Kind) (Value, error) {
	if !kind.Valid() {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	if !v.kind.Valid() {
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
	if v.kind == kind {
		return v, nil
	}
	if kind.Float() {
		if kind == F32 {
			return Float32(float32(v.Float64())), nil
		}
		return Float64(v.Float64()), nil
	}
	if v.kind.Float() {
		f := math.Trunc(v.Float64())
		if math.IsNaN(f) {
			return Value{}, fmt.Errorf("%w: NaN as %s", ErrOutOfRange, kind)
		}
		if kind.Signed() {
			if f >= math.MaxInt64 || f < math.MinInt64 {
				return Value{}, fmt.Errorf("%w: %v as %s", ErrOutOfRange, f, kind)
			}
			return fromInt(kind, int64(f))
		}
		if f < 0 || f >= math.MaxUint64 {
			return Value{}, fmt.Errorf("%w: %v as %s", ErrOutOfRange, f, kind)
		}
		return fromUint(kind, uint64(f))
	}
	if v.kind.Signed() {
		n := int64(v.bits)
		if kind.Signed() {
			return fromInt(kind, n)
		}
		if n < 0 {
			return Value{}, fmt.Errorf("%w: %d as %s", ErrOutOfRange, n, kind)
		}
		return fromUint(kind, uint64(n))
	}
	if kind.Signed() {
		if v.bits > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d as %s", ErrOutOfRange, v.bits, kind)
		}
		return fromInt(kind, int64(v.bits))
	}
	return fromUint(kind, v.bits)
}

func fromInt(kind Kind, n int64) (Value, error) {
	if bits := uint(kind.Width() * 8); bits < 64 {
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		if n < lo || n > hi {
			return Value{}, fmt.Errorf("%w: %d as %s", ErrOutOfRange, n, kind)
		}
	}
	return Value{kind: kind, bits: uint64(n)}, nil
}

func fromUint(kind Kind, n uint64) (Value, error) {
	if bits := uint(kind.Width() * 8); bits < 64 && n > uint64(1)<<bits-1 {
		return Value{}, fmt.Errorf("%w: %d as %s", ErrOutOfRange, n, kind)
	}
	return Value{kind: kind, bits: n}, nil
}

// Parse reads a decimal literal as kind.
func Parse(kind Kind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case !kind.Valid():
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	case kind.Float():
		f, err := strconv.ParseFloat(raw, kind.Width()*8)
		if err != nil {
			return Value{}, fmt.Errorf("scalar: parse %s %q: %w", kind, raw, err)
		}
		return Float64(f).Convert(kind)
	case kind.Signed():
		n, err := strconv.ParseInt(raw, 0, kind.Width()*8)
		if err != nil {
			return Value{}, fmt.Errorf("scalar: parse %s %q: %w", kind, raw, err)
		}
		return Value{kind: kind, bits: uint64(n)}, nil
	default:
		n, err := strconv.ParseUint(raw, 0, kind.Width()*8)
		if err != nil {
			return Value{}, fmt.Errorf("scalar: parse %s %q: %w", kind, raw, err)
		}
		return Value{kind: kind, bits: n}, nil
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
