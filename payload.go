package dlt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TypeInfo is the 4 byte little endian word preceding every verbose argument.
// Bits 0-3 hold the length code, bits 4-15 the category.
type TypeInfo uint32

// Length codes (TYLE)
const (
	LengthUndefined uint8 = 0
	Length8         uint8 = 1
	Length16        uint8 = 2
	Length32        uint8 = 3
	Length64        uint8 = 4
	Length128       uint8 = 5

	lengthMask TypeInfo = 0x0F
)

// Category bits, in resolution order
const (
	TypeBool         TypeInfo = 1 << 4
	TypeSigned       TypeInfo = 1 << 5
	TypeUnsigned     TypeInfo = 1 << 6
	TypeFloat        TypeInfo = 1 << 7
	TypeArray        TypeInfo = 1 << 8
	TypeString       TypeInfo = 1 << 9
	TypeRaw          TypeInfo = 1 << 10
	TypeVariableInfo TypeInfo = 1 << 11
	TypeFixedPoint   TypeInfo = 1 << 12
	TypeTraceInfo    TypeInfo = 1 << 13
	TypeStruct       TypeInfo = 1 << 14
	TypeStringCoding TypeInfo = 1 << 15
)

const (
	typeInfoSize  = 4
	varLengthSize = 2
	maxVarLength  = math.MaxUint16
)

// LengthCode returns TYLE.
func (t TypeInfo) LengthCode() uint8 { return uint8(t & lengthMask) }

// Category returns the first category bit set in t, or 0.
func (t TypeInfo) Category() TypeInfo {
	for c := TypeBool; c <= TypeStringCoding; c <<= 1 {
		if t&c != 0 {
			return c
		}
	}
	return 0
}

func (t TypeInfo) String() string {
	var name string
	switch t.Category() {
	case TypeBool:
		name = "bool"
	case TypeSigned:
		name = "sint"
	case TypeUnsigned:
		name = "uint"
	case TypeFloat:
		name = "float"
	case TypeArray:
		name = "array"
	case TypeString:
		name = "string"
	case TypeRaw:
		name = "raw"
	case TypeVariableInfo:
		name = "vari"
	case TypeFixedPoint:
		name = "fixp"
	case TypeTraceInfo:
		name = "trai"
	case TypeStruct:
		name = "struct"
	case TypeStringCoding:
		name = "scod"
	default:
		name = "none"
	}
	return fmt.Sprintf("%s/%d", name, t.LengthCode())
}

// lengthBytes maps a length code to its size in bytes.
func lengthBytes(code uint8) (int, bool) {
	switch code {
	case Length8:
		return 1, true
	case Length16:
		return 2, true
	case Length32:
		return 4, true
	case Length64:
		return 8, true
	case Length128:
		return 16, true
	}
	return 0, false
}

// Kind tags the value held by an Argument.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindF32
	KindF64
	KindString
	KindRaw
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindI8:      "i8",
	KindI16:     "i16",
	KindI32:     "i32",
	KindI64:     "i64",
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindU128:    "u128",
	KindF32:     "f32",
	KindF64:     "f64",
	KindString:  "string",
	KindRaw:     "raw",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Argument is one verbose argument. Decoded String and Raw arguments borrow
// the parsed buffer.
type Argument struct {
	kind Kind
	lo   uint64
	hi   uint64
	data []byte
	text string
}

func Bool(v bool) Argument {
	a := Argument{kind: KindBool}
	if v {
		a.lo = 1
	}
	return a
}

func Int8(v int8) Argument     { return Argument{kind: KindI8, lo: uint64(v)} }
func Int16(v int16) Argument   { return Argument{kind: KindI16, lo: uint64(v)} }
func Int32(v int32) Argument   { return Argument{kind: KindI32, lo: uint64(v)} }
func Int64(v int64) Argument   { return Argument{kind: KindI64, lo: uint64(v)} }
func Uint8(v uint8) Argument   { return Argument{kind: KindU8, lo: uint64(v)} }
func Uint16(v uint16) Argument { return Argument{kind: KindU16, lo: uint64(v)} }
func Uint32(v uint32) Argument { return Argument{kind: KindU32, lo: uint64(v)} }
func Uint64(v uint64) Argument { return Argument{kind: KindU64, lo: v} }

// Uint128 builds a 128 bit unsigned argument from its high and low halves.
func Uint128(hi, lo uint64) Argument { return Argument{kind: KindU128, lo: lo, hi: hi} }

func Float32(v float32) Argument { return Argument{kind: KindF32, lo: uint64(math.Float32bits(v))} }
func Float64(v float64) Argument { return Argument{kind: KindF64, lo: math.Float64bits(v)} }

// Str builds a string argument.
func Str(s string) Argument { return Argument{kind: KindString, text: s} }

// Raw builds a raw bytes argument. b is not copied.
func Raw(b []byte) Argument { return Argument{kind: KindRaw, data: b} }

// Kind returns the tag of a.
func (a Argument) Kind() Kind { return a.kind }

// Bool returns the value of a KindBool argument.
func (a Argument) Bool() bool { return a.lo != 0 }

// Int returns the sign extended value of a signed argument.
func (a Argument) Int() int64 {
	switch a.kind {
	case KindI8:
		return int64(int8(a.lo))
	case KindI16:
		return int64(int16(a.lo))
	case KindI32:
		return int64(int32(a.lo))
	}
	return int64(a.lo)
}

// Uint returns the value of an unsigned argument, the low half for KindU128.
func (a Argument) Uint() uint64 { return a.lo }

// Uint128 returns both halves of a KindU128 argument.
func (a Argument) Uint128() (hi, lo uint64) { return a.hi, a.lo }

// Float returns the value of a float argument.
func (a Argument) Float() float64 {
	if a.kind == KindF32 {
		return float64(math.Float32frombits(uint32(a.lo)))
	}
	return math.Float64frombits(a.lo)
}

// Bits returns the raw IEEE 754 bits of a float argument, or the raw value
// of an integer argument.
func (a Argument) Bits() uint64 { return a.lo }

// Bytes returns the contents of a String or Raw argument without the
// terminating NUL.
func (a Argument) Bytes() []byte {
	if a.data == nil && a.text != "" {
		return []byte(a.text)
	}
	return a.data
}

// Text returns the contents of a String argument.
func (a Argument) Text() string {
	if a.data != nil {
		return string(a.data)
	}
	return a.text
}

// varLen is the data length of a String or Raw argument.
func (a Argument) varLen() int { return len(a.data) + len(a.text) }

// Equal reports whether a and b hold the same kind and value. Floats are
// compared by bit pattern.
func (a Argument) Equal(b Argument) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString, KindRaw:
		return a.varLen() == b.varLen() && string(a.data)+a.text == string(b.data)+b.text
	}
	return a.lo == b.lo && a.hi == b.hi
}

// String formats a for display.
func (a Argument) String() string {
	switch a.kind {
	case KindBool:
		return fmt.Sprint(a.Bool())
	case KindI8, KindI16, KindI32, KindI64:
		return fmt.Sprint(a.Int())
	case KindU8, KindU16, KindU32, KindU64:
		return fmt.Sprint(a.lo)
	case KindU128:
		if a.hi == 0 {
			return fmt.Sprint(a.lo)
		}
		return fmt.Sprintf("0x%x%016x", a.hi, a.lo)
	case KindF32, KindF64:
		return fmt.Sprint(a.Float())
	case KindString:
		return a.Text()
	case KindRaw:
		return fmt.Sprintf("%x", a.data)
	}
	return "<invalid>"
}

// EncodedSize returns the number of bytes AddArgument writes for a.
func (a Argument) EncodedSize() int {
	switch a.kind {
	case KindBool, KindI8, KindU8:
		return typeInfoSize + 1
	case KindI16, KindU16:
		return typeInfoSize + 2
	case KindI32, KindU32, KindF32:
		return typeInfoSize + 4
	case KindI64, KindU64, KindF64:
		return typeInfoSize + 8
	case KindU128:
		return typeInfoSize + 16
	case KindString, KindRaw:
		return typeInfoSize + varLengthSize + a.varLen() + 1
	}
	return 0
}

// PayloadBuilder appends verbose arguments to a caller supplied buffer.
// A failed add leaves the buffer and the length unchanged.
type PayloadBuilder struct {
	buf   []byte
	n     int
	count int
}

// NewPayloadBuilder returns a builder writing into buf.
func NewPayloadBuilder(buf []byte) *PayloadBuilder {
	return &PayloadBuilder{buf: buf}
}

// Len returns the number of bytes written.
func (p *PayloadBuilder) Len() int { return p.n }

// Count returns the number of arguments written.
func (p *PayloadBuilder) Count() int { return p.count }

// Bytes returns the encoded payload.
func (p *PayloadBuilder) Bytes() []byte { return p.buf[:p.n] }

// Reset discards everything written.
func (p *PayloadBuilder) Reset() {
	p.n = 0
	p.count = 0
}

func (p *PayloadBuilder) scalar(t TypeInfo, size int) ([]byte, error) {
	if len(p.buf)-p.n < typeInfoSize+size {
		return nil, EncodeBufferTooSmall
	}
	binary.LittleEndian.PutUint32(p.buf[p.n:], uint32(t))
	b := p.buf[p.n+typeInfoSize : p.n+typeInfoSize+size]
	p.n += typeInfoSize + size
	p.count++
	return b, nil
}

// variable writes a String or Raw argument. Only one of s and b is non empty.
func (p *PayloadBuilder) variable(t TypeInfo, s string, b []byte) error {
	n := len(s) + len(b)
	if n+1 > maxVarLength {
		return EncodeInvalidParameter
	}
	total := typeInfoSize + varLengthSize + n + 1
	if len(p.buf)-p.n < total {
		return EncodeBufferTooSmall
	}
	w := p.buf[p.n : p.n+total]
	binary.LittleEndian.PutUint32(w, uint32(t))
	binary.LittleEndian.PutUint16(w[typeInfoSize:], uint16(n+1))
	d := w[typeInfoSize+varLengthSize:]
	copy(d[copy(d, s):], b)
	d[n] = 0
	p.n += total
	p.count++
	return nil
}

// AddBool appends an 8 bit bool.
func (p *PayloadBuilder) AddBool(v bool) error {
	b, err := p.scalar(TypeBool|TypeInfo(Length8), 1)
	if err != nil {
		return err
	}
	b[0] = 0
	if v {
		b[0] = 1
	}
	return nil
}

func (p *PayloadBuilder) AddInt8(v int8) error {
	b, err := p.scalar(TypeSigned|TypeInfo(Length8), 1)
	if err == nil {
		b[0] = byte(v)
	}
	return err
}

func (p *PayloadBuilder) AddInt16(v int16) error {
	b, err := p.scalar(TypeSigned|TypeInfo(Length16), 2)
	if err == nil {
		binary.LittleEndian.PutUint16(b, uint16(v))
	}
	return err
}

func (p *PayloadBuilder) AddInt32(v int32) error {
	b, err := p.scalar(TypeSigned|TypeInfo(Length32), 4)
	if err == nil {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
	return err
}

func (p *PayloadBuilder) AddInt64(v int64) error {
	b, err := p.scalar(TypeSigned|TypeInfo(Length64), 8)
	if err == nil {
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
	return err
}

func (p *PayloadBuilder) AddUint8(v uint8) error {
	b, err := p.scalar(TypeUnsigned|TypeInfo(Length8), 1)
	if err == nil {
		b[0] = v
	}
	return err
}

func (p *PayloadBuilder) AddUint16(v uint16) error {
	b, err := p.scalar(TypeUnsigned|TypeInfo(Length16), 2)
	if err == nil {
		binary.LittleEndian.PutUint16(b, v)
	}
	return err
}

func (p *PayloadBuilder) AddUint32(v uint32) error {
	b, err := p.scalar(TypeUnsigned|TypeInfo(Length32), 4)
	if err == nil {
		binary.LittleEndian.PutUint32(b, v)
	}
	return err
}

func (p *PayloadBuilder) AddUint64(v uint64) error {
	b, err := p.scalar(TypeUnsigned|TypeInfo(Length64), 8)
	if err == nil {
		binary.LittleEndian.PutUint64(b, v)
	}
	return err
}

// AddUint128 appends a 128 bit unsigned value, low half first on the wire.
func (p *PayloadBuilder) AddUint128(hi, lo uint64) error {
	b, err := p.scalar(TypeUnsigned|TypeInfo(Length128), 16)
	if err == nil {
		binary.LittleEndian.PutUint64(b[0:8], lo)
		binary.LittleEndian.PutUint64(b[8:16], hi)
	}
	return err
}

func (p *PayloadBuilder) AddFloat32(v float32) error {
	b, err := p.scalar(TypeFloat|TypeInfo(Length32), 4)
	if err == nil {
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	}
	return err
}

func (p *PayloadBuilder) AddFloat64(v float64) error {
	b, err := p.scalar(TypeFloat|TypeInfo(Length64), 8)
	if err == nil {
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
	return err
}

// AddString appends a NUL terminated string. The encoded length includes
// the terminator.
func (p *PayloadBuilder) AddString(s string) error {
	return p.variable(TypeString, s, nil)
}

// AddStringBytes appends b as a string argument without converting it.
func (p *PayloadBuilder) AddStringBytes(b []byte) error {
	return p.variable(TypeString, "", b)
}

// AddRaw appends raw bytes, encoded like a string.
func (p *PayloadBuilder) AddRaw(b []byte) error {
	return p.variable(TypeRaw, "", b)
}

// AddArgument appends a according to its kind.
func (p *PayloadBuilder) AddArgument(a Argument) error {
	switch a.kind {
	case KindBool:
		return p.AddBool(a.Bool())
	case KindI8:
		return p.AddInt8(int8(a.lo))
	case KindI16:
		return p.AddInt16(int16(a.lo))
	case KindI32:
		return p.AddInt32(int32(a.lo))
	case KindI64:
		return p.AddInt64(int64(a.lo))
	case KindU8:
		return p.AddUint8(uint8(a.lo))
	case KindU16:
		return p.AddUint16(uint16(a.lo))
	case KindU32:
		return p.AddUint32(uint32(a.lo))
	case KindU64:
		return p.AddUint64(a.lo)
	case KindU128:
		return p.AddUint128(a.hi, a.lo)
	case KindF32:
		return p.AddFloat32(math.Float32frombits(uint32(a.lo)))
	case KindF64:
		return p.AddFloat64(math.Float64frombits(a.lo))
	case KindString:
		return p.variable(TypeString, a.text, a.data)
	case KindRaw:
		return p.variable(TypeRaw, a.text, a.data)
	}
	return EncodeInvalidParameter
}
