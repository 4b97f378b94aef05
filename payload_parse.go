package dlt

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// PayloadParser reads verbose arguments from a payload. Typed reads either
// consume a whole argument or leave the position unchanged.
type PayloadParser struct {
	data []byte
	pos  int
}

// NewPayloadParser returns a parser over b.
func NewPayloadParser(b []byte) *PayloadParser {
	return &PayloadParser{data: b}
}

// Remaining returns the number of unread bytes.
func (p *PayloadParser) Remaining() int { return len(p.data) - p.pos }

// Empty reports whether all bytes were consumed.
func (p *PayloadParser) Empty() bool { return p.pos >= len(p.data) }

// Position returns the read offset.
func (p *PayloadParser) Position() int { return p.pos }

// Reset moves back to the first argument.
func (p *PayloadParser) Reset() { p.pos = 0 }

// Seek moves the read offset to pos.
func (p *PayloadParser) Seek(pos int) error {
	if pos < 0 || pos > len(p.data) {
		return PayloadBufferTooSmall
	}
	p.pos = pos
	return nil
}

func (p *PayloadParser) take(n int) ([]byte, error) {
	if n < 0 || len(p.data)-p.pos < n {
		return nil, PayloadBufferTooSmall
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// PeekTypeInfo decodes the next Type Info word without consuming it.
func (p *PayloadParser) PeekTypeInfo() (TypeInfo, error) {
	if p.Remaining() < typeInfoSize {
		return 0, PayloadBufferTooSmall
	}
	t := TypeInfo(binary.LittleEndian.Uint32(p.data[p.pos:]))
	if t.LengthCode() > Length128 || t.Category() == 0 {
		return 0, PayloadInvalidType
	}
	return t, nil
}

// ReadTypeInfo decodes and consumes the next Type Info word.
func (p *PayloadParser) ReadTypeInfo() (TypeInfo, error) {
	t, err := p.PeekTypeInfo()
	if err != nil {
		return 0, err
	}
	p.pos += typeInfoSize
	return t, nil
}

// scalar consumes a fixed size argument of the given category and length.
func (p *PayloadParser) scalar(cat TypeInfo, code uint8) ([]byte, error) {
	t, err := p.PeekTypeInfo()
	if err != nil {
		return nil, err
	}
	if t.Category() != cat || t.LengthCode() != code {
		return nil, PayloadInvalidType
	}
	size, _ := lengthBytes(code)
	if p.Remaining() < typeInfoSize+size {
		return nil, PayloadBufferTooSmall
	}
	p.pos += typeInfoSize
	b, _ := p.take(size)
	return b, nil
}

// variable consumes a String or Raw argument and returns its data without
// the terminating NUL.
func (p *PayloadParser) variable(cat TypeInfo) ([]byte, error) {
	t, err := p.PeekTypeInfo()
	if err != nil {
		return nil, err
	}
	if t.Category() != cat {
		return nil, PayloadInvalidType
	}
	start := p.pos
	p.pos += typeInfoSize
	l, err := p.take(varLengthSize)
	if err != nil {
		p.pos = start
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(l))
	if n == 0 {
		p.pos = start
		return nil, PayloadInvalidData
	}
	d, err := p.take(n)
	if err != nil {
		p.pos = start
		return nil, err
	}
	if d[n-1] != 0 {
		p.pos = start
		return nil, PayloadInvalidData
	}
	return d[: n-1 : n-1], nil
}

func (p *PayloadParser) ReadBool() (bool, error) {
	b, err := p.scalar(TypeBool, Length8)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (p *PayloadParser) ReadInt8() (int8, error) {
	b, err := p.scalar(TypeSigned, Length8)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (p *PayloadParser) ReadInt16() (int16, error) {
	b, err := p.scalar(TypeSigned, Length16)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (p *PayloadParser) ReadInt32() (int32, error) {
	b, err := p.scalar(TypeSigned, Length32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *PayloadParser) ReadInt64() (int64, error) {
	b, err := p.scalar(TypeSigned, Length64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (p *PayloadParser) ReadUint8() (uint8, error) {
	b, err := p.scalar(TypeUnsigned, Length8)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *PayloadParser) ReadUint16() (uint16, error) {
	b, err := p.scalar(TypeUnsigned, Length16)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (p *PayloadParser) ReadUint32() (uint32, error) {
	b, err := p.scalar(TypeUnsigned, Length32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *PayloadParser) ReadUint64() (uint64, error) {
	b, err := p.scalar(TypeUnsigned, Length64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint128 returns the high and low halves of a 128 bit unsigned value.
func (p *PayloadParser) ReadUint128() (hi, lo uint64, err error) {
	b, err := p.scalar(TypeUnsigned, Length128)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(b[8:16]), binary.LittleEndian.Uint64(b[0:8]), nil
}

func (p *PayloadParser) ReadFloat32() (float32, error) {
	b, err := p.scalar(TypeFloat, Length32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (p *PayloadParser) ReadFloat64() (float64, error) {
	b, err := p.scalar(TypeFloat, Length64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadStringBytes returns the next string argument as a slice of the payload.
func (p *PayloadParser) ReadStringBytes() ([]byte, error) {
	start := p.pos
	d, err := p.variable(TypeString)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(d) {
		p.pos = start
		return nil, PayloadInvalidData
	}
	return d, nil
}

// ReadString returns a copy of the next string argument.
func (p *PayloadParser) ReadString() (string, error) {
	d, err := p.ReadStringBytes()
	if err != nil {
		return "", err
	}
	return string(d), nil
}

// ReadRaw returns the next raw argument as a slice of the payload.
func (p *PayloadParser) ReadRaw() ([]byte, error) {
	return p.variable(TypeRaw)
}

// ReadNext decodes the next argument whatever its type.
func (p *PayloadParser) ReadNext() (Argument, error) {
	t, err := p.PeekTypeInfo()
	if err != nil {
		return Argument{}, err
	}
	code := t.LengthCode()
	switch t.Category() {
	case TypeBool:
		if code != Length8 {
			return Argument{}, PayloadUnsupportedLength
		}
		v, err := p.ReadBool()
		return Bool(v), err
	case TypeSigned:
		return p.readSigned(code)
	case TypeUnsigned:
		return p.readUnsigned(code)
	case TypeFloat:
		switch code {
		case Length32:
			v, err := p.ReadFloat32()
			return Float32(v), err
		case Length64:
			v, err := p.ReadFloat64()
			return Float64(v), err
		}
		return Argument{}, PayloadUnsupportedLength
	case TypeString:
		d, err := p.ReadStringBytes()
		if err != nil {
			return Argument{}, err
		}
		return Argument{kind: KindString, data: d}, nil
	case TypeRaw:
		d, err := p.ReadRaw()
		if err != nil {
			return Argument{}, err
		}
		return Argument{kind: KindRaw, data: d}, nil
	}
	return Argument{}, PayloadInvalidType
}

func (p *PayloadParser) readSigned(code uint8) (Argument, error) {
	switch code {
	case Length8:
		v, err := p.ReadInt8()
		return Int8(v), err
	case Length16:
		v, err := p.ReadInt16()
		return Int16(v), err
	case Length32:
		v, err := p.ReadInt32()
		return Int32(v), err
	case Length64:
		v, err := p.ReadInt64()
		return Int64(v), err
	}
	return Argument{}, PayloadUnsupportedLength
}

func (p *PayloadParser) readUnsigned(code uint8) (Argument, error) {
	switch code {
	case Length8:
		v, err := p.ReadUint8()
		return Uint8(v), err
	case Length16:
		v, err := p.ReadUint16()
		return Uint16(v), err
	case Length32:
		v, err := p.ReadUint32()
		return Uint32(v), err
	case Length64:
		v, err := p.ReadUint64()
		return Uint64(v), err
	case Length128:
		hi, lo, err := p.ReadUint128()
		return Uint128(hi, lo), err
	}
	return Argument{}, PayloadUnsupportedLength
}

// ReadAll decodes arguments into dst until the payload is exhausted or dst
// is full. It returns the number of arguments stored; callers check
// Remaining to detect arguments that did not fit.
func (p *PayloadParser) ReadAll(dst []Argument) (int, error) {
	n := 0
	for !p.Empty() && n < len(dst) {
		a, err := p.ReadNext()
		if err != nil {
			return n, err
		}
		dst[n] = a
		n++
	}
	return n, nil
}

// Skip consumes the next argument without decoding its value.
func (p *PayloadParser) Skip() error {
	t, err := p.PeekTypeInfo()
	if err != nil {
		return err
	}
	switch t.Category() {
	case TypeBool, TypeSigned, TypeUnsigned, TypeFloat:
		size, ok := lengthBytes(t.LengthCode())
		if !ok {
			return PayloadUnsupportedLength
		}
		if p.Remaining() < typeInfoSize+size {
			return PayloadBufferTooSmall
		}
		p.pos += typeInfoSize + size
		return nil
	case TypeString, TypeRaw:
		start := p.pos
		p.pos += typeInfoSize
		l, err := p.take(varLengthSize)
		if err == nil {
			_, err = p.take(int(binary.LittleEndian.Uint16(l)))
		}
		if err != nil {
			p.pos = start
		}
		return err
	}
	return PayloadInvalidType
}
