package dlt

import "encoding/binary"

// Message is one parsed DLT message. Payload borrows the parsed buffer and is
// only valid as long as that buffer is not modified.
type Message struct {
	SerialHeader bool
	Header       StandardHeader
	Extra        StandardHeaderExtra
	Extended     ExtendedHeader
	Payload      []byte
}

// ECUID returns the ECU ID if WEID is set.
func (m *Message) ECUID() (ID, bool) {
	return m.Extra.ECU, m.Header.HTYP.Has(FlagWEID)
}

// SessionID returns the session ID if WSID is set.
func (m *Message) SessionID() (uint32, bool) {
	return m.Extra.SessionID, m.Header.HTYP.Has(FlagWSID)
}

// Timestamp returns the timestamp in 0.1 ms units if WTMS is set.
func (m *Message) Timestamp() (uint32, bool) {
	return m.Extra.Timestamp, m.Header.HTYP.Has(FlagWTMS)
}

// ExtendedHeader returns the extended header if UEH is set.
func (m *Message) ExtendedHeader() (ExtendedHeader, bool) {
	return m.Extended, m.Header.HTYP.Has(FlagUEH)
}

// IsControl reports whether m carries a service request or response.
func (m *Message) IsControl() bool {
	return m.Header.HTYP.Has(FlagUEH) && m.Extended.MessageType() == TypeControl
}

// Size returns the number of bytes the message occupies on the wire,
// serial header included.
func (m *Message) Size() int {
	if m.SerialHeader {
		return SerialHeaderSize + int(m.Header.Len)
	}
	return int(m.Header.Len)
}

// ParseOptions tunes the header parser.
type ParseOptions struct {
	// RequireSerialHeader rejects messages without a leading "DLS\x01".
	RequireSerialHeader bool
	// LegacyExtraByteOrder decodes session ID and timestamp little endian
	// when MSBF is clear, as older encoders did.
	LegacyExtraByteOrder bool
}

// ParseMessage parses one complete message from b with the default options.
func ParseMessage(b []byte) (Message, error) {
	return ParseOptions{}.Parse(b)
}

// Parse parses one complete message from b. Bytes following the message are
// ignored; Message.Size reports how many were consumed. On error the zero
// Message is returned.
func (o ParseOptions) Parse(b []byte) (Message, error) {
	var m Message

	off, err := o.serialHeader(b)
	if err != nil {
		return Message{}, err
	}
	m.SerialHeader = off > 0

	if len(b)-off < StandardHeaderSize {
		return Message{}, HeaderBufferTooSmall
	}
	start := off
	m.Header.HTYP = HeaderFlags(b[off])
	m.Header.MCNT = b[off+1]
	m.Header.Len = binary.BigEndian.Uint16(b[off+2 : off+4])
	if m.Header.HTYP.Version() != Version {
		return Message{}, HeaderInvalidVersion
	}
	off += StandardHeaderSize

	need := m.Header.HTYP.HeaderSize()
	if int(m.Header.Len) < need {
		return Message{}, HeaderInvalidHeaderType
	}
	if len(b)-start < need {
		return Message{}, HeaderBufferTooSmall
	}

	f := m.Header.HTYP
	order := extraByteOrder(f, o.LegacyExtraByteOrder)
	if f.Has(FlagWEID) {
		copy(m.Extra.ECU[:], b[off:off+IDSize])
		off += IDSize
	}
	if f.Has(FlagWSID) {
		m.Extra.SessionID = order.Uint32(b[off : off+extraFieldSize])
		off += extraFieldSize
	}
	if f.Has(FlagWTMS) {
		m.Extra.Timestamp = order.Uint32(b[off : off+extraFieldSize])
		off += extraFieldSize
	}
	if f.Has(FlagUEH) {
		m.Extended.MSIN = b[off]
		m.Extended.NOAR = b[off+1]
		copy(m.Extended.AppID[:], b[off+2:off+6])
		copy(m.Extended.CtxID[:], b[off+6:off+10])
		off += ExtendedHeaderSize
	}

	end := start + int(m.Header.Len)
	if end > len(b) {
		return Message{}, HeaderBufferTooSmall
	}
	m.Payload = b[off:end:end]
	return m, nil
}

// serialHeader returns the number of serial header bytes at the start of b.
func (o ParseOptions) serialHeader(b []byte) (int, error) {
	if len(b) >= 3 && b[0] == serialHeaderPattern[0] && b[1] == serialHeaderPattern[1] && b[2] == serialHeaderPattern[2] {
		if len(b) < SerialHeaderSize {
			return 0, HeaderBufferTooSmall
		}
		if b[3] != serialHeaderPattern[3] {
			return 0, HeaderInvalidSerialHeader
		}
		return SerialHeaderSize, nil
	}
	if o.RequireSerialHeader {
		if len(b) < SerialHeaderSize {
			return 0, HeaderBufferTooSmall
		}
		return 0, HeaderInvalidSerialHeader
	}
	return 0, nil
}

// MessageSize returns the full wire size of the message starting at b,
// serial header included. b needs to hold the standard header only.
func MessageSize(b []byte) (int, error) {
	off, err := ParseOptions{}.serialHeader(b)
	if err != nil {
		return 0, err
	}
	if len(b)-off < StandardHeaderSize {
		return 0, HeaderBufferTooSmall
	}
	f := HeaderFlags(b[off])
	if f.Version() != Version {
		return 0, HeaderInvalidVersion
	}
	l := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
	if l < f.HeaderSize() {
		return 0, HeaderInvalidHeaderType
	}
	return off + l, nil
}
