package dlt

import "fmt"

// EncodeError is returned by the message, payload and service builders.
type EncodeError int

// HeaderError is returned by the header parser.
type HeaderError int

// PayloadError is returned by the verbose payload and service parsers.
type PayloadError int

const (
	EncodeBufferTooSmall   EncodeError = 1
	EncodeInvalidParameter EncodeError = 2
)

const (
	HeaderBufferTooSmall      HeaderError = 11
	HeaderInvalidVersion      HeaderError = 12
	HeaderInvalidSerialHeader HeaderError = 13
	HeaderInvalidHeaderType   HeaderError = 14
)

const (
	PayloadBufferTooSmall    PayloadError = 21
	PayloadInvalidType       PayloadError = 22
	PayloadInvalidData       PayloadError = 23
	PayloadUnsupportedLength PayloadError = 24
)

func (e EncodeError) Error() string {
	switch e {
	case EncodeBufferTooSmall:
		return fmt.Sprintf("#%02d <DLT: Encode buffer too small>", int(e))
	case EncodeInvalidParameter:
		return fmt.Sprintf("#%02d <DLT: Encode invalid parameter>", int(e))
	default:
		return fmt.Sprintf("#%02d <DLT: Unknown encode error>", int(e))
	}
}

func (e HeaderError) Error() string {
	switch e {
	case HeaderBufferTooSmall:
		return fmt.Sprintf("#%02d <DLT: Header buffer too small>", int(e))
	case HeaderInvalidVersion:
		return fmt.Sprintf("#%02d <DLT: Header invalid version>", int(e))
	case HeaderInvalidSerialHeader:
		return fmt.Sprintf("#%02d <DLT: Invalid serial header>", int(e))
	case HeaderInvalidHeaderType:
		return fmt.Sprintf("#%02d <DLT: Invalid header type>", int(e))
	default:
		return fmt.Sprintf("#%02d <DLT: Unknown header error>", int(e))
	}
}

func (e PayloadError) Error() string {
	switch e {
	case PayloadBufferTooSmall:
		return fmt.Sprintf("#%02d <DLT: Payload buffer too small>", int(e))
	case PayloadInvalidType:
		return fmt.Sprintf("#%02d <DLT: Payload invalid type>", int(e))
	case PayloadInvalidData:
		return fmt.Sprintf("#%02d <DLT: Payload invalid data>", int(e))
	case PayloadUnsupportedLength:
		return fmt.Sprintf("#%02d <DLT: Payload unsupported length>", int(e))
	default:
		return fmt.Sprintf("#%02d <DLT: Unknown payload error>", int(e))
	}
}
