package dlt

import (
	"encoding/binary"
	"fmt"
)

// ID is a 4 byte ECU, application or context identifier. It is usually
// ASCII and not required to be NUL terminated.
type ID [IDSize]byte

// WildcardID selects all applications or all contexts in control requests.
var WildcardID ID

// MakeID truncates or zero pads s into an ID.
func MakeID(s string) (id ID) {
	copy(id[:], s)
	return
}

// String returns the identifier up to the first NUL byte.
func (id ID) String() string {
	n := 0
	for n < IDSize && id[n] != 0 {
		n++
	}
	return string(id[:n])
}

// IsWildcard reports whether id is all zero.
func (id ID) IsWildcard() bool { return id == WildcardID }

// Matches reports whether the filter id selects other. A wildcard selects
// everything.
func (id ID) Matches(other ID) bool { return id.IsWildcard() || id == other }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	if len(b) > IDSize {
		return fmt.Errorf("dlt: identifier %q longer than %d bytes", b, IDSize)
	}
	*id = MakeID(string(b))
	return nil
}

// HeaderFlags is the HTYP byte of the Standard Header.
type HeaderFlags uint8

// Has reports whether all bits of b are set.
func (f HeaderFlags) Has(b HeaderFlags) bool { return f&b == b }

// Version returns the 3 bit protocol version.
func (f HeaderFlags) Version() uint8 { return uint8((f & versionMask) >> versionShift) }

// WithVersion returns f with the version bits replaced.
func (f HeaderFlags) WithVersion(v uint8) HeaderFlags {
	return f&^versionMask | HeaderFlags(v<<versionShift)&versionMask
}

// ExtraSize returns the size of the Standard Header Extra fields selected by f.
func (f HeaderFlags) ExtraSize() int {
	n := 0
	if f.Has(FlagWEID) {
		n += IDSize
	}
	if f.Has(FlagWSID) {
		n += extraFieldSize
	}
	if f.Has(FlagWTMS) {
		n += extraFieldSize
	}
	return n
}

// HeaderSize returns the number of header bytes following an optional serial
// header: standard header, extra fields and the extended header if UEH is set.
func (f HeaderFlags) HeaderSize() int {
	n := StandardHeaderSize + f.ExtraSize()
	if f.Has(FlagUEH) {
		n += ExtendedHeaderSize
	}
	return n
}

// StandardHeader is the mandatory 4 byte header.
type StandardHeader struct {
	HTYP HeaderFlags
	MCNT uint8
	// Len counts every byte from the standard header to the end of the
	// payload, serial header excluded. Always big endian on the wire.
	Len uint16
}

func (h StandardHeader) put(b []byte) {
	b[0] = byte(h.HTYP)
	b[1] = h.MCNT
	binary.BigEndian.PutUint16(b[2:4], h.Len)
}

// StandardHeaderExtra holds the optional fields. A field is only meaningful
// when its HTYP bit is set.
type StandardHeaderExtra struct {
	ECU       ID
	SessionID uint32
	// Timestamp in 0.1 ms units.
	Timestamp uint32
}

// extraByteOrder returns the order of the session ID and timestamp fields.
// The legacy order follows MSBF, otherwise both are big endian.
func extraByteOrder(f HeaderFlags, legacy bool) binary.ByteOrder {
	if legacy && !f.Has(FlagMSBF) {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (x StandardHeaderExtra) put(b []byte, f HeaderFlags, legacy bool) int {
	order := extraByteOrder(f, legacy)
	off := 0
	if f.Has(FlagWEID) {
		copy(b[off:off+IDSize], x.ECU[:])
		off += IDSize
	}
	if f.Has(FlagWSID) {
		order.PutUint32(b[off:off+extraFieldSize], x.SessionID)
		off += extraFieldSize
	}
	if f.Has(FlagWTMS) {
		order.PutUint32(b[off:off+extraFieldSize], x.Timestamp)
		off += extraFieldSize
	}
	return off
}

// ExtendedHeader is the optional 10 byte header present when UEH is set.
type ExtendedHeader struct {
	MSIN uint8
	// NOAR is the declared number of arguments. Informational only.
	NOAR  uint8
	AppID ID
	CtxID ID
}

// EncodeMSIN packs the verbose flag at bit 0, MSTP at bits 1-3 and MTIN at
// bits 4-7.
func EncodeMSIN(verbose bool, mstp MessageType, mtin uint8) uint8 {
	var v uint8
	if verbose {
		v = msinVerbose
	}
	return v | (uint8(mstp)<<msinMSTPShift)&msinMSTPMask | (mtin<<msinMTINShift)&msinMTINMask
}

// Verbose reports whether the payload uses verbose argument encoding.
func (e ExtendedHeader) Verbose() bool { return e.MSIN&msinVerbose != 0 }

// MessageType returns MSTP.
func (e ExtendedHeader) MessageType() MessageType {
	return MessageType((e.MSIN & msinMSTPMask) >> msinMSTPShift)
}

// TypeInfo returns the raw MTIN nibble.
func (e ExtendedHeader) TypeInfo() uint8 { return (e.MSIN & msinMTINMask) >> msinMTINShift }

// LogLevel returns MTIN as a log level if MSTP is Log.
func (e ExtendedHeader) LogLevel() (LogLevel, bool) {
	if e.MessageType() != TypeLog {
		return 0, false
	}
	return LogLevel(e.TypeInfo()), true
}

// ControlType returns MTIN as a control type if MSTP is Control.
func (e ExtendedHeader) ControlType() (ControlType, bool) {
	if e.MessageType() != TypeControl {
		return 0, false
	}
	return ControlType(e.TypeInfo()), true
}

// TypeInfoName names MTIN in the context of MSTP.
func (e ExtendedHeader) TypeInfoName() string {
	mtin := e.TypeInfo()
	switch e.MessageType() {
	case TypeLog:
		return LogLevel(mtin).String()
	case TypeAppTrace:
		return AppTraceType(mtin).String()
	case TypeNwTrace:
		return NwTraceType(mtin).String()
	case TypeControl:
		return ControlType(mtin).String()
	}
	return fmt.Sprintf("reserved(%d)", mtin)
}

func (e ExtendedHeader) put(b []byte) {
	b[0] = e.MSIN
	b[1] = e.NOAR
	copy(b[2:6], e.AppID[:])
	copy(b[6:10], e.CtxID[:])
}

// MessageType is MSTP, the 3 bit message type.
type MessageType uint8

const (
	TypeLog      MessageType = 0
	TypeAppTrace MessageType = 1
	TypeNwTrace  MessageType = 2
	TypeControl  MessageType = 3
)

// IsReserved reports whether t is in the reserved range 4..7.
func (t MessageType) IsReserved() bool { return t > TypeControl }

func (t MessageType) String() string {
	switch t {
	case TypeLog:
		return "log"
	case TypeAppTrace:
		return "app_trace"
	case TypeNwTrace:
		return "nw_trace"
	case TypeControl:
		return "control"
	}
	return fmt.Sprintf("reserved(%d)", uint8(t))
}

// LogLevel is MTIN for MSTP Log.
type LogLevel uint8

const (
	LogFatal   LogLevel = 1
	LogError   LogLevel = 2
	LogWarn    LogLevel = 3
	LogInfo    LogLevel = 4
	LogDebug   LogLevel = 5
	LogVerbose LogLevel = 6
)

// IsReserved reports whether l is outside 1..6.
func (l LogLevel) IsReserved() bool { return l < LogFatal || l > LogVerbose }

func (l LogLevel) String() string {
	switch l {
	case LogFatal:
		return "fatal"
	case LogError:
		return "error"
	case LogWarn:
		return "warn"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogVerbose:
		return "verbose"
	}
	return fmt.Sprintf("reserved(%d)", uint8(l))
}

// ControlType is MTIN for MSTP Control.
type ControlType uint8

const (
	ControlRequest  ControlType = 1
	ControlResponse ControlType = 2
)

func (c ControlType) String() string {
	switch c {
	case ControlRequest:
		return "request"
	case ControlResponse:
		return "response"
	}
	return fmt.Sprintf("reserved(%d)", uint8(c))
}

// AppTraceType is MTIN for MSTP AppTrace.
type AppTraceType uint8

func (a AppTraceType) String() string {
	switch a {
	case 1:
		return "variable"
	case 2:
		return "function_in"
	case 3:
		return "function_out"
	case 4:
		return "state"
	case 5:
		return "vfb"
	}
	return fmt.Sprintf("reserved(%d)", uint8(a))
}

// NwTraceType is MTIN for MSTP NwTrace.
type NwTraceType uint8

func (n NwTraceType) String() string {
	switch n {
	case 1:
		return "ipc"
	case 2:
		return "can"
	case 3:
		return "flexray"
	case 4:
		return "most"
	case 5:
		return "ethernet"
	case 6:
		return "someip"
	}
	return fmt.Sprintf("reserved(%d)", uint8(n))
}
