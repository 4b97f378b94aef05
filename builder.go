package dlt

import (
	"unicode/utf8"
)

// ByteOrder selects the MSBF bit a builder advertises.
type ByteOrder uint8

const (
	// LittleEndian clears MSBF. Verbose payloads produced by this package are
	// always little endian.
	LittleEndian ByteOrder = iota
	// BigEndian sets MSBF. Use it only with pre-encoded big endian payloads.
	BigEndian
)

const maxLen = 0xFFFF

// BuilderOption configures a MessageBuilder.
type BuilderOption func(*MessageBuilder)

func WithECUID(id ID) BuilderOption {
	return func(b *MessageBuilder) {
		b.ecu = id
		b.htyp |= FlagWEID
	}
}

func WithAppID(id ID) BuilderOption {
	return func(b *MessageBuilder) { b.app = id }
}

func WithContextID(id ID) BuilderOption {
	return func(b *MessageBuilder) { b.ctx = id }
}

// WithSessionID sets the static session ID.
func WithSessionID(v uint32) BuilderOption {
	return func(b *MessageBuilder) {
		b.sessionID = v
		b.htyp |= FlagWSID
	}
}

// WithTimestamp sets the static timestamp in 0.1 ms units.
func WithTimestamp(v uint32) BuilderOption {
	return func(b *MessageBuilder) {
		b.timestamp = v
		b.htyp |= FlagWTMS
	}
}

// WithSerialHeader prefixes every message with "DLS\x01".
func WithSerialHeader(on bool) BuilderOption {
	return func(b *MessageBuilder) { b.serial = on }
}

// WithByteOrder sets or clears MSBF.
func WithByteOrder(o ByteOrder) BuilderOption {
	return func(b *MessageBuilder) {
		if o == BigEndian {
			b.htyp |= FlagMSBF
		} else {
			b.htyp &^= FlagMSBF
		}
	}
}

// WithLegacyExtraByteOrder writes session ID and timestamp little endian when
// MSBF is clear. Only for peers that predate the R19-11 rule; parse such
// streams with ParseOptions.LegacyExtraByteOrder.
func WithLegacyExtraByteOrder() BuilderOption {
	return func(b *MessageBuilder) { b.legacyExtra = true }
}

func WithTimestampProvider(p TimestampProvider) BuilderOption {
	return func(b *MessageBuilder) {
		b.timestampProvider = p
		b.htyp |= FlagWTMS
	}
}

func WithSessionIDProvider(p SessionIDProvider) BuilderOption {
	return func(b *MessageBuilder) {
		b.sessionProvider = p
		b.htyp |= FlagWSID
	}
}

func WithoutECUID() BuilderOption {
	return func(b *MessageBuilder) { b.htyp &^= FlagWEID }
}

func WithoutSessionID() BuilderOption {
	return func(b *MessageBuilder) { b.htyp &^= FlagWSID }
}

func WithoutTimestamp() BuilderOption {
	return func(b *MessageBuilder) { b.htyp &^= FlagWTMS }
}

// WithoutExtendedHeader clears UEH. Messages then carry no application or
// context ID.
func WithoutExtendedHeader() BuilderOption {
	return func(b *MessageBuilder) { b.htyp &^= FlagUEH }
}

// MessageBuilder frames messages for one stream. It owns the message
// counter and is not safe for concurrent use.
type MessageBuilder struct {
	htyp    HeaderFlags
	counter uint8
	serial  bool

	ecu, app, ctx        ID
	sessionID, timestamp uint32
	legacyExtra          bool

	timestampProvider TimestampProvider
	sessionProvider   SessionIDProvider
}

// NewMessageBuilder returns a builder with every extra field and the extended
// header enabled, MSBF clear and the default identifiers.
func NewMessageBuilder(opts ...BuilderOption) *MessageBuilder {
	b := &MessageBuilder{
		htyp: (FlagUEH | FlagWEID | FlagWSID | FlagWTMS).WithVersion(Version),
		ecu:  DefaultECUID,
		app:  DefaultAppID,
		ctx:  DefaultContextID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Flags returns the HTYP byte written into every message.
func (b *MessageBuilder) Flags() HeaderFlags { return b.htyp }

func (b *MessageBuilder) ECUID() ID     { return b.ecu }
func (b *MessageBuilder) AppID() ID     { return b.app }
func (b *MessageBuilder) ContextID() ID { return b.ctx }

// SetAppID changes the application ID of subsequent messages.
func (b *MessageBuilder) SetAppID(id ID) { b.app = id }

// SetContextID changes the context ID of subsequent messages.
func (b *MessageBuilder) SetContextID(id ID) { b.ctx = id }

// HeaderSize returns the bytes written in front of every payload, serial
// header included.
func (b *MessageBuilder) HeaderSize() int {
	n := b.htyp.HeaderSize()
	if b.serial {
		n += SerialHeaderSize
	}
	return n
}

// Counter returns the MCNT value of the next message.
func (b *MessageBuilder) Counter() uint8 { return b.counter }

// IncrementCounter advances MCNT, wrapping at 256.
func (b *MessageBuilder) IncrementCounter() { b.counter++ }

// ResetCounter sets MCNT back to zero.
func (b *MessageBuilder) ResetCounter() { b.counter = 0 }

func (b *MessageBuilder) extra() StandardHeaderExtra {
	x := StandardHeaderExtra{ECU: b.ecu, SessionID: b.sessionID, Timestamp: b.timestamp}
	def, hasDef := DefaultProviders()
	switch {
	case b.sessionProvider != nil:
		x.SessionID = b.sessionProvider.SessionID()
	case hasDef && def.SessionID != nil:
		x.SessionID = def.SessionID.SessionID()
	}
	switch {
	case b.timestampProvider != nil:
		x.Timestamp = b.timestampProvider.Timestamp()
	case hasDef && def.Timestamp != nil:
		x.Timestamp = def.Timestamp.Timestamp()
	}
	return x
}

// reserve validates the frame size for a payload of plen bytes.
func (b *MessageBuilder) reserve(buf []byte, plen int) (int, error) {
	if plen < 0 {
		return 0, EncodeInvalidParameter
	}
	if b.htyp.HeaderSize()+plen > maxLen {
		return 0, EncodeInvalidParameter
	}
	total := b.HeaderSize() + plen
	if len(buf) < total {
		return 0, EncodeBufferTooSmall
	}
	return total, nil
}

// putHeader writes every header in front of a payload of plen bytes and
// returns the payload offset. The caller has called reserve.
func (b *MessageBuilder) putHeader(buf []byte, plen int, msin, noar uint8) int {
	off := 0
	if b.serial {
		copy(buf, serialHeaderPattern[:])
		off = SerialHeaderSize
	}
	StandardHeader{
		HTYP: b.htyp,
		MCNT: b.counter,
		Len:  uint16(b.htyp.HeaderSize() + plen),
	}.put(buf[off:])
	off += StandardHeaderSize
	off += b.extra().put(buf[off:], b.htyp, b.legacyExtra)
	if b.htyp.Has(FlagUEH) {
		ExtendedHeader{MSIN: msin, NOAR: noar, AppID: b.app, CtxID: b.ctx}.put(buf[off:])
		off += ExtendedHeaderSize
	}
	return off
}

// Build writes a log message into buf and returns its size. With verbose set
// the payload is encoded as one string argument and must be valid UTF-8;
// otherwise it is copied as is.
func (b *MessageBuilder) Build(buf, payload []byte, level LogLevel, noar uint8, verbose bool) (int, error) {
	plen := len(payload)
	if verbose {
		if !utf8.Valid(payload) || plen+1 > maxVarLength {
			return 0, EncodeInvalidParameter
		}
		plen = typeInfoSize + varLengthSize + plen + 1
	}
	total, err := b.reserve(buf, plen)
	if err != nil {
		return 0, err
	}
	off := b.putHeader(buf, plen, EncodeMSIN(verbose, TypeLog, uint8(level)), noar)
	if verbose {
		if err := NewPayloadBuilder(buf[off:total]).AddStringBytes(payload); err != nil {
			return 0, err
		}
	} else {
		copy(buf[off:], payload)
	}
	b.counter++
	return total, nil
}

// BuildArgs writes a verbose log message carrying args.
func (b *MessageBuilder) BuildArgs(buf []byte, level LogLevel, args ...Argument) (int, error) {
	if len(args) > 0xFF {
		return 0, EncodeInvalidParameter
	}
	plen := 0
	for _, a := range args {
		n := a.EncodedSize()
		if n == 0 {
			return 0, EncodeInvalidParameter
		}
		if a.kind == KindString && !utf8.ValidString(a.Text()) {
			return 0, EncodeInvalidParameter
		}
		if (a.kind == KindString || a.kind == KindRaw) && a.varLen()+1 > maxVarLength {
			return 0, EncodeInvalidParameter
		}
		plen += n
	}
	total, err := b.reserve(buf, plen)
	if err != nil {
		return 0, err
	}
	off := b.putHeader(buf, plen, EncodeMSIN(true, TypeLog, uint8(level)), uint8(len(args)))
	pb := NewPayloadBuilder(buf[off:total])
	for _, a := range args {
		if err := pb.AddArgument(a); err != nil {
			return 0, err
		}
	}
	b.counter++
	return total, nil
}

// InsertHeader frames a payload already written at the start of buf. The
// payload is moved right by the header size and the header written at
// offset 0. A non zero noar marks the payload as verbose. buf is left
// untouched on error.
func (b *MessageBuilder) InsertHeader(buf []byte, payloadSize int, noar uint8, level LogLevel) (int, error) {
	if payloadSize > len(buf) {
		return 0, EncodeBufferTooSmall
	}
	total, err := b.reserve(buf, payloadSize)
	if err != nil {
		return 0, err
	}
	hdr := total - payloadSize
	copy(buf[hdr:total], buf[:payloadSize])
	b.putHeader(buf, payloadSize, EncodeMSIN(noar > 0, TypeLog, uint8(level)), noar)
	b.counter++
	return total, nil
}

// BuildControl writes a non verbose control message carrying a service
// payload.
func (b *MessageBuilder) BuildControl(buf, payload []byte, ct ControlType) (int, error) {
	total, err := b.reserve(buf, len(payload))
	if err != nil {
		return 0, err
	}
	off := b.putHeader(buf, len(payload), EncodeMSIN(false, TypeControl, uint8(ct)), 0)
	copy(buf[off:], payload)
	b.counter++
	return total, nil
}

func (b *MessageBuilder) logText(buf []byte, level LogLevel, text string) (int, error) {
	return b.BuildArgs(buf, level, Str(text))
}

// LogFatal writes text as a verbose fatal message.
func (b *MessageBuilder) LogFatal(buf []byte, text string) (int, error) {
	return b.logText(buf, LogFatal, text)
}

func (b *MessageBuilder) LogError(buf []byte, text string) (int, error) {
	return b.logText(buf, LogError, text)
}

func (b *MessageBuilder) LogWarn(buf []byte, text string) (int, error) {
	return b.logText(buf, LogWarn, text)
}

func (b *MessageBuilder) LogInfo(buf []byte, text string) (int, error) {
	return b.logText(buf, LogInfo, text)
}

func (b *MessageBuilder) LogDebug(buf []byte, text string) (int, error) {
	return b.logText(buf, LogDebug, text)
}

func (b *MessageBuilder) LogVerbose(buf []byte, text string) (int, error) {
	return b.logText(buf, LogVerbose, text)
}
