package dlt

// Sizes of the fixed header parts, AUTOSAR PRS_Dlt R19-11 chapter 5.1
const (
	IDSize             = 4
	StandardHeaderSize = 4
	ExtendedHeaderSize = 10
	SerialHeaderSize   = 4
	StorageHeaderSize  = 16
	extraFieldSize     = 4
	maxExtraSize       = IDSize + 2*extraFieldSize
)

// HTYP bits of the Standard Header
const (
	FlagUEH  HeaderFlags = 0x01 // use extended header
	FlagMSBF HeaderFlags = 0x02 // most significant byte first
	FlagWEID HeaderFlags = 0x04 // with ECU ID
	FlagWSID HeaderFlags = 0x08 // with session ID
	FlagWTMS HeaderFlags = 0x10 // with timestamp

	versionMask  HeaderFlags = 0xE0
	versionShift             = 5
)

// Version is the only protocol version accepted by the parser.
const Version uint8 = 1

// Bit layout of the extended header MSIN byte
const (
	msinVerbose   uint8 = 0x01
	msinMSTPMask  uint8 = 0x0E
	msinMSTPShift       = 1
	msinMTINMask  uint8 = 0xF0
	msinMTINShift       = 4
)

var (
	serialHeaderPattern  = [SerialHeaderSize]byte{'D', 'L', 'S', 0x01}
	storageHeaderPattern = [4]byte{'D', 'L', 'T', 0x01}
)

// Default identifiers used by a builder with no explicit configuration
var (
	DefaultECUID     = ID{'E', 'C', 'U', '1'}
	DefaultAppID     = ID{'A', 'P', 'P', '1'}
	DefaultContextID = ID{'C', 'T', 'X', '1'}
)

// ServiceSuffix is the reserved 4-byte trailer carried by several service
// payloads. Its position differs per service.
var ServiceSuffix = [4]byte{'r', 'e', 'm', 'o'}

// Trace status values used by the control services
const (
	TraceStatusDefault int8 = -1
	TraceStatusOff     int8 = 0
	TraceStatusOn      int8 = 1
)

// Log level values used by the control services. 1..6 map to LogFatal..LogVerbose.
const (
	LogLevelDefault int8 = -1
	LogLevelOff     int8 = 0
)

// GetLogInfo request options
const (
	LogInfoWithLevels       uint8 = 6
	LogInfoWithDescriptions uint8 = 7
)
