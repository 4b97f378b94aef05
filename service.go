package dlt

import (
	"encoding/binary"
	"fmt"
)

// ServiceID is the leading little endian word of every control payload.
type ServiceID uint32

const (
	ServiceSetLogLevel                ServiceID = 0x01
	ServiceSetTraceStatus             ServiceID = 0x02
	ServiceGetLogInfo                 ServiceID = 0x03
	ServiceGetDefaultLogLevel         ServiceID = 0x04
	ServiceStoreConfiguration         ServiceID = 0x05
	ServiceResetToFactoryDefault      ServiceID = 0x06
	ServiceSetMessageFiltering        ServiceID = 0x0A
	ServiceSetDefaultLogLevel         ServiceID = 0x11
	ServiceSetDefaultTraceStatus      ServiceID = 0x12
	ServiceGetSoftwareVersion         ServiceID = 0x13
	ServiceGetDefaultTraceStatus      ServiceID = 0x15
	ServiceGetLogChannelNames         ServiceID = 0x17
	ServiceGetTraceStatus             ServiceID = 0x1F
	ServiceSetLogChannelAssignment    ServiceID = 0x20
	ServiceSetLogChannelThreshold     ServiceID = 0x21
	ServiceGetLogChannelThreshold     ServiceID = 0x22
	ServiceBufferOverflowNotification ServiceID = 0x23
	ServiceSyncTimeStamp              ServiceID = 0x24
	// ServiceCallSWCInjection is the canonical value of the injection range
	// 0xFFF and above.
	ServiceCallSWCInjection ServiceID = 0xFFF
)

var serviceNames = map[ServiceID]string{
	ServiceSetLogLevel:                "set_log_level",
	ServiceSetTraceStatus:             "set_trace_status",
	ServiceGetLogInfo:                 "get_log_info",
	ServiceGetDefaultLogLevel:         "get_default_log_level",
	ServiceStoreConfiguration:         "store_configuration",
	ServiceResetToFactoryDefault:      "reset_to_factory_default",
	ServiceSetMessageFiltering:        "set_message_filtering",
	ServiceSetDefaultLogLevel:         "set_default_log_level",
	ServiceSetDefaultTraceStatus:      "set_default_trace_status",
	ServiceGetSoftwareVersion:         "get_software_version",
	ServiceGetDefaultTraceStatus:      "get_default_trace_status",
	ServiceGetLogChannelNames:         "get_log_channel_names",
	ServiceGetTraceStatus:             "get_trace_status",
	ServiceSetLogChannelAssignment:    "set_log_channel_assignment",
	ServiceSetLogChannelThreshold:     "set_log_channel_threshold",
	ServiceGetLogChannelThreshold:     "get_log_channel_threshold",
	ServiceBufferOverflowNotification: "buffer_overflow_notification",
	ServiceSyncTimeStamp:              "sync_time_stamp",
	ServiceCallSWCInjection:           "call_swc_injection",
}

// ParseServiceID validates a raw service ID. Every value of the injection
// range maps to ServiceCallSWCInjection.
func ParseServiceID(v uint32) (ServiceID, bool) {
	if v >= uint32(ServiceCallSWCInjection) {
		return ServiceCallSWCInjection, true
	}
	if _, ok := serviceNames[ServiceID(v)]; ok {
		return ServiceID(v), true
	}
	return 0, false
}

// IsInjection reports whether s lies in the CallSWCInjection range.
func (s ServiceID) IsInjection() bool { return s >= ServiceCallSWCInjection }

func (s ServiceID) String() string {
	if n, ok := serviceNames[s]; ok {
		return n
	}
	if s.IsInjection() {
		return fmt.Sprintf("call_swc_injection(0x%X)", uint32(s))
	}
	return fmt.Sprintf("unknown(0x%X)", uint32(s))
}

// ServiceStatus is the status byte of a control response.
type ServiceStatus uint8

const (
	StatusOk                         ServiceStatus = 0
	StatusNotSupported               ServiceStatus = 1
	StatusError                      ServiceStatus = 2
	StatusPending                    ServiceStatus = 3
	StatusWithLogLevelAndTraceStatus ServiceStatus = 6
	StatusWithDescriptions           ServiceStatus = 7
	StatusNoMatchingContexts         ServiceStatus = 8
	StatusOverflow                   ServiceStatus = 9
)

// ParseServiceStatus validates a raw status byte.
func ParseServiceStatus(v uint8) (ServiceStatus, bool) {
	switch s := ServiceStatus(v); s {
	case StatusOk, StatusNotSupported, StatusError, StatusPending,
		StatusWithLogLevelAndTraceStatus, StatusWithDescriptions,
		StatusNoMatchingContexts, StatusOverflow:
		return s, true
	}
	return 0, false
}

func (s ServiceStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusNotSupported:
		return "not_supported"
	case StatusError:
		return "error"
	case StatusPending:
		return "pending"
	case StatusWithLogLevelAndTraceStatus:
		return "with_log_level_and_trace_status"
	case StatusWithDescriptions:
		return "with_descriptions"
	case StatusNoMatchingContexts:
		return "no_matching_contexts"
	case StatusOverflow:
		return "overflow"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

const (
	serviceIDSize  = 4
	maxVersionSize = 199
	// largest fixed layout, SetLogLevel and friends
	maxFixedService = 17
)

// ServiceBuilder writes control requests and responses. It shares the
// counter and identifiers of the wrapped MessageBuilder.
type ServiceBuilder struct {
	b *MessageBuilder
}

// NewServiceBuilder returns a builder configured by opts.
func NewServiceBuilder(opts ...BuilderOption) *ServiceBuilder {
	return &ServiceBuilder{b: NewMessageBuilder(opts...)}
}

// ServiceBuilderFor wraps an existing message builder.
func ServiceBuilderFor(b *MessageBuilder) *ServiceBuilder {
	return &ServiceBuilder{b: b}
}

// Message returns the underlying message builder.
func (s *ServiceBuilder) Message() *MessageBuilder { return s.b }

// fixed frames a payload of at most maxFixedService bytes filled by fill.
func (s *ServiceBuilder) fixed(buf []byte, ct ControlType, id ServiceID, n int, fill func(p []byte)) (int, error) {
	var p [maxFixedService]byte
	binary.LittleEndian.PutUint32(p[:], uint32(id))
	if fill != nil {
		fill(p[serviceIDSize:n])
	}
	return s.b.BuildControl(buf, p[:n], ct)
}

// variable frames a payload of n bytes written in place by fill. The
// counter only advances when fill succeeds.
func (s *ServiceBuilder) variable(buf []byte, ct ControlType, id ServiceID, n int, fill func(p []byte) error) (int, error) {
	total, err := s.b.reserve(buf, n)
	if err != nil {
		return 0, err
	}
	off := s.b.putHeader(buf, n, EncodeMSIN(false, TypeControl, uint8(ct)), 0)
	p := buf[off:total]
	binary.LittleEndian.PutUint32(p, uint32(id))
	if err := fill(p[serviceIDSize:]); err != nil {
		return 0, err
	}
	s.b.counter++
	return total, nil
}

func (s *ServiceBuilder) appCtxValue(buf []byte, id ServiceID, app, ctx ID, v int8) (int, error) {
	return s.fixed(buf, ControlRequest, id, 17, func(p []byte) {
		copy(p[0:4], app[:])
		copy(p[4:8], ctx[:])
		p[8] = byte(v)
		copy(p[9:13], ServiceSuffix[:])
	})
}

// SetLogLevelRequest asks to change the level of app/ctx. Wildcard IDs
// select every application or context.
func (s *ServiceBuilder) SetLogLevelRequest(buf []byte, app, ctx ID, level int8) (int, error) {
	return s.appCtxValue(buf, ServiceSetLogLevel, app, ctx, level)
}

func (s *ServiceBuilder) SetTraceStatusRequest(buf []byte, app, ctx ID, status int8) (int, error) {
	return s.appCtxValue(buf, ServiceSetTraceStatus, app, ctx, status)
}

// GetLogInfoRequest asks for the registered contexts. options is
// LogInfoWithLevels or LogInfoWithDescriptions.
func (s *ServiceBuilder) GetLogInfoRequest(buf []byte, options uint8, app, ctx ID) (int, error) {
	if options != LogInfoWithLevels && options != LogInfoWithDescriptions {
		return 0, EncodeInvalidParameter
	}
	return s.fixed(buf, ControlRequest, ServiceGetLogInfo, 17, func(p []byte) {
		p[0] = options
		copy(p[1:5], app[:])
		copy(p[5:9], ctx[:])
		copy(p[9:13], ServiceSuffix[:])
	})
}

// Request writes a request carrying the service ID only.
func (s *ServiceBuilder) Request(buf []byte, id ServiceID) (int, error) {
	return s.fixed(buf, ControlRequest, id, serviceIDSize, nil)
}

func (s *ServiceBuilder) GetDefaultLogLevelRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceGetDefaultLogLevel)
}

func (s *ServiceBuilder) StoreConfigurationRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceStoreConfiguration)
}

func (s *ServiceBuilder) ResetToFactoryDefaultRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceResetToFactoryDefault)
}

func (s *ServiceBuilder) GetSoftwareVersionRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceGetSoftwareVersion)
}

func (s *ServiceBuilder) GetDefaultTraceStatusRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceGetDefaultTraceStatus)
}

func (s *ServiceBuilder) GetLogChannelNamesRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceGetLogChannelNames)
}

func (s *ServiceBuilder) SyncTimeStampRequest(buf []byte) (int, error) {
	return s.Request(buf, ServiceSyncTimeStamp)
}

func (s *ServiceBuilder) SetMessageFilteringRequest(buf []byte, on bool) (int, error) {
	return s.fixed(buf, ControlRequest, ServiceSetMessageFiltering, 5, func(p []byte) {
		p[0] = boolByte(on)
	})
}

func (s *ServiceBuilder) defaultValue(buf []byte, id ServiceID, v int8) (int, error) {
	return s.fixed(buf, ControlRequest, id, 9, func(p []byte) {
		p[0] = byte(v)
		copy(p[1:5], ServiceSuffix[:])
	})
}

func (s *ServiceBuilder) SetDefaultLogLevelRequest(buf []byte, level int8) (int, error) {
	return s.defaultValue(buf, ServiceSetDefaultLogLevel, level)
}

func (s *ServiceBuilder) SetDefaultTraceStatusRequest(buf []byte, status int8) (int, error) {
	return s.defaultValue(buf, ServiceSetDefaultTraceStatus, status)
}

func (s *ServiceBuilder) GetTraceStatusRequest(buf []byte, app, ctx ID) (int, error) {
	return s.fixed(buf, ControlRequest, ServiceGetTraceStatus, 12, func(p []byte) {
		copy(p[0:4], app[:])
		copy(p[4:8], ctx[:])
	})
}

// SetLogChannelAssignmentRequest adds (add=true) or removes app/ctx from a
// log channel.
func (s *ServiceBuilder) SetLogChannelAssignmentRequest(buf []byte, app, ctx, channel ID, add bool) (int, error) {
	return s.fixed(buf, ControlRequest, ServiceSetLogChannelAssignment, 17, func(p []byte) {
		copy(p[0:4], app[:])
		copy(p[4:8], ctx[:])
		copy(p[8:12], channel[:])
		p[12] = boolByte(add)
	})
}

func (s *ServiceBuilder) SetLogChannelThresholdRequest(buf []byte, channel ID, level, trace int8) (int, error) {
	return s.fixed(buf, ControlRequest, ServiceSetLogChannelThreshold, 10, func(p []byte) {
		copy(p[0:4], channel[:])
		p[4] = byte(level)
		p[5] = byte(trace)
	})
}

func (s *ServiceBuilder) GetLogChannelThresholdRequest(buf []byte, channel ID) (int, error) {
	return s.fixed(buf, ControlRequest, ServiceGetLogChannelThreshold, 8, func(p []byte) {
		copy(p[0:4], channel[:])
	})
}

// CallSWCInjectionRequest sends data to the injection service id, which
// must be 0xFFF or above. The data is preceded by its u32 length.
func (s *ServiceBuilder) CallSWCInjectionRequest(buf []byte, id ServiceID, data []byte) (int, error) {
	if !id.IsInjection() {
		return 0, EncodeInvalidParameter
	}
	return s.variable(buf, ControlRequest, id, serviceIDSize+4+len(data), func(p []byte) error {
		binary.LittleEndian.PutUint32(p, uint32(len(data)))
		copy(p[4:], data)
		return nil
	})
}

// StatusResponse answers id with a bare status.
func (s *ServiceBuilder) StatusResponse(buf []byte, id ServiceID, status ServiceStatus) (int, error) {
	return s.fixed(buf, ControlResponse, id, 5, func(p []byte) {
		p[0] = byte(status)
	})
}

func (s *ServiceBuilder) statusValue(buf []byte, id ServiceID, status ServiceStatus, v int8) (int, error) {
	return s.fixed(buf, ControlResponse, id, 6, func(p []byte) {
		p[0] = byte(status)
		p[1] = byte(v)
	})
}

func (s *ServiceBuilder) GetDefaultLogLevelResponse(buf []byte, status ServiceStatus, level int8) (int, error) {
	return s.statusValue(buf, ServiceGetDefaultLogLevel, status, level)
}

func (s *ServiceBuilder) GetDefaultTraceStatusResponse(buf []byte, status ServiceStatus, trace int8) (int, error) {
	return s.statusValue(buf, ServiceGetDefaultTraceStatus, status, trace)
}

func (s *ServiceBuilder) GetTraceStatusResponse(buf []byte, status ServiceStatus, trace int8) (int, error) {
	return s.statusValue(buf, ServiceGetTraceStatus, status, trace)
}

// GetSoftwareVersionResponse carries version, truncated to 199 bytes and
// NUL terminated. The length field includes the terminator.
func (s *ServiceBuilder) GetSoftwareVersionResponse(buf []byte, status ServiceStatus, version []byte) (int, error) {
	if len(version) > maxVersionSize {
		version = version[:maxVersionSize]
	}
	n := len(version) + 1
	return s.variable(buf, ControlResponse, ServiceGetSoftwareVersion, serviceIDSize+1+4+n, func(p []byte) error {
		p[0] = byte(status)
		binary.LittleEndian.PutUint32(p[1:5], uint32(n))
		copy(p[5:], version)
		p[5+len(version)] = 0
		return nil
	})
}

// GetLogInfoResponse wraps an inventory written by LogInfoWriter.
func (s *ServiceBuilder) GetLogInfoResponse(buf []byte, status ServiceStatus, logInfo []byte) (int, error) {
	return s.variable(buf, ControlResponse, ServiceGetLogInfo, serviceIDSize+1+len(logInfo)+len(ServiceSuffix), func(p []byte) error {
		p[0] = byte(status)
		copy(p[1:], logInfo)
		copy(p[1+len(logInfo):], ServiceSuffix[:])
		return nil
	})
}

// GetLogInfoInventoryResponse encodes inv straight into the response.
// Descriptions are written when status is StatusWithDescriptions.
func (s *ServiceBuilder) GetLogInfoInventoryResponse(buf []byte, status ServiceStatus, inv *Inventory) (int, error) {
	if err := inv.Validate(); err != nil {
		return 0, err
	}
	withDesc := status == StatusWithDescriptions
	size := 0
	if status == StatusWithLogLevelAndTraceStatus || withDesc {
		size = inv.EncodedSize(withDesc)
	}
	return s.variable(buf, ControlResponse, ServiceGetLogInfo, serviceIDSize+1+size+len(ServiceSuffix), func(p []byte) error {
		p[0] = byte(status)
		if size > 0 {
			if err := inv.WriteTo(NewLogInfoWriter(p[1:1+size], withDesc)); err != nil {
				return err
			}
		}
		copy(p[1+size:], ServiceSuffix[:])
		return nil
	})
}

// GetLogChannelNamesResponse lists at most 255 channels.
func (s *ServiceBuilder) GetLogChannelNamesResponse(buf []byte, status ServiceStatus, names []ID) (int, error) {
	if len(names) > 0xFF {
		return 0, EncodeInvalidParameter
	}
	return s.variable(buf, ControlResponse, ServiceGetLogChannelNames, serviceIDSize+2+IDSize*len(names), func(p []byte) error {
		p[0] = byte(status)
		p[1] = byte(len(names))
		for i, id := range names {
			copy(p[2+i*IDSize:], id[:])
		}
		return nil
	})
}

func (s *ServiceBuilder) GetLogChannelThresholdResponse(buf []byte, status ServiceStatus, level, trace int8) (int, error) {
	return s.fixed(buf, ControlResponse, ServiceGetLogChannelThreshold, 7, func(p []byte) {
		p[0] = byte(status)
		p[1] = byte(level)
		p[2] = byte(trace)
	})
}

// BufferOverflowNotification reports the number of dropped messages.
func (s *ServiceBuilder) BufferOverflowNotification(buf []byte, status ServiceStatus, counter uint32) (int, error) {
	return s.fixed(buf, ControlResponse, ServiceBufferOverflowNotification, 9, func(p []byte) {
		p[0] = byte(status)
		binary.LittleEndian.PutUint32(p[1:5], counter)
	})
}

// SyncTimeStampResponse carries the wall clock as seconds and nanoseconds.
func (s *ServiceBuilder) SyncTimeStampResponse(buf []byte, status ServiceStatus, sec, nsec uint32) (int, error) {
	return s.fixed(buf, ControlResponse, ServiceSyncTimeStamp, 13, func(p []byte) {
		p[0] = byte(status)
		binary.LittleEndian.PutUint32(p[1:5], sec)
		binary.LittleEndian.PutUint32(p[5:9], nsec)
	})
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
