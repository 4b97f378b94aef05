package dlt

import "encoding/binary"

// ServiceParser decodes a control payload. The typed accessors read fixed
// offsets and do not check the service ID; callers dispatch on ServiceID
// first. The Read methods walk a separate cursor.
type ServiceParser struct {
	data []byte
	pos  int
}

// NewServiceParser returns a parser over a control message payload.
func NewServiceParser(payload []byte) *ServiceParser {
	return &ServiceParser{data: payload}
}

// RawServiceID returns the leading word as sent.
func (p *ServiceParser) RawServiceID() (uint32, error) {
	if len(p.data) < serviceIDSize {
		return 0, PayloadBufferTooSmall
	}
	return binary.LittleEndian.Uint32(p.data), nil
}

// ServiceID returns the validated service ID. Injection IDs map to
// ServiceCallSWCInjection.
func (p *ServiceParser) ServiceID() (ServiceID, error) {
	v, err := p.RawServiceID()
	if err != nil {
		return 0, err
	}
	id, ok := ParseServiceID(v)
	if !ok {
		return 0, PayloadInvalidData
	}
	return id, nil
}

// Parameters returns the bytes following the service ID.
func (p *ServiceParser) Parameters() []byte {
	if len(p.data) <= serviceIDSize {
		return nil
	}
	return p.data[serviceIDSize:]
}

// Payload returns the whole payload.
func (p *ServiceParser) Payload() []byte { return p.data }

func (p *ServiceParser) need(n int) error {
	if len(p.data) < n {
		return PayloadBufferTooSmall
	}
	return nil
}

func (p *ServiceParser) id(off int) (id ID) {
	copy(id[:], p.data[off:off+IDSize])
	return
}

func (p *ServiceParser) status() (ServiceStatus, error) {
	s, ok := ParseServiceStatus(p.data[serviceIDSize])
	if !ok {
		return 0, PayloadInvalidData
	}
	return s, nil
}

func (p *ServiceParser) appCtxValue() (app, ctx ID, v int8, err error) {
	if err = p.need(17); err != nil {
		return
	}
	return p.id(4), p.id(8), int8(p.data[12]), nil
}

// SetLogLevelRequest returns the target app/ctx and the new level.
func (p *ServiceParser) SetLogLevelRequest() (app, ctx ID, level int8, err error) {
	return p.appCtxValue()
}

func (p *ServiceParser) SetTraceStatusRequest() (app, ctx ID, status int8, err error) {
	return p.appCtxValue()
}

func (p *ServiceParser) GetLogInfoRequest() (options uint8, app, ctx ID, err error) {
	if err = p.need(17); err != nil {
		return
	}
	return p.data[4], p.id(5), p.id(9), nil
}

func (p *ServiceParser) SetMessageFilteringRequest() (bool, error) {
	if err := p.need(5); err != nil {
		return false, err
	}
	return p.data[4] != 0, nil
}

// SetDefaultLogLevelRequest also decodes SetDefaultTraceStatus.
func (p *ServiceParser) SetDefaultLogLevelRequest() (int8, error) {
	if err := p.need(9); err != nil {
		return 0, err
	}
	return int8(p.data[4]), nil
}

func (p *ServiceParser) SetDefaultTraceStatusRequest() (int8, error) {
	return p.SetDefaultLogLevelRequest()
}

func (p *ServiceParser) GetTraceStatusRequest() (app, ctx ID, err error) {
	if err = p.need(12); err != nil {
		return
	}
	return p.id(4), p.id(8), nil
}

func (p *ServiceParser) SetLogChannelAssignmentRequest() (app, ctx, channel ID, add bool, err error) {
	if err = p.need(17); err != nil {
		return
	}
	return p.id(4), p.id(8), p.id(12), p.data[16] != 0, nil
}

func (p *ServiceParser) SetLogChannelThresholdRequest() (channel ID, level, trace int8, err error) {
	if err = p.need(10); err != nil {
		return
	}
	return p.id(4), int8(p.data[8]), int8(p.data[9]), nil
}

func (p *ServiceParser) GetLogChannelThresholdRequest() (ID, error) {
	if err := p.need(8); err != nil {
		return ID{}, err
	}
	return p.id(4), nil
}

// CallSWCInjectionRequest returns the injected data.
func (p *ServiceParser) CallSWCInjectionRequest() ([]byte, error) {
	if err := p.need(8); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(p.data[4:8])
	if uint64(len(p.data)-8) < uint64(n) {
		return nil, PayloadBufferTooSmall
	}
	return p.data[8 : 8+int(n)], nil
}

// StatusResponse returns the status of any response.
func (p *ServiceParser) StatusResponse() (ServiceStatus, error) {
	if err := p.need(5); err != nil {
		return 0, err
	}
	return p.status()
}

func (p *ServiceParser) statusValue() (ServiceStatus, int8, error) {
	if err := p.need(6); err != nil {
		return 0, 0, err
	}
	s, err := p.status()
	if err != nil {
		return 0, 0, err
	}
	return s, int8(p.data[5]), nil
}

func (p *ServiceParser) GetDefaultLogLevelResponse() (ServiceStatus, int8, error) {
	return p.statusValue()
}

func (p *ServiceParser) GetDefaultTraceStatusResponse() (ServiceStatus, int8, error) {
	return p.statusValue()
}

func (p *ServiceParser) GetTraceStatusResponse() (ServiceStatus, int8, error) {
	return p.statusValue()
}

// GetSoftwareVersionResponse returns the version without its NUL.
func (p *ServiceParser) GetSoftwareVersionResponse() (ServiceStatus, []byte, error) {
	if err := p.need(9); err != nil {
		return 0, nil, err
	}
	s, err := p.status()
	if err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(p.data[5:9])
	if uint64(len(p.data)-9) < uint64(n) {
		return 0, nil, PayloadBufferTooSmall
	}
	v := p.data[9 : 9+int(n)]
	if n > 0 && v[n-1] == 0 {
		v = v[:n-1]
	}
	return s, v, nil
}

// GetLogInfoResponse returns the inventory bytes between the status and the
// trailing ServiceSuffix. Feed them to a LogInfoReader.
func (p *ServiceParser) GetLogInfoResponse() (ServiceStatus, []byte, error) {
	if err := p.need(5 + len(ServiceSuffix)); err != nil {
		return 0, nil, err
	}
	s, err := p.status()
	if err != nil {
		return 0, nil, err
	}
	return s, p.data[5 : len(p.data)-len(ServiceSuffix)], nil
}

// GetLogInfoInventory decodes a GetLogInfo response into an Inventory.
// Statuses other than 6 and 7 carry no inventory.
func (p *ServiceParser) GetLogInfoInventory() (ServiceStatus, Inventory, error) {
	s, b, err := p.GetLogInfoResponse()
	if err != nil {
		return 0, Inventory{}, err
	}
	var inv Inventory
	if s != StatusWithLogLevelAndTraceStatus && s != StatusWithDescriptions {
		return s, inv, nil
	}
	if err := ReadInventory(NewLogInfoReader(b, s == StatusWithDescriptions), &inv); err != nil {
		return 0, Inventory{}, err
	}
	return s, inv, nil
}

// GetLogChannelNamesResponse decodes the channel list.
func (p *ServiceParser) GetLogChannelNamesResponse() (ServiceStatus, []ID, error) {
	if err := p.need(6); err != nil {
		return 0, nil, err
	}
	s, err := p.status()
	if err != nil {
		return 0, nil, err
	}
	count := int(p.data[5])
	if err := p.need(6 + count*IDSize); err != nil {
		return 0, nil, err
	}
	names := make([]ID, count)
	for i := range names {
		names[i] = p.id(6 + i*IDSize)
	}
	return s, names, nil
}

func (p *ServiceParser) GetLogChannelThresholdResponse() (s ServiceStatus, level, trace int8, err error) {
	if err = p.need(7); err != nil {
		return
	}
	if s, err = p.status(); err != nil {
		return
	}
	return s, int8(p.data[5]), int8(p.data[6]), nil
}

func (p *ServiceParser) BufferOverflowNotification() (ServiceStatus, uint32, error) {
	if err := p.need(9); err != nil {
		return 0, 0, err
	}
	s, err := p.status()
	if err != nil {
		return 0, 0, err
	}
	return s, binary.LittleEndian.Uint32(p.data[5:9]), nil
}

func (p *ServiceParser) SyncTimeStampResponse() (s ServiceStatus, sec, nsec uint32, err error) {
	if err = p.need(13); err != nil {
		return
	}
	if s, err = p.status(); err != nil {
		return
	}
	return s, binary.LittleEndian.Uint32(p.data[5:9]), binary.LittleEndian.Uint32(p.data[9:13]), nil
}

// Reset moves the cursor back to the service ID.
func (p *ServiceParser) Reset() { p.pos = 0 }

func (p *ServiceParser) Position() int { return p.pos }

func (p *ServiceParser) Remaining() int { return len(p.data) - p.pos }

// ReadBytes returns the next n bytes.
func (p *ServiceParser) ReadBytes(n int) ([]byte, error) {
	if n < 0 || len(p.data)-p.pos < n {
		return nil, PayloadBufferTooSmall
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *ServiceParser) ReadUint8() (uint8, error) {
	b, err := p.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *ServiceParser) ReadUint16() (uint16, error) {
	b, err := p.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (p *ServiceParser) ReadUint32() (uint32, error) {
	b, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *ServiceParser) ReadID() (id ID, err error) {
	b, err := p.ReadBytes(IDSize)
	if err == nil {
		copy(id[:], b)
	}
	return id, err
}
