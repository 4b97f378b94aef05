package control

import (
	"fmt"

	"github.com/eshenhu/dlt"
	"go.uber.org/zap"
)

// TransPipe interface should be implemented by the layers
// intended to carry control requests. E.g. dlt.Client
type TransPipe interface {
	Connect() error
	Disconnect()
	Send(data []byte) error
	Receive() (data []byte, err error)
}

// TransReceiveError : interface for the errors in Receive()
type TransReceiveError interface {
	error
	IsDisconnected() bool
	IsTimeout() bool
}

// Error : specific control error
type Error interface {
	error
	Unrecoverable() bool
}

type ctrlError struct {
	code     int
	service  dlt.ServiceID
	status   dlt.ServiceStatus
	request  []byte
	response []byte
	count    int8
	err      error
}

const (
	innerError         int = 0
	tooManyPending     int = 2
	unexpectedResponse int = 4
	zeroLengthResponse int = 5
	wrongService       int = 6
	statusError        int = 7
	unknownError       int = 12
)

func (c *ctrlError) Error() string {
	switch c.code {
	case innerError:
		return fmt.Sprintf("#%02d.%s %s", c.code, c.service, c.err)
	case tooManyPending:
		return fmt.Sprintf("#%02d.%s.%02x <%s>", c.code, c.service, c.count, "Ctrl: Too many pending responses received")
	case unexpectedResponse:
		return fmt.Sprintf("#%02d.%s.%x <%s: %v>", c.code, c.service, c.response, "Ctrl: Unexpected response", c.err)
	case zeroLengthResponse:
		return fmt.Sprintf("#%02d.%s <%s>", c.code, c.service, "Ctrl: Zero length response")
	case wrongService:
		return fmt.Sprintf("#%02d.%s.%x <%s>", c.code, c.service, c.response, "Ctrl: Response for another service")
	case statusError:
		return fmt.Sprintf("#%02d.%s.%s <%s>", c.code, c.service, c.status, "Ctrl: Negative status")
	default:
		return fmt.Sprintf("#%02d <Ctrl: Unknown error>", unknownError)
	}
}

func (c *ctrlError) Unwrap() error { return c.err }

func (c *ctrlError) Unrecoverable() bool {
	if c.err == nil {
		return false
	}

	transErr, ok := c.err.(TransReceiveError)
	return ok && transErr.IsDisconnected()
}

// Status returns the status carried by a statusError, or false for any
// other error.
func Status(err error) (dlt.ServiceStatus, bool) {
	c, ok := err.(*ctrlError)
	if !ok || c.code != statusError {
		return 0, false
	}
	return c.status, true
}

// Control interface : the services a client can invoke on a daemon
type Control interface {
	SetLogLevel(app, ctx dlt.ID, level int8) error
	SetTraceStatus(app, ctx dlt.ID, status int8) error
	SetDefaultLogLevel(level int8) error
	SetDefaultTraceStatus(status int8) error
	SetMessageFiltering(on bool) error
	GetLogInfo(options uint8, app, ctx dlt.ID) (dlt.ServiceStatus, dlt.Inventory, error)
	GetDefaultLogLevel() (int8, error)
	GetDefaultTraceStatus() (int8, error)
	GetTraceStatus(app, ctx dlt.ID) (int8, error)
	GetSoftwareVersion() (string, error)
	GetLogChannelNames() ([]dlt.ID, error)
	StoreConfiguration() error
	ResetToFactoryDefault() error
	Raw(id dlt.ServiceID, build func(s *dlt.ServiceBuilder, buf []byte) (int, error)) ([]byte, error)
}

type control struct {
	log          *zap.Logger
	trans        TransPipe
	services     *dlt.ServiceBuilder
	buf          []byte
	pendingCount int8
}

// NewControl creates a new control session with trans as the bearer, with
// the default value five for pendingCount. opts set the header fields of the
// requests, typically the ECU and application ID.
func NewControl(log *zap.Logger, trans TransPipe, opts ...dlt.BuilderOption) Control {
	return NewControlWithPendingCount(log, trans, 5, opts...)
}

// NewControlWithPendingCount creates a new control session with trans as the bearer.
// count is the number of pending responses accepted before returning an error.
func NewControlWithPendingCount(log *zap.Logger, trans TransPipe, count int8, opts ...dlt.BuilderOption) Control {
	if log == nil {
		log = zap.NewNop()
	}
	c := new(control)
	c.log = log.Named("control")
	c.trans = trans
	c.services = dlt.NewServiceBuilder(opts...)
	c.buf = make([]byte, dlt.MaxMessageSize)
	c.pendingCount = count
	return c
}

func (c *control) SetLogLevel(app, ctx dlt.ID, level int8) error {
	_, err := c.doOk(dlt.ServiceSetLogLevel, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SetLogLevelRequest(buf, app, ctx, level)
	})
	return err
}

func (c *control) SetTraceStatus(app, ctx dlt.ID, status int8) error {
	_, err := c.doOk(dlt.ServiceSetTraceStatus, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SetTraceStatusRequest(buf, app, ctx, status)
	})
	return err
}

func (c *control) SetDefaultLogLevel(level int8) error {
	_, err := c.doOk(dlt.ServiceSetDefaultLogLevel, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SetDefaultLogLevelRequest(buf, level)
	})
	return err
}

func (c *control) SetDefaultTraceStatus(status int8) error {
	_, err := c.doOk(dlt.ServiceSetDefaultTraceStatus, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SetDefaultTraceStatusRequest(buf, status)
	})
	return err
}

func (c *control) SetMessageFiltering(on bool) error {
	_, err := c.doOk(dlt.ServiceSetMessageFiltering, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SetMessageFilteringRequest(buf, on)
	})
	return err
}

// GetLogInfo returns the inventory of the selected contexts. NoMatchingContexts
// and Overflow are reported through the status with an empty inventory.
func (c *control) GetLogInfo(options uint8, app, ctx dlt.ID) (dlt.ServiceStatus, dlt.Inventory, error) {
	response, err := c.doRequest(dlt.ServiceGetLogInfo, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetLogInfoRequest(buf, options, app, ctx)
	})
	if err != nil {
		return 0, dlt.Inventory{}, err
	}
	status, inv, err := dlt.NewServiceParser(response).GetLogInfoInventory()
	if err != nil {
		return 0, dlt.Inventory{}, c.unexpected(dlt.ServiceGetLogInfo, response, err)
	}
	switch status {
	case dlt.StatusWithLogLevelAndTraceStatus, dlt.StatusWithDescriptions,
		dlt.StatusNoMatchingContexts, dlt.StatusOverflow:
		return status, inv, nil
	}
	return status, inv, &ctrlError{code: statusError, service: dlt.ServiceGetLogInfo, status: status, response: response}
}

func (c *control) GetDefaultLogLevel() (int8, error) {
	response, err := c.doOk(dlt.ServiceGetDefaultLogLevel, nil)
	if err != nil {
		return 0, err
	}
	_, level, err := dlt.NewServiceParser(response).GetDefaultLogLevelResponse()
	if err != nil {
		return 0, c.unexpected(dlt.ServiceGetDefaultLogLevel, response, err)
	}
	return level, nil
}

func (c *control) GetDefaultTraceStatus() (int8, error) {
	response, err := c.doOk(dlt.ServiceGetDefaultTraceStatus, nil)
	if err != nil {
		return 0, err
	}
	_, status, err := dlt.NewServiceParser(response).GetDefaultTraceStatusResponse()
	if err != nil {
		return 0, c.unexpected(dlt.ServiceGetDefaultTraceStatus, response, err)
	}
	return status, nil
}

func (c *control) GetTraceStatus(app, ctx dlt.ID) (int8, error) {
	response, err := c.doOk(dlt.ServiceGetTraceStatus, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetTraceStatusRequest(buf, app, ctx)
	})
	if err != nil {
		return 0, err
	}
	_, status, err := dlt.NewServiceParser(response).GetTraceStatusResponse()
	if err != nil {
		return 0, c.unexpected(dlt.ServiceGetTraceStatus, response, err)
	}
	return status, nil
}

func (c *control) GetSoftwareVersion() (string, error) {
	response, err := c.doOk(dlt.ServiceGetSoftwareVersion, nil)
	if err != nil {
		return "", err
	}
	_, version, err := dlt.NewServiceParser(response).GetSoftwareVersionResponse()
	if err != nil {
		return "", c.unexpected(dlt.ServiceGetSoftwareVersion, response, err)
	}
	return string(version), nil
}

func (c *control) GetLogChannelNames() ([]dlt.ID, error) {
	response, err := c.doOk(dlt.ServiceGetLogChannelNames, nil)
	if err != nil {
		return nil, err
	}
	_, names, err := dlt.NewServiceParser(response).GetLogChannelNamesResponse()
	if err != nil {
		return nil, c.unexpected(dlt.ServiceGetLogChannelNames, response, err)
	}
	return names, nil
}

func (c *control) StoreConfiguration() error {
	_, err := c.doOk(dlt.ServiceStoreConfiguration, nil)
	return err
}

func (c *control) ResetToFactoryDefault() error {
	_, err := c.doOk(dlt.ServiceResetToFactoryDefault, nil)
	return err
}

// Raw sends the request written by build and returns the payload of the
// matching response whatever its status. A nil build sends the bare
// service ID.
//
// Injection IDs are matched as sent. Passing dlt.ServiceCallSWCInjection
// instead accepts a response for any ID of the injection range.
func (c *control) Raw(id dlt.ServiceID, build func(s *dlt.ServiceBuilder, buf []byte) (int, error)) ([]byte, error) {
	return c.doRequest(id, build)
}

// doOk is doRequest for services answered with StatusOk on success.
func (c *control) doOk(id dlt.ServiceID, build func(s *dlt.ServiceBuilder, buf []byte) (int, error)) ([]byte, error) {
	response, err := c.doRequest(id, build)
	if err != nil {
		return nil, err
	}
	status, err := dlt.NewServiceParser(response).StatusResponse()
	if err != nil {
		return nil, c.unexpected(id, response, err)
	}
	if status != dlt.StatusOk {
		return response, &ctrlError{code: statusError, service: id, status: status, response: response}
	}
	return response, nil
}

// answers reports whether a response carrying raw belongs to a request for
// id.
func answers(id dlt.ServiceID, raw uint32) bool {
	if raw == uint32(id) {
		return true
	}
	return id == dlt.ServiceCallSWCInjection && dlt.ServiceID(raw).IsInjection()
}

func (c *control) unexpected(id dlt.ServiceID, response []byte, err error) error {
	c.log.Debug("received an unexpected response", zap.Stringer("service", id), zap.Binary("response", response))
	return &ctrlError{code: unexpectedResponse, service: id, response: response, err: err}
}

// doRequest is a helper function that handles errors in send/receive, skips
// log traffic interleaved with the answer and retries on a pending status.
// It returns the control payload of the response.
func (c *control) doRequest(id dlt.ServiceID, build func(s *dlt.ServiceBuilder, buf []byte) (int, error)) (response []byte, err error) {
	if build == nil {
		build = func(s *dlt.ServiceBuilder, buf []byte) (int, error) { return s.Request(buf, id) }
	}
	n, err := build(c.services, c.buf)
	if err != nil {
		return nil, &ctrlError{code: innerError, service: id, err: err}
	}
	request := c.buf[:n]

	c.log.Debug("sending control request", zap.Stringer("service", id), zap.Binary("request", request))
	if err = c.trans.Send(request); err != nil {
		c.log.Info("sending control request failed", zap.Stringer("service", id), zap.Error(err))
		return nil, &ctrlError{code: innerError, service: id, request: request, err: err}
	}

	count := int8(0)
	for count <= c.pendingCount {
		var raw []byte
		raw, err = c.trans.Receive()
		if err != nil {
			return nil, &ctrlError{code: innerError, service: id, request: request, err: err}
		}
		if len(raw) == 0 {
			return nil, &ctrlError{code: zeroLengthResponse, service: id, request: request}
		}

		msg, perr := dlt.ParseMessage(raw)
		switch {
		case perr != nil:
			return nil, &ctrlError{code: unexpectedResponse, service: id, request: request, response: raw, err: perr}

		case !msg.IsControl():
			// log traffic from the same connection
			continue

		case msg.Extended.TypeInfo() != uint8(dlt.ControlResponse):
			continue
		}

		p := dlt.NewServiceParser(msg.Payload)
		got, perr := p.ServiceID()
		if perr != nil {
			return nil, &ctrlError{code: unexpectedResponse, service: id, request: request, response: msg.Payload, err: perr}
		}
		rawID, _ := p.RawServiceID()
		if !answers(id, rawID) {
			// unsolicited responses such as the version announcement
			if got == dlt.ServiceGetSoftwareVersion || got == dlt.ServiceBufferOverflowNotification {
				c.log.Debug("skipping unsolicited response", zap.Stringer("service", got))
				continue
			}
			return nil, &ctrlError{code: wrongService, service: id, request: request, response: msg.Payload}
		}

		status, perr := p.StatusResponse()
		if perr == nil && status == dlt.StatusPending {
			count++
			c.log.Debug("response pending", zap.Int8("count", count), zap.Int8("max", c.pendingCount))
			continue
		}

		c.log.Debug("received control response", zap.Stringer("service", id), zap.Binary("response", msg.Payload))
		return msg.Payload, nil
	}
	return nil, &ctrlError{code: tooManyPending, service: id, request: request, count: count}
}
