package control_test

import (
	"errors"
	"testing"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type disconnected struct{}

func (disconnected) Error() string        { return "disconnected" }
func (disconnected) IsDisconnected() bool { return true }
func (disconnected) IsTimeout() bool      { return false }

// pipe answers each request with the messages returned by reply.
type pipe struct {
	reply   func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte
	queue   [][]byte
	sent    [][]byte
	sendErr error
	builder *dlt.ServiceBuilder
}

func newPipe(reply func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte) *pipe {
	return &pipe{
		reply:   reply,
		builder: dlt.NewServiceBuilder(dlt.WithECUID(dlt.MakeID("ECU1"))),
	}
}

func (p *pipe) Connect() error { return nil }
func (p *pipe) Disconnect()    {}

func (p *pipe) Send(data []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	m, err := dlt.ParseMessage(data)
	if err != nil {
		return err
	}
	p.queue = append(p.queue, p.reply(m, p.builder)...)
	return nil
}

func (p *pipe) Receive() ([]byte, error) {
	if len(p.queue) == 0 {
		return nil, disconnected{}
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m, nil
}

func build(t *testing.T, f func(buf []byte) (int, error)) []byte {
	buf := make([]byte, dlt.MaxMessageSize)
	n, err := f(buf)
	require.NoError(t, err)
	return buf[:n]
}

func status(t *testing.T, s *dlt.ServiceBuilder, id dlt.ServiceID, st dlt.ServiceStatus) []byte {
	return build(t, func(buf []byte) (int, error) { return s.StatusResponse(buf, id, st) })
}

func TestSetLogLevel(t *testing.T) {
	var app, ctx dlt.ID
	var level int8
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		var err error
		app, ctx, level, err = dlt.NewServiceParser(req.Payload).SetLogLevelRequest()
		require.NoError(t, err)
		return [][]byte{status(t, s, dlt.ServiceSetLogLevel, dlt.StatusOk)}
	})
	c := control.NewControl(nil, p)

	err := c.SetLogLevel(dlt.MakeID("APP1"), dlt.MakeID("CTX1"), 4)
	require.NoError(t, err)
	assert.Equal(t, "APP1", app.String())
	assert.Equal(t, "CTX1", ctx.String())
	assert.Equal(t, int8(4), level)
	require.Len(t, p.sent, 1)

	m, err := dlt.ParseMessage(p.sent[0])
	require.NoError(t, err)
	assert.True(t, m.IsControl())
	assert.Equal(t, uint8(dlt.ControlRequest), m.Extended.TypeInfo())
}

func TestStatusError(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{status(t, s, dlt.ServiceStoreConfiguration, dlt.StatusNotSupported)}
	})
	c := control.NewControl(nil, p)

	err := c.StoreConfiguration()
	require.Error(t, err)
	st, ok := control.Status(err)
	assert.True(t, ok)
	assert.Equal(t, dlt.StatusNotSupported, st)

	var cerr control.Error
	require.True(t, errors.As(err, &cerr))
	assert.False(t, cerr.Unrecoverable())
}

func TestSkipsLogTraffic(t *testing.T) {
	logs := dlt.NewMessageBuilder(dlt.WithAppID(dlt.MakeID("LOG")))
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{
			build(t, func(buf []byte) (int, error) { return logs.LogInfo(buf, "noise") }),
			build(t, func(buf []byte) (int, error) {
				return s.GetDefaultLogLevelResponse(buf, dlt.StatusOk, 5)
			}),
		}
	})
	c := control.NewControl(nil, p)

	level, err := c.GetDefaultLogLevel()
	require.NoError(t, err)
	assert.Equal(t, int8(5), level)
}

func TestPendingRetried(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{
			status(t, s, dlt.ServiceResetToFactoryDefault, dlt.StatusPending),
			status(t, s, dlt.ServiceResetToFactoryDefault, dlt.StatusPending),
			status(t, s, dlt.ServiceResetToFactoryDefault, dlt.StatusOk),
		}
	})

	c := control.NewControlWithPendingCount(nil, p, 2)
	require.NoError(t, c.ResetToFactoryDefault())

	c = control.NewControlWithPendingCount(nil, p, 1)
	err := c.ResetToFactoryDefault()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too many pending")
}

func TestWrongService(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{status(t, s, dlt.ServiceSetLogLevel, dlt.StatusOk)}
	})
	c := control.NewControl(nil, p)

	err := c.SetMessageFiltering(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another service")
}

func TestSkipsVersionAnnouncement(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{
			build(t, func(buf []byte) (int, error) {
				return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, []byte("v1"))
			}),
			build(t, func(buf []byte) (int, error) {
				return s.GetTraceStatusResponse(buf, dlt.StatusOk, dlt.TraceStatusOn)
			}),
		}
	})
	c := control.NewControl(nil, p)

	st, err := c.GetTraceStatus(dlt.MakeID("APP1"), dlt.MakeID("CTX1"))
	require.NoError(t, err)
	assert.Equal(t, dlt.TraceStatusOn, st)
}

func TestGetSoftwareVersion(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{build(t, func(buf []byte) (int, error) {
			return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, []byte("dlt-daemon 1.0"))
		})}
	})
	c := control.NewControl(nil, p)

	v, err := c.GetSoftwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "dlt-daemon 1.0", v)
}

func TestGetLogInfo(t *testing.T) {
	inv := dlt.Inventory{Apps: []dlt.AppInfo{{
		ID:          dlt.MakeID("APP1"),
		Description: "first",
		Contexts: []dlt.ContextInfo{
			{ID: dlt.MakeID("CTX1"), LogLevel: 4, TraceStatus: 0, Description: "ctx one"},
			{ID: dlt.MakeID("CTX2"), LogLevel: 6, TraceStatus: 1, Description: "ctx two"},
		},
	}}}
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		opts, _, _, err := dlt.NewServiceParser(req.Payload).GetLogInfoRequest()
		require.NoError(t, err)
		return [][]byte{build(t, func(buf []byte) (int, error) {
			return s.GetLogInfoInventoryResponse(buf, dlt.ServiceStatus(opts), &inv)
		})}
	})
	c := control.NewControl(nil, p)

	st, got, err := c.GetLogInfo(dlt.LogInfoWithDescriptions, dlt.WildcardID, dlt.WildcardID)
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusWithDescriptions, st)
	assert.Equal(t, inv, got)

	st, got, err = c.GetLogInfo(dlt.LogInfoWithLevels, dlt.WildcardID, dlt.WildcardID)
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusWithLogLevelAndTraceStatus, st)
	require.Len(t, got.Apps, 1)
	assert.Empty(t, got.Apps[0].Description)
	assert.Equal(t, int8(6), got.Apps[0].Contexts[1].LogLevel)
}

func TestGetLogChannelNames(t *testing.T) {
	names := []dlt.ID{dlt.MakeID("MAIN"), dlt.MakeID("DIAG")}
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		return [][]byte{build(t, func(buf []byte) (int, error) {
			return s.GetLogChannelNamesResponse(buf, dlt.StatusOk, names)
		})}
	})
	c := control.NewControl(nil, p)

	got, err := c.GetLogChannelNames()
	require.NoError(t, err)
	assert.Equal(t, names, got)
}

func TestRaw(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		data, err := dlt.NewServiceParser(req.Payload).CallSWCInjectionRequest()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
		return [][]byte{status(t, s, dlt.ServiceCallSWCInjection, dlt.StatusError)}
	})
	c := control.NewControl(nil, p)

	resp, err := c.Raw(dlt.ServiceCallSWCInjection, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.CallSWCInjectionRequest(buf, 0x1001, []byte{1, 2, 3})
	})
	require.NoError(t, err)
	st, err := dlt.NewServiceParser(resp).StatusResponse()
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusError, st)
}

func TestRawInjectionRange(t *testing.T) {
	offset := uint32(0)
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte {
		raw, err := dlt.NewServiceParser(req.Payload).RawServiceID()
		require.NoError(t, err)
		return [][]byte{status(t, s, dlt.ServiceID(raw+offset), dlt.StatusOk)}
	})
	c := control.NewControl(nil, p)
	inject := func(id dlt.ServiceID) func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
			return s.CallSWCInjectionRequest(buf, id, []byte{0xAA})
		}
	}

	resp, err := c.Raw(0x1001, inject(0x1001))
	require.NoError(t, err)
	raw, err := dlt.NewServiceParser(resp).RawServiceID()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1001), raw)

	// the canonical ID accepts any injection response
	_, err = c.Raw(dlt.ServiceCallSWCInjection, inject(0x2000))
	require.NoError(t, err)

	offset = 1
	_, err = c.Raw(0x1001, inject(0x1001))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another service")
}

func TestUnrecoverable(t *testing.T) {
	p := newPipe(func(req dlt.Message, s *dlt.ServiceBuilder) [][]byte { return nil })
	c := control.NewControl(nil, p)

	err := c.StoreConfiguration()
	require.Error(t, err)
	var cerr control.Error
	require.True(t, errors.As(err, &cerr))
	assert.True(t, cerr.Unrecoverable())

	p.sendErr = errors.New("broken pipe")
	err = c.StoreConfiguration()
	require.Error(t, err)
	require.True(t, errors.As(err, &cerr))
	assert.False(t, cerr.Unrecoverable())
}
