package dlt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	srv, addr, err := RunLocalTCPServer("127.0.0.1:0", h, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown() })
	return addr
}

func dialServer(t *testing.T, addr string) *Client {
	t.Helper()
	c := NewClient(zaptest.NewLogger(t), addr)
	c.SetReadTimeout(2 * time.Second)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)
	return c
}

func receiveStatus(t *testing.T, c *Client) (ServiceID, ServiceStatus) {
	t.Helper()
	b, err := c.Receive()
	require.NoError(t, err)
	m, err := ParseMessage(b)
	require.NoError(t, err)
	ct, _ := m.Extended.ControlType()
	require.Equal(t, ControlResponse, ct)
	p := NewServiceParser(m.Payload)
	raw, err := p.RawServiceID()
	require.NoError(t, err)
	st, err := p.StatusResponse()
	require.NoError(t, err)
	return ServiceID(raw), st
}

func TestServeMuxDispatch(t *testing.T) {
	mux := NewServeMux(nil)
	levels := make(chan int8, 1)
	mux.HandleFunc(ServiceSetLogLevel, func(w ResponseWriter, r *Request) {
		_, _, level, err := r.Service().SetLogLevelRequest()
		if err != nil {
			w.WriteStatus(ServiceSetLogLevel, StatusError)
			return
		}
		levels <- level
		w.WriteStatus(ServiceSetLogLevel, StatusOk)
	})
	c := dialServer(t, startServer(t, mux))
	sb := NewServiceBuilder(WithAppID(MakeID("TEST")))

	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return sb.SetLogLevelRequest(buf, WildcardID, WildcardID, int8(LogDebug))
	}))
	id, st := receiveStatus(t, c)
	assert.Equal(t, ServiceSetLogLevel, id)
	assert.Equal(t, StatusOk, st)
	assert.Equal(t, int8(LogDebug), <-levels)

	// no handler registered
	require.NoError(t, c.SendRequest(sb.GetSoftwareVersionRequest))
	id, st = receiveStatus(t, c)
	assert.Equal(t, ServiceGetSoftwareVersion, id)
	assert.Equal(t, StatusNotSupported, st)

	// unassigned IDs are echoed as sent
	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return sb.Message().BuildControl(buf, []byte{0x30, 0, 0, 0}, ControlRequest)
	}))
	id, st = receiveStatus(t, c)
	assert.Equal(t, ServiceID(0x30), id)
	assert.Equal(t, StatusNotSupported, st)

	mux.HandleRemove(ServiceSetLogLevel)
	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return sb.SetLogLevelRequest(buf, WildcardID, WildcardID, 1)
	}))
	_, st = receiveStatus(t, c)
	assert.Equal(t, StatusNotSupported, st)
}

func TestServeMuxInjection(t *testing.T) {
	mux := NewServeMux(nil)
	got := make(chan []byte, 1)
	mux.HandleFunc(ServiceCallSWCInjection, func(w ResponseWriter, r *Request) {
		data, err := r.Service().CallSWCInjectionRequest()
		if err == nil {
			got <- append([]byte(nil), data...)
		}
		raw, _ := r.Service().RawServiceID()
		w.WriteStatus(ServiceID(raw), StatusOk)
	})
	c := dialServer(t, startServer(t, mux))
	sb := NewServiceBuilder()
	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return sb.CallSWCInjectionRequest(buf, 0x1001, []byte{1, 2, 3})
	}))
	id, st := receiveStatus(t, c)
	assert.Equal(t, ServiceID(0x1001), id)
	assert.Equal(t, StatusOk, st)
	assert.Equal(t, []byte{1, 2, 3}, <-got)
}

func TestServeMuxLogHandler(t *testing.T) {
	mux := NewServeMux(nil)
	logs := make(chan string, 4)
	mux.HandleLog(HandlerFunc(func(w ResponseWriter, r *Request) {
		s, err := NewPayloadParser(r.Message.Payload).ReadString()
		if err == nil {
			logs <- s
		}
	}))
	// responses sent by a client are dropped
	mux.HandleFunc(ServiceGetSoftwareVersion, func(w ResponseWriter, r *Request) {
		logs <- "unexpected"
	})

	c := dialServer(t, startServer(t, mux))
	b := NewMessageBuilder()
	sb := ServiceBuilderFor(b)
	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return sb.GetSoftwareVersionResponse(buf, StatusOk, []byte("1.0"))
	}))
	require.NoError(t, c.SendRequest(func(buf []byte) (int, error) {
		return b.LogInfo(buf, "from client")
	}))

	select {
	case s := <-logs:
		assert.Equal(t, "from client", s)
	case <-time.After(2 * time.Second):
		t.Fatal("log handler not called")
	}
}

func TestServerFeed(t *testing.T) {
	b := NewMessageBuilder(WithAppID(MakeID("FEED")))
	buf := make([]byte, 64)
	n, err := b.LogWarn(buf, "pushed")
	require.NoError(t, err)
	msg := buf[:n]

	mux := NewServeMux(func(ctx context.Context, a net.Addr) <-chan []byte {
		c := make(chan []byte, 1)
		c <- msg
		go func() {
			<-ctx.Done()
			close(c)
		}()
		return c
	})
	c := dialServer(t, startServer(t, mux))

	got, err := c.Receive()
	require.NoError(t, err)
	m, err := ParseMessage(got)
	require.NoError(t, err)
	assert.Equal(t, "FEED", m.Extended.AppID.String())
}

func TestServerSerialHeader(t *testing.T) {
	mux := NewServeMux(nil)
	mux.HandleFunc(ServiceStoreConfiguration, func(w ResponseWriter, r *Request) {
		w.WriteStatus(ServiceStoreConfiguration, StatusOk)
	})
	srv := &Server{Addr: "127.0.0.1:0", Net: "tcp", Handler: mux, SerialHeader: true, Logger: zaptest.NewLogger(t)}
	addr, err := RunLocalServer(srv)
	require.NoError(t, err)
	defer srv.Shutdown()

	c := NewClient(zaptest.NewLogger(t), addr, WithClientSerialHeader(true))
	require.NoError(t, c.Connect())
	defer c.Disconnect()
	sb := NewServiceBuilder(WithSerialHeader(true))
	require.NoError(t, c.SendRequest(sb.StoreConfigurationRequest))

	raw, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, "DLS\x01", string(raw[:4]))
	m, err := ParseMessage(raw)
	require.NoError(t, err)
	st, err := NewServiceParser(m.Payload).StatusResponse()
	require.NoError(t, err)
	assert.Equal(t, StatusOk, st)
}

func TestServerShutdown(t *testing.T) {
	srv, addr, err := RunLocalTCPServer("127.0.0.1:0", NewServeMux(nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	c := dialServer(t, addr)
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown())
	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = c.Receive()
	assert.Error(t, err)
}

func TestServerBadNetwork(t *testing.T) {
	_, err := RunLocalServer(&Server{Addr: "127.0.0.1:0", Net: "udp", Handler: NewServeMux(nil)})
	assert.ErrorIs(t, err, errBadNetwork)
}

func TestFeedKeepsItsCounter(t *testing.T) {
	b := NewMessageBuilder(WithAppID(MakeID("FEED")))
	for i := 0; i < 5; i++ {
		b.IncrementCounter()
	}
	buf := make([]byte, 64)
	n, err := b.LogInfo(buf, "counted")
	require.NoError(t, err)
	msg := buf[:n]

	mux := NewServeMux(func(ctx context.Context, a net.Addr) <-chan []byte {
		c := make(chan []byte, 1)
		c <- msg
		go func() {
			<-ctx.Done()
			close(c)
		}()
		return c
	})
	mux.HandleFunc(ServiceStoreConfiguration, func(w ResponseWriter, r *Request) {
		w.WriteStatus(ServiceStoreConfiguration, StatusOk)
	})
	c := dialServer(t, startServer(t, mux))
	require.NoError(t, c.SendRequest(NewServiceBuilder().StoreConfigurationRequest))

	counters := map[bool]uint8{}
	for len(counters) < 2 {
		raw, err := c.Receive()
		require.NoError(t, err)
		m, err := ParseMessage(raw)
		require.NoError(t, err)
		counters[m.IsControl()] = m.Header.MCNT
	}
	assert.Equal(t, uint8(5), counters[false])
	assert.Equal(t, uint8(0), counters[true])
}
