package daemon_test

import (
	"testing"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/control"
	"github.com/eshenhu/dlt/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	app1 = dlt.MakeID("APP1")
	app2 = dlt.MakeID("APP2")
	ctx1 = dlt.MakeID("CTX1")
	ctx2 = dlt.MakeID("CTX2")
)

func testConfig() daemon.Config {
	cfg := daemon.DefaultConfig()
	cfg.Heartbeat = 0
	cfg.SoftwareVersion = "test-daemon 0.1"
	cfg.LogChannels = []string{"MAIN", "DIAG"}
	return cfg
}

type harness struct {
	d      *daemon.Daemon
	srv    *dlt.Server
	client *dlt.Client
	ctl    control.Control
}

func startDaemon(t *testing.T, opts ...daemon.Option) *harness {
	t.Helper()
	d, err := daemon.New(nil, testConfig(), opts...)
	require.NoError(t, err)
	d.RegisterApp(app1, "first app")
	d.RegisterContext(app1, ctx1, "first ctx")
	d.RegisterContext(app1, ctx2, "second ctx")
	d.RegisterContext(app2, ctx1, "other ctx")

	srv := d.Server("127.0.0.1:0")
	addr, err := dlt.RunLocalServer(srv)
	require.NoError(t, err)

	client := dlt.NewClient(nil, addr)
	client.SetReadTimeout(time.Second)
	require.NoError(t, client.Connect())

	t.Cleanup(func() {
		client.Disconnect()
		srv.Shutdown()
		d.Close()
	})
	return &harness{
		d:      d,
		srv:    srv,
		client: client,
		ctl:    control.NewControl(nil, client, dlt.WithAppID(dlt.MakeID("CTL"))),
	}
}

func TestVersionAnnouncement(t *testing.T) {
	h := startDaemon(t)

	raw, err := h.client.Receive()
	require.NoError(t, err)
	m, err := dlt.ParseMessage(raw)
	require.NoError(t, err)
	require.True(t, m.IsControl())

	p := dlt.NewServiceParser(m.Payload)
	id, err := p.ServiceID()
	require.NoError(t, err)
	assert.Equal(t, dlt.ServiceGetSoftwareVersion, id)
	_, v, err := p.GetSoftwareVersionResponse()
	require.NoError(t, err)
	assert.Equal(t, "test-daemon 0.1", string(v))
}

func TestControlServices(t *testing.T) {
	h := startDaemon(t)

	v, err := h.ctl.GetSoftwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "test-daemon 0.1", v)

	require.NoError(t, h.ctl.SetLogLevel(app1, dlt.WildcardID, int8(dlt.LogDebug)))
	inv := h.d.Inventory(app1, dlt.WildcardID)
	require.Len(t, inv.Apps, 1)
	for _, c := range inv.Apps[0].Contexts {
		assert.Equal(t, int8(dlt.LogDebug), c.LogLevel)
	}
	other := h.d.Inventory(app2, ctx1)
	assert.Equal(t, dlt.LogLevelDefault, other.Apps[0].Contexts[0].LogLevel)

	err = h.ctl.SetLogLevel(dlt.MakeID("NONE"), dlt.WildcardID, 3)
	st, ok := control.Status(err)
	require.True(t, ok)
	assert.Equal(t, dlt.StatusError, st)

	err = h.ctl.SetLogLevel(app1, ctx1, 9)
	st, ok = control.Status(err)
	require.True(t, ok)
	assert.Equal(t, dlt.StatusError, st)

	require.NoError(t, h.ctl.SetDefaultLogLevel(int8(dlt.LogWarn)))
	level, err := h.ctl.GetDefaultLogLevel()
	require.NoError(t, err)
	assert.Equal(t, int8(dlt.LogWarn), level)

	require.NoError(t, h.ctl.SetDefaultTraceStatus(dlt.TraceStatusOn))
	trace, err := h.ctl.GetDefaultTraceStatus()
	require.NoError(t, err)
	assert.Equal(t, dlt.TraceStatusOn, trace)

	require.NoError(t, h.ctl.SetTraceStatus(app2, ctx1, dlt.TraceStatusOff))
	trace, err = h.ctl.GetTraceStatus(app2, ctx1)
	require.NoError(t, err)
	assert.Equal(t, dlt.TraceStatusOff, trace)
	trace, err = h.ctl.GetTraceStatus(app1, ctx1)
	require.NoError(t, err)
	assert.Equal(t, dlt.TraceStatusOn, trace, "falls back to the default")

	names, err := h.ctl.GetLogChannelNames()
	require.NoError(t, err)
	assert.Equal(t, []dlt.ID{dlt.MakeID("MAIN"), dlt.MakeID("DIAG")}, names)

	require.NoError(t, h.ctl.SetMessageFiltering(true))
}

func TestGetLogInfo(t *testing.T) {
	h := startDaemon(t)

	st, inv, err := h.ctl.GetLogInfo(dlt.LogInfoWithDescriptions, app1, dlt.WildcardID)
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusWithDescriptions, st)
	require.Len(t, inv.Apps, 1)
	assert.Equal(t, "first app", inv.Apps[0].Description)
	require.Len(t, inv.Apps[0].Contexts, 2)
	assert.Equal(t, ctx1, inv.Apps[0].Contexts[0].ID)
	assert.Equal(t, "second ctx", inv.Apps[0].Contexts[1].Description)

	st, inv, err = h.ctl.GetLogInfo(dlt.LogInfoWithLevels, dlt.WildcardID, ctx1)
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusWithLogLevelAndTraceStatus, st)
	require.Len(t, inv.Apps, 2)
	assert.Equal(t, app1, inv.Apps[0].ID)
	assert.Equal(t, app2, inv.Apps[1].ID)

	st, inv, err = h.ctl.GetLogInfo(dlt.LogInfoWithLevels, dlt.MakeID("NONE"), dlt.WildcardID)
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusNoMatchingContexts, st)
	assert.Empty(t, inv.Apps)
}

func TestUnsupportedWithoutStore(t *testing.T) {
	h := startDaemon(t)

	st, ok := control.Status(h.ctl.StoreConfiguration())
	require.True(t, ok)
	assert.Equal(t, dlt.StatusNotSupported, st)

	resp, err := h.ctl.Raw(dlt.ServiceCallSWCInjection, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.CallSWCInjectionRequest(buf, 0x1000, []byte("x"))
	})
	require.NoError(t, err)
	got, err := dlt.NewServiceParser(resp).StatusResponse()
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusNotSupported, got)
}

func TestInjection(t *testing.T) {
	var gotID uint32
	var gotData []byte
	h := startDaemon(t, daemon.WithInjection(func(id uint32, data []byte) dlt.ServiceStatus {
		gotID = id
		gotData = append([]byte(nil), data...)
		return dlt.StatusOk
	}))

	resp, err := h.ctl.Raw(dlt.ServiceCallSWCInjection, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.CallSWCInjectionRequest(buf, 0x1234, []byte{0xCA, 0xFE})
	})
	require.NoError(t, err)
	st, err := dlt.NewServiceParser(resp).StatusResponse()
	require.NoError(t, err)
	assert.Equal(t, dlt.StatusOk, st)
	assert.Equal(t, uint32(0x1234), gotID)
	assert.Equal(t, []byte{0xCA, 0xFE}, gotData)
}

func TestStoreAndReset(t *testing.T) {
	store, err := daemon.OpenStore("", nil)
	require.NoError(t, err)
	defer store.Close()

	h := startDaemon(t, daemon.WithStore(store))
	require.NoError(t, h.ctl.SetLogLevel(app1, ctx1, int8(dlt.LogVerbose)))
	require.NoError(t, h.ctl.SetDefaultLogLevel(int8(dlt.LogError)))
	require.NoError(t, h.ctl.StoreConfiguration())

	snap, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int8(dlt.LogError), snap.DefaultLevel)

	// a second daemon on the same store picks the settings up
	d2, err := daemon.New(nil, testConfig(), daemon.WithStore(store))
	require.NoError(t, err)
	defer d2.Close()
	d2.RegisterContext(app1, ctx1, "")
	inv := d2.Inventory(app1, ctx1)
	require.Len(t, inv.Apps, 1)
	assert.Equal(t, int8(dlt.LogVerbose), inv.Apps[0].Contexts[0].LogLevel)

	require.NoError(t, h.ctl.ResetToFactoryDefault())
	_, ok, err = store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	level, err := h.ctl.GetDefaultLogLevel()
	require.NoError(t, err)
	assert.Equal(t, int8(dlt.LogInfo), level)
	inv = h.d.Inventory(app1, ctx1)
	assert.Equal(t, dlt.LogLevelDefault, inv.Apps[0].Contexts[0].LogLevel)
}

func TestLogFanOut(t *testing.T) {
	h := startDaemon(t)
	require.Eventually(t, func() bool { return h.d.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// the version announcement comes first
	_, err := h.client.Receive()
	require.NoError(t, err)

	require.True(t, h.d.Log(dlt.LogWarn, app1, ctx1, "engine overheated"))

	raw, err := h.client.Receive()
	require.NoError(t, err)
	m, err := dlt.ParseMessage(raw)
	require.NoError(t, err)
	eh, ok := m.ExtendedHeader()
	require.True(t, ok)
	assert.True(t, eh.Verbose())
	assert.Equal(t, app1, eh.AppID)
	assert.Equal(t, ctx1, eh.CtxID)
	lvl, _ := eh.LogLevel()
	assert.Equal(t, dlt.LogWarn, lvl)

	s, err := dlt.NewPayloadParser(m.Payload).ReadString()
	require.NoError(t, err)
	assert.Equal(t, "engine overheated", s)
}

func TestFiltering(t *testing.T) {
	cfg := testConfig()
	cfg.Filtering = true
	cfg.DefaultLogLevel = int8(dlt.LogWarn)
	d, err := daemon.New(nil, cfg)
	require.NoError(t, err)
	defer d.Close()
	d.RegisterContext(app1, ctx1, "")

	assert.True(t, d.Enabled(dlt.LogError, app1, ctx1))
	assert.True(t, d.Enabled(dlt.LogWarn, app1, ctx1))
	assert.False(t, d.Enabled(dlt.LogInfo, app1, ctx1))
	assert.False(t, d.Log(dlt.LogDebug, app1, ctx1, "suppressed"))
	assert.False(t, d.Enabled(dlt.LogDebug, app2, ctx2), "unknown contexts use the default")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := daemon.NewMetrics(reg)
	h := startDaemon(t, daemon.WithMetrics(m))

	_, err := h.ctl.GetDefaultLogLevel()
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "dlt_daemon_service_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Eventually(t, func() bool { return gauge(t, reg, "dlt_daemon_connections") == 1 }, time.Second, 5*time.Millisecond)

	h.client.Disconnect()
	assert.Eventually(t, func() bool { return gauge(t, reg, "dlt_daemon_connections") == 0 }, time.Second, 5*time.Millisecond)
}

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}
