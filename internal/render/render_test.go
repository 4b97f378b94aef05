package render

import (
	"bytes"
	"testing"

	"github.com/eshenhu/dlt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, f func(buf []byte) (int, error)) dlt.Message {
	buf := make([]byte, 512)
	n, err := f(buf)
	require.NoError(t, err)
	m, err := dlt.ParseMessage(buf[:n])
	require.NoError(t, err)
	return m
}

func TestVerboseRecord(t *testing.T) {
	b := dlt.NewMessageBuilder(dlt.WithAppID(dlt.MakeID("NAV")), dlt.WithContextID(dlt.MakeID("GPS")), dlt.WithTimestamp(12345))
	m := parse(t, func(buf []byte) (int, error) {
		return b.BuildArgs(buf, dlt.LogWarn, dlt.Str("fix lost"), dlt.Int32(-3), dlt.Bool(true))
	})

	r := NewRecord(&m)
	assert.Equal(t, "ECU1", r.ECU)
	assert.Equal(t, "NAV", r.App)
	assert.Equal(t, "GPS", r.Ctx)
	assert.Equal(t, "log", r.Type)
	assert.Equal(t, "warn", r.Subtype)
	assert.True(t, r.Verbose)
	assert.Equal(t, []string{"fix lost", "-3", "true"}, r.Args)
	assert.Empty(t, r.Error)

	var out bytes.Buffer
	require.NoError(t, Console(&out, r))
	assert.Contains(t, out.String(), "ECU1 NAV  GPS  log warn V fix lost -3 true\n")
	assert.Contains(t, out.String(), "1.2345")

	out.Reset()
	require.NoError(t, JSON(&out, r))
	assert.Contains(t, out.String(), `"app":"NAV"`)
	assert.Contains(t, out.String(), `"args":["fix lost","-3","true"]`)
	assert.Contains(t, out.String(), `"timestamp":12345`)

	out.Reset()
	require.NoError(t, ConsoleColor(&out, r))
	assert.Contains(t, out.String(), "fix lost -3 true")
}

func TestNonVerboseRecord(t *testing.T) {
	b := dlt.NewMessageBuilder()
	m := parse(t, func(buf []byte) (int, error) {
		return b.Build(buf, []byte{0x01, 0x02, 0xFF}, dlt.LogInfo, 0, false)
	})
	r := NewRecord(&m)
	assert.False(t, r.Verbose)
	assert.Equal(t, "0102ff", r.Payload)
	assert.Equal(t, "[0102ff]", r.Text())
}

func TestControlRecord(t *testing.T) {
	s := dlt.NewServiceBuilder()
	m := parse(t, func(buf []byte) (int, error) {
		return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, []byte("v2.1"))
	})
	r := NewRecord(&m)
	assert.Equal(t, "control", r.Type)
	assert.Equal(t, "response", r.Subtype)
	assert.Equal(t, "get_software_version", r.Service)
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, "v2.1", r.Detail)
	assert.Equal(t, "get_software_version ok v2.1", r.Text())

	m = parse(t, func(buf []byte) (int, error) {
		return s.SetLogLevelRequest(buf, dlt.MakeID("APP1"), dlt.WildcardID, 5)
	})
	r = NewRecord(&m)
	assert.Equal(t, "request", r.Subtype)
	assert.Equal(t, "set_log_level", r.Service)
	assert.Empty(t, r.Status)
	assert.Equal(t, "set_log_level", r.Text())
}

func TestBrokenVerbosePayload(t *testing.T) {
	b := dlt.NewMessageBuilder()
	buf := make([]byte, 128)
	n, err := b.BuildArgs(buf, dlt.LogInfo, dlt.Uint16(7))
	require.NoError(t, err)
	// cut the last value byte and fix up the length
	n--
	buf[3]--
	m, err := dlt.ParseMessage(buf[:n])
	require.NoError(t, err)

	r := NewRecord(&m)
	assert.Empty(t, r.Args)
	assert.NotEmpty(t, r.Error)
}
