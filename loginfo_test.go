package dlt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInventory() *Inventory {
	return &Inventory{Apps: []AppInfo{
		{
			ID:          MakeID("NAV"),
			Description: "navigation",
			Contexts: []ContextInfo{
				{ID: MakeID("GPS"), LogLevel: int8(LogInfo), TraceStatus: 0, Description: "receiver"},
				{ID: MakeID("MAP"), LogLevel: -1, TraceStatus: -1},
			},
		},
		{ID: MakeID("HMI"), Contexts: []ContextInfo{}},
	}}
}

func TestLogInfoOrder(t *testing.T) {
	buf := make([]byte, 64)
	w := NewLogInfoWriter(buf, false)
	require.NoError(t, w.WriteAppCount(1))
	require.NoError(t, w.WriteAppID(MakeID("APP")))
	require.NoError(t, w.WriteContextCount(2))
	require.NoError(t, w.WriteContext(MakeID("C1"), 4, 1, []byte("ignored")))
	require.NoError(t, w.WriteContext(MakeID("C2"), -1, 0, nil))
	require.NoError(t, w.WriteAppDescription([]byte("ignored")))
	assert.Equal(t, 2+4+2+2*6, w.Finish())
	assert.Equal(t, []byte{0x01, 0x00, 'A', 'P', 'P', 0, 0x02, 0x00}, w.Bytes()[:8])

	r := NewLogInfoReader(w.Bytes(), false)
	apps, err := r.ReadAppCount()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), apps)
	id, err := r.ReadAppID()
	require.NoError(t, err)
	assert.Equal(t, "APP", id.String())
	n, err := r.ReadContextCount()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), n)
	id, level, trace, desc, err := r.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, "C1", id.String())
	assert.Equal(t, int8(4), level)
	assert.Equal(t, int8(1), trace)
	assert.Nil(t, desc)
	_, level, _, _, err = r.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, int8(-1), level)
	desc, err = r.ReadAppDescription()
	require.NoError(t, err)
	assert.Nil(t, desc)
	assert.Zero(t, r.Remaining())
}

func TestLogInfoDescriptions(t *testing.T) {
	buf := make([]byte, 64)
	w := NewLogInfoWriter(buf, true)
	require.NoError(t, w.WriteContext(MakeID("C1"), 3, 0, []byte("ctx")))
	require.NoError(t, w.WriteAppDescription([]byte("app")))
	assert.Equal(t, []byte{'C', '1', 0, 0, 3, 0, 3, 0, 'c', 't', 'x', 3, 0, 'a', 'p', 'p'}, w.Bytes())

	r := NewLogInfoReader(w.Bytes(), true)
	_, _, _, desc, err := r.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, "ctx", string(desc))
	desc, err = r.ReadAppDescription()
	require.NoError(t, err)
	assert.Equal(t, "app", string(desc))

	// a truncated description leaves the cursor on the entry
	r = NewLogInfoReader(w.Bytes()[:9], true)
	_, _, _, _, err = r.ReadContext()
	assert.ErrorIs(t, err, PayloadBufferTooSmall)
	assert.Equal(t, 0, r.Position())
}

func TestLogInfoWriterBounds(t *testing.T) {
	w := NewLogInfoWriter(make([]byte, 7), false)
	require.NoError(t, w.WriteAppCount(1))
	assert.ErrorIs(t, w.WriteContext(MakeID("C1"), 0, 0, nil), EncodeBufferTooSmall)
	assert.Equal(t, 2, w.Position())
}

func TestInventoryRoundTrip(t *testing.T) {
	for _, withDesc := range []bool{false, true} {
		inv := sampleInventory()
		buf := make([]byte, inv.EncodedSize(withDesc))
		w := NewLogInfoWriter(buf, withDesc)
		require.NoError(t, inv.WriteTo(w))
		assert.Equal(t, len(buf), w.Finish())

		var got Inventory
		r := NewLogInfoReader(w.Bytes(), withDesc)
		require.NoError(t, ReadInventory(r, &got))
		assert.Zero(t, r.Remaining())
		require.Len(t, got.Apps, 2)
		assert.Equal(t, MakeID("NAV"), got.Apps[0].ID)
		assert.Len(t, got.Apps[0].Contexts, 2)
		assert.Equal(t, int8(-1), got.Apps[0].Contexts[1].TraceStatus)
		assert.Empty(t, got.Apps[1].Contexts)
		if withDesc {
			assert.Equal(t, "navigation", got.Apps[0].Description)
			assert.Equal(t, "receiver", got.Apps[0].Contexts[0].Description)
		} else {
			assert.Empty(t, got.Apps[0].Description)
		}
	}
}

func TestInventoryResponse(t *testing.T) {
	for _, status := range []ServiceStatus{StatusWithLogLevelAndTraceStatus, StatusWithDescriptions, StatusNoMatchingContexts} {
		buf := make([]byte, 256)
		n, err := NewServiceBuilder().GetLogInfoInventoryResponse(buf, status, sampleInventory())
		require.NoError(t, err)
		m, err := ParseMessage(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, "remo", string(m.Payload[len(m.Payload)-4:]))

		st, inv, err := NewServiceParser(m.Payload).GetLogInfoInventory()
		require.NoError(t, err)
		assert.Equal(t, status, st)
		if status == StatusNoMatchingContexts {
			assert.Empty(t, inv.Apps)
			assert.Len(t, m.Payload, 4+1+4)
			continue
		}
		assert.Len(t, inv.Apps, 2)
		assert.Equal(t, status == StatusWithDescriptions, inv.Apps[0].Description != "")
	}
}

func TestReadInventoryAllOrNothing(t *testing.T) {
	inv := sampleInventory()
	buf := make([]byte, inv.EncodedSize(false))
	w := NewLogInfoWriter(buf, false)
	require.NoError(t, inv.WriteTo(w))

	// second application cut short
	dst := Inventory{Apps: []AppInfo{{ID: MakeID("OLD")}}}
	err := ReadInventory(NewLogInfoReader(w.Bytes()[:w.Finish()-3], false), &dst)
	assert.ErrorIs(t, err, PayloadBufferTooSmall)
	require.Len(t, dst.Apps, 1)
	assert.Equal(t, MakeID("OLD"), dst.Apps[0].ID)

	require.NoError(t, ReadInventory(NewLogInfoReader(w.Bytes(), false), &dst))
	assert.Len(t, dst.Apps, 3)
}
