package daemon

import (
	"testing"

	"github.com/eshenhu/dlt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s, err := OpenStore("", nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	snap := Snapshot{
		DefaultLevel: 2,
		DefaultTrace: 1,
		Filtering:    true,
		Contexts: []ContextSetting{
			{App: dlt.MakeID("APP1"), Ctx: dlt.MakeID("CTX1"), Level: 6, Trace: 0},
			{App: dlt.MakeID("APP1"), Ctx: dlt.MakeID("CTX2"), Level: -1, Trace: -1},
		},
	}
	require.NoError(t, s.Save(snap))

	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, got)

	// saving again replaces the context set
	snap.Contexts = snap.Contexts[:1]
	require.NoError(t, s.Save(snap))
	got, _, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, snap.Contexts, got.Contexts)

	require.NoError(t, s.Clear())
	_, ok, err = s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(Snapshot{DefaultLevel: 5}))
	require.NoError(t, s.Close())

	s, err = OpenStore(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int8(5), got.DefaultLevel)
	assert.Empty(t, got.Contexts)
}

func TestStoreRawIDs(t *testing.T) {
	s, err := OpenStore("", nil)
	require.NoError(t, err)
	defer s.Close()

	contexts := []ContextSetting{
		{App: dlt.MakeID("A/B"), Ctx: dlt.MakeID("C"), Level: 4},
		{App: dlt.ID{'A', 0, 'B', 'C'}, Ctx: dlt.ID{'/', '/', 0, 0xFF}, Level: 1, Trace: 1},
		{App: dlt.WildcardID, Ctx: dlt.MakeID("LONG"), Level: 3},
	}
	require.NoError(t, s.Save(Snapshot{DefaultLevel: 4, Contexts: contexts}))

	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, contexts, got.Contexts)
}
