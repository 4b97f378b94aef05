package dlt

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageHeader(t *testing.T) {
	ts := time.Unix(1700000000, 123456000)
	h := NewStorageHeader(ts, MakeID("ECU1"))
	buf := make([]byte, StorageHeaderSize)
	n, err := h.Marshal(buf)
	require.NoError(t, err)
	assert.Equal(t, StorageHeaderSize, n)
	assert.Equal(t, "DLT\x01", string(buf[:4]))
	// little endian microseconds
	assert.Equal(t, []byte{0x40, 0xE2, 0x01, 0x00}, buf[8:12])

	got, err := ParseStorageHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.True(t, ts.Equal(got.Time()))

	_, err = h.Marshal(buf[:8])
	assert.ErrorIs(t, err, EncodeBufferTooSmall)
	_, err = ParseStorageHeader(buf[:8])
	assert.ErrorIs(t, err, HeaderBufferTooSmall)
	buf[3] = 2
	_, err = ParseStorageHeader(buf)
	assert.ErrorIs(t, err, ErrInvalidStorageHeader)
}

func TestStorageRoundTrip(t *testing.T) {
	var file bytes.Buffer
	sw := NewStorageWriter(&file)
	b := NewMessageBuilder()
	buf := make([]byte, 128)
	for i, text := range []string{"one", "two", "three"} {
		n, err := b.LogInfo(buf, text)
		require.NoError(t, err)
		require.NoError(t, sw.Write(NewStorageHeader(time.Unix(int64(100+i), 0), MakeID("ECU1")), buf[:n]))
	}

	sr := NewStorageReader(&file)
	var got []string
	for sr.Next() {
		assert.Equal(t, uint32(100+len(got)), sr.Header().Seconds)
		m, err := sr.Message()
		require.NoError(t, err)
		s, err := NewPayloadParser(m.Payload).ReadString()
		require.NoError(t, err)
		got = append(got, s)
	}
	require.NoError(t, sr.Err())
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestStorageReaderErrors(t *testing.T) {
	var file bytes.Buffer
	msg := make([]byte, 64)
	n, err := NewMessageBuilder().LogWarn(msg, "cut")
	require.NoError(t, err)
	require.NoError(t, NewStorageWriter(&file).Write(NewStorageHeader(time.Unix(1, 0), MakeID("ECU1")), msg[:n]))

	sr := NewStorageReader(bytes.NewReader(file.Bytes()[:file.Len()-2]))
	assert.False(t, sr.Next())
	assert.ErrorIs(t, sr.Err(), io.ErrUnexpectedEOF)
	assert.False(t, sr.Next())

	bad := append([]byte("XLT\x01"), file.Bytes()[4:]...)
	sr = NewStorageReader(bytes.NewReader(bad))
	assert.False(t, sr.Next())
	assert.ErrorIs(t, sr.Err(), ErrInvalidStorageHeader)

	sr = NewStorageReader(bytes.NewReader(nil))
	assert.False(t, sr.Next())
	assert.NoError(t, sr.Err())
}

func TestReadMessage(t *testing.T) {
	b := NewMessageBuilder(WithSerialHeader(true))
	var stream bytes.Buffer
	buf := make([]byte, 128)
	for _, text := range []string{"first", "second"} {
		n, err := b.LogDebug(buf, text)
		require.NoError(t, err)
		stream.Write(buf[:n])
	}

	dst := make([]byte, MaxMessageSize)
	for _, want := range []string{"first", "second"} {
		n, err := ReadMessage(&stream, dst, true)
		require.NoError(t, err)
		m, err := ParseMessage(dst[:n])
		require.NoError(t, err)
		assert.True(t, m.SerialHeader)
		s, err := NewPayloadParser(m.Payload).ReadString()
		require.NoError(t, err)
		assert.Equal(t, want, s)
	}
	_, err := ReadMessage(&stream, dst, true)
	assert.ErrorIs(t, err, io.EOF)

	n, err := NewMessageBuilder().LogDebug(buf, "no serial header")
	require.NoError(t, err)
	_, err = ReadMessage(bytes.NewReader(buf[:n]), dst, true)
	assert.ErrorIs(t, err, HeaderInvalidSerialHeader)

	_, err = ReadMessage(bytes.NewReader(buf[:n]), make([]byte, 8), false)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = ReadMessage(bytes.NewReader(buf[:n-1]), dst, false)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
