package bridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/internal/render"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dial(t *testing.T, b *Bridge) *websocket.Conn {
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestBroadcast(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	conn := dial(t, b)

	require.NoError(t, b.Broadcast(render.Record{Type: "log", App: "NAV", Args: []string{"up"}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Contains(t, string(data), `"app":"NAV"`)
	assert.Contains(t, string(data), `"args":["up"]`)
}

func TestRunForwardsMessages(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	conn := dial(t, b)

	builder := dlt.NewMessageBuilder(dlt.WithAppID(dlt.MakeID("RADR")))
	buf := make([]byte, 256)
	n, err := builder.LogInfo(buf, "object ahead")
	require.NoError(t, err)

	msgs := make(chan []byte, 2)
	msgs <- []byte{0x01, 0x02}
	msgs <- append([]byte(nil), buf[:n]...)
	close(msgs)
	require.NoError(t, b.Run(context.Background(), msgs))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"app":"RADR"`)
	assert.Contains(t, string(data), `"args":["object ahead"]`)
}

func TestRunStopsOnContext(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Run(ctx, make(chan []byte)), context.Canceled)
}

func TestClientGone(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	conn := dial(t, b)
	conn.Close()
	require.Eventually(t, func() bool { return b.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, b.Broadcast(render.Record{Type: "log"}))
}

func TestClose(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	conn := dial(t, b)
	b.Close()
	assert.Equal(t, 0, b.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
