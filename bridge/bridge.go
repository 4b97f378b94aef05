// Package bridge forwards DLT traffic to websocket clients as JSON records.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/internal/render"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendDepth  = 64
	readLimit  = 512
	bufferSize = 1024
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Bridge is an http.Handler upgrading requests to websockets. Every record
// passed to Broadcast is sent to all connected sockets. A socket that cannot
// keep up loses records instead of blocking the others.
type Bridge struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	parse    dlt.ParseOptions

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped uint64
}

// New returns a bridge without clients.
func New(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		log: logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
		},
		clients: make(map[*client]struct{}),
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendDepth)}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.log.Info("websocket connection established", zap.String("remote_addr", conn.RemoteAddr().String()))

	go b.writeLoop(c)
	b.readLoop(c)
}

// readLoop discards inbound frames and unregisters c when the peer goes away.
func (b *Bridge) readLoop(c *client) {
	defer func() {
		b.mu.Lock()
		if _, ok := b.clients[c]; ok {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
		b.log.Info("websocket connection closed", zap.String("remote_addr", c.conn.RemoteAddr().String()))
	}()

	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.log.Warn("websocket connection closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (b *Bridge) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.log.Warn("failed to send record", zap.Error(err))
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Broadcast sends r to every client.
func (b *Bridge) Broadcast(r render.Record) error {
	data, err := render.Marshal(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			b.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected sockets.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns the number of records not delivered to slow clients.
func (b *Bridge) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Run broadcasts every message read from msgs until msgs is closed or ctx is
// done. Messages that fail to parse are logged and skipped.
func (b *Bridge) Run(ctx context.Context, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			m, err := b.parse.Parse(data)
			if err != nil {
				b.log.Debug("dropping malformed message", zap.Error(err))
				continue
			}
			if err := b.Broadcast(render.NewRecord(&m)); err != nil {
				b.log.Warn("failed to encode record", zap.Error(err))
			}
		}
	}
}

// Close disconnects every client.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
