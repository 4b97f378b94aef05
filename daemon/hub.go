package daemon

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hub receives messages from upstream `ch` and copies each one into the
// channel of every subscribed connection `m map[addr]chan`.
type Hub struct {
	sync.Mutex
	ch      chan []byte
	m       map[string]chan []byte
	depth   int
	done    chan struct{}
	closed  bool
	dropped atomic.Uint32
	onDrop  func()
	log     *zap.Logger
}

// NewHub creates a hub whose subscribers buffer depth messages each.
// onDrop, if set, is called for every message that does not fit a queue.
func NewHub(log *zap.Logger, depth int, onDrop func()) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if depth <= 0 {
		depth = 1
	}
	h := &Hub{
		ch:     make(chan []byte, depth),
		m:      make(map[string]chan []byte),
		depth:  depth,
		done:   make(chan struct{}),
		onDrop: onDrop,
		log:    log.Named("hub"),
	}

	go h.run(h.done)
	return h
}

// Close stops the hub and closes every subscriber channel.
func (h *Hub) Close() {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	for k, v := range h.m {
		close(v)
		delete(h.m, k)
	}
	close(h.done)
}

// Add adds a new channel when a new connection is established. cancel
// removes and closes it.
func (h *Hub) Add(addr string) (<-chan []byte, func(), error) {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return nil, nil, fmt.Errorf("hub: closed")
	}
	if _, ok := h.m[addr]; ok {
		return nil, nil, fmt.Errorf("hub: failed to add as %s had already existed", addr)
	}

	ch := make(chan []byte, h.depth)
	h.m[addr] = ch

	cancel := func() {
		h.Lock()
		defer h.Unlock()
		if cur, ok := h.m[addr]; ok && cur == ch {
			close(ch)
			delete(h.m, addr)
		}
	}

	return ch, cancel, nil
}

// Publish queues m for every subscriber. It never blocks; a full hub drops
// the message and reports false.
func (h *Hub) Publish(m []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ch <- m:
		return true
	default:
		h.drop()
		return false
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.Lock()
	defer h.Unlock()
	return len(h.m)
}

// Dropped returns the number of messages lost so far, wrapping at 2^32.
func (h *Hub) Dropped() uint32 {
	return h.dropped.Load()
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	if h.onDrop != nil {
		h.onDrop()
	}
}

func (h *Hub) run(done <-chan struct{}) {
	for {
		select {
		case m := <-h.ch:
			h.Lock()
			for addr, ch := range h.m {
				select {
				case ch <- m:
				default:
					h.log.Debug("subscriber queue full", zap.String("addr", addr))
					h.drop()
				}
			}
			h.Unlock()
		case <-done:
			return
		}
	}
}
