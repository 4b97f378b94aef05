package dlt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 2 * time.Second
	inQueueDepth = 64
)

// Client is a TCP connection to a DLT daemon. Received messages are framed
// by an input goroutine and delivered through Receive or Messages.
type Client struct {
	log         *zap.Logger
	server      string
	serial      bool
	readTimeout time.Duration
	queueDepth  int
	mtx         sync.Mutex
	wbuf        []byte
	inChan      chan []byte
	errChan     chan error
	running     chan struct{}
	connection  net.Conn
}

type clientError int

const (
	timeout             clientError = 1
	sessionDisconnected clientError = 2
	invalidMessage      clientError = 3
	messageTooLarge     clientError = 4
	notConnected        clientError = 5
	unknownError        clientError = 12
)

func (c clientError) Error() string {
	switch c {
	case timeout:
		return fmt.Sprintf("#%02d <DLT: Receive timeout>", c)
	case sessionDisconnected:
		return fmt.Sprintf("#%02d <DLT: Session disconnected>", c)
	case invalidMessage:
		return fmt.Sprintf("#%02d <DLT: Invalid message header, close socket>", c)
	case messageTooLarge:
		return fmt.Sprintf("#%02d <DLT: Message too large, close socket>", c)
	case notConnected:
		return fmt.Sprintf("#%02d <DLT: Not connected>", c)
	default:
		return fmt.Sprintf("#%02d <DLT: Unknown error>", unknownError)
	}
}

func (c clientError) IsTimeout() bool {
	return c == timeout
}

func (c clientError) IsDisconnected() bool {
	return c == sessionDisconnected || c == notConnected
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientSerialHeader expects and sends "DLS\x01" in front of every
// message.
func WithClientSerialHeader(on bool) ClientOption {
	return func(c *Client) { c.serial = on }
}

// WithClientQueue sets the number of received messages buffered before the
// input goroutine blocks.
func WithClientQueue(n int) ClientOption {
	return func(c *Client) { c.queueDepth = n }
}

// NewClient returns a client for the daemon at addr. It does not connect.
func NewClient(logger *zap.Logger, addr string, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		log:         logger.Named("client").With(zap.String("server", addr)),
		server:      addr,
		readTimeout: readTimeout,
		queueDepth:  inQueueDepth,
		wbuf:        make([]byte, MaxMessageSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetReadTimeout set a custom read timeout for Receive.
func (c *Client) SetReadTimeout(timeout time.Duration) {
	c.readTimeout = timeout
}

// Connect dials the daemon and starts the input goroutine.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.server, dialTimeout)
	if err != nil {
		c.log.Warn("dial failed", zap.Error(err))
		return err
	}

	c.mtx.Lock()
	c.connection = conn
	c.inChan = make(chan []byte, c.queueDepth)
	c.errChan = make(chan error, 1)
	c.running = make(chan struct{})
	c.mtx.Unlock()

	// pass connection and channels so a later Disconnect cannot race the loop
	go c.inputLoop(conn, c.inChan, c.errChan, c.running)
	return nil
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.connection == nil {
		return
	}
	close(c.running)
	if err := c.connection.Close(); err != nil {
		c.log.Warn("failed to close the socket", zap.Error(err))
	}
	c.connection = nil
}

// Send writes one complete message.
func (c *Client) Send(msg []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.write(msg)
}

// SendRequest builds a message with build into the client's write buffer and
// sends it, typically with a ServiceBuilder method value.
func (c *Client) SendRequest(build func(buf []byte) (int, error)) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n, err := build(c.wbuf)
	if err != nil {
		return err
	}
	return c.write(c.wbuf[:n])
}

func (c *Client) write(b []byte) error {
	if c.connection == nil {
		c.log.Debug("attempt to send when not connected")
		return notConnected
	}
	for sent := 0; sent < len(b); {
		n, err := c.connection.Write(b[sent:])
		if err != nil {
			return fmt.Errorf("send: conn write error: %w", err)
		}
		sent += n
	}
	return nil
}

// Receive returns the next message or an error after the read timeout.
func (c *Client) Receive() (data []byte, err error) {
	c.mtx.Lock()
	in, errs := c.inChan, c.errChan
	c.mtx.Unlock()
	if in == nil {
		return nil, notConnected
	}

	select {
	case m, ok := <-in:
		if ok {
			return m, nil
		}
		// errChan is closed first; a pending error is still readable
		err = sessionDisconnected
		if e, ok := <-errs; ok {
			err = e
		}
	case e, ok := <-errs:
		err = e
		if !ok {
			err = sessionDisconnected
		}
	case <-time.After(c.readTimeout):
		err = timeout
	}
	c.log.Debug("receive", zap.Error(err))
	return nil, err
}

// Messages returns the channel of received messages. It is closed when the
// connection ends. Consumers use either Messages or Receive, not both.
func (c *Client) Messages() <-chan []byte {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.inChan
}

func isStopped(running chan struct{}) bool {
	select {
	case <-running:
		return true
	default:
		return false
	}
}

// inputLoop frames messages off the socket with ReadMessage and hands a copy
// of each to inChan. A framing error desynchronizes the stream, so the loop
// reports it and stops.
func (c *Client) inputLoop(conn net.Conn, inChan chan []byte, errChan chan error, running chan struct{}) {
	defer close(inChan)
	defer close(errChan)

	c.log.Debug("go to inputLoop")
	buf := make([]byte, MaxMessageSize)
	for {
		n, err := ReadMessage(conn, buf, c.serial)
		if err != nil {
			var herr HeaderError
			switch {
			case isStopped(running):
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				c.log.Info("server closed the connection")
			case errors.As(err, &herr):
				c.log.Warn("protocol error", zap.Error(err))
				errChan <- invalidMessage
			case errors.Is(err, ErrMessageTooLarge):
				errChan <- messageTooLarge
			default:
				c.log.Warn("failed to read from socket", zap.Error(err))
			}
			return
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		select {
		case inChan <- msg:
		case <-running:
			return
		}
	}
}
