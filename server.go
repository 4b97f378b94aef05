package dlt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	tcpIdleTimeout = 0 // disabled
	feedDrainGrace = time.Second
)

var errBadNetwork = errors.New("bad network")

// FeedHandler is a Handler that also pushes messages to every connection,
// such as the log stream of a daemon.
type FeedHandler interface {
	Handler
	// Subscribe returns the messages for the connection from a. The channel
	// is closed by the implementation once ctx is done.
	Subscribe(ctx context.Context, a net.Addr) <-chan []byte
}

// Handler is implemented by any value that implements ServeDLT.
type Handler interface {
	ServeDLT(w ResponseWriter, r *Request)
}

// Request is one message received by the server. Raw and Message.Payload
// borrow the connection buffer and are only valid during ServeDLT.
type Request struct {
	Message    Message
	Raw        []byte
	RemoteAddr net.Addr
}

// Service returns a parser over the control payload.
func (r *Request) Service() *ServiceParser { return NewServiceParser(r.Message.Payload) }

// A ResponseWriter is used by a handler to answer on the connection of the
// request. Its methods are safe for concurrent use.
type ResponseWriter interface {
	// LocalAddr returns the net.Addr of the server
	LocalAddr() net.Addr
	// RemoteAddr returns the net.Addr of the client that sent the current request.
	RemoteAddr() net.Addr
	// Write writes one complete message back to the client.
	Write([]byte) (int, error)
	// Reply builds a message with the connection's service builder and
	// writes it.
	Reply(build func(s *ServiceBuilder, buf []byte) (int, error)) error
	// WriteStatus answers a service request with a bare status.
	WriteStatus(id ServiceID, status ServiceStatus) error
	// Close closes the connection.
	Close() error
	// Hijack lets the caller take over the connection.
	// After a call to Hijack(), the server will not do anything with the connection.
	Hijack()
}

type response struct {
	mu         sync.Mutex
	hijacked   bool
	tcp        net.Conn
	remoteAddr net.Addr
	services   *ServiceBuilder
	buf        []byte
}

// ServeMux is a DLT request multiplexer. Control requests are matched on
// their service ID, every other message goes to the log handler.
type ServeMux struct {
	z map[ServiceID]Handler
	l Handler
	m *sync.RWMutex
	f func(context.Context, net.Addr) <-chan []byte
}

// NewServeMux allocates and returns a new ServeMux. f feeds every connection
// and may be nil.
func NewServeMux(f func(context.Context, net.Addr) <-chan []byte) *ServeMux {
	return &ServeMux{
		z: make(map[ServiceID]Handler),
		m: new(sync.RWMutex),
		f: f,
	}
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as DLT handlers.
type HandlerFunc func(ResponseWriter, *Request)

// ServeDLT calls f(w, r).
func (f HandlerFunc) ServeDLT(w ResponseWriter, r *Request) {
	f(w, r)
}

func (mux *ServeMux) match(id ServiceID) Handler {
	mux.m.RLock()
	defer mux.m.RUnlock()
	if h, ok := mux.z[id]; ok {
		return h
	}
	return nil
}

// Subscribe implements FeedHandler.
func (mux *ServeMux) Subscribe(ctx context.Context, a net.Addr) <-chan []byte {
	if mux.f == nil {
		return nil
	}
	return mux.f(ctx, a)
}

// Handle adds a handler for service id. Every CallSWCInjection ID is
// dispatched to the handler registered for ServiceCallSWCInjection.
func (mux *ServeMux) Handle(id ServiceID, handler Handler) {
	mux.m.Lock()
	mux.z[id] = handler
	mux.m.Unlock()
}

// HandleFunc adds a handler function for service id.
func (mux *ServeMux) HandleFunc(id ServiceID, handler func(ResponseWriter, *Request)) {
	mux.Handle(id, HandlerFunc(handler))
}

// HandleRemove deregisters the handler for service id.
func (mux *ServeMux) HandleRemove(id ServiceID) {
	mux.m.Lock()
	delete(mux.z, id)
	mux.m.Unlock()
}

// HandleLog sets the handler for messages that are not control requests.
func (mux *ServeMux) HandleLog(handler Handler) {
	mux.m.Lock()
	mux.l = handler
	mux.m.Unlock()
}

// ServeDLT dispatches the request. Unknown services are answered with
// StatusNotSupported; control responses from clients are dropped.
func (mux *ServeMux) ServeDLT(w ResponseWriter, r *Request) {
	if !r.Message.IsControl() {
		mux.m.RLock()
		h := mux.l
		mux.m.RUnlock()
		if h != nil {
			h.ServeDLT(w, r)
		}
		return
	}
	if ct, _ := r.Message.Extended.ControlType(); ct != ControlRequest {
		return
	}
	sp := r.Service()
	raw, err := sp.RawServiceID()
	if err != nil {
		return
	}
	id, ok := ParseServiceID(raw)
	var h Handler
	if ok {
		h = mux.match(id)
	}
	if h == nil {
		failedHandler(w, ServiceID(raw))
		return
	}
	h.ServeDLT(w, r)
}

// ListenAndServe starts a server on address and network and invokes handler
// for incoming messages.
func ListenAndServe(addr string, network string, handler Handler, logger *zap.Logger) error {
	server := &Server{
		Addr:    addr,
		Net:     network,
		Handler: handler,
		Logger:  logger,
	}
	return server.ListenAndServe()
}

// ListenAndServeTLS acts like http.ListenAndServeTLS.
func ListenAndServeTLS(addr, certFile, keyFile string, handler Handler, logger *zap.Logger) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}

	config := tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	server := &Server{
		Addr:      addr,
		Net:       "tcp-tls",
		TLSConfig: &config,
		Handler:   handler,
		Logger:    logger,
	}
	return server.ListenAndServe()
}

// A Server defines parameters for running a DLT server.
type Server struct {
	// Address to listen on, ":3490" if empty.
	Addr string
	// "tcp", "tcp4", "tcp6" or their "-tls" variants.
	Net string
	// TCP Listener to use, set by ListenAndServe.
	Listener net.Listener
	// TLS connection configuration
	TLSConfig *tls.Config
	// Handler to invoke. If it implements FeedHandler every connection is
	// subscribed.
	Handler Handler
	// SerialHeader expects and writes "DLS\x01" in front of every message.
	SerialHeader bool
	// BuilderOptions configure the per connection response builder.
	BuilderOptions []BuilderOption
	// InterceptRead sees every framed message before dispatch. err is set
	// when the message could not be parsed; it is then dropped.
	InterceptRead func(a net.Addr, r *Request, err error)
	// NotifyConnFunc is called when a connection opens and closes.
	NotifyConnFunc func(w ResponseWriter, connected bool)
	// Idle timeout between messages; zero disables it.
	IdleTimeout func() time.Duration
	// If NotifyStartedFunc is set it is called once the server has started listening.
	NotifyStartedFunc func()
	// Logger, zap.NewNop() if nil.
	Logger *zap.Logger
	// Shutdown handling
	lock sync.RWMutex
	// Tracking on the living connections
	activeConn map[net.Conn]struct{}
	log        *zap.Logger
}

// ListenAndServe starts the server on the configured address.
func (srv *Server) ListenAndServe() error {
	srv.lock.Lock()
	addr := srv.Addr
	if addr == "" {
		addr = ":3490"
	}
	if srv.Logger == nil {
		srv.Logger = zap.NewNop()
	}
	srv.log = srv.Logger.Named("server")

	var (
		l   net.Listener
		err error
	)
	switch srv.Net {
	case "tcp", "tcp4", "tcp6":
		var a *net.TCPAddr
		if a, err = net.ResolveTCPAddr(srv.Net, addr); err == nil {
			l, err = net.ListenTCP(srv.Net, a)
		}
	case "tcp-tls", "tcp4-tls", "tcp6-tls":
		network := "tcp"
		if srv.Net == "tcp4-tls" {
			network = "tcp4"
		} else if srv.Net == "tcp6-tls" {
			network = "tcp6"
		}
		l, err = tls.Listen(network, addr, srv.TLSConfig)
	default:
		err = errBadNetwork
	}
	if err != nil {
		srv.lock.Unlock()
		return err
	}
	srv.Listener = l
	srv.lock.Unlock()

	srv.log.Info("started server", zap.Stringer("addr", l.Addr()))
	return srv.serveTCP(l)
}

// Shutdown shuts down a server. After a call to Shutdown, ListenAndServe
// will return.
func (srv *Server) Shutdown() error {
	srv.lock.RLock()
	l := srv.Listener
	srv.lock.RUnlock()
	if l != nil {
		return l.Close()
	}
	return nil
}

// serveTCP accepts connections until the listener closes.
// Each connection is handled in a separate goroutine.
func (srv *Server) serveTCP(l net.Listener) error {
	defer l.Close()

	if srv.NotifyStartedFunc != nil {
		srv.NotifyStartedFunc()
	}

	handler := srv.Handler
	if handler == nil {
		panic("handler is nil")
	}

	var err error
	var wg sync.WaitGroup
	for {
		rw, e := l.Accept()
		if e != nil {
			if ne, ok := e.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !errors.Is(e, net.ErrClosed) {
				err = e
			}
			break
		}
		srv.log.Info("new connection", zap.Stringer("remote", rw.RemoteAddr()))
		wg.Add(1)
		go srv.serve(&wg, handler, rw)
	}
	srv.closeConnects()
	wg.Wait()
	return err
}

// serve handles two input sources: the feed of a FeedHandler and the
// messages arriving on the connection.
func (srv *Server) serve(wg *sync.WaitGroup, h Handler, t net.Conn) {
	defer wg.Done()

	srv.trackConn(t, true)
	defer srv.trackConn(t, false)

	a := t.RemoteAddr()
	log := srv.log.With(zap.Stringer("remote", a))
	w := &response{
		tcp:        t,
		remoteAddr: a,
		services:   NewServiceBuilder(append([]BuilderOption{WithSerialHeader(srv.SerialHeader)}, srv.BuilderOptions...)...),
		buf:        make([]byte, MaxMessageSize),
	}
	if srv.NotifyConnFunc != nil {
		srv.NotifyConnFunc(w, true)
		defer srv.NotifyConnFunc(w, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		fh, ok := h.(FeedHandler)
		if !ok {
			return
		}
		c := fh.Subscribe(ctx, a)
		if c == nil {
			return
		}
		for {
			select {
			case m, ok := <-c:
				if !ok {
					log.Debug("feed closed")
					return
				}
				if _, err := w.Write(m); err != nil {
					log.Debug("feed write failed", zap.Error(err))
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	idleTimeout := time.Duration(tcpIdleTimeout)
	if srv.IdleTimeout != nil {
		idleTimeout = srv.IdleTimeout()
	}

	buf := make([]byte, MaxMessageSize)
	for {
		if idleTimeout > 0 {
			t.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		n, err := ReadMessage(t, buf, srv.SerialHeader)
		if err != nil {
			if ctx.Err() == nil {
				log.Info("connection closed", zap.Error(err))
			}
			break
		}
		m, err := ParseMessage(buf[:n])
		req := &Request{Message: m, Raw: buf[:n], RemoteAddr: a}
		if srv.InterceptRead != nil {
			srv.InterceptRead(a, req, err)
		}
		if err != nil {
			log.Warn("drop message", zap.Error(err))
			continue
		}
		h.ServeDLT(w, req)
		if w.isHijacked() {
			cancel()
			<-feedDone
			return
		}
	}

	w.Close()
	cancel()
	select {
	case <-feedDone:
	case <-time.After(feedDrainGrace):
		log.Warn("feed goroutine did not stop")
	}
}

func (srv *Server) closeConnects() {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	for c := range srv.activeConn {
		c.Close()
		delete(srv.activeConn, c)
	}
}

func (srv *Server) trackConn(c net.Conn, add bool) {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.activeConn == nil {
		srv.activeConn = make(map[net.Conn]struct{})
	}
	if add {
		srv.activeConn[c] = struct{}{}
	} else {
		delete(srv.activeConn, c)
	}
}

// ActiveConnections returns the number of open connections.
func (srv *Server) ActiveConnections() int {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	return len(srv.activeConn)
}

// Write implements the ResponseWriter.Write method.
func (w *response) Write(m []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(m)
}

func (w *response) write(m []byte) (int, error) {
	if w.tcp == nil {
		return 0, net.ErrClosed
	}
	sent := 0
	for sent < len(m) {
		n, err := w.tcp.Write(m[sent:])
		if err != nil {
			return 0, fmt.Errorf("send: conn write error: %w", err)
		}
		sent += n
	}
	return sent, nil
}

// Reply implements the ResponseWriter.Reply method.
func (w *response) Reply(build func(s *ServiceBuilder, buf []byte) (int, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := build(w.services, w.buf)
	if err != nil {
		return err
	}
	_, err = w.write(w.buf[:n])
	return err
}

// WriteStatus implements the ResponseWriter.WriteStatus method.
func (w *response) WriteStatus(id ServiceID, status ServiceStatus) error {
	return w.Reply(func(s *ServiceBuilder, buf []byte) (int, error) {
		return s.StatusResponse(buf, id, status)
	})
}

// LocalAddr implements the ResponseWriter.LocalAddr method.
func (w *response) LocalAddr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tcp == nil {
		return nil
	}
	return w.tcp.LocalAddr()
}

// RemoteAddr implements the ResponseWriter.RemoteAddr method.
func (w *response) RemoteAddr() net.Addr { return w.remoteAddr }

// Hijack implements the ResponseWriter.Hijack method.
func (w *response) Hijack() {
	w.mu.Lock()
	w.hijacked = true
	w.mu.Unlock()
}

func (w *response) isHijacked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hijacked
}

// Close implements the ResponseWriter.Close method
func (w *response) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tcp != nil {
		e := w.tcp.Close()
		w.tcp = nil
		return e
	}
	return nil
}

func failedHandler(w ResponseWriter, id ServiceID) {
	w.WriteStatus(id, StatusNotSupported)
}

// RunLocalTCPServer starts a server for handler on addr and returns once it
// is listening, with the address it bound.
func RunLocalTCPServer(addr string, handler Handler, logger *zap.Logger) (*Server, string, error) {
	server := &Server{
		Addr:    addr,
		Net:     "tcp",
		Handler: handler,
		Logger:  logger,
	}
	bound, err := RunLocalServer(server)
	return server, bound, err
}

// RunLocalServer starts srv in the background and waits until it listens or
// fails to.
func RunLocalServer(srv *Server) (string, error) {
	started := make(chan struct{})
	notify := srv.NotifyStartedFunc
	srv.NotifyStartedFunc = func() {
		if notify != nil {
			notify()
		}
		close(started)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-started:
	case err := <-errc:
		return "", err
	}
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	return srv.Listener.Addr().String(), nil
}
