// Package daemon implements a DLT daemon: it keeps the registry of
// applications and contexts, answers control requests and fans the log
// stream out to every connected client.
package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eshenhu/dlt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the daemon settings that ResetToFactoryDefault restores.
type Config struct {
	ECUID              dlt.ID
	AppID              dlt.ID
	ContextID          dlt.ID
	SoftwareVersion    string
	DefaultLogLevel    int8
	DefaultTraceStatus int8
	Filtering          bool
	Heartbeat          time.Duration
	LogChannels        []string
	QueueDepth         int
	SerialHeader       bool
}

// DefaultConfig returns the settings used when no configuration file is given.
func DefaultConfig() Config {
	return Config{
		ECUID:              dlt.MakeID("ECU1"),
		AppID:              dlt.MakeID("DLTD"),
		ContextID:          dlt.MakeID("INTM"),
		SoftwareVersion:    "DLT Package Version: 1.0.0 STABLE",
		DefaultLogLevel:    int8(dlt.LogInfo),
		DefaultTraceStatus: dlt.TraceStatusOff,
		Heartbeat:          30 * time.Second,
		LogChannels:        []string{"MAIN"},
		QueueDepth:         256,
	}
}

// InjectionFunc handles a CallSWCInjection request for service id and
// returns the status to answer with.
type InjectionFunc func(id uint32, data []byte) dlt.ServiceStatus

type contextEntry struct {
	id    dlt.ID
	level int8
	trace int8
	desc  string
}

type appEntry struct {
	id       dlt.ID
	desc     string
	contexts []*contextEntry
}

type logChannel struct {
	name  dlt.ID
	level int8
	trace int8
}

// Daemon is the state behind a dlt.Server.
type Daemon struct {
	log *zap.Logger
	cfg Config

	mu           sync.RWMutex
	defaultLevel int8
	defaultTrace int8
	filtering    bool
	apps         []*appEntry
	channels     []*logChannel
	persisted    map[[2]dlt.ID]ContextSetting
	injection    InjectionFunc

	// bmu guards builder, which frames everything the daemon publishes
	bmu      sync.Mutex
	builder  *dlt.MessageBuilder
	services *dlt.ServiceBuilder

	instance uuid.UUID
	sessions sync.Map
	hub      *Hub
	store    *Store
	metrics  *Metrics
	mux      *dlt.ServeMux
	clock    func() time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStore enables StoreConfiguration and loads the stored configuration.
func WithStore(s *Store) Option {
	return func(d *Daemon) { d.store = s }
}

// WithMetrics records the daemon activity in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithInjection handles CallSWCInjection requests with f.
func WithInjection(f InjectionFunc) Option {
	return func(d *Daemon) { d.injection = f }
}

// New creates a daemon and registers its own application and context.
func New(logger *zap.Logger, cfg Config, opts ...Option) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.LogChannels) > 0xFF {
		return nil, fmt.Errorf("daemon: too many log channels (%d)", len(cfg.LogChannels))
	}
	d := &Daemon{
		log:          logger.Named("daemon"),
		cfg:          cfg,
		defaultLevel: cfg.DefaultLogLevel,
		defaultTrace: cfg.DefaultTraceStatus,
		filtering:    cfg.Filtering,
		persisted:    make(map[[2]dlt.ID]ContextSetting),
		instance:     uuid.New(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resetChannels()

	d.builder = dlt.NewMessageBuilder(
		dlt.WithECUID(cfg.ECUID),
		dlt.WithAppID(cfg.AppID),
		dlt.WithContextID(cfg.ContextID),
		dlt.WithSerialHeader(cfg.SerialHeader),
		dlt.WithSessionID(d.instance.ID()),
		dlt.WithTimestampProvider(dlt.NewUptimeClock()),
	)
	d.services = dlt.ServiceBuilderFor(d.builder)
	d.hub = NewHub(d.log, cfg.QueueDepth, func() {
		if d.metrics != nil {
			d.metrics.dropped.Inc()
		}
	})

	if d.store != nil {
		snap, ok, err := d.store.Load()
		if err != nil {
			return nil, fmt.Errorf("daemon: load configuration: %w", err)
		}
		if ok {
			d.apply(snap)
			d.log.Info("loaded stored configuration", zap.Int("contexts", len(snap.Contexts)))
		}
	}

	d.mux = dlt.NewServeMux(d.subscribe)
	d.routes()

	d.RegisterApp(cfg.AppID, "DLT daemon")
	d.RegisterContext(cfg.AppID, cfg.ContextID, "daemon internal messages")

	d.log.Info("daemon created",
		zap.Stringer("ecu", cfg.ECUID),
		zap.Stringer("instance", d.instance),
		zap.Int8("default_level", d.defaultLevel))
	return d, nil
}

// Handler returns the handler to serve with.
func (d *Daemon) Handler() dlt.Handler { return d.mux }

// Server returns a server for addr with the daemon's hooks installed.
func (d *Daemon) Server(addr string) *dlt.Server {
	return &dlt.Server{
		Addr:         addr,
		Net:          "tcp",
		Handler:      d.mux,
		SerialHeader: d.cfg.SerialHeader,
		BuilderOptions: []dlt.BuilderOption{
			dlt.WithECUID(d.cfg.ECUID),
			dlt.WithAppID(d.cfg.AppID),
			dlt.WithContextID(d.cfg.ContextID),
			dlt.WithSessionID(d.instance.ID()),
		},
		InterceptRead:  d.interceptRead,
		NotifyConnFunc: d.notifyConn,
		Logger:         d.log,
	}
}

// Run sends the heartbeat until ctx is done.
func (d *Daemon) Run(ctx context.Context) {
	if d.cfg.Heartbeat <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(d.cfg.Heartbeat)
	defer ticker.Stop()

	var reported uint32
	for {
		select {
		case <-ticker.C:
			d.Log(dlt.LogInfo, d.cfg.AppID, d.cfg.ContextID,
				fmt.Sprintf("heartbeat: %d clients", d.hub.Subscribers()))
			if dropped := d.hub.Dropped(); dropped != reported {
				reported = dropped
				d.notifyOverflow(dropped)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the fan out. It does not close the store.
func (d *Daemon) Close() {
	d.hub.Close()
}

// RegisterApp adds app or updates its description.
func (d *Daemon) RegisterApp(app dlt.ID, desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a := d.findApp(app); a != nil {
		a.desc = desc
		return
	}
	d.apps = append(d.apps, &appEntry{id: app, desc: desc})
}

// RegisterContext adds ctx to app, registering app if needed. A new context
// uses the default level and trace status unless a stored setting exists.
func (d *Daemon) RegisterContext(app, ctx dlt.ID, desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.findApp(app)
	if a == nil {
		a = &appEntry{id: app}
		d.apps = append(d.apps, a)
	}
	for _, c := range a.contexts {
		if c.id == ctx {
			c.desc = desc
			return
		}
	}
	c := &contextEntry{id: ctx, level: dlt.LogLevelDefault, trace: dlt.TraceStatusDefault, desc: desc}
	if s, ok := d.persisted[[2]dlt.ID{app, ctx}]; ok {
		c.level, c.trace = s.Level, s.Trace
	}
	a.contexts = append(a.contexts, c)
}

func (d *Daemon) findApp(app dlt.ID) *appEntry {
	for _, a := range d.apps {
		if a.id == app {
			return a
		}
	}
	return nil
}

func (d *Daemon) findContext(app, ctx dlt.ID) *contextEntry {
	a := d.findApp(app)
	if a == nil {
		return nil
	}
	for _, c := range a.contexts {
		if c.id == ctx {
			return c
		}
	}
	return nil
}

// threshold returns the effective level of app/ctx. d.mu must be held.
func (d *Daemon) threshold(app, ctx dlt.ID) int8 {
	if c := d.findContext(app, ctx); c != nil && c.level != dlt.LogLevelDefault {
		return c.level
	}
	return d.defaultLevel
}

// Enabled reports whether a message of level from app/ctx passes the
// filter.
func (d *Daemon) Enabled(level dlt.LogLevel, app, ctx dlt.ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.filtering {
		return true
	}
	return int8(level) <= d.threshold(app, ctx)
}

// Log publishes a verbose text message from app/ctx. It returns false when
// the message was filtered or dropped.
func (d *Daemon) Log(level dlt.LogLevel, app, ctx dlt.ID, text string) bool {
	if !d.Enabled(level, app, ctx) {
		return false
	}

	d.bmu.Lock()
	d.builder.SetAppID(app)
	d.builder.SetContextID(ctx)
	buf := make([]byte, d.builder.HeaderSize()+len(text)+7)
	n, err := d.builder.BuildArgs(buf, level, dlt.Str(text))
	d.builder.SetAppID(d.cfg.AppID)
	d.builder.SetContextID(d.cfg.ContextID)
	d.bmu.Unlock()
	if err != nil {
		d.log.Warn("failed to build log message", zap.Error(err))
		return false
	}
	if d.metrics != nil {
		d.metrics.message(dlt.TypeLog)
	}
	return d.hub.Publish(buf[:n])
}

// Clients returns the number of subscribed connections.
func (d *Daemon) Clients() int { return d.hub.Subscribers() }

// Publish fans a complete message out to every client.
func (d *Daemon) Publish(msg []byte) bool {
	return d.hub.Publish(msg)
}

func (d *Daemon) notifyOverflow(dropped uint32) {
	d.bmu.Lock()
	buf := make([]byte, d.builder.HeaderSize()+9)
	n, err := d.services.BufferOverflowNotification(buf, dlt.StatusOk, dropped)
	d.bmu.Unlock()
	if err != nil {
		d.log.Warn("failed to build overflow notification", zap.Error(err))
		return
	}
	d.log.Warn("messages dropped", zap.Uint32("total", dropped))
	d.hub.Publish(buf[:n])
}

func (d *Daemon) subscribe(ctx context.Context, a net.Addr) <-chan []byte {
	ch, cancel, err := d.hub.Add(a.String())
	if err != nil {
		d.log.Warn("subscribe failed", zap.Error(err))
		return nil
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch
}

func (d *Daemon) interceptRead(a net.Addr, r *dlt.Request, err error) {
	if d.metrics == nil {
		return
	}
	if err != nil {
		d.metrics.parseErrors.Inc()
		return
	}
	if eh, ok := r.Message.ExtendedHeader(); ok {
		d.metrics.message(eh.MessageType())
	}
}

// notifyConn tags each connection with an ID for the logs and announces the
// software version to new clients.
func (d *Daemon) notifyConn(w dlt.ResponseWriter, connected bool) {
	key := w.RemoteAddr().String()
	if !connected {
		if id, ok := d.sessions.LoadAndDelete(key); ok {
			d.log.Info("client disconnected", zap.String("session", id.(uuid.UUID).String()), zap.String("remote", key))
		}
		if d.metrics != nil {
			d.metrics.connections.Dec()
		}
		return
	}

	id := uuid.New()
	d.sessions.Store(key, id)
	d.log.Info("client connected", zap.String("session", id.String()), zap.String("remote", key))
	if d.metrics != nil {
		d.metrics.connections.Inc()
	}
	version := []byte(d.cfg.SoftwareVersion)
	if err := w.Reply(func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, version)
	}); err != nil {
		d.log.Debug("version announcement failed", zap.Error(err))
	}
}

// Inventory returns the contexts selected by app and ctx, wildcards
// included, in registration order.
func (d *Daemon) Inventory(app, ctx dlt.ID) dlt.Inventory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var inv dlt.Inventory
	for _, a := range d.apps {
		if !app.Matches(a.id) {
			continue
		}
		info := dlt.AppInfo{ID: a.id, Description: a.desc}
		for _, c := range a.contexts {
			if !ctx.Matches(c.id) {
				continue
			}
			info.Contexts = append(info.Contexts, dlt.ContextInfo{
				ID:          c.id,
				LogLevel:    c.level,
				TraceStatus: c.trace,
				Description: c.desc,
			})
		}
		if len(info.Contexts) > 0 {
			inv.Apps = append(inv.Apps, info)
		}
	}
	return inv
}

// Snapshot returns the configuration StoreConfiguration persists.
func (d *Daemon) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		DefaultLevel: d.defaultLevel,
		DefaultTrace: d.defaultTrace,
		Filtering:    d.filtering,
	}
	for _, a := range d.apps {
		for _, c := range a.contexts {
			snap.Contexts = append(snap.Contexts, ContextSetting{App: a.id, Ctx: c.id, Level: c.level, Trace: c.trace})
		}
	}
	return snap
}

func (d *Daemon) apply(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultLevel = snap.DefaultLevel
	d.defaultTrace = snap.DefaultTrace
	d.filtering = snap.Filtering
	for _, s := range snap.Contexts {
		d.persisted[[2]dlt.ID{s.App, s.Ctx}] = s
		if c := d.findContext(s.App, s.Ctx); c != nil {
			c.level, c.trace = s.Level, s.Trace
		}
	}
}

func (d *Daemon) resetChannels() {
	d.channels = d.channels[:0]
	for _, name := range d.cfg.LogChannels {
		d.channels = append(d.channels, &logChannel{
			name:  dlt.MakeID(name),
			level: d.cfg.DefaultLogLevel,
			trace: d.cfg.DefaultTraceStatus,
		})
	}
}

func (d *Daemon) findChannel(name dlt.ID) *logChannel {
	for _, c := range d.channels {
		if c.name == name {
			return c
		}
	}
	return nil
}

// factoryReset restores the configured defaults on every context.
func (d *Daemon) factoryReset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultLevel = d.cfg.DefaultLogLevel
	d.defaultTrace = d.cfg.DefaultTraceStatus
	d.filtering = d.cfg.Filtering
	d.persisted = make(map[[2]dlt.ID]ContextSetting)
	for _, a := range d.apps {
		for _, c := range a.contexts {
			c.level, c.trace = dlt.LogLevelDefault, dlt.TraceStatusDefault
		}
	}
	d.resetChannels()
}
