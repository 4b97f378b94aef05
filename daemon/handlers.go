package daemon

import (
	"github.com/eshenhu/dlt"
	"go.uber.org/zap"
)

func (d *Daemon) routes() {
	d.mux.HandleFunc(dlt.ServiceSetLogLevel, d.handleSetLogLevel)
	d.mux.HandleFunc(dlt.ServiceSetTraceStatus, d.handleSetTraceStatus)
	d.mux.HandleFunc(dlt.ServiceGetLogInfo, d.handleGetLogInfo)
	d.mux.HandleFunc(dlt.ServiceGetDefaultLogLevel, d.handleGetDefaultLogLevel)
	d.mux.HandleFunc(dlt.ServiceStoreConfiguration, d.handleStoreConfiguration)
	d.mux.HandleFunc(dlt.ServiceResetToFactoryDefault, d.handleResetToFactoryDefault)
	d.mux.HandleFunc(dlt.ServiceSetMessageFiltering, d.handleSetMessageFiltering)
	d.mux.HandleFunc(dlt.ServiceSetDefaultLogLevel, d.handleSetDefaultLogLevel)
	d.mux.HandleFunc(dlt.ServiceSetDefaultTraceStatus, d.handleSetDefaultTraceStatus)
	d.mux.HandleFunc(dlt.ServiceGetSoftwareVersion, d.handleGetSoftwareVersion)
	d.mux.HandleFunc(dlt.ServiceGetDefaultTraceStatus, d.handleGetDefaultTraceStatus)
	d.mux.HandleFunc(dlt.ServiceGetLogChannelNames, d.handleGetLogChannelNames)
	d.mux.HandleFunc(dlt.ServiceGetTraceStatus, d.handleGetTraceStatus)
	d.mux.HandleFunc(dlt.ServiceSetLogChannelAssignment, d.handleSetLogChannelAssignment)
	d.mux.HandleFunc(dlt.ServiceSetLogChannelThreshold, d.handleSetLogChannelThreshold)
	d.mux.HandleFunc(dlt.ServiceGetLogChannelThreshold, d.handleGetLogChannelThreshold)
	d.mux.HandleFunc(dlt.ServiceBufferOverflowNotification, d.handleBufferOverflow)
	d.mux.HandleFunc(dlt.ServiceSyncTimeStamp, d.handleSyncTimeStamp)
	d.mux.HandleFunc(dlt.ServiceCallSWCInjection, d.handleInjection)
	d.mux.HandleLog(dlt.HandlerFunc(d.handleLog))
}

// answer sends build, or a bare status when build is nil, and counts it.
func (d *Daemon) answer(w dlt.ResponseWriter, id dlt.ServiceID, status dlt.ServiceStatus, build func(s *dlt.ServiceBuilder, buf []byte) (int, error)) {
	var err error
	if build == nil {
		err = w.WriteStatus(id, status)
	} else {
		err = w.Reply(build)
	}
	if err != nil {
		d.log.Debug("failed to answer", zap.Stringer("service", id), zap.Error(err))
	}
	if d.metrics != nil {
		d.metrics.request(id, status)
	}
}

func validLevel(v int8) bool { return v >= dlt.LogLevelDefault && v <= int8(dlt.LogVerbose) }

func validTrace(v int8) bool { return v >= dlt.TraceStatusDefault && v <= dlt.TraceStatusOn }

// handleLog forwards log traffic received from a client to every
// subscriber, subject to the filter.
func (d *Daemon) handleLog(w dlt.ResponseWriter, r *dlt.Request) {
	if eh, ok := r.Message.ExtendedHeader(); ok {
		if lvl, isLog := eh.LogLevel(); isLog && !d.Enabled(lvl, eh.AppID, eh.CtxID) {
			return
		}
	}
	msg := make([]byte, len(r.Raw))
	copy(msg, r.Raw)
	d.hub.Publish(msg)
}

func (d *Daemon) handleSetLogLevel(w dlt.ResponseWriter, r *dlt.Request) {
	app, ctx, level, err := r.Service().SetLogLevelRequest()
	if err != nil || !validLevel(level) {
		d.answer(w, dlt.ServiceSetLogLevel, dlt.StatusError, nil)
		return
	}

	d.mu.Lock()
	matched := 0
	for _, a := range d.apps {
		if !app.Matches(a.id) {
			continue
		}
		for _, c := range a.contexts {
			if ctx.Matches(c.id) {
				c.level = level
				matched++
			}
		}
	}
	d.mu.Unlock()

	status := dlt.StatusOk
	if matched == 0 {
		status = dlt.StatusError
	}
	d.log.Debug("set log level", zap.Stringer("app", app), zap.Stringer("ctx", ctx), zap.Int8("level", level), zap.Int("matched", matched))
	d.answer(w, dlt.ServiceSetLogLevel, status, nil)
}

func (d *Daemon) handleSetTraceStatus(w dlt.ResponseWriter, r *dlt.Request) {
	app, ctx, trace, err := r.Service().SetTraceStatusRequest()
	if err != nil || !validTrace(trace) {
		d.answer(w, dlt.ServiceSetTraceStatus, dlt.StatusError, nil)
		return
	}

	d.mu.Lock()
	matched := 0
	for _, a := range d.apps {
		if !app.Matches(a.id) {
			continue
		}
		for _, c := range a.contexts {
			if ctx.Matches(c.id) {
				c.trace = trace
				matched++
			}
		}
	}
	d.mu.Unlock()

	status := dlt.StatusOk
	if matched == 0 {
		status = dlt.StatusError
	}
	d.answer(w, dlt.ServiceSetTraceStatus, status, nil)
}

func (d *Daemon) handleGetLogInfo(w dlt.ResponseWriter, r *dlt.Request) {
	options, app, ctx, err := r.Service().GetLogInfoRequest()
	if err != nil || (options != dlt.LogInfoWithLevels && options != dlt.LogInfoWithDescriptions) {
		d.answer(w, dlt.ServiceGetLogInfo, dlt.StatusError, nil)
		return
	}

	inv := d.Inventory(app, ctx)
	status := dlt.ServiceStatus(options)
	switch {
	case len(inv.Apps) == 0:
		status = dlt.StatusNoMatchingContexts
	case inv.Validate() != nil || inv.EncodedSize(options == dlt.LogInfoWithDescriptions) > dlt.MaxMessageSize-64:
		status = dlt.StatusOverflow
	}
	if status != dlt.ServiceStatus(options) {
		d.answer(w, dlt.ServiceGetLogInfo, status, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
			return s.GetLogInfoResponse(buf, status, nil)
		})
		return
	}
	d.answer(w, dlt.ServiceGetLogInfo, status, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetLogInfoInventoryResponse(buf, status, &inv)
	})
}

func (d *Daemon) handleGetDefaultLogLevel(w dlt.ResponseWriter, r *dlt.Request) {
	d.mu.RLock()
	level := d.defaultLevel
	d.mu.RUnlock()
	d.answer(w, dlt.ServiceGetDefaultLogLevel, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetDefaultLogLevelResponse(buf, dlt.StatusOk, level)
	})
}

func (d *Daemon) handleStoreConfiguration(w dlt.ResponseWriter, r *dlt.Request) {
	if d.store == nil {
		d.answer(w, dlt.ServiceStoreConfiguration, dlt.StatusNotSupported, nil)
		return
	}
	if err := d.store.Save(d.Snapshot()); err != nil {
		d.log.Error("failed to store configuration", zap.Error(err))
		d.answer(w, dlt.ServiceStoreConfiguration, dlt.StatusError, nil)
		return
	}
	d.answer(w, dlt.ServiceStoreConfiguration, dlt.StatusOk, nil)
}

func (d *Daemon) handleResetToFactoryDefault(w dlt.ResponseWriter, r *dlt.Request) {
	if d.store != nil {
		if err := d.store.Clear(); err != nil {
			d.log.Error("failed to clear configuration", zap.Error(err))
			d.answer(w, dlt.ServiceResetToFactoryDefault, dlt.StatusError, nil)
			return
		}
	}
	d.factoryReset()
	d.log.Info("reset to factory default")
	d.answer(w, dlt.ServiceResetToFactoryDefault, dlt.StatusOk, nil)
}

func (d *Daemon) handleSetMessageFiltering(w dlt.ResponseWriter, r *dlt.Request) {
	on, err := r.Service().SetMessageFilteringRequest()
	if err != nil {
		d.answer(w, dlt.ServiceSetMessageFiltering, dlt.StatusError, nil)
		return
	}
	d.mu.Lock()
	d.filtering = on
	d.mu.Unlock()
	d.answer(w, dlt.ServiceSetMessageFiltering, dlt.StatusOk, nil)
}

func (d *Daemon) handleSetDefaultLogLevel(w dlt.ResponseWriter, r *dlt.Request) {
	level, err := r.Service().SetDefaultLogLevelRequest()
	if err != nil || level < dlt.LogLevelOff || !validLevel(level) {
		d.answer(w, dlt.ServiceSetDefaultLogLevel, dlt.StatusError, nil)
		return
	}
	d.mu.Lock()
	d.defaultLevel = level
	d.mu.Unlock()
	d.answer(w, dlt.ServiceSetDefaultLogLevel, dlt.StatusOk, nil)
}

func (d *Daemon) handleSetDefaultTraceStatus(w dlt.ResponseWriter, r *dlt.Request) {
	trace, err := r.Service().SetDefaultTraceStatusRequest()
	if err != nil || trace < dlt.TraceStatusOff || !validTrace(trace) {
		d.answer(w, dlt.ServiceSetDefaultTraceStatus, dlt.StatusError, nil)
		return
	}
	d.mu.Lock()
	d.defaultTrace = trace
	d.mu.Unlock()
	d.answer(w, dlt.ServiceSetDefaultTraceStatus, dlt.StatusOk, nil)
}

func (d *Daemon) handleGetSoftwareVersion(w dlt.ResponseWriter, r *dlt.Request) {
	version := []byte(d.cfg.SoftwareVersion)
	d.answer(w, dlt.ServiceGetSoftwareVersion, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetSoftwareVersionResponse(buf, dlt.StatusOk, version)
	})
}

func (d *Daemon) handleGetDefaultTraceStatus(w dlt.ResponseWriter, r *dlt.Request) {
	d.mu.RLock()
	trace := d.defaultTrace
	d.mu.RUnlock()
	d.answer(w, dlt.ServiceGetDefaultTraceStatus, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetDefaultTraceStatusResponse(buf, dlt.StatusOk, trace)
	})
}

func (d *Daemon) handleGetLogChannelNames(w dlt.ResponseWriter, r *dlt.Request) {
	d.mu.RLock()
	names := make([]dlt.ID, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.name)
	}
	d.mu.RUnlock()
	d.answer(w, dlt.ServiceGetLogChannelNames, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetLogChannelNamesResponse(buf, dlt.StatusOk, names)
	})
}

func (d *Daemon) handleGetTraceStatus(w dlt.ResponseWriter, r *dlt.Request) {
	app, ctx, err := r.Service().GetTraceStatusRequest()
	if err != nil {
		d.answer(w, dlt.ServiceGetTraceStatus, dlt.StatusError, nil)
		return
	}
	d.mu.RLock()
	c := d.findContext(app, ctx)
	trace := d.defaultTrace
	if c != nil && c.trace != dlt.TraceStatusDefault {
		trace = c.trace
	}
	d.mu.RUnlock()
	if c == nil {
		d.answer(w, dlt.ServiceGetTraceStatus, dlt.StatusError, nil)
		return
	}
	d.answer(w, dlt.ServiceGetTraceStatus, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetTraceStatusResponse(buf, dlt.StatusOk, trace)
	})
}

func (d *Daemon) handleSetLogChannelAssignment(w dlt.ResponseWriter, r *dlt.Request) {
	app, ctx, channel, add, err := r.Service().SetLogChannelAssignmentRequest()
	if err != nil {
		d.answer(w, dlt.ServiceSetLogChannelAssignment, dlt.StatusError, nil)
		return
	}
	d.mu.RLock()
	ok := d.findChannel(channel) != nil && d.findContext(app, ctx) != nil
	d.mu.RUnlock()
	if !ok {
		d.answer(w, dlt.ServiceSetLogChannelAssignment, dlt.StatusError, nil)
		return
	}
	d.log.Debug("log channel assignment", zap.Stringer("channel", channel), zap.Bool("add", add))
	d.answer(w, dlt.ServiceSetLogChannelAssignment, dlt.StatusOk, nil)
}

func (d *Daemon) handleSetLogChannelThreshold(w dlt.ResponseWriter, r *dlt.Request) {
	channel, level, trace, err := r.Service().SetLogChannelThresholdRequest()
	if err != nil || !validLevel(level) || !validTrace(trace) {
		d.answer(w, dlt.ServiceSetLogChannelThreshold, dlt.StatusError, nil)
		return
	}
	d.mu.Lock()
	c := d.findChannel(channel)
	if c != nil {
		c.level, c.trace = level, trace
	}
	d.mu.Unlock()
	if c == nil {
		d.answer(w, dlt.ServiceSetLogChannelThreshold, dlt.StatusError, nil)
		return
	}
	d.answer(w, dlt.ServiceSetLogChannelThreshold, dlt.StatusOk, nil)
}

func (d *Daemon) handleGetLogChannelThreshold(w dlt.ResponseWriter, r *dlt.Request) {
	channel, err := r.Service().GetLogChannelThresholdRequest()
	if err != nil {
		d.answer(w, dlt.ServiceGetLogChannelThreshold, dlt.StatusError, nil)
		return
	}
	d.mu.RLock()
	c := d.findChannel(channel)
	var level, trace int8
	if c != nil {
		level, trace = c.level, c.trace
	}
	d.mu.RUnlock()
	if c == nil {
		d.answer(w, dlt.ServiceGetLogChannelThreshold, dlt.StatusError, nil)
		return
	}
	d.answer(w, dlt.ServiceGetLogChannelThreshold, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.GetLogChannelThresholdResponse(buf, dlt.StatusOk, level, trace)
	})
}

func (d *Daemon) handleBufferOverflow(w dlt.ResponseWriter, r *dlt.Request) {
	dropped := d.hub.Dropped()
	d.answer(w, dlt.ServiceBufferOverflowNotification, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.BufferOverflowNotification(buf, dlt.StatusOk, dropped)
	})
}

func (d *Daemon) handleSyncTimeStamp(w dlt.ResponseWriter, r *dlt.Request) {
	now := d.clock()
	d.answer(w, dlt.ServiceSyncTimeStamp, dlt.StatusOk, func(s *dlt.ServiceBuilder, buf []byte) (int, error) {
		return s.SyncTimeStampResponse(buf, dlt.StatusOk, uint32(now.Unix()), uint32(now.Nanosecond()))
	})
}

func (d *Daemon) handleInjection(w dlt.ResponseWriter, r *dlt.Request) {
	sp := r.Service()
	raw, _ := sp.RawServiceID()
	id := dlt.ServiceID(raw)
	if d.injection == nil {
		d.answer(w, id, dlt.StatusNotSupported, nil)
		return
	}
	data, err := sp.CallSWCInjectionRequest()
	if err != nil {
		d.answer(w, id, dlt.StatusError, nil)
		return
	}
	d.answer(w, id, d.injection(raw, data), nil)
}
