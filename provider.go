package dlt

import (
	"sync/atomic"
	"time"
)

// TimestampProvider supplies the timestamp extra field in 0.1 ms units.
// Implementations must be safe for concurrent use.
type TimestampProvider interface {
	Timestamp() uint32
}

// SessionIDProvider supplies the session ID extra field.
// Implementations must be safe for concurrent use.
type SessionIDProvider interface {
	SessionID() uint32
}

// TimestampFunc adapts an ordinary function to a TimestampProvider.
type TimestampFunc func() uint32

// Timestamp calls f().
func (f TimestampFunc) Timestamp() uint32 { return f() }

// SessionIDFunc adapts an ordinary function to a SessionIDProvider.
type SessionIDFunc func() uint32

// SessionID calls f().
func (f SessionIDFunc) SessionID() uint32 { return f() }

// Providers bundles the dynamic extra field sources. Nil members fall back to
// the builder's static values.
type Providers struct {
	Timestamp TimestampProvider
	SessionID SessionIDProvider
}

var defaultProviders atomic.Pointer[Providers]

// SetDefaultProviders installs the process wide providers used by builders
// that were not given their own. It must be called at most once, before any
// builder runs; a second call panics.
func SetDefaultProviders(p Providers) {
	if !defaultProviders.CompareAndSwap(nil, &p) {
		panic("dlt: providers already initialized")
	}
}

// DefaultProviders returns the process wide providers, if installed.
func DefaultProviders() (Providers, bool) {
	p := defaultProviders.Load()
	if p == nil {
		return Providers{}, false
	}
	return *p, true
}

// UptimeClock is a TimestampProvider counting 0.1 ms ticks since its start.
type UptimeClock struct {
	start time.Time
}

// NewUptimeClock starts a clock at now.
func NewUptimeClock() *UptimeClock {
	return &UptimeClock{start: time.Now()}
}

// Timestamp returns the elapsed time in 0.1 ms units, wrapping at 2^32.
func (c *UptimeClock) Timestamp() uint32 {
	return uint32(time.Since(c.start) / (100 * time.Microsecond))
}
