// Package session implements the session registry: the mapping from a
// session id to its association context, and the idle-timeout sweep that
// tears down associations which have gone quiet.
package session

import (
	"sync"
	"time"
)

// Aborter is implemented by whatever owns the transport for a session
// (typically *pdu.Layer). Abort initiates an A-ABORT and closes the
// underlying connection.
type Aborter interface {
	Abort(source, reason byte) error
}

// Context is the per-association state the registry tracks: enough to
// find and tear down a session, and to report its last activity for the
// idle sweep. Callers touch LastActivity via Touch on every PDU handled.
type Context struct {
	ID          string
	AETitle     string
	RemoteAddr  string
	Transport   Aborter
	Established time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

// NewContext creates a session context with LastActivity set to now.
func NewContext(id, aeTitle, remoteAddr string, transport Aborter) *Context {
	now := time.Now()
	return &Context{
		ID:           id,
		AETitle:      aeTitle,
		RemoteAddr:   remoteAddr,
		Transport:    transport,
		Established:  now,
		lastActivity: now,
	}
}

// Touch records activity on the session, resetting its idle clock.
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleSince returns how long the session has gone without activity.
func (c *Context) IdleSince() time.Duration {
	c.mu.Lock()
	last := c.lastActivity
	c.mu.Unlock()
	return time.Since(last)
}

const (
	abortSourceServiceProvider = 0x02
	abortReasonNotSpecified    = 0x00
)

// Registry owns the session_id -> session_context mapping. Writers
// (Register/Unregister) serialize against each other; Lookup/Count may
// run concurrently with writers and with each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Context

	sweepTicker *time.Ticker
	sweepDone   chan struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Context)}
}

// Register adds a session to the registry.
func (r *Registry) Register(ctx *Context) {
	r.mu.Lock()
	r.sessions[ctx.ID] = ctx
	r.mu.Unlock()
}

// Unregister removes a session from the registry. It does not close the
// session's transport; callers that want teardown should do so before or
// after calling Unregister as appropriate.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Lookup returns the session context for id, or ok=false if not present.
func (r *Registry) Lookup(id string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.sessions[id]
	return ctx, ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepIdle aborts and unregisters every session whose last activity is
// older than maxIdle, returning the list of aborted session ids. Abort
// errors are ignored here (the transport is going away either way); a
// caller wanting to observe them should call Abort itself and call
// Unregister directly instead of using the sweep.
func (r *Registry) SweepIdle(maxIdle time.Duration) []string {
	r.mu.Lock()
	var stale []*Context
	for id, ctx := range r.sessions {
		if ctx.IdleSince() >= maxIdle {
			stale = append(stale, ctx)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, ctx := range stale {
		if ctx.Transport != nil {
			ctx.Transport.Abort(abortSourceServiceProvider, abortReasonNotSpecified)
		}
		ids = append(ids, ctx.ID)
	}
	return ids
}

// StartSweep launches a background goroutine that calls SweepIdle every
// interval until Stop is called. Safe to call at most once per Registry.
func (r *Registry) StartSweep(interval, maxIdle time.Duration) {
	r.sweepTicker = time.NewTicker(interval)
	r.sweepDone = make(chan struct{})

	go func() {
		for {
			select {
			case <-r.sweepTicker.C:
				r.SweepIdle(maxIdle)
			case <-r.sweepDone:
				return
			}
		}
	}()
}

// Stop halts the background sweep started by StartSweep. No-op if the
// sweep was never started.
func (r *Registry) Stop() {
	if r.sweepTicker == nil {
		return
	}
	r.sweepTicker.Stop()
	close(r.sweepDone)
}
