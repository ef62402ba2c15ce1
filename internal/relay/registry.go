package relay

import (
	"log/slog"
	"sync"
	"time"
)

// binding maps one call to the connection its audio flows over.
type binding struct {
	conn *Connection

	// generation invalidates a scheduled unbind when the call is bound
	// again before the grace period elapses.
	generation uint64

	// lastSample is the final PCM value of the previous outbound chunk,
	// used to crossfade the next one.
	lastSample int16

	unbindTimer *time.Timer
}

// Registry tracks which connection each live call is bound to. Bindings
// outlive the call's stop event by a grace period so late playback audio
// still finds its way out.
type Registry struct {
	gracePeriod time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	nextGen  uint64
}

// NewRegistry creates a call-to-connection registry.
func NewRegistry(gracePeriod time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gracePeriod: gracePeriod,
		logger:      logger,
		bindings:    make(map[string]*binding),
	}
}

// Bind maps a call to a connection and zeroes its crossfade state.
// Rebinding a call whose unbind is pending cancels the pending removal.
func (r *Registry) Bind(ucid string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextGen++
	if b, ok := r.bindings[ucid]; ok {
		if b.unbindTimer != nil {
			b.unbindTimer.Stop()
			b.unbindTimer = nil
		}
		b.conn = conn
		b.generation = r.nextGen
		b.lastSample = 0
		r.logger.Debug("call rebound within grace period", slog.String("ucid", ucid))
		return
	}

	r.bindings[ucid] = &binding{conn: conn, generation: r.nextGen}
}

// ScheduleUnbind arms the grace-period removal of a binding. If the call
// is bound again before the timer fires, the removal is abandoned.
func (r *Registry) ScheduleUnbind(ucid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[ucid]
	if !ok {
		return
	}

	gen := b.generation
	if b.unbindTimer != nil {
		b.unbindTimer.Stop()
	}
	b.unbindTimer = time.AfterFunc(r.gracePeriod, func() {
		r.removeIfGeneration(ucid, gen)
	})
}

// removeIfGeneration deletes the binding only if it was not rebound since
// the unbind was scheduled.
func (r *Registry) removeIfGeneration(ucid string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[ucid]
	if !ok || b.generation != gen {
		return
	}
	delete(r.bindings, ucid)
	r.logger.Debug("call unbound after grace period", slog.String("ucid", ucid))
}

// Unbind removes a binding immediately. Used when the underlying
// connection is gone.
func (r *Registry) Unbind(ucid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[ucid]; ok {
		if b.unbindTimer != nil {
			b.unbindTimer.Stop()
		}
		delete(r.bindings, ucid)
	}
}

// Lookup returns the connection a call is bound to, or nil.
func (r *Registry) Lookup(ucid string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[ucid]; ok {
		return b.conn
	}
	return nil
}

// LastSample returns the crossfade state for a call.
func (r *Registry) LastSample(ucid string) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[ucid]; ok {
		return b.lastSample
	}
	return 0
}

// SetLastSample records the final PCM value of an outbound chunk.
func (r *Registry) SetLastSample(ucid string, sample int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[ucid]; ok {
		b.lastSample = sample
	}
}

// DropConnection removes every binding attached to a connection. Returns
// the ucids that were bound to it.
func (r *Registry) DropConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []string
	for ucid, b := range r.bindings {
		if b.conn != nil && b.conn.ID == connID {
			if b.unbindTimer != nil {
				b.unbindTimer.Stop()
			}
			delete(r.bindings, ucid)
			dropped = append(dropped, ucid)
		}
	}
	return dropped
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// UCIDs returns the bound call ids.
func (r *Registry) UCIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.bindings))
	for ucid := range r.bindings {
		out = append(out, ucid)
	}
	return out
}
