// Package lifecycle holds the small set of cross-goroutine, cross
// signal-handler mutable flags described in spec.md §5 and §9: a
// process-wide halt flag, a rate-limited reload flag, and the
// "threadsEnded" counter that the last draining worker uses to trip
// halt. These are deliberately tiny and lock-free (or, for the one
// case spec.md calls out explicitly, guarded by a single mutex) rather
// than routed through the Coordination Channel, because they are
// observed by every worker on every packet and must never block the
// hot path.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Halt is a process-wide flag set by signal handlers, by any
// unrecoverable error, or once every worker has drained on reload. The
// main goroutine and every worker observe it; nothing ever clears it.
type Halt struct {
	flag atomic.Bool
}

// Set requests a halt. Idempotent.
func (h *Halt) Set() {
	h.flag.Store(true)
}

// IsSet reports whether halt has been requested.
func (h *Halt) IsSet() bool {
	return h.flag.Load()
}

// Reload is set by the SIGHUP handler path and observed by each worker
// on each packet. Rate-limiting to once per wall-clock second (spec.md
// §5) happens at the call site that sets it (the supervisor or the
// capture process's signal-observation path), not here; Reload itself
// is a dumb flag.
type Reload struct {
	flag atomic.Bool
}

// Request sets the reload flag.
func (r *Reload) Request() {
	r.flag.Store(true)
}

// IsRequested reports whether a reload has been requested.
func (r *Reload) IsRequested() bool {
	return r.flag.Load()
}

// Clear resets the flag once the drain it triggered has been acted on.
func (r *Reload) Clear() {
	r.flag.Store(false)
}

// EndedCounter is the "glob mutex" from spec.md §5: it protects the
// threadsEnded counter and its interaction with Halt, which is the one
// piece of shared state in this design not cleanly owned by a single
// goroutine or serialized through the Coordination Channel.
type EndedCounter struct {
	mu    sync.Mutex
	ended int
	total int
	halt  *Halt
}

// NewEndedCounter creates a counter that trips halt once `total`
// workers have called WorkerEnded.
func NewEndedCounter(total int, halt *Halt) *EndedCounter {
	return &EndedCounter{total: total, halt: halt}
}

// WorkerEnded records that one more worker has finished draining. Once
// every worker has reported, it sets halt. Safe to call more than once
// per worker only if the caller has already ensured exactly-once
// semantics (spec.md's boundary-crossing loop guarantees this via its
// own `ending` flag).
func (e *EndedCounter) WorkerEnded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended++
	if e.ended >= e.total {
		e.halt.Set()
	}
}

// ReloadLimiter rate-limits reload requests to at most once per
// wall-clock second, using a monotonic clock as spec.md §9 requires
// ("Signal-safe rate-limiting": if the platform's clock read inside a
// handler is not async-signal-safe, the check moves to the main
// goroutine's handler-observation path — which is exactly where this
// type is used, never from inside a signal.Notify delivery itself).
type ReloadLimiter struct {
	mu   sync.Mutex
	last time.Time
}

// Allow reports whether a reload may proceed now, and if so records
// the current time as the last accepted reload.
func (r *ReloadLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.last.IsZero() && now.Sub(r.last) < time.Second {
		return false
	}
	r.last = now
	return true
}
