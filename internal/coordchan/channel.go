// Package coordchan is the Coordination Channel from spec.md §4.2: a
// multi-producer (one per worker, plus the main goroutine), single
// consumer (the merger) queue of fixed-size CoordinationRecord values.
// Transport is opaque per spec; this implementation is a buffered Go
// channel, which already gives in-order delivery per producer and
// blocking receive for free.
package coordchan

import "github.com/wandio-tools/wdcap/internal/core"

// Channel is a handle onto the shared Coordination Channel. Producer
// handles (one per worker, and one held by the main goroutine) all
// share the same underlying Go channel; the merger holds the sole
// Consumer handle.
type Channel struct {
	ch chan core.CoordinationRecord
}

// New creates a Channel with the given buffer capacity (in records).
// Capacity absorbs transient bursts; the merger is expected to keep up
// in steady state, so no back-pressure handling beyond blocking send
// is required (spec.md §4.2).
func New(capacity int) *Channel {
	return &Channel{ch: make(chan core.CoordinationRecord, capacity)}
}

// Producer is the send-only view of the channel held by each worker
// and by the main goroutine.
type Producer struct {
	ch chan<- core.CoordinationRecord
}

// Producer returns a new send handle onto the channel.
func (c *Channel) Producer() Producer {
	return Producer{ch: c.ch}
}

// Send enqueues rec. It can block if the merger has fallen behind; per
// spec.md §5 this is the one suspension point tolerated on a worker's
// otherwise-nonblocking path, and a design failure if it is ever
// observed blocking in practice.
func (p Producer) Send(rec core.CoordinationRecord) {
	p.ch <- rec
}

// Consumer is the receive-only view of the channel held by the
// merger, the sole consumer.
type Consumer struct {
	ch <-chan core.CoordinationRecord
}

// Consumer returns the receive handle onto the channel.
func (c *Channel) Consumer() Consumer {
	return Consumer{ch: c.ch}
}

// Receive blocks until a record is available.
func (c Consumer) Receive() core.CoordinationRecord {
	return <-c.ch
}

// TryReceive returns immediately: a record and true if one was already
// queued, or the zero value and false otherwise. Used by tests that
// need to assert the absence of a record.
func (c Consumer) TryReceive() (core.CoordinationRecord, bool) {
	select {
	case rec := <-c.ch:
		return rec, true
	default:
		return core.CoordinationRecord{}, false
	}
}
