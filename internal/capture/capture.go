// Package capture defines the contract wdcap expects from the
// packet-source library. spec.md §1 treats the packet-source
// abstraction as an external collaborator (a parallel capture library
// providing per-thread callbacks, statistics, tick events, and
// graceful stop); this package is that contract, not an implementation
// of a real capture library.
package capture

import (
	"context"

	"github.com/wandio-tools/wdcap/internal/core"
)

// OnPacket is invoked once per received packet, on the calling
// goroutine dedicated to workerID. Implementations must not retain pkt
// or its Payload past the call.
type OnPacket func(workerID int, pkt core.Packet)

// OnTick is invoked at roughly 1Hz per worker with cumulative
// capture-library counters for that worker (spec.md §4.1, tick
// callback).
type OnTick func(workerID int, stats core.Stats)

// Source is the contract a real capture library (e.g. a libtrace-style
// parallel packet source) must satisfy. Run blocks until ctx is
// canceled or Stop is called; it fans packets out to onPacket and
// stats out to onTick from NumWorkers() goroutines, one per worker ID
// in [0, NumWorkers()).
type Source interface {
	// NumWorkers returns the number of parallel worker callbacks this
	// source will drive.
	NumWorkers() int

	// Run starts pumping packets. It returns when the source stops,
	// either because ctx was canceled, Stop was called, or an
	// unrecoverable source error occurred.
	Run(ctx context.Context, onPacket OnPacket, onTick OnTick) error

	// FirstPacketTime blocks until the first packet across all workers
	// has been observed (or the source stops first) and returns its
	// timestamp. Every worker's bootstrap computation in spec.md §4.1
	// depends on this shared value so that all workers agree on the
	// same starting interval T0.
	FirstPacketTime(ctx context.Context) (unixSeconds uint32, ok bool)

	// Stop requests a graceful stop; Run returns once torn down.
	Stop()
}
