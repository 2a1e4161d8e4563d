// Package ifstats enriches tick-time logging with kernel-reported
// interface drop/overrun counters, per SPEC_FULL.md §5. It is a
// best-effort accessory: a missing interface, a permission error, or
// an unsupported platform all degrade to "no enrichment" rather than
// touching halt or reload.
package ifstats

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// Counters is the subset of link statistics worth surfacing next to
// the per-worker Stats already reported over the coordination channel.
type Counters struct {
	RxPackets uint64
	RxDropped uint64
	RxErrors  uint64
	TxDropped uint64
}

// Reader reads Counters for a single named interface, caching the
// netlink handle lookup failure so repeated calls after a link
// disappears don't re-log the same error every tick.
type Reader struct {
	ifaceName string
	disabled  bool
}

// New returns a Reader for ifaceName. An empty name disables
// enrichment outright (interface counters are optional per spec).
func New(ifaceName string) *Reader {
	return &Reader{ifaceName: ifaceName, disabled: ifaceName == ""}
}

// Read fetches current counters. Once a lookup fails, the reader
// disables itself permanently rather than retrying every tick against
// an interface that is never coming back.
func (r *Reader) Read() (Counters, error) {
	if r.disabled {
		return Counters{}, fmt.Errorf("ifstats: disabled")
	}

	link, err := netlink.LinkByName(r.ifaceName)
	if err != nil {
		r.disabled = true
		return Counters{}, fmt.Errorf("ifstats: lookup %s: %w", r.ifaceName, err)
	}

	stats := link.Attrs().Statistics
	if stats == nil {
		return Counters{}, fmt.Errorf("ifstats: no statistics for %s", r.ifaceName)
	}

	return Counters{
		RxPackets: stats.RxPackets,
		RxDropped: stats.RxDropped,
		RxErrors:  stats.RxErrors,
		TxDropped: stats.TxDropped,
	}, nil
}
