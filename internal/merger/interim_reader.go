package merger

import (
	"io"

	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/trace"
)

// status mirrors the InterimReader.status enum from spec.md §3.
type status int

const (
	statusNoPacketBuffered status = iota
	statusPacketBuffered
	statusEndOfStream
)

// interimReader is one worker's view into a merge, per spec.md §3's
// InterimReader: a transient reader plus a single buffered packet.
type interimReader struct {
	reader   *trace.Reader // nil if the worker opened no interim file this interval
	buffered core.Packet
	status   status
}

// chooseNextMergePacket implements spec.md §4.3.a: a linear scan that
// fills each reader's buffer on demand and returns the index of the
// lowest-timestamp candidate, with ties broken by lowest worker index
// (which falls out of scanning low-to-high and using a strict "<"
// comparison below). Returns -1 once every reader is at end of
// stream.
//
// This is the permitted O(N·P) implementation; a min-heap keyed on
// timestamp is noted in spec.md §4.3 as an equivalent O(P·log N)
// alternative that does not change any observable behavior, and is not
// needed at the worker counts (<=64) this daemon targets.
func chooseNextMergePacket(readers []*interimReader) int {
	best := -1
	for i, r := range readers {
		if r.status == statusEndOfStream {
			continue
		}
		if r.status == statusNoPacketBuffered {
			pkt, err := r.reader.Next()
			if err == io.EOF {
				r.status = statusEndOfStream
				continue
			}
			if err != nil {
				// A corrupt interim file is treated like end of
				// stream for this worker: the rest of the merge
				// still proceeds with what every other worker wrote.
				r.status = statusEndOfStream
				continue
			}
			r.buffered = pkt
			r.status = statusPacketBuffered
		}

		if best < 0 || r.buffered.Timestamp.Before(readers[best].buffered.Timestamp) {
			best = i
		}
	}
	return best
}
