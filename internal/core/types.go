// Package core holds the domain types shared by the worker, merger and
// coordination channel: packets, capture statistics, and the fixed-size
// records that flow from workers to the merger.
package core

import "time"

// Packet is a single captured packet as handed to a worker callback.
//
// Payload is always a copy: the capture library owns its own buffers and
// a worker must not retain a reference past the callback that delivered
// it (see the capture.Source contract).
type Packet struct {
	Timestamp time.Time
	Payload   []byte
}

// UnixSeconds returns the packet timestamp truncated to whole seconds,
// the resolution intervals are computed on.
func (p Packet) UnixSeconds() uint32 {
	return uint32(p.Timestamp.Unix())
}

// Stats is a snapshot of per-thread capture-library counters, reported
// once per tick and again when a worker reports an IntervalDone record.
type Stats struct {
	Accepted uint64
	Filtered uint64
	Missing  uint64
	Dropped  uint64
}

// IntervalStart returns the largest multiple of intervalLen seconds that
// is <= unixSeconds. This is T0 in spec terms.
func IntervalStart(unixSeconds uint32, intervalLen uint32) uint32 {
	return unixSeconds - (unixSeconds % intervalLen)
}

// RecordTag distinguishes the two kinds of CoordinationRecord.
type RecordTag uint8

const (
	// RecordIntervalDone reports that a worker has finished writing all
	// packets belonging to one interval.
	RecordIntervalDone RecordTag = iota
	// RecordStop is sent exactly once, by the main goroutine, to tell
	// the merger to exit its loop. Intervals still pending when it
	// arrives are not merged.
	RecordStop
)

// NoFD is the srcFd sentinel meaning "this worker opened no interim file
// for this interval" (it saw no packets in the window).
const NoFD = -1

// CoordinationRecord is the fixed-shape message carried over the
// Coordination Channel. Only IntervalDone records carry a payload;
// Stop is a bare tag.
type CoordinationRecord struct {
	Tag       RecordTag
	WorkerID  int
	Timestamp uint32
	SrcFd     int
	Stats     Stats
}

// IntervalDone builds a CoordinationRecord reporting completion of one
// interval by one worker. srcFd is core.NoFD when the worker opened no
// interim file for this interval.
func IntervalDone(workerID int, timestamp uint32, srcFd int, stats Stats) CoordinationRecord {
	return CoordinationRecord{
		Tag:       RecordIntervalDone,
		WorkerID:  workerID,
		Timestamp: timestamp,
		SrcFd:     srcFd,
		Stats:     stats,
	}
}

// StopRecord builds the Stop record sent once during shutdown.
func StopRecord() CoordinationRecord {
	return CoordinationRecord{Tag: RecordStop}
}
