package capture

import (
	"context"
	"sort"
	"sync"

	"github.com/wandio-tools/wdcap/internal/core"
)

// Synthetic is an in-memory capture.Source used by tests and by
// wdcap's own scenario tests (spec.md §8). Each worker is handed a
// fixed, pre-ordered slice of packets to replay; Run delivers them in
// order and then blocks until stopped, mirroring a real capture
// library that keeps a thread alive even after a quiet period.
type Synthetic struct {
	perWorker [][]core.Packet

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	firstErr error
}

// NewSynthetic creates a Synthetic source with one packet slice per
// worker. len(perWorker) is the worker count.
func NewSynthetic(perWorker [][]core.Packet) *Synthetic {
	return &Synthetic{
		perWorker: perWorker,
		stopCh:    make(chan struct{}),
	}
}

// NumWorkers implements capture.Source.
func (s *Synthetic) NumWorkers() int {
	return len(s.perWorker)
}

// Run implements capture.Source.
func (s *Synthetic) Run(ctx context.Context, onPacket OnPacket, onTick OnTick) error {
	var wg sync.WaitGroup
	for id, packets := range s.perWorker {
		wg.Add(1)
		go func(workerID int, packets []core.Packet) {
			defer wg.Done()
			for _, p := range packets {
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				default:
				}
				onPacket(workerID, p)
			}
			if onTick != nil {
				onTick(workerID, core.Stats{Accepted: uint64(len(packets))})
			}
			select {
			case <-ctx.Done():
			case <-s.stopCh:
			}
		}(id, packets)
	}
	wg.Wait()
	return s.firstErr
}

// FirstPacketTime implements capture.Source: the minimum timestamp
// across every worker's first packet.
func (s *Synthetic) FirstPacketTime(ctx context.Context) (uint32, bool) {
	var firsts []uint32
	for _, packets := range s.perWorker {
		if len(packets) > 0 {
			firsts = append(firsts, packets[0].UnixSeconds())
		}
	}
	if len(firsts) == 0 {
		return 0, false
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })
	return firsts[0], true
}

// Stop implements capture.Source.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}
