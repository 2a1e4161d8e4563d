// Package merger implements the cold-path side of wdcap: the single
// goroutine that tracks outstanding intervals, closes handed-off file
// descriptors, and performs the k-way chronological merge described in
// spec.md §4.3.
package merger

import (
	"container/list"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/coordchan"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/template"
	"github.com/wandio-tools/wdcap/internal/trace"
)

// maxBadMessages is the hard protective limit from spec.md §4.3/§7:
// once the count of unrecognised coordination-record tags exceeds it,
// the merger exits the process rather than keep spinning on a corrupt
// stream.
const maxBadMessages = 100

// pendingInterval mirrors the PendingInterval data model in spec.md
// §3. next/prev linkage comes from the container/list element that
// wraps it; a Go ordered map keyed by timestamp would be an equally
// faithful rendering (spec.md §9 explicitly permits either). The list
// gives "oldest first" order and O(1) removal; Merger.byTS maps each
// timestamp to its list element for O(1) lookup.
type pendingInterval struct {
	timestamp        uint32
	workersReported   int
	reportedWorkerIDs []int
	reportedStats     []core.Stats
}

// Merger is the single consumer of the Coordination Channel.
type Merger struct {
	numWorkers int
	renderer   *template.Renderer
	intervalLen uint32
	statsEnabled bool
	log        *zap.SugaredLogger

	pending   *list.List // of *pendingInterval, oldest first
	byTS      map[uint32]*list.Element
	badMsgs   int
}

// New creates a Merger for a daemon with numWorkers worker goroutines.
func New(numWorkers int, intervalLen uint32, renderer *template.Renderer, statsEnabled bool, log *zap.SugaredLogger) *Merger {
	return &Merger{
		numWorkers:   numWorkers,
		renderer:     renderer,
		intervalLen:  intervalLen,
		statsEnabled: statsEnabled,
		log:          log.With("component", "merger"),
		pending:      list.New(),
		byTS:         make(map[uint32]*list.Element),
	}
}

// Run consumes records from c until a Stop record arrives, which is
// its only exit. Consumer.Receive has no failure result, so there is
// no receive-error path out of the loop.
func (m *Merger) Run(c coordchan.Consumer) {
	for {
		rec := c.Receive()
		switch rec.Tag {
		case core.RecordStop:
			m.log.Info("received stop record, shutting down")
			return
		case core.RecordIntervalDone:
			m.handleIntervalDone(rec)
		default:
			m.badMsgs++
			m.log.Warnw("unknown coordination record tag", "tag", rec.Tag, "bad_message_count", m.badMsgs)
			if m.badMsgs > maxBadMessages {
				m.log.Errorw("too many bad coordination records, exiting", "count", m.badMsgs)
				os.Exit(1)
			}
		}
	}
}

// handleIntervalDone implements spec.md §4.3's IntervalDone branch.
func (m *Merger) handleIntervalDone(rec core.CoordinationRecord) {
	if rec.SrcFd >= 0 {
		if err := syscall.Close(rec.SrcFd); err != nil {
			m.log.Warnw("failed to close handed-off descriptor", "fd", rec.SrcFd, "error", err)
		}
	}

	el, ok := m.byTS[rec.Timestamp]
	var p *pendingInterval
	if ok {
		p = el.Value.(*pendingInterval)
	} else {
		p = &pendingInterval{timestamp: rec.Timestamp}
		el = m.pending.PushBack(p)
		m.byTS[rec.Timestamp] = el
	}

	p.workersReported++
	p.reportedWorkerIDs = append(p.reportedWorkerIDs, rec.WorkerID)
	p.reportedStats = append(p.reportedStats, rec.Stats)

	if p.workersReported == m.numWorkers {
		if m.pending.Front() != el {
			m.log.Warnw("interval completing out of order", "timestamp", rec.Timestamp)
		}
		m.pending.Remove(el)
		delete(m.byTS, rec.Timestamp)
		m.mergeInterval(p)
	}
}

// mergeInterval performs the k-way chronological merge for one
// complete interval (spec.md §4.3, steps 1-6).
func (m *Merger) mergeInterval(p *pendingInterval) {
	start := time.Now()
	log := m.log.With("interval", p.timestamp)
	log.Info("merging interval")

	readers := make([]*interimReader, m.numWorkers)
	interimPaths := make([]string, 0, m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		path, err := m.renderer.Render(p.timestamp, i, template.MarkerNone)
		if err != nil {
			log.Errorw("failed to render interim path, abandoning merge", "worker", i, "error", err)
			closeReaders(readers)
			return
		}

		r, err := trace.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warnw("failed to open interim file", "worker", i, "path", path, "error", err)
			}
			readers[i] = &interimReader{status: statusEndOfStream}
			continue
		}
		readers[i] = &interimReader{reader: r, status: statusNoPacketBuffered}
		interimPaths = append(interimPaths, path)
	}

	outPath, err := m.renderer.Render(p.timestamp, -1, template.MarkerNone)
	if err != nil {
		log.Errorw("failed to render output path, abandoning merge", "error", err)
		closeReaders(readers)
		return
	}

	out, err := trace.Create(outPath)
	if err != nil {
		log.Errorw("failed to create output file, abandoning merge", "path", outPath, "error", err)
		closeReaders(readers)
		return
	}

	packetCount := 0
	for {
		idx := chooseNextMergePacket(readers)
		if idx < 0 {
			break
		}
		if err := out.WriteAsync(readers[idx].buffered); err != nil {
			log.Errorw("failed to write merged packet, abandoning merge", "error", err)
			out.Close()
			closeReaders(readers)
			return
		}
		packetCount++
		readers[idx].status = statusNoPacketBuffered
	}

	if err := out.Close(); err != nil {
		log.Errorw("failed to finalize output file, abandoning merge", "error", err)
		closeReaders(readers)
		return
	}

	closeReaders(readers)
	for _, path := range interimPaths {
		if err := os.Remove(path); err != nil {
			log.Warnw("failed to remove interim file", "path", path, "error", err)
		}
	}

	duration := time.Since(start)

	if m.statsEnabled {
		if err := m.writeStatsFile(p, duration); err != nil {
			log.Errorw("failed to write stats file", "error", err)
		}
	}

	donePath, err := m.renderer.Render(p.timestamp, -1, template.MarkerDone)
	if err != nil {
		log.Errorw("failed to render done-marker path; interval not marked complete", "error", err)
		return
	}
	if err := createEmptyFile(donePath); err != nil {
		log.Errorw("failed to create done marker; this interval is lost to archival", "path", donePath, "error", err)
		return
	}

	log.Infow("merge complete", "packets", packetCount, "duration", duration)
}

func closeReaders(readers []*interimReader) {
	for _, r := range readers {
		if r != nil && r.reader != nil {
			r.reader.Close()
		}
	}
}

func createEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create marker %s: %w", path, err)
	}
	return f.Close()
}
