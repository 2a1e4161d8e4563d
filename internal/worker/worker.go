// Package worker implements the per-worker hot path from spec.md §4.1:
// the Interim Writer and the Worker Interval Tracker. One Worker owns
// exactly one capture-library thread's packets, one interim file at a
// time, and reports completed intervals to the merger over the
// Coordination Channel.
package worker

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/coordchan"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/lifecycle"
	"github.com/wandio-tools/wdcap/internal/template"
	"github.com/wandio-tools/wdcap/internal/trace"
)

// Writer is the subset of *trace.Writer a worker needs; narrowed to an
// interface so tests can substitute a fake without touching a real
// file.
type Writer interface {
	WriteAsync(pkt core.Packet) error
	Detach() (fd int, err error)
	Close() error
}

var openWriter = func(path string) (Writer, error) { return trace.Create(path) }

// Config is the per-worker, mostly-static configuration derived from
// the daemon's loaded config.
type Config struct {
	Index        int
	IntervalLen  uint32
	Renderer     *template.Renderer
	StripVLAN    bool
	StatsEnabled bool
}

// Worker is one instance of WorkerState from spec.md §3, plus the
// logic that drives it.
type Worker struct {
	cfg      Config
	producer coordchan.Producer
	halt     *lifecycle.Halt
	reload   *lifecycle.Reload
	ended    *lifecycle.EndedCounter
	log      *zap.SugaredLogger

	currentIntervalStart uint32
	nextBoundary         uint32
	writer               Writer
	interimPath          string
	lastStats            core.Stats
	ending               bool
	bootstrapped         bool
}

// New creates a Worker. Bootstrap must be called once, with the
// globally-first packet time across all workers, before any packet is
// delivered.
func New(
	cfg Config,
	producer coordchan.Producer,
	halt *lifecycle.Halt,
	reload *lifecycle.Reload,
	ended *lifecycle.EndedCounter,
	log *zap.SugaredLogger,
) *Worker {
	return &Worker{
		cfg:      cfg,
		producer: producer,
		halt:     halt,
		reload:   reload,
		ended:    ended,
		log:      log.With("worker", cfg.Index),
	}
}

// Bootstrap establishes the common starting interval all workers must
// agree on (spec.md §4.1: "if a worker's own first packet already lies
// past the first boundary, the merger must still recognise interval T0
// as complete, which requires every worker to acknowledge T0").
func (w *Worker) Bootstrap(firstPacketUnixSeconds uint32) {
	w.currentIntervalStart = core.IntervalStart(firstPacketUnixSeconds, w.cfg.IntervalLen)
	w.nextBoundary = w.currentIntervalStart + w.cfg.IntervalLen
	w.bootstrapped = true
}

// HandlePacket is the per-packet callback. It must never block on
// anything but the Coordination Channel send (spec.md §5), and must
// never call close().
func (w *Worker) HandlePacket(pkt core.Packet) {
	if w.ending {
		// Draining: every packet after the drain boundary is dropped
		// on the floor without processing.
		return
	}
	if !w.bootstrapped {
		// Defensive: a real capture library always delivers
		// FirstPacketTime before the first packet, but a misbehaving
		// or test source might not have. Bootstrap from this packet
		// rather than crash.
		w.Bootstrap(pkt.UnixSeconds())
	}

	if w.cfg.StripVLAN {
		pkt.Payload = stripVLANTag(pkt.Payload)
	}

	ts := pkt.UnixSeconds()
	for w.reload.IsRequested() || ts >= w.nextBoundary {
		if w.rollInterval() {
			return
		}
	}

	if err := w.ensureWriter(); err != nil {
		w.log.Errorw("failed to open interim file", "error", err)
		w.halt.Set()
		return
	}

	if err := w.writer.WriteAsync(pkt); err != nil {
		w.log.Errorw("interim write failed", "error", err)
		w.halt.Set()
	}
}

// rollInterval performs one iteration of the boundary-crossing loop
// from spec.md §4.1. It returns true if the worker has just entered
// draining and the caller (HandlePacket) must return immediately.
func (w *Worker) rollInterval() bool {
	reloadObserved := w.reload.IsRequested()

	var stats core.Stats
	if w.cfg.StatsEnabled {
		stats = w.lastStats
	}
	rec := core.IntervalDone(w.cfg.Index, w.currentIntervalStart, core.NoFD, stats)
	if w.writer != nil {
		fd, err := w.writer.Detach()
		if err != nil {
			w.log.Errorw("failed to detach interim file descriptor", "error", err)
			w.halt.Set()
			return true
		}
		rec.SrcFd = fd
		w.writer = nil
		w.interimPath = ""
	}

	w.producer.Send(rec)

	w.currentIntervalStart = w.nextBoundary
	w.nextBoundary += w.cfg.IntervalLen

	if reloadObserved {
		w.ending = true
		w.ended.WorkerEnded()
		return true
	}
	return false
}

// ensureWriter opens the interim writer for the current interval if it
// is not already open.
func (w *Worker) ensureWriter() error {
	if w.writer != nil {
		return nil
	}

	path, err := w.cfg.Renderer.Render(w.currentIntervalStart, w.cfg.Index, template.MarkerNone)
	if err != nil {
		return fmt.Errorf("render interim path: %w", err)
	}

	writer, err := openWriter(path)
	if err != nil {
		return fmt.Errorf("open interim file %s: %w", path, err)
	}

	w.writer = writer
	w.interimPath = path
	return nil
}

// HandleTick is the ~1Hz tick callback from spec.md §4.1: it logs a
// warning on newly observed missing packets and retains the full stats
// snapshot, which rollInterval later places in the IntervalDone record
// when per-thread stats are enabled (spec.md §4.1 step 1).
func (w *Worker) HandleTick(stats core.Stats) {
	if stats.Missing > w.lastStats.Missing {
		w.log.Warnw("packets missing since last tick",
			"missing_delta", stats.Missing-w.lastStats.Missing,
			"missing_total", stats.Missing,
		)
	}
	w.lastStats = stats
}
