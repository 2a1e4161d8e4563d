// Package daemon wires together the capture source, per-worker
// interval trackers, coordination channel, and merger into the single
// running process spec.md §2 describes, and exposes the halt/reload
// control surface cmd/wdcap drives from OS signals.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/capture"
	"github.com/wandio-tools/wdcap/internal/config"
	"github.com/wandio-tools/wdcap/internal/coordchan"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/ifstats"
	"github.com/wandio-tools/wdcap/internal/lifecycle"
	"github.com/wandio-tools/wdcap/internal/merger"
	"github.com/wandio-tools/wdcap/internal/orphan"
	"github.com/wandio-tools/wdcap/internal/template"
	"github.com/wandio-tools/wdcap/internal/worker"
)

// Daemon owns one capture run: the source, the workers, and the
// merger, plus the shared halt/reload flags that tie them together.
type Daemon struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	source   capture.Source
	workers  []*worker.Worker
	merger   *merger.Merger
	channel  *coordchan.Channel
	halt     *lifecycle.Halt
	reload   *lifecycle.Reload
	ended    *lifecycle.EndedCounter
	ifstats  *ifstats.Reader
}

// New builds a Daemon from cfg. source is supplied by the caller so
// tests can pass a capture.Synthetic; cmd/wdcap constructs a
// capture.Device from cfg.Device before calling New.
func New(cfg *config.Config, source capture.Source, log *zap.SugaredLogger) (*Daemon, error) {
	renderer := template.New(cfg.OutputTemplate, cfg.MonitorID, "pcap")

	halt := &lifecycle.Halt{}
	reload := &lifecycle.Reload{}
	ended := lifecycle.NewEndedCounter(source.NumWorkers(), halt)

	channel := coordchan.New(cfg.CoordBufferRecords())
	producer := channel.Producer()

	workers := make([]*worker.Worker, source.NumWorkers())
	for i := range workers {
		workers[i] = worker.New(worker.Config{
			Index:        i,
			IntervalLen:  cfg.IntervalSeconds,
			Renderer:     renderer,
			StripVLAN:    cfg.StripVLAN,
			StatsEnabled: cfg.StatsEnabled,
		}, producer, halt, reload, ended, log.With("worker", i))
	}

	m := merger.New(source.NumWorkers(), cfg.IntervalSeconds, renderer, cfg.StatsEnabled, log.With("component", "merger"))

	return &Daemon{
		cfg:     cfg,
		log:     log,
		source:  source,
		workers: workers,
		merger:  m,
		channel: channel,
		halt:    halt,
		reload:  reload,
		ended:   ended,
		ifstats: ifstats.New(cfg.IfaceStatsDevice),
	}, nil
}

// RequestHalt stops capture and lets the merger drain and exit.
func (d *Daemon) RequestHalt() {
	d.halt.Set()
	d.source.Stop()
}

// RequestReload marks every worker to close out its current interval
// and stop after reporting it, mirroring spec.md §4.1's "graceful
// worker replacement" reload semantics.
func (d *Daemon) RequestReload() {
	d.reload.Request()
}

// Run starts the merger, bootstraps workers from the source's first
// packet timestamp, and pumps the capture source until it stops.
func (d *Daemon) Run(ctx context.Context) error {
	mergerDone := make(chan struct{})
	go func() {
		defer close(mergerDone)
		d.merger.Run(d.channel.Consumer())
	}()

	firstTS, ok := d.source.FirstPacketTime(ctx)
	if !ok {
		d.log.Warnw("capture source stopped before any packet arrived")
	}
	for _, w := range d.workers {
		w.Bootstrap(firstTS)
	}

	if pattern := d.cfg.OrphanScanPattern; pattern != "" {
		if err := orphan.Scan(interimDir(d.cfg.OutputTemplate), pattern, nil, d.log); err != nil {
			d.log.Warnw("orphan interim scan failed", "error", err)
		}
	}

	// Halt can be set from outside (RequestHalt) or from the inside
	// (every worker draining after a reload, via EndedCounter); either
	// way the main thread is the one that must notice it and stop the
	// capture source, per spec.md §2's "shared flag polled by the main
	// thread" description.
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if d.halt.IsSet() {
					d.source.Stop()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	err := d.source.Run(ctx,
		func(workerID int, pkt core.Packet) {
			d.workers[workerID].HandlePacket(pkt)
		},
		func(workerID int, stats core.Stats) {
			d.workers[workerID].HandleTick(stats)
			if counters, ifErr := d.ifstats.Read(); ifErr == nil {
				d.log.Debugw("interface counters", "worker", workerID, "rx_dropped", counters.RxDropped, "tx_dropped", counters.TxDropped)
			}
		},
	)
	<-pollerDone
	if err != nil {
		return fmt.Errorf("capture source run: %w", err)
	}

	producer := d.channel.Producer()
	producer.Send(core.StopRecord())

	<-mergerDone
	return nil
}

func interimDir(outputTemplate string) string {
	for i := len(outputTemplate) - 1; i >= 0; i-- {
		if outputTemplate[i] == '/' {
			return outputTemplate[:i]
		}
	}
	return "."
}
