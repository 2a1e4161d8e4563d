package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/wandio-tools/wdcap/internal/core"
)

const (
	deviceFrameSize = 65536
	deviceBlockSize = 4 << 20
	deviceNumBlocks = 64
	devicePollMs    = 100
	deviceFanoutID  = 1
	tickInterval    = time.Second
)

// Device is the production Source: one AF_PACKET_V3 ring per worker, all
// joined to the same kernel fanout group so the NIC driver's RSS hashing
// (rather than this process) decides which worker sees which flow. This
// is the "parallel capture library" spec.md §1 treats as an external
// collaborator, backed here by github.com/gopacket/gopacket/afpacket
// instead of a vendored or cgo-bound libtrace.
type Device struct {
	iface   string
	workers []*afpacket.TPacket

	firstOnce sync.Once
	firstSeen chan uint32

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDevice opens numWorkers AF_PACKET sockets on iface, all sharing one
// FANOUT_HASH group so each socket only ever sees its share of flows.
func NewDevice(iface string, numWorkers int) (*Device, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("capture: numWorkers must be positive, got %d", numWorkers)
	}

	d := &Device{
		iface:     iface,
		workers:   make([]*afpacket.TPacket, numWorkers),
		firstSeen: make(chan uint32, 1),
		stopCh:    make(chan struct{}),
	}

	for i := range d.workers {
		tp, err := afpacket.NewTPacket(
			afpacket.OptInterface(iface),
			afpacket.OptFrameSize(deviceFrameSize),
			afpacket.OptBlockSize(deviceBlockSize),
			afpacket.OptNumBlocks(deviceNumBlocks),
			afpacket.OptPollTimeout(devicePollMs*time.Millisecond),
			afpacket.TPacketVersion3,
		)
		if err != nil {
			d.closeOpened(i)
			return nil, fmt.Errorf("capture: open afpacket ring %d on %s: %w", i, iface, err)
		}
		if err := tp.SetFanout(afpacket.FanoutHash, deviceFanoutID); err != nil {
			tp.Close()
			d.closeOpened(i)
			return nil, fmt.Errorf("capture: join fanout group on %s: %w", iface, err)
		}
		d.workers[i] = tp
	}

	return d, nil
}

func (d *Device) closeOpened(upTo int) {
	for i := 0; i < upTo; i++ {
		d.workers[i].Close()
	}
}

// NumWorkers implements Source.
func (d *Device) NumWorkers() int { return len(d.workers) }

// Run implements Source: one goroutine per ring, each driving its own
// gopacket.PacketSource and a 1Hz stats tick off the ring's own socket
// counters.
func (d *Device) Run(ctx context.Context, onPacket OnPacket, onTick OnTick) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(d.workers))
	for i, tp := range d.workers {
		go func(workerID int, tp *afpacket.TPacket) {
			defer wg.Done()
			d.runWorker(runCtx, workerID, tp, onPacket, onTick)
		}(i, tp)
	}

	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	wg.Wait()
	return nil
}

func (d *Device) runWorker(ctx context.Context, workerID int, tp *afpacket.TPacket, onPacket OnPacket, onTick OnTick) {
	source := gopacket.NewPacketSource(tp, layers.LinkTypeEthernet)
	source.NoCopy = true

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var accepted, dropped uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, _, err := tp.SocketStats(); err == nil {
				dropped = uint64(stats.Drops())
			}
			onTick(workerID, core.Stats{Accepted: accepted, Dropped: dropped})
		case pkt, ok := <-source.Packets():
			if !ok {
				return
			}
			accepted++

			payload := make([]byte, len(pkt.Data()))
			copy(payload, pkt.Data())
			ts := pkt.Metadata().Timestamp

			d.firstOnce.Do(func() { d.firstSeen <- uint32(ts.Unix()) })
			onPacket(workerID, core.Packet{Timestamp: ts, Payload: payload})
		}
	}
}

// FirstPacketTime implements Source.
func (d *Device) FirstPacketTime(ctx context.Context) (uint32, bool) {
	select {
	case ts := <-d.firstSeen:
		return ts, true
	case <-ctx.Done():
		return 0, false
	case <-d.stopCh:
		return 0, false
	}
}

// Stop implements Source: closes every ring, which unblocks each
// worker's PacketSource and lets Run return.
func (d *Device) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		for _, tp := range d.workers {
			tp.Close()
		}
	})
}
