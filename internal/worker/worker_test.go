package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/coordchan"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/lifecycle"
	"github.com/wandio-tools/wdcap/internal/template"
)

type fakeWriter struct {
	written []core.Packet
	fd      int
	closed  bool
}

func (f *fakeWriter) WriteAsync(pkt core.Packet) error {
	f.written = append(f.written, pkt)
	return nil
}

func (f *fakeWriter) Detach() (int, error) {
	return f.fd, nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestWorker(t *testing.T, index int, intervalLen uint32, ch *coordchan.Channel) (*Worker, *lifecycle.Halt) {
	t.Helper()
	nextFd := 100 + index
	openWriter = func(path string) (Writer, error) {
		return &fakeWriter{fd: nextFd}, nil
	}

	halt := &lifecycle.Halt{}
	reload := &lifecycle.Reload{}
	ended := lifecycle.NewEndedCounter(1, halt)

	cfg := Config{
		Index:       index,
		IntervalLen: intervalLen,
		Renderer:    template.New("/tmp/%s--%l", "mon0", "pcap"),
	}

	w := New(cfg, ch.Producer(), halt, reload, ended, zap.NewNop().Sugar())
	return w, halt
}

func TestBoundaryCrossingEmitsIntervalDone(t *testing.T) {
	ch := coordchan.New(8)
	w, _ := newTestWorker(t, 0, 60, ch)

	w.Bootstrap(1700000000)

	// Bootstrap floors to T0 = 1699999980 (IntervalStart(1700000000, 60)),
	// so the next boundary is 1700000040.
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000001, 0), Payload: []byte{1}})
	// Crosses into the next interval.
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000059, 0), Payload: []byte{2}})
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000061, 0), Payload: []byte{3}})

	rec := ch.Consumer().Receive()
	require.Equal(t, core.RecordIntervalDone, rec.Tag)
	require.Equal(t, uint32(1699999980), rec.Timestamp)
	require.Equal(t, 100, rec.SrcFd)
}

func TestNoPacketsMeansNoFD(t *testing.T) {
	ch := coordchan.New(8)
	w, _ := newTestWorker(t, 2, 60, ch)

	w.Bootstrap(1700000000)
	// No packet is written before the roll: a reload forces it on the
	// first packet delivered.
	w.reload.Request()
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000000, 0), Payload: []byte{1}})

	rec := ch.Consumer().Receive()
	require.Equal(t, core.NoFD, rec.SrcFd)
}

func TestReloadDrainsExactlyOnce(t *testing.T) {
	ch := coordchan.New(8)
	w, halt := newTestWorker(t, 0, 60, ch)
	w.Bootstrap(1700000000)

	w.reload.Request()
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000005, 0), Payload: []byte{1}})

	require.True(t, w.ending)
	require.True(t, halt.IsSet())

	rec := ch.Consumer().Receive()
	require.Equal(t, uint32(1699999980), rec.Timestamp) // IntervalStart(1700000000, 60)

	// Packets delivered after ending must be dropped without effect.
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000006, 0), Payload: []byte{2}})
	_, ok := ch.Consumer().TryReceive()
	require.False(t, ok, "no further records expected")
}

func TestIntervalDoneCarriesLatestTickStats(t *testing.T) {
	ch := coordchan.New(8)
	w, _ := newTestWorker(t, 0, 60, ch)
	w.cfg.StatsEnabled = true
	w.Bootstrap(1700000000)

	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000001, 0), Payload: []byte{1}})
	w.HandleTick(core.Stats{Accepted: 10, Filtered: 2, Missing: 1, Dropped: 3})
	// Crosses into the next interval.
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000061, 0), Payload: []byte{2}})

	rec := ch.Consumer().Receive()
	require.Equal(t, core.Stats{Accepted: 10, Filtered: 2, Missing: 1, Dropped: 3}, rec.Stats)
}

func TestIntervalDoneOmitsStatsWhenDisabled(t *testing.T) {
	ch := coordchan.New(8)
	w, _ := newTestWorker(t, 0, 60, ch)
	w.cfg.StatsEnabled = false
	w.Bootstrap(1700000000)

	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000001, 0), Payload: []byte{1}})
	w.HandleTick(core.Stats{Accepted: 10, Filtered: 2, Missing: 1, Dropped: 3})
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000061, 0), Payload: []byte{2}})

	rec := ch.Consumer().Receive()
	require.Equal(t, core.Stats{}, rec.Stats)
}

func TestVLANStripFlag(t *testing.T) {
	ch := coordchan.New(8)
	w, _ := newTestWorker(t, 0, 60, ch)
	w.cfg.StripVLAN = true
	w.Bootstrap(1700000000)

	// 12 bytes of MACs, 0x8100 TPID, 2 bytes TCI, then payload.
	frame := []byte{
		0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 2,
		0x81, 0x00, 0x00, 0x0a,
		0x08, 0x00,
	}
	w.HandlePacket(core.Packet{Timestamp: time.Unix(1700000001, 0), Payload: frame})

	writer := w.writer.(*fakeWriter)
	require.Len(t, writer.written, 1)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 2, 0x08, 0x00}, writer.written[0].Payload)
}
