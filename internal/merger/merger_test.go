package merger

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/coordchan"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/template"
	"github.com/wandio-tools/wdcap/internal/trace"
)

func writeInterim(t *testing.T, path string, packets []core.Packet) int {
	t.Helper()
	w, err := trace.Create(path)
	require.NoError(t, err)
	for _, p := range packets {
		require.NoError(t, w.WriteAsync(p))
	}
	fd, err := w.Detach()
	require.NoError(t, err)
	return fd
}

func readAll(t *testing.T, path string) []core.Packet {
	t.Helper()
	r, err := trace.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []core.Packet
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	return got
}

// Scenario 1 from spec.md §8: two workers, one interval, no packet loss.
func TestScenarioTwoWorkersNoLoss(t *testing.T) {
	dir := t.TempDir()
	renderer := template.New(filepath.Join(dir, "%s.%l"), "mon0", "pcap")
	const t0 = uint32(1700000000)

	fd0 := writeInterim(t, mustRender(t, renderer, t0, 0), []core.Packet{
		{Timestamp: time.Unix(1700000001, 0)},
		{Timestamp: time.Unix(1700000003, 500000000)},
	})
	fd1 := writeInterim(t, mustRender(t, renderer, t0, 1), []core.Packet{
		{Timestamp: time.Unix(1700000002, 0)},
		{Timestamp: time.Unix(1700000059, 900000000)},
	})

	ch := coordchan.New(8)
	m := New(2, 60, renderer, false, zap.NewNop().Sugar())
	go m.Run(ch.Consumer())

	p := ch.Producer()
	p.Send(core.IntervalDone(0, t0, fd0, core.Stats{}))
	p.Send(core.IntervalDone(1, t0, fd1, core.Stats{}))
	p.Send(core.StopRecord())

	waitForDone(t, renderer, t0)

	got := readAll(t, mustRender(t, renderer, t0, -1))
	require.Len(t, got, 4)
	wantOrder := []int64{1700000001, 1700000002, 1700000003, 1700000059}
	for i, ts := range wantOrder {
		require.Equal(t, ts, got[i].Timestamp.Unix())
	}

	// Interim files are gone; marker exists.
	_, err := os.Stat(mustRender(t, renderer, t0, 0))
	require.True(t, os.IsNotExist(err))
}

// Scenario 2: tie-break picks the lower worker index first.
func TestScenarioTieBreak(t *testing.T) {
	dir := t.TempDir()
	renderer := template.New(filepath.Join(dir, "%s.%l"), "mon0", "pcap")
	const t0 = uint32(1700000000)

	fd0 := writeInterim(t, mustRender(t, renderer, t0, 0), []core.Packet{
		{Timestamp: time.Unix(1700000005, 0), Payload: []byte("w0")},
	})
	fd1 := writeInterim(t, mustRender(t, renderer, t0, 1), []core.Packet{
		{Timestamp: time.Unix(1700000005, 0), Payload: []byte("w1")},
	})

	ch := coordchan.New(8)
	m := New(2, 60, renderer, false, zap.NewNop().Sugar())
	go m.Run(ch.Consumer())

	p := ch.Producer()
	p.Send(core.IntervalDone(0, t0, fd0, core.Stats{}))
	p.Send(core.IntervalDone(1, t0, fd1, core.Stats{}))
	p.Send(core.StopRecord())

	waitForDone(t, renderer, t0)

	got := readAll(t, mustRender(t, renderer, t0, -1))
	require.Len(t, got, 2)
	require.Equal(t, []byte("w0"), got[0].Payload)
	require.Equal(t, []byte("w1"), got[1].Payload)
}

// Scenario 3: a worker silent for the interval reports srcFd = NoFD and
// no interim file is opened for it at merge time.
func TestScenarioWorkerSilent(t *testing.T) {
	dir := t.TempDir()
	renderer := template.New(filepath.Join(dir, "%s.%l"), "mon0", "pcap")
	const t0 = uint32(1700000060)

	fd0 := writeInterim(t, mustRender(t, renderer, t0, 0), []core.Packet{
		{Timestamp: time.Unix(1700000061, 0)},
	})
	fd1 := writeInterim(t, mustRender(t, renderer, t0, 1), []core.Packet{
		{Timestamp: time.Unix(1700000062, 0)},
	})
	// Worker 2 never opened an interim file for this interval.

	ch := coordchan.New(8)
	m := New(3, 60, renderer, false, zap.NewNop().Sugar())
	go m.Run(ch.Consumer())

	p := ch.Producer()
	p.Send(core.IntervalDone(0, t0, fd0, core.Stats{}))
	p.Send(core.IntervalDone(1, t0, fd1, core.Stats{}))
	p.Send(core.IntervalDone(2, t0, core.NoFD, core.Stats{}))
	p.Send(core.StopRecord())

	waitForDone(t, renderer, t0)

	got := readAll(t, mustRender(t, renderer, t0, -1))
	require.Len(t, got, 2)

	_, err := os.Stat(mustRender(t, renderer, t0, 2))
	require.True(t, os.IsNotExist(err))
}

// Scenario 6: .stats content sanity.
func TestScenarioStatsContent(t *testing.T) {
	dir := t.TempDir()
	renderer := template.New(filepath.Join(dir, "%s.%l"), "mon0", "pcap")
	const t0 = uint32(1700000000)

	fd0 := writeInterim(t, mustRender(t, renderer, t0, 0), nil)
	fd1 := writeInterim(t, mustRender(t, renderer, t0, 1), nil)

	ch := coordchan.New(8)
	m := New(2, 60, renderer, true, zap.NewNop().Sugar())
	go m.Run(ch.Consumer())

	p := ch.Producer()
	p.Send(core.IntervalDone(0, t0, fd0, core.Stats{Accepted: 100, Dropped: 0}))
	p.Send(core.IntervalDone(1, t0, fd1, core.Stats{Accepted: 200, Dropped: 5}))
	p.Send(core.StopRecord())

	waitForDone(t, renderer, t0)

	statsPath, err := renderer.Render(t0, -1, template.MarkerStats)
	require.NoError(t, err)
	data, err := os.ReadFile(statsPath)
	require.NoError(t, err)

	content := string(data)
	require.Contains(t, content, "thread:0 accepted_pkts:100")
	require.Contains(t, content, "thread:1 accepted_pkts:200")
	require.Contains(t, content, "thread:-1 accepted_pkts:300")
	require.Contains(t, content, "thread:-1 dropped_pkts:5")
	require.Contains(t, content, "merge_duration_msec:")
}

func mustRender(t *testing.T, r *template.Renderer, ts uint32, workerIndex int) string {
	t.Helper()
	marker := template.MarkerNone
	path, err := r.Render(ts, workerIndex, marker)
	require.NoError(t, err)
	return path
}

func waitForDone(t *testing.T, r *template.Renderer, ts uint32) {
	t.Helper()
	path, err := r.Render(ts, -1, template.MarkerDone)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for done marker %s", path)
}
