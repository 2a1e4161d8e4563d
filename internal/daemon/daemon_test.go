package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/capture"
	"github.com/wandio-tools/wdcap/internal/config"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/template"
	"github.com/wandio-tools/wdcap/internal/trace"
)

func TestDaemonEndToEndMerge(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.IntervalSeconds = 60
	cfg.OutputTemplate = filepath.Join(dir, "%s.%l")
	cfg.MonitorID = "mon0"
	cfg.PIDFile = filepath.Join(dir, "wdcap.pid")
	cfg.OrphanScanPattern = ""

	// Each worker's second packet falls in the next 60s interval,
	// forcing a natural boundary-crossing roll of the first interval
	// (spec.md §4.1) without relying on reload or halt semantics.
	source := capture.NewSynthetic([][]core.Packet{
		{
			{Timestamp: time.Unix(1700000001, 0)},
			{Timestamp: time.Unix(1700000061, 0)},
		},
		{
			{Timestamp: time.Unix(1700000002, 0)},
			{Timestamp: time.Unix(1700000062, 0)},
		},
	})

	d, err := New(cfg, source, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	d.RequestHalt()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop in time")
	}

	const intervalStart = uint32(1699999980) // IntervalStart(1700000001, 60)

	renderer := template.New(cfg.OutputTemplate, cfg.MonitorID, "pcap")
	path, err := renderer.Render(intervalStart, -1, template.MarkerNone)
	require.NoError(t, err)

	r, err := trace.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []core.Packet
	for {
		p, nerr := r.Next()
		if nerr == io.EOF {
			break
		}
		require.NoError(t, nerr)
		got = append(got, p)
	}
	require.Len(t, got, 2)

	donePath, err := renderer.Render(intervalStart, -1, template.MarkerDone)
	require.NoError(t, err)
	_, statErr := os.Stat(donePath)
	require.NoError(t, statErr)
}
