package trace

import (
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wandio-tools/wdcap/internal/core"
)

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.pcap")

	w, err := Create(path)
	require.NoError(t, err)

	want := []core.Packet{
		{Timestamp: time.Unix(1700000001, 0), Payload: []byte{1, 2, 3}},
		{Timestamp: time.Unix(1700000002, 0), Payload: []byte{4, 5}},
	}
	for _, p := range want {
		require.NoError(t, w.WriteAsync(p))
	}
	require.NoError(t, w.Close())

	r, err := Open(path)
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

	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Payload, got[i].Payload)
		require.Equal(t, want[i].Timestamp.Unix(), got[i].Timestamp.Unix())
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.pcap"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestDetachDoesNotCloseTheDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.pcap")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteAsync(core.Packet{Timestamp: time.Unix(1700000001, 0), Payload: []byte{9}}))

	fd, err := w.Detach()
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)

	// The detached fd must still be open and usable: Detach must not
	// have called close() on it (that is the merger's job, later).
	f := os.NewFile(uintptr(fd), path)
	require.NoError(t, f.Close())
}

func TestCloseAfterDetachIsANoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.pcap")

	w, err := Create(path)
	require.NoError(t, err)

	fd, err := w.Detach()
	require.NoError(t, err)
	defer syscall.Close(fd)

	// Once detached, the Writer no longer owns any descriptor; Close
	// must not close fd out from under its new owner.
	require.NoError(t, w.Close())
}
