// Package trace is wdcap's stand-in for the "trace-file codec" external
// collaborator described in spec.md §1: a streaming writer that accepts
// packets, and a streaming reader that yields them back in the order
// they were written. It is backed by github.com/gopacket/gopacket/pcapgo,
// uncompressed, matching the LIBTRACEIO=nothreads requirement in
// spec.md §6 (no internal worker pool — callers already run the writes
// off whatever goroutine they choose).
package trace

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/wandio-tools/wdcap/internal/core"
)

// snapLen is generous: wdcap captures whole packets, it does not
// truncate at the codec layer.
const snapLen = 262144

// fdWriter is a minimal io.Writer over a raw descriptor. Writer is
// built on this instead of *os.File so that detaching a descriptor to
// the merger never has an *os.File finalizer racing to close(2) it out
// from under the new owner (spec.md §3, Lifecycle Ownership).
type fdWriter struct {
	fd int
}

func (f fdWriter) Write(p []byte) (int, error) {
	return syscall.Write(f.fd, p)
}

// Writer appends packets to a trace file in arrival order. Callers on
// the capture hot path must only ever call WriteAsync and Detach;
// Close performs the one blocking close(2) and must never be called
// from that path (spec.md §4.1: "no close() is ever called in the hot
// path").
type Writer struct {
	fd int
	w  *pcapgo.Writer
}

// Create opens a new trace file at path and writes its header. The
// descriptor is obtained with a bare open(2) rather than os.OpenFile so
// there is no *os.File wrapper, and hence no finalizer, attached to it:
// ownership of close() is tracked entirely by this type.
func Create(path string) (*Writer, error) {
	fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_CREAT|syscall.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}

	w := pcapgo.NewWriter(fdWriter{fd: fd})
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("trace: write header for %s: %w", path, err)
	}

	return &Writer{fd: fd, w: w}, nil
}

// WriteAsync appends pkt. The name reflects the contract the caller
// must honor (issued from the per-packet path, never blocking on
// durability), not a literal async syscall: the underlying write(2) to
// a regular file on a local disk does not block the way network or
// pipe I/O can, which is what makes this safe to call from the hot
// path in the first place.
func (w *Writer) WriteAsync(pkt core.Packet) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     pkt.Timestamp,
		CaptureLength: len(pkt.Payload),
		Length:        len(pkt.Payload),
	}
	return w.w.WritePacket(ci, pkt.Payload)
}

// Detach yields the underlying file descriptor without closing it,
// handing ownership of close() to whoever calls Detach. This is what
// lets a worker rotate an interval without ever calling close() itself
// (spec.md §4.1): it detaches, hands the fd number to the merger over
// the Coordination Channel, and only the merger ever closes it.
func (w *Writer) Detach() (fd int, err error) {
	fd = w.fd
	w.fd = -1
	return fd, nil
}

// Close closes the file. It is a blocking operation and must only be
// called by an owner that opened or was handed the descriptor directly
// (the merger's own output writer, or a caller that never detached);
// it must never be called from a worker's hot path.
func (w *Writer) Close() error {
	if w.fd < 0 {
		return nil
	}
	fd := w.fd
	w.fd = -1
	return syscall.Close(fd)
}

// Reader yields packets from a trace file in the order they were
// written.
type Reader struct {
	file *os.File
	r    *pcapgo.Reader
}

// Open opens an existing trace file for reading. A missing file is a
// normal condition (the worker saw no packets that interval) and is
// reported as a plain *os.PathError for the caller to check with
// os.IsNotExist.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: read header for %s: %w", path, err)
	}

	return &Reader{file: f, r: r}, nil
}

// Next returns the next packet, or io.EOF when the file is exhausted.
func (r *Reader) Next() (core.Packet, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return core.Packet{}, io.EOF
		}
		return core.Packet{}, fmt.Errorf("trace: read packet: %w", err)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	return core.Packet{Timestamp: ci.Timestamp, Payload: payload}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
