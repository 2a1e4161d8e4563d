// Package template renders wdcap's output/interim file paths from a
// %-directive template string. It is the concrete implementation of the
// "external collaborator" described in spec.md §4.5: both the worker
// hot path and the merger call Render with the same inputs and must
// observe exactly the same path, since the merger re-derives interim
// paths to discover what workers wrote.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Marker selects an optional suffix appended to a rendered path.
type Marker int

const (
	// MarkerNone renders the base path with no suffix.
	MarkerNone Marker = iota
	// MarkerDone appends ".done".
	MarkerDone
	// MarkerStats appends ".stats".
	MarkerStats
)

// pluginTag is fixed for backward compatibility with the legacy tool
// this daemon's output format descends from.
const pluginTag = "wdcap"

// Renderer renders filenames from a template string containing
// %-introduced directives.
//
// Recognised directives:
//
//	%Y %m %d %H %M %S %j   standard UTC time fields (strftime subset)
//	%N                     monitor ID
//	%P                     plugin tag, always "wdcap"
//	%l                     trace-format extension (e.g. "pcap")
//	%s                     unix-seconds timestamp, unformatted
//	%%                     literal percent
//
// A Renderer is immutable and safe for concurrent use: for the same
// inputs it always produces the same output (spec.md §4.5's purity
// invariant).
type Renderer struct {
	template  string
	monitorID string
	extension string
}

// New creates a Renderer for the given template, monitor ID, and
// trace-format extension (e.g. "pcap").
func New(tmpl, monitorID, extension string) *Renderer {
	return &Renderer{template: tmpl, monitorID: monitorID, extension: extension}
}

// Render produces a path for interval timestamp ts. workerIndex is -1
// for the merged output path, or >= 0 to render an interim path for
// that worker, which adds the `--<index>` worker suffix. marker appends
// ".done" or ".stats"; it is only ever applied when workerIndex < 0,
// per spec.
//
// Render returns an error (rather than panicking) on an unknown
// directive or an over-long result; the caller treats that as the
// fatal per-thread condition described in spec.md §7.
func (r *Renderer) Render(ts uint32, workerIndex int, marker Marker) (string, error) {
	const maxLen = 4096

	t := time.Unix(int64(ts), 0).UTC()

	var b strings.Builder
	runes := []rune(r.template)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '%' {
			b.WriteRune(c)
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("template: dangling %% at end of %q", r.template)
		}
		switch runes[i] {
		case '%':
			b.WriteByte('%')
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'N':
			b.WriteString(r.monitorID)
		case 'P':
			b.WriteString(pluginTag)
		case 'l':
			b.WriteString(r.extension)
		case 's':
			b.WriteString(strconv.FormatUint(uint64(ts), 10))
		default:
			return "", fmt.Errorf("template: unknown directive %%%c in %q", runes[i], r.template)
		}
		if b.Len() > maxLen {
			return "", fmt.Errorf("template: rendered path exceeds %d bytes", maxLen)
		}
	}

	out := b.String()
	if workerIndex >= 0 {
		out = suffixWorker(out, workerIndex)
	} else {
		switch marker {
		case MarkerDone:
			out += ".done"
		case MarkerStats:
			out += ".stats"
		}
	}

	if len(out) > maxLen {
		return "", fmt.Errorf("template: rendered path exceeds %d bytes", maxLen)
	}
	return out, nil
}

// suffixWorker appends "--<index>" before the final extension, e.g.
// "/trace/2024.pcap" + index 3 -> "/trace/2024--3.pcap".
func suffixWorker(path string, index int) string {
	dot := strings.LastIndexByte(path, '.')
	slash := strings.LastIndexByte(path, '/')
	suffix := fmt.Sprintf("--%d", index)
	if dot > slash {
		return path[:dot] + suffix + path[dot:]
	}
	return path + suffix
}
