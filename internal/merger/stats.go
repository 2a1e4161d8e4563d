package merger

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/template"
)

// summaryThreadID is the reserved thread id denoting an aggregated
// summary line, per spec.md §6.
const summaryThreadID = -1

// statsFields lists, in output order, every per-thread counter this
// daemon tracks and the field name it is rendered under in the
// `.stats` file.
var statsFields = []struct {
	name string
	get  func(core.Stats) uint64
}{
	{"accepted_pkts", func(s core.Stats) uint64 { return s.Accepted }},
	{"filtered_pkts", func(s core.Stats) uint64 { return s.Filtered }},
	{"missing_pkts", func(s core.Stats) uint64 { return s.Missing }},
	{"dropped_pkts", func(s core.Stats) uint64 { return s.Dropped }},
}

// writeStatsFile renders the `.stats` sidecar described in spec.md §6:
// the interval timestamp, one line per field per reporting worker, a
// summary line aggregating each field across workers, and the merge
// wall-clock duration in milliseconds.
func (m *Merger) writeStatsFile(p *pendingInterval, duration time.Duration) error {
	path, err := m.renderer.Render(p.timestamp, -1, template.MarkerStats)
	if err != nil {
		return fmt.Errorf("render stats path: %w", err)
	}

	order := make([]int, len(p.reportedWorkerIDs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return p.reportedWorkerIDs[order[a]] < p.reportedWorkerIDs[order[b]]
	})

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create stats file %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "time:%d\n", p.timestamp)

	totals := make([]uint64, len(statsFields))
	for _, idx := range order {
		id := p.reportedWorkerIDs[idx]
		stats := p.reportedStats[idx]
		for fi, field := range statsFields {
			v := field.get(stats)
			totals[fi] += v
			fmt.Fprintf(f, "thread:%d %s:%d\n", id, field.name, v)
		}
	}

	for fi, field := range statsFields {
		fmt.Fprintf(f, "thread:%d %s:%d\n", summaryThreadID, field.name, totals[fi])
	}

	fmt.Fprintf(f, "merge_duration_msec:%d\n", duration.Milliseconds())

	return nil
}
