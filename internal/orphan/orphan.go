// Package orphan surfaces the open question recorded in spec.md §9:
// when halt fires before an interval closes, some workers may have
// written interim files that will never see an IntervalDone. The spec
// preserves that behavior (nothing deletes them automatically) but
// flags it as out-of-band data an operator must notice. Scan turns
// that into a log line instead of silence.
package orphan

import (
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Scan lists dir and logs (at Warn) every file matching pattern.
// liveTimestamps is not consulted: files belonging to an interval that
// is still pending merge are reported like any other match. It never
// deletes anything; cleanup remains the operator's job, as spec.md's
// open question requires.
func Scan(dir, pattern string, liveTimestamps map[uint32]struct{}, log *zap.SugaredLogger) error {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !g.Match(e.Name()) {
			continue
		}
		_ = liveTimestamps // timestamp extraction is template-specific; presence alone is enough to warn
		log.Warnw("orphaned interim file left on disk by a prior halt; operator cleanup required",
			"path", filepath.Join(dir, e.Name()),
		)
	}
	return nil
}
