// Package supervisor implements the always-up parent process from
// spec.md §4.4: it forks the capture child, writes its own PID file,
// waits for the child to exit, and on SIGHUP forwards the reload to the
// child rather than restarting it (the child drains its current
// interval and exits on HUP; the supervisor then starts a new child,
// as it does after any exit it did not request).
//
// The functional-options constructor and Run loop follow the teacher's
// coordinator.Coordinator shape.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/wandio-tools/wdcap/internal/lifecycle"
	"github.com/wandio-tools/wdcap/internal/pidfile"
	"github.com/wandio-tools/wdcap/internal/xcmd"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// Option configures a Supervisor.
type Option func(*options)

// WithLog sets the logger used by the supervisor.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

// Config describes how to launch and track the capture child.
type Config struct {
	// ChildPath is the path to the wdcap capture binary.
	ChildPath string
	// ChildArgs are the arguments passed to every child invocation,
	// typically ["-c", <config path>].
	ChildArgs []string
	// PIDFile is where the supervisor's own PID is written.
	PIDFile string
	// ChildPIDFile is where the capture child writes its own PID, per
	// its own configuration. If set, the supervisor reads it back after
	// each start to confirm the child came up and is self-reporting the
	// PID the supervisor already knows from exec.Cmd (spec.md §4.4).
	ChildPIDFile string
}

// Supervisor owns exactly one capture child at a time and restarts it
// whenever it exits without having been told to stop.
type Supervisor struct {
	cfg     Config
	log     *zap.SugaredLogger
	limiter *lifecycle.ReloadLimiter

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	stopping bool
}

// New constructs a Supervisor. It does not start the child; call Run.
func New(cfg Config, opts ...Option) *Supervisor {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Supervisor{
		cfg:     cfg,
		log:     o.Log,
		limiter: &lifecycle.ReloadLimiter{},
	}
}

// Run writes the supervisor's PID file, launches the child, and blocks
// until a terminating signal arrives or ctx is canceled, restarting
// the child across any exit that wasn't requested by shutdownChild.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := pidfile.Write(s.cfg.PIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("write supervisor pid file: %w", err)
	}

	if err := s.startChild(); err != nil {
		return fmt.Errorf("start capture child: %w", err)
	}

	s.mu.Lock()
	childExited := s.exited
	s.mu.Unlock()

	// SIGCHLD needs no handling of its own: cmd.Wait (invoked from
	// startChild's goroutine below) already blocks on the child's exit
	// via the runtime's own wait4 bookkeeping, so the signal only
	// needs to be caught so its default action (ignore) doesn't mask
	// genuine delivery races; onChild is nil.
	done, stop := xcmd.SupervisorSignals(ctx, s.onReloadSignal, nil)
	defer stop()

	for {
		select {
		case <-done:
			s.shutdownChild()
			return nil
		case <-ctx.Done():
			s.shutdownChild()
			return ctx.Err()
		case <-childExited:
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			s.log.Warnw("capture child exited unexpectedly, restarting")
			if err := s.startChild(); err != nil {
				return fmt.Errorf("restart capture child: %w", err)
			}
			s.mu.Lock()
			childExited = s.exited
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) startChild() error {
	cmd := exec.Command(s.cfg.ChildPath, s.cfg.ChildArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.mu.Unlock()

	s.log.Infow("started capture child", "pid", cmd.Process.Pid)

	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	if s.cfg.ChildPIDFile != "" {
		go s.verifyChildPIDFile(cmd.Process.Pid)
	}

	return nil
}

// verifyChildPIDFile reads back the PID file the child writes on its
// own startup and logs if it doesn't match the process the supervisor
// just forked. The supervisor still signals the child through its
// exec.Cmd handle, not this file, but spec.md §4.4 describes the PID
// file as the durable record of which process is running; nothing else
// in this binary ever reads it back otherwise.
func (s *Supervisor) verifyChildPIDFile(wantPid int) {
	gotPid, err := backoff.Retry(context.Background(), func() (int, error) {
		return pidfile.Read(s.cfg.ChildPIDFile)
	},
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: 50 * time.Millisecond}),
		backoff.WithMaxTries(10),
	)
	if err != nil {
		s.log.Warnw("could not read back capture child pid file", "path", s.cfg.ChildPIDFile, "error", err)
		return
	}
	if gotPid != wantPid {
		s.log.Warnw("capture child pid file does not match forked process",
			"pid_file", s.cfg.ChildPIDFile, "pid_file_pid", gotPid, "forked_pid", wantPid)
	}
}

// onReloadSignal forwards HUP to the running child, rate-limited to
// once per wall-clock second so a signal burst collapses into a
// single reload.
func (s *Supervisor) onReloadSignal() {
	if !s.limiter.Allow(time.Now()) {
		return
	}

	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGHUP); err != nil {
		s.log.Warnw("failed to forward reload signal to capture child", "error", err)
	}
}

func (s *Supervisor) shutdownChild() {
	s.mu.Lock()
	s.stopping = true
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Warnw("failed to signal capture child", "error", err)
		return
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		s.log.Warnw("capture child did not exit in time, killing")
		_ = cmd.Process.Kill()
		<-exited
	}
}
