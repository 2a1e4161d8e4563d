// Command wdcap is the capture child process described in spec.md
// §4: it runs N capture workers and a single merger goroutine over a
// coordination channel, producing chronologically merged trace files.
//
// The cobra root command and top-level error handling follow the
// teacher's coordinator/cmd/coordinator/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wandio-tools/wdcap/internal/capture"
	"github.com/wandio-tools/wdcap/internal/config"
	"github.com/wandio-tools/wdcap/internal/core"
	"github.com/wandio-tools/wdcap/internal/daemon"
	"github.com/wandio-tools/wdcap/internal/lifecycle"
	"github.com/wandio-tools/wdcap/internal/logging"
	"github.com/wandio-tools/wdcap/internal/pidfile"
	"github.com/wandio-tools/wdcap/internal/xcmd"
)

// cmd holds the parsed command-line arguments.
var cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "wdcap",
	Short: "Lossless packet-capture daemon with parallel capture and chronological merge",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := run(cmd.ConfigPath); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	// The AF_PACKET capture source (internal/capture.Device) is pure Go,
	// but the env var is set here, before anything touches the capture
	// path, matching the contract spec.md §6 documents for any future
	// cgo-backed libtrace source: thread-per-input must never be
	// silently re-enabled by a linked library's default.
	os.Setenv("LIBTRACEIO", "nothreads")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging, "wdcap")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	if err := pidfile.Write(cfg.PIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize capture daemon: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return d.Run(ctx)
	})
	wg.Go(func() error {
		// spec.md §6: the capture process's own HUP handling is
		// rate-limited, same as the supervisor's forwarded signal, even
		// though in practice a worker already ignores a second reload
		// request while draining.
		limiter := &lifecycle.ReloadLimiter{}
		onReload := func() {
			if limiter.Allow(time.Now()) {
				d.RequestReload()
			}
		}

		done, stop := xcmd.CaptureSignals(ctx, onReload)
		defer stop()
		select {
		case sig := <-done:
			log.Infow("caught signal, halting", "signal", sig.Signal)
			d.RequestHalt()
			return sig
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return wg.Wait()
}

// syntheticDevice is the cfg.Device sentinel selecting the in-process
// replay source instead of a real AF_PACKET ring (config.go's Device
// doc comment).
const syntheticDevice = "synthetic"

// newDaemon constructs the production Daemon: an AF_PACKET capture
// source on cfg.Device fanned out across cfg.Workers kernel rings (see
// internal/capture.Device), wired into the worker/merger pipeline. The
// "synthetic" device name instead selects an empty in-process replay
// source for demos and dry runs.
func newDaemon(cfg *config.Config, log *zap.SugaredLogger) (*daemon.Daemon, error) {
	if cfg.Device == syntheticDevice {
		return daemon.New(cfg, capture.NewSynthetic(make([][]core.Packet, cfg.Workers)), log)
	}

	source, err := capture.NewDevice(cfg.Device, cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("open capture device %s: %w", cfg.Device, err)
	}

	return daemon.New(cfg, source, log)
}
