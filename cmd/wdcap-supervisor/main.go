// Command wdcap-supervisor is the long-lived parent process from
// spec.md §4.4: it forks a wdcap capture child, forwards reload and
// shutdown signals to it, reaps its exit status, and restarts it after
// any exit it did not request by shutting the child down. It does not
// track forwarded reloads: an exit that follows a reload and any other
// unrequested exit are both answered with a restart.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wandio-tools/wdcap/internal/logging"
	"github.com/wandio-tools/wdcap/internal/supervisor"
)

var cmd struct {
	ConfigPath   string
	ChildPath    string
	PIDFile      string
	ChildPIDFile string
}

var rootCmd = &cobra.Command{
	Use:   "wdcap-supervisor",
	Short: "Supervises a wdcap capture child, forwarding reload/shutdown signals",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the wdcap configuration file passed to the child (required)")
	rootCmd.MarkFlagRequired("config")
	rootCmd.Flags().StringVar(&cmd.ChildPath, "child", "wdcap", "Path to the wdcap binary")
	rootCmd.Flags().StringVar(&cmd.PIDFile, "pid-file", "/var/run/wdcap-supervisor.pid", "Path to the supervisor's own PID file")
	rootCmd.Flags().StringVar(&cmd.ChildPIDFile, "child-pid-file", "", "Path to the capture child's own PID file, as set by its pid_file config (optional, verified on each start)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, _, err := logging.Init(&logging.Config{Mode: logging.ModeAuto}, "wdcap-supervisor")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	s := supervisor.New(supervisor.Config{
		ChildPath:    cmd.ChildPath,
		ChildArgs:    []string{"-c", cmd.ConfigPath},
		PIDFile:      cmd.PIDFile,
		ChildPIDFile: cmd.ChildPIDFile,
	}, supervisor.WithLog(log))

	return s.Run(context.Background())
}
