package logging

import "go.uber.org/zap/zapcore"

// Mode selects where log output goes, per SPEC_FULL.md §10.1.
type Mode string

const (
	ModeAuto     Mode = ""        // terminal colors if stderr is a tty, plain otherwise
	ModeStderr   Mode = "stderr"  // always plain, never colorized
	ModeFile     Mode = "file"    // append to Config.Path
	ModeSyslog   Mode = "syslog"  // log/syslog, tagged with the plugin name
	ModeDisabled Mode = "disabled"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Mode selects the output sink. Empty (ModeAuto) picks terminal
	// colors when stderr is a tty and plain stderr otherwise.
	Mode Mode `yaml:"mode"`
	// Path is the destination file for ModeFile.
	Path string `yaml:"path"`
}
