// Package logging builds the zap.SugaredLogger every wdcap component
// logs through. The terminal/stderr split and the AtomicLevel handback
// (for future SIGHUP-driven level changes) follow the teacher's
// common/go/logging package; the extra Mode values generalize it to
// the file and syslog sinks selected by the config's logging.mode.
package logging

import (
	"fmt"
	"log/syslog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init builds a logger for cfg and returns its AtomicLevel so callers
// can adjust verbosity later without rebuilding the whole pipeline.
func Init(cfg *Config, pluginTag string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(cfg.Level)

	switch cfg.Mode {
	case ModeDisabled:
		return zap.NewNop().Sugar(), level, nil

	case ModeSyslog:
		writer, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, pluginTag)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("failed to open syslog: %w", err)
		}
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(syslogWriter{writer}),
			level,
		)
		return zap.New(core).Sugar(), level, nil

	case ModeFile:
		f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("failed to open log file %s: %w", cfg.Path, err)
		}
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(f), level)
		return zap.New(core).Sugar(), level, nil
	}

	// ModeAuto / ModeStderr: console encoder to stderr, colorized only
	// when attached to a terminal and not explicitly forced plain.
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if cfg.Mode == ModeAuto && term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}

// syslogWriter adapts *syslog.Writer to zapcore.WriteSyncer; syslog
// has no fsync concept so Sync is a no-op.
type syslogWriter struct {
	w *syslog.Writer
}

func (s syslogWriter) Write(p []byte) (int, error) {
	if err := s.w.Info(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s syslogWriter) Sync() error { return nil }
