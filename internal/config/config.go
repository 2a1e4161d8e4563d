// Package config parses the single YAML configuration file each
// wdcap binary is pointed at via -c. It mirrors the teacher's
// coordinator.LoadConfig/DefaultConfig split: start from defaults,
// unmarshal over them, and hand back a fully populated struct.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/wandio-tools/wdcap/internal/logging"
)

// Config is the top-level shape of the wdcap YAML file.
type Config struct {
	// Device is the capture source: an interface name, or "synthetic"
	// for the in-process replay source used by tests and demos.
	Device string `yaml:"device"`
	// Workers is the number of capture worker goroutines, one per
	// input thread of the capture source.
	Workers int `yaml:"workers"`
	// IntervalSeconds is the length of each capture interval.
	IntervalSeconds uint32 `yaml:"interval_seconds"`
	// StripVLAN requests that workers remove a single 802.1Q tag from
	// each captured frame before it is written to its interim file.
	StripVLAN bool `yaml:"strip_vlan"`
	// StatsEnabled controls whether a `.stats` sidecar is written next
	// to every merged output file.
	StatsEnabled bool `yaml:"stats_enabled"`

	// OutputTemplate is the %-directive template (see internal/template)
	// used to name both interim and final trace files.
	OutputTemplate string `yaml:"output_template"`
	// MonitorID fills the %N directive in OutputTemplate.
	MonitorID string `yaml:"monitor_id"`

	// CoordBufferSize is the coordination channel's buffer budget,
	// expressed in bytes and converted to a record count at load time
	// using a conservative fixed per-record estimate.
	CoordBufferSize datasize.ByteSize `yaml:"coord_buffer_size"`

	// PIDFile is the path the capture process writes its PID to.
	PIDFile string `yaml:"pid_file"`

	// IfaceStatsDevice optionally names a netlink interface to read
	// RX/TX drop counters from at tick time. Empty disables it.
	IfaceStatsDevice string `yaml:"iface_stats_device"`

	// OrphanScanPattern is the glob (relative to the interim
	// directory derived from OutputTemplate) used to find interim
	// files left behind by a prior halt.
	OrphanScanPattern string `yaml:"orphan_scan_pattern"`

	// Logging configures the logging subsystem.
	Logging logging.Config `yaml:"logging"`
}

// coordRecordSize is the conservative per-record footprint used to
// turn CoordBufferSize into a channel capacity: a core.CoordinationRecord
// plus scheduling overhead, rounded up.
const coordRecordSize = 256 * datasize.B

// CoordBufferRecords converts CoordBufferSize into a channel capacity,
// never less than 1 so a misconfigured (zero) budget still produces a
// one-record buffer rather than an unbuffered channel.
func (c *Config) CoordBufferRecords() int {
	records := uint64(c.CoordBufferSize) / uint64(coordRecordSize)
	if records == 0 {
		return 1
	}
	return int(records)
}

// DefaultConfig returns the configuration used when a YAML file omits
// a field, and as the base for a brand-new config.
func DefaultConfig() *Config {
	return &Config{
		Device:            "synthetic",
		Workers:           4,
		IntervalSeconds:   60,
		StripVLAN:         false,
		StatsEnabled:      true,
		OutputTemplate:    "/var/log/wdcap/%Y%m%d-%H%M%S.pcap",
		MonitorID:         "wdcap",
		CoordBufferSize:   4 * datasize.MB,
		PIDFile:           "/var/run/wdcap.pid",
		IfaceStatsDevice:  "",
		OrphanScanPattern: "*--*.pcap",
		Logging: logging.Config{
			Mode: logging.ModeAuto,
		},
	}
}

// LoadConfig reads path, unmarshals it over DefaultConfig, and
// validates the handful of fields that must not be zero.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would make capture meaningless
// (zero workers, zero-length intervals) rather than discovering that
// failure mid-run.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.IntervalSeconds == 0 {
		return fmt.Errorf("interval_seconds must be greater than 0")
	}
	if c.OutputTemplate == "" {
		return fmt.Errorf("output_template is required")
	}
	return nil
}
