// Package config loads the TOML configuration of the dlt command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/eshenhu/dlt"
	"github.com/eshenhu/dlt/daemon"
	"github.com/eshenhu/dlt/internal/logging"
)

type Config struct {
	Daemon DaemonConfig   `toml:"daemon"`
	Log    logging.Config `toml:"log"`
	Viewer ViewerConfig   `toml:"viewer"`
	Bridge BridgeConfig   `toml:"bridge"`
}

type DaemonConfig struct {
	Addr               string   `toml:"addr"`
	ECUID              string   `toml:"ecu_id"`
	SoftwareVersion    string   `toml:"software_version"`
	DefaultLogLevel    int      `toml:"default_log_level"`
	DefaultTraceStatus int      `toml:"default_trace_status"`
	Filtering          bool     `toml:"filtering"`
	StorePath          string   `toml:"store_path"`
	Heartbeat          Duration `toml:"heartbeat"`
	MetricsAddr        string   `toml:"metrics_addr"`
	LogChannels        []string `toml:"log_channels"`
	QueueDepth         int      `toml:"queue_depth"`
	SerialHeader       bool     `toml:"serial_header"`
}

type ViewerConfig struct {
	Addr         string `toml:"addr"`
	SerialHeader bool   `toml:"serial_header"`
	JSON         bool   `toml:"json"`
}

type BridgeConfig struct {
	DaemonAddr string `toml:"daemon_addr"`
	ListenAddr string `toml:"listen_addr"`
	Path       string `toml:"path"`
}

// Duration is a time.Duration written as "30s" in the file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used without a file.
func Default() Config {
	dc := daemon.DefaultConfig()
	return Config{
		Daemon: DaemonConfig{
			Addr:               ":3490",
			ECUID:              dc.ECUID.String(),
			SoftwareVersion:    dc.SoftwareVersion,
			DefaultLogLevel:    int(dc.DefaultLogLevel),
			DefaultTraceStatus: int(dc.DefaultTraceStatus),
			Heartbeat:          Duration{dc.Heartbeat},
			LogChannels:        dc.LogChannels,
			QueueDepth:         dc.QueueDepth,
		},
		Log: logging.Config{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Viewer: ViewerConfig{
			Addr: "127.0.0.1:3490",
		},
		Bridge: BridgeConfig{
			DaemonAddr: "127.0.0.1:3490",
			ListenAddr: ":8080",
			Path:       "/ws",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	d := c.Daemon
	if len(d.ECUID) == 0 || len(d.ECUID) > dlt.IDSize {
		errs = append(errs, fmt.Errorf("daemon.ecu_id: %q must be 1 to %d bytes", d.ECUID, dlt.IDSize))
	}
	if d.DefaultLogLevel < int(dlt.LogLevelOff) || d.DefaultLogLevel > int(dlt.LogVerbose) {
		errs = append(errs, fmt.Errorf("daemon.default_log_level: %d out of range 0..6", d.DefaultLogLevel))
	}
	if d.DefaultTraceStatus < int(dlt.TraceStatusOff) || d.DefaultTraceStatus > int(dlt.TraceStatusOn) {
		errs = append(errs, fmt.Errorf("daemon.default_trace_status: %d out of range 0..1", d.DefaultTraceStatus))
	}
	if d.Heartbeat.Duration < 0 {
		errs = append(errs, errors.New("daemon.heartbeat: negative"))
	}
	if len(d.LogChannels) > 0xFF {
		errs = append(errs, fmt.Errorf("daemon.log_channels: %d channels, at most 255", len(d.LogChannels)))
	}
	for _, ch := range d.LogChannels {
		if len(ch) == 0 || len(ch) > dlt.IDSize {
			errs = append(errs, fmt.Errorf("daemon.log_channels: %q must be 1 to %d bytes", ch, dlt.IDSize))
		}
	}
	if c.Bridge.Path == "" || !strings.HasPrefix(c.Bridge.Path, "/") {
		errs = append(errs, fmt.Errorf("bridge.path: %q must start with /", c.Bridge.Path))
	}
	return errors.Join(errs...)
}

// DaemonConfig converts the [daemon] section.
func (c Config) DaemonConfig() daemon.Config {
	dc := daemon.DefaultConfig()
	dc.ECUID = dlt.MakeID(c.Daemon.ECUID)
	dc.SoftwareVersion = c.Daemon.SoftwareVersion
	dc.DefaultLogLevel = int8(c.Daemon.DefaultLogLevel)
	dc.DefaultTraceStatus = int8(c.Daemon.DefaultTraceStatus)
	dc.Filtering = c.Daemon.Filtering
	dc.Heartbeat = c.Daemon.Heartbeat.Duration
	dc.LogChannels = c.Daemon.LogChannels
	dc.QueueDepth = c.Daemon.QueueDepth
	dc.SerialHeader = c.Daemon.SerialHeader
	return dc
}
