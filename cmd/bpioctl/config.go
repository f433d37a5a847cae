package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const configEnv = "BPIOCTL_CONFIG"

// Config is loaded from the file named by --config or $BPIOCTL_CONFIG. With
// neither set, the defaults apply. Flags override the file.
type Config struct {
	// Port is the BPIO2 serial device, the second CDC interface of the
	// Bus Pirate.
	Port string `yaml:"port"`

	// Timeout bounds each request; negative waits forever.
	Timeout time.Duration `yaml:"timeout"`

	MaxFrameSize int `yaml:"max_frame_size"`

	// Capture is a capture database. When set, device commands record
	// their traffic into a new session.
	Capture string `yaml:"capture"`

	// WireLog is a directory that device commands append raw frames to.
	WireLog string `yaml:"wirelog"`

	// Compression is the default for capture export: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	LogLevel string `yaml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Port:         "/dev/ttyACM1",
		Timeout:      5 * time.Second,
		MaxFrameSize: 64 * 1024,
		Compression:  "zstd",
		LogLevel:     "info",
	}
}

// LoadConfig reads the config file, falling back to $BPIOCTL_CONFIG when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("config: %s: port must not be empty", path)
	}
	return cfg, nil
}

// overrides are the global flags that shadow config values.
type overrides struct {
	port         string
	timeout      time.Duration
	maxFrameSize int
	capture      string
	wireLog      string
}

func (o *overrides) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.port, "port", "p", "", "serial device")
	fs.DurationVar(&o.timeout, "timeout", 0, "per-request timeout")
	fs.IntVar(&o.maxFrameSize, "max-frame-size", 0, "largest frame accepted from the device")
	fs.StringVar(&o.capture, "capture", "", "capture database to record into and read from")
	fs.StringVar(&o.wireLog, "wirelog", "", "directory to append raw link traffic to")
}

func (o *overrides) apply(fs *pflag.FlagSet, cfg *Config) {
	if fs.Changed("port") {
		cfg.Port = o.port
	}
	if fs.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if fs.Changed("max-frame-size") {
		cfg.MaxFrameSize = o.maxFrameSize
	}
	if fs.Changed("capture") {
		cfg.Capture = o.capture
	}
	if fs.Changed("wirelog") {
		cfg.WireLog = o.wireLog
	}
}
