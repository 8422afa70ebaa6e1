// Package config loads bandlink configuration from YAML with defaults
// applied first, so a partial (or absent) file always yields a usable
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bandlink/internal/batch"
)

// Config holds application configuration
type Config struct {
	LogLevel string       `yaml:"log_level" default:"info"`
	Device   DeviceConfig `yaml:"device"`
	Scan     ScanConfig   `yaml:"scan"`
	Batches  BatchConfig  `yaml:"batches"`
	Record   RecordConfig `yaml:"record"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	HTTP     HTTPConfig   `yaml:"http"`
}

// DeviceConfig controls the BLE connection.
type DeviceConfig struct {
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	AutoReconnect  bool          `yaml:"auto_reconnect" default:"true"`
}

// ScanConfig controls device discovery.
type ScanConfig struct {
	Duration  time.Duration `yaml:"duration" default:"10s"`
	BandsOnly bool          `yaml:"bands_only" default:"true"`
}

// SensorBatch is one sensor's default batching policy. Count and Window are
// mutually exclusive; a non-zero Window wins.
type SensorBatch struct {
	Count  int           `yaml:"count"`
	Window time.Duration `yaml:"window"`
}

// Policy converts the configured values to a batch policy, or reports that
// the sensor has no default configured.
func (s SensorBatch) Policy() (batch.Policy, bool) {
	if s.Window > 0 {
		return batch.Window(s.Window), true
	}
	if s.Count > 0 {
		return batch.Count(s.Count), true
	}
	return batch.Policy{}, false
}

// BatchConfig holds per-sensor batching defaults.
type BatchConfig struct {
	EEG   SensorBatch `yaml:"eeg"`
	PPG   SensorBatch `yaml:"ppg"`
	Accel SensorBatch `yaml:"accel"`
}

// RecordConfig controls on-disk recording sessions.
type RecordConfig struct {
	Dir    string `yaml:"dir" default:"./recordings"`
	SQLite bool   `yaml:"sqlite"`
	EDF    bool   `yaml:"edf"`
}

// MQTTConfig controls the live batch publisher.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker" default:"localhost"`
	Port            int    `yaml:"port" default:"1883"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix" default:"bandlink"`
	QoS             byte   `yaml:"qos"`
	UseTLS          bool   `yaml:"use_tls"`
	InsecureSkipTLS bool   `yaml:"insecure_skip_tls"`
}

// HTTPConfig controls the status API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" default:":8080"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
