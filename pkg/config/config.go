package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel    string        `yaml:"log_level" default:"info"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"180s"`
	// AppTag prefixes the adapter name while a session runs; "-" disables renaming
	AppTag string `yaml:"app_tag" default:"mDL"`
	// Option is the device retrieval option: central or peripheral
	Option      string `yaml:"option" default:"peripheral"`
	JournalSize uint32 `yaml:"journal_size" default:"256"`
	// OutputFormat is text or json
	OutputFormat string `yaml:"output_format" default:"text"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	defaults.SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative, got %s", c.ScanTimeout)
	}
	switch c.Option {
	case "central", "peripheral":
	default:
		return fmt.Errorf("option must be \"central\" or \"peripheral\", got %q", c.Option)
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("output_format must be \"text\" or \"json\", got %q", c.OutputFormat)
	}
	return nil
}

// Tag returns the adapter name prefix, empty when renaming is disabled
func (c *Config) Tag() string {
	if c.AppTag == "-" {
		return ""
	}
	return c.AppTag
}

// Level returns the parsed log level, info when it does not parse
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
