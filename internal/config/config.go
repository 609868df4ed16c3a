// Package config loads the weave engine configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the engine configuration.
//
//	engine:
//	  id: worker-1
//	  max_steps: 10000
//	  async_workers: 4
//	storage:
//	  driver: sqlite
//	  path: weave.db
//	lock:
//	  max_attempts: 10
//	  initial_backoff: 10ms
//	  max_backoff: 500ms
//	log:
//	  level: info
//	  format: text
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Lock    LockConfig    `yaml:"lock"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig configures the Façade.
type EngineConfig struct {
	// ID is the lock owner id; empty picks a fresh UUIDv7 per process.
	ID           string `yaml:"id"`
	MaxSteps     int    `yaml:"max_steps"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// StorageConfig selects the backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LockConfig configures lock contention retries.
type LockConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
// Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	if errs := c.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return c, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Engine.MaxSteps <= 0 {
		c.Engine.MaxSteps = 10000
	}
	if c.Engine.AsyncWorkers <= 0 {
		c.Engine.AsyncWorkers = 4
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}

	if c.Lock.MaxAttempts <= 0 {
		c.Lock.MaxAttempts = 10
	}
	if c.Lock.InitialBackoff <= 0 {
		c.Lock.InitialBackoff = 10 * time.Millisecond
	}
	if c.Lock.MaxBackoff <= 0 {
		c.Lock.MaxBackoff = 500 * time.Millisecond
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: must be memory or sqlite", c.Storage.Driver))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, errors.New("engine.max_steps must not be negative"))
	}
	if c.Lock.MaxBackoff < c.Lock.InitialBackoff {
		errs = append(errs, fmt.Errorf("lock.max_backoff %s is below lock.initial_backoff %s",
			c.Lock.MaxBackoff, c.Lock.InitialBackoff))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}
	return errs
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}
