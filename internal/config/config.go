// Package config loads satdb settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/satdb/internal/logging"
	"github.com/signalsfoundry/satdb/internal/observability"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Database Database                    `yaml:"database"`
	Redis    Redis                       `yaml:"redis"`
	Ingest   Ingest                      `yaml:"ingest"`
	Logging  Logging                     `yaml:"logging"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
	Metrics  Metrics                     `yaml:"metrics"`
}

// Database describes the PostgreSQL connection.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Redis describes the element set text cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Ingest tunes the ingestion pipeline.
type Ingest struct {
	Workers       int           `yaml:"workers"`
	ProgressEvery time.Duration `yaml:"progress_every"`
}

// Logging selects level and handler format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: Database{
			Host:    "localhost",
			Port:    5432,
			Name:    "spaceobjects",
			User:    "satdb",
			SSLMode: "disable",
		},
		Redis: Redis{
			TTL: 24 * time.Hour,
		},
		Ingest: Ingest{
			Workers:       4,
			ProgressEvery: 10 * time.Second,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg. Unknown keys are rejected. An empty
// document leaves cfg unchanged.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ApplyEnv overlays SATDB_* and LOG_* environment variables.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}

	setString("SATDB_DB_HOST", &c.Database.Host)
	setString("SATDB_DB_NAME", &c.Database.Name)
	setString("SATDB_DB_USER", &c.Database.User)
	setString("SATDB_DB_PASSWORD", &c.Database.Password)
	setString("SATDB_DB_SSLMODE", &c.Database.SSLMode)
	setString("SATDB_REDIS_ADDR", &c.Redis.Addr)
	setString("SATDB_REDIS_PASSWORD", &c.Redis.Password)
	setString("SATDB_METRICS_ADDR", &c.Metrics.Addr)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	if err := setInt("SATDB_DB_PORT", &c.Database.Port); err != nil {
		return err
	}
	if err := setInt("SATDB_INGEST_WORKERS", &c.Ingest.Workers); err != nil {
		return err
	}
	c.Tracing = observability.ApplyTracingEnv(c.Tracing)
	return nil
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	var problems []string
	if c.Database.Host == "" {
		problems = append(problems, "database.host is empty")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		problems = append(problems, fmt.Sprintf("database.port %d outside 1-65535", c.Database.Port))
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.name is empty")
	}
	switch c.Database.SSLMode {
	case "", "disable", "require", "verify-ca", "verify-full":
	default:
		problems = append(problems, fmt.Sprintf("database.sslmode %q not recognised", c.Database.SSLMode))
	}
	if c.Redis.DB < 0 {
		problems = append(problems, "redis.db is negative")
	}
	if c.Redis.TTL < 0 {
		problems = append(problems, "redis.ttl is negative")
	}
	if c.Ingest.Workers < 1 {
		problems = append(problems, fmt.Sprintf("ingest.workers must be >= 1, got %d", c.Ingest.Workers))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		problems = append(problems, fmt.Sprintf("tracing.sample_ratio %v outside [0, 1]", r))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DSN renders the lib/pq connection URL.
func (d Database) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// LoggerConfig maps the logging section onto the logger constructor.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: strings.EqualFold(c.Logging.Level, "debug"),
	}
}
