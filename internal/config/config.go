// Package config loads joinkit settings from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/joinkit/internal/logging"
)

// Defaults applied to unset values.
const (
	DefaultDriver           = "sqlite"
	DefaultPath             = "joinkit.db"
	DefaultBatchSize        = 250
	DefaultFallbackEncoding = "windows-1252"
	DefaultAliasAttempts    = 32
)

// Config is the complete joinkit configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects the backing store. sqlite uses Path; postgres and
// mssql use DSN, or build one from the connection fields.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	Encrypt  string `yaml:"encrypt"`
}

// IngestConfig tunes conversions.
type IngestConfig struct {
	// BatchSize is the number of records loaded per conversion step.
	BatchSize int `yaml:"batch_size"`

	// FallbackEncoding decodes text that is not valid UTF-8 when the
	// source does not declare its own code page. IANA name.
	FallbackEncoding string `yaml:"fallback_encoding"`
}

// RegistryConfig tunes alias generation.
type RegistryConfig struct {
	AliasAttempts int `yaml:"alias_attempts"`
}

// LoggingConfig sets the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file, expands ${VAR} references, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultDriver
	}
	if c.Store.Driver == "sqlserver" {
		c.Store.Driver = "mssql"
	}
	if c.Store.Driver == DefaultDriver && c.Store.Path == "" {
		c.Store.Path = DefaultPath
	}
	if c.Store.Port == 0 {
		switch c.Store.Driver {
		case "postgres":
			c.Store.Port = 5432
		case "mssql":
			c.Store.Port = 1433
		}
	}
	if c.Store.SSLMode == "" {
		c.Store.SSLMode = "prefer"
	}
	if c.Store.Encrypt == "" {
		c.Store.Encrypt = "true"
	}

	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = DefaultBatchSize
	}
	if c.Ingest.FallbackEncoding == "" {
		c.Ingest.FallbackEncoding = DefaultFallbackEncoding
	}
	if c.Registry.AliasAttempts == 0 {
		c.Registry.AliasAttempts = DefaultAliasAttempts
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks a configuration built in code.
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres", "mssql":
		if c.Store.DSN == "" && (c.Store.Host == "" || c.Store.Database == "") {
			return fmt.Errorf("store.dsn or store.host and store.database are required for %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store.driver %q (valid: sqlite, postgres, mssql)", c.Store.Driver)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if _, err := c.FallbackEncoding(); err != nil {
		return err
	}
	if c.Registry.AliasAttempts < 1 {
		return fmt.Errorf("registry.alias_attempts must be positive, got %d", c.Registry.AliasAttempts)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// FallbackEncoding resolves Ingest.FallbackEncoding.
func (c *Config) FallbackEncoding() (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(c.Ingest.FallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("ingest.fallback_encoding %q: %w", c.Ingest.FallbackEncoding, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("ingest.fallback_encoding %q is not supported", c.Ingest.FallbackEncoding)
	}
	return enc, nil
}

// ConnString returns what the store driver opens: the sqlite file path, or
// the postgres/mssql DSN.
func (c *Config) ConnString() string {
	s := c.Store
	switch s.Driver {
	case "postgres":
		if s.DSN != "" {
			return s.DSN
		}
		return c.buildPostgresDSN(s.Host, s.Port, s.Database, s.User, s.Password, s.SSLMode)
	case "mssql":
		if s.DSN != "" {
			return s.DSN
		}
		return c.buildMSSQLDSN(s.Host, s.Port, s.Database, s.User, s.Password, s.Encrypt)
	}
	return s.Path
}

func (c *Config) buildPostgresDSN(host string, port int, database, user, password, sslMode string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.PathEscape(database), url.QueryEscape(sslMode))
}

func (c *Config) buildMSSQLDSN(host string, port int, database, user, password, encrypt string) string {
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.QueryEscape(database), url.QueryEscape(encrypt))
}
