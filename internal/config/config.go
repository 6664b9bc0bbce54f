// Package config loads the backend configuration document: which storage
// technology serves each entity, the connection parameters per backend,
// where migration backups go, and the relationship defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

const (
	defaultDelimiter   = ";"
	defaultDataDir     = "data"
	defaultBackupDir   = "backups"
	defaultSQLitePath  = "data/forms.db"
	defaultBusyTimeout = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration document.
type Config struct {
	Default       DefaultConfig            `toml:"default"`
	FlatFile      FlatFileConfig           `toml:"flatfile"`
	SQLite        SQLiteConfig             `toml:"sqlite"`
	Postgres      PostgresConfig           `toml:"postgres"`
	Backup        BackupConfig             `toml:"backup"`
	Relationships RelationshipConfig       `toml:"relationships"`
	Entities      map[string]EntityBinding `toml:"entities"`
}

// DefaultConfig holds the global fallbacks applied when an entity has no
// explicit binding.
type DefaultConfig struct {
	Backend domain.BackendType `toml:"backend"`
}

// FlatFileConfig configures the delimited text file backend.
type FlatFileConfig struct {
	Dir       string `toml:"dir"`
	Delimiter string `toml:"delimiter"`
}

// SQLiteConfig configures the embedded SQL backend.
type SQLiteConfig struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

// PostgresConfig configures the networked SQL backend.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// BackupConfig selects where migration backup artifacts are written.
type BackupConfig struct {
	// Driver is fs, memory or s3.
	Driver string `toml:"driver"`
	// Dir is the artifact directory for the fs driver.
	Dir string `toml:"dir"`
	// S3 parameters, used when driver=s3.
	S3Bucket    string `toml:"s3_bucket"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
}

// RelationshipConfig carries relationship defaults and per-entity/field
// cardinality rules.
type RelationshipConfig struct {
	// SyncStrategy defaults to lazy.
	SyncStrategy domain.SyncStrategy `toml:"sync_strategy"`
	// ReplaceOneToOne selects replace-instead-of-reject when a second
	// active row lands on a one-to-one relationship.
	ReplaceOneToOne bool `toml:"replace_one_to_one"`
	// Cardinality maps "entity.field" to a cardinality rule.
	Cardinality map[string]domain.Cardinality `toml:"cardinality"`
}

// EntityBinding binds one entity to a backend type.
type EntityBinding struct {
	Backend domain.BackendType `toml:"backend"`
}

// Default returns the built-in configuration document.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a TOML configuration document. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Default.Backend == "" {
		c.Default.Backend = domain.BackendFlatFile
	}
	if c.FlatFile.Dir == "" {
		c.FlatFile.Dir = defaultDataDir
	}
	if c.FlatFile.Delimiter == "" {
		c.FlatFile.Delimiter = defaultDelimiter
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = defaultSQLitePath
	}
	if c.SQLite.BusyTimeout <= 0 {
		c.SQLite.BusyTimeout = defaultBusyTimeout
	}
	if c.Backup.Driver == "" {
		c.Backup.Driver = "fs"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = defaultBackupDir
	}
	if c.Relationships.SyncStrategy == "" {
		c.Relationships.SyncStrategy = domain.SyncLazy
	}
	if c.Entities == nil {
		c.Entities = make(map[string]EntityBinding)
	}
}

// Validate rejects unknown backend types and malformed bindings.
func (c *Config) Validate() error {
	if !knownBackend(c.Default.Backend) {
		return fmt.Errorf("%w: default backend %q", ErrInvalidConfig, c.Default.Backend)
	}
	for entity, binding := range c.Entities {
		if binding.Backend != "" && !knownBackend(binding.Backend) {
			return fmt.Errorf("%w: entity %s backend %q", ErrInvalidConfig, entity, binding.Backend)
		}
	}
	switch c.Relationships.SyncStrategy {
	case domain.SyncEager, domain.SyncLazy, domain.SyncScheduled:
	default:
		return fmt.Errorf("%w: sync strategy %q", ErrInvalidConfig, c.Relationships.SyncStrategy)
	}
	for key, card := range c.Relationships.Cardinality {
		switch card {
		case domain.OneToOne, domain.OneToMany, domain.ManyToMany:
		default:
			return fmt.Errorf("%w: cardinality %q for %s", ErrInvalidConfig, card, key)
		}
	}
	return nil
}

// BackendFor resolves the backend type bound to an entity, falling back
// to the global default.
func (c *Config) BackendFor(entity string) domain.BackendType {
	if binding, ok := c.Entities[entity]; ok && binding.Backend != "" {
		return binding.Backend
	}
	return c.Default.Backend
}

// CardinalityFor returns the configured cardinality rule for an
// entity/field pair, defaulting to one-to-many.
func (c *Config) CardinalityFor(entity, field string) domain.Cardinality {
	if card, ok := c.Relationships.Cardinality[entity+"."+field]; ok {
		return card
	}
	return domain.OneToMany
}

func knownBackend(t domain.BackendType) bool {
	switch t {
	case domain.BackendFlatFile, domain.BackendSQLite, domain.BackendPostgres:
		return true
	}
	return false
}
