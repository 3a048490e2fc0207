// Copyright © 2018 One Concern

// Package config holds the configuration of a refdb engine, loaded from a yaml file and REFDB_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/oneconcern/refdb/pkg/dlogger"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	// EnvConfig points to a config file, bypassing the lookup of refdb.yaml
	EnvConfig = "REFDB_CONFIG"

	envPrefix  = "REFDB"
	configName = "refdb"
)

// Backends of the object store
const (
	StorageLocal = "localfs"
	StorageS3    = "s3"
)

// Backends of the ref database
const (
	RefsBadger   = "badger"
	RefsSQLite   = "sqlite"
	RefsPostgres = "postgres"
)

// Config of a refdb engine
type Config struct {
	Repository string        `mapstructure:"repository" json:"repository" yaml:"repository"`
	LogLevel   string        `mapstructure:"loglevel" json:"loglevel" yaml:"loglevel"`
	Actor      ActorConfig   `mapstructure:"actor" json:"actor" yaml:"actor"`
	Objects    ObjectsConfig `mapstructure:"objects" json:"objects" yaml:"objects"`
	Refs       RefsConfig    `mapstructure:"refs" json:"refs" yaml:"refs"`
	Cache      CacheConfig   `mapstructure:"cache" json:"cache" yaml:"cache"`
	Retry      RetryConfig   `mapstructure:"retry" json:"retry" yaml:"retry"`
	Journal    JournalConfig `mapstructure:"journal" json:"journal" yaml:"journal"`
	NATS       NATSConfig    `mapstructure:"nats" json:"nats" yaml:"nats"`
	Metrics    MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
}

// ActorConfig is the default author of changes
type ActorConfig struct {
	Name  string `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
	Email string `mapstructure:"email" json:"email,omitempty" yaml:"email,omitempty"`
}

// ObjectsConfig locates the object store
type ObjectsConfig struct {
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`

	// Path of the local object store. An empty path keeps objects in memory.
	Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`

	Bucket    string `mapstructure:"bucket" json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region    string `mapstructure:"region" json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	PathStyle bool   `mapstructure:"pathstyle" json:"pathstyle,omitempty" yaml:"pathstyle,omitempty"`

	// Tracing wraps storage calls in opentracing spans
	Tracing bool `mapstructure:"tracing" json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// RefsConfig locates the ref database
type RefsConfig struct {
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`

	// Path of the badger directory, or of the sqlite file. An empty path keeps refs in memory.
	Path string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`

	// DSN of the postgres database
	DSN string `mapstructure:"dsn" json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// Badger tuning, as human readable sizes (e.g. "64MB")
	MemTableSize     string `mapstructure:"memtablesize" json:"memtablesize,omitempty" yaml:"memtablesize,omitempty"`
	ValueLogFileSize string `mapstructure:"valuelogfilesize" json:"valuelogfilesize,omitempty" yaml:"valuelogfilesize,omitempty"`
	SyncWrites       bool   `mapstructure:"syncwrites" json:"syncwrites" yaml:"syncwrites"`
}

// CacheConfig sizes the in-process caches of decoded revisions and index snapshots
type CacheConfig struct {
	Revisions int `mapstructure:"revisions" json:"revisions" yaml:"revisions"`
	Indexes   int `mapstructure:"indexes" json:"indexes" yaml:"indexes"`
}

// RetryConfig bounds retries of transactions which lost a race
type RetryConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	InitialInterval time.Duration `mapstructure:"initialinterval" json:"initialinterval" yaml:"initialinterval"`
	MaxInterval     time.Duration `mapstructure:"maxinterval" json:"maxinterval" yaml:"maxinterval"`
	MaxAttempts     uint64        `mapstructure:"maxattempts" json:"maxattempts,omitempty" yaml:"maxattempts,omitempty"`
}

// JournalConfig enables the change journal, kept in the object store
type JournalConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Skew    time.Duration `mapstructure:"skew" json:"skew,omitempty" yaml:"skew,omitempty"`
}

// NATSConfig enables publication of change events on NATS
type NATSConfig struct {
	URL     string `mapstructure:"url" json:"url,omitempty" yaml:"url,omitempty"`
	Subject string `mapstructure:"subject" json:"subject" yaml:"subject"`
}

// MetricsConfig of the prometheus collectors
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
}

// Default configuration: a local repository under .refdb
func Default() Config {
	return Config{
		Repository: "refdb",
		LogLevel:   dlogger.LogLevelInfo,
		Objects: ObjectsConfig{
			Backend: StorageLocal,
			Path:    filepath.Join(".refdb", "objects"),
			Region:  "us-east-1",
		},
		Refs: RefsConfig{
			Backend:          RefsBadger,
			Path:             filepath.Join(".refdb", "refs"),
			MemTableSize:     "16MB",
			ValueLogFileSize: "64MB",
			SyncWrites:       true,
		},
		Cache: CacheConfig{
			Revisions: 1024,
			Indexes:   16,
		},
		Retry: RetryConfig{
			Timeout:         30 * time.Second,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     time.Second,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		NATS: NATSConfig{
			Subject: "refdb.changes",
		},
		Metrics: MetricsConfig{
			Namespace: "refdb",
		},
	}
}

// SetDefaults registers the default configuration with viper
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("repository", d.Repository)
	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("actor.name", d.Actor.Name)
	v.SetDefault("actor.email", d.Actor.Email)
	v.SetDefault("objects.backend", d.Objects.Backend)
	v.SetDefault("objects.path", d.Objects.Path)
	v.SetDefault("objects.bucket", d.Objects.Bucket)
	v.SetDefault("objects.region", d.Objects.Region)
	v.SetDefault("objects.endpoint", d.Objects.Endpoint)
	v.SetDefault("objects.pathstyle", d.Objects.PathStyle)
	v.SetDefault("objects.tracing", d.Objects.Tracing)
	v.SetDefault("refs.backend", d.Refs.Backend)
	v.SetDefault("refs.path", d.Refs.Path)
	v.SetDefault("refs.dsn", d.Refs.DSN)
	v.SetDefault("refs.memtablesize", d.Refs.MemTableSize)
	v.SetDefault("refs.valuelogfilesize", d.Refs.ValueLogFileSize)
	v.SetDefault("refs.syncwrites", d.Refs.SyncWrites)
	v.SetDefault("cache.revisions", d.Cache.Revisions)
	v.SetDefault("cache.indexes", d.Cache.Indexes)
	v.SetDefault("retry.timeout", d.Retry.Timeout)
	v.SetDefault("retry.initialinterval", d.Retry.InitialInterval)
	v.SetDefault("retry.maxinterval", d.Retry.MaxInterval)
	v.SetDefault("retry.maxattempts", d.Retry.MaxAttempts)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.skew", d.Journal.Skew)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// Load the configuration.
//
// The config file is $REFDB_CONFIG when set, otherwise refdb.yaml looked up in ., $HOME/.refdb and /etc/refdb.
// A missing config file is not an error. Environment variables such as REFDB_REFS_BACKEND override the file.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	if file := os.Getenv(EnvConfig); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".refdb"))
		v.AddConfigPath(filepath.Join("/etc", "refdb"))
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate the configuration
func (c Config) Validate() error {
	switch c.Objects.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Objects.Bucket == "" {
			return fmt.Errorf("objects: the s3 backend requires a bucket")
		}
	default:
		return fmt.Errorf("objects: unsupported backend %q", c.Objects.Backend)
	}

	switch c.Refs.Backend {
	case RefsBadger:
		if _, _, err := c.Refs.BadgerSizes(); err != nil {
			return err
		}
	case RefsSQLite:
	case RefsPostgres:
		if c.Refs.DSN == "" {
			return fmt.Errorf("refs: the postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("refs: unsupported backend %q", c.Refs.Backend)
	}

	if c.Repository == "" {
		return fmt.Errorf("a repository name is required")
	}
	if c.Cache.Revisions < 0 || c.Cache.Indexes < 0 {
		return fmt.Errorf("cache: sizes must not be negative")
	}
	return nil
}

// BadgerSizes parses the memtable and value log file sizes. Empty sizes are 0, leaving the badger defaults.
func (r RefsConfig) BadgerSizes() (memTable int64, valueLogFile int64, err error) {
	if r.MemTableSize != "" {
		if memTable, err = units.RAMInBytes(r.MemTableSize); err != nil {
			return 0, 0, fmt.Errorf("refs: invalid memtablesize %q: %w", r.MemTableSize, err)
		}
	}
	if r.ValueLogFileSize != "" {
		if valueLogFile, err = units.RAMInBytes(r.ValueLogFileSize); err != nil {
			return 0, 0, fmt.Errorf("refs: invalid valuelogfilesize %q: %w", r.ValueLogFileSize, err)
		}
	}
	return memTable, valueLogFile, nil
}

// Marshal the configuration as yaml
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
