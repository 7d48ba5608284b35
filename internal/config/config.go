// Package config loads the run configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docloader/internal/catalog"
	"docloader/internal/dbclient"
	"docloader/internal/domain"
	"docloader/internal/etl"
	"docloader/internal/etl/sources"
	"docloader/internal/helpers"
	"docloader/internal/logging"
	"docloader/internal/storage"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "docloader.yaml"

// Config is the full run configuration.
type Config struct {
	CatalogPath string                 `yaml:"catalog_path"`
	Datastore   dbclient.Options       `yaml:"datastore"`
	Load        LoadConfig             `yaml:"load"`
	Transform   etl.TransformPolicy    `yaml:"transform"`
	Sources     sources.Config         `yaml:"sources"`
	Status      StatusConfig           `yaml:"status"`
	Schedule    ScheduleConfig         `yaml:"schedule"`
	Metrics     MetricsConfig          `yaml:"metrics"`
	Logging     logging.Config         `yaml:"logging"`
	Resources   helpers.ResourceConfig `yaml:"resources"`
	Secrets     SecretsConfig          `yaml:"secrets"`
}

// LoadConfig holds the batch settings.
type LoadConfig struct {
	Mode                  domain.LoadMode `yaml:"mode"`
	Workers               int             `yaml:"workers"`
	ChunkSize             int             `yaml:"chunk_size"`
	MaxStepLength         int             `yaml:"max_step_length"`
	PruneDocumentSizeMB   float64         `yaml:"prune_document_size_mb"`
	DocumentStyle         string          `yaml:"document_style"`
	ValidationLevel       string          `yaml:"validation_level"`
	ReadBackCheck         bool            `yaml:"read_back_check"`
	LocatorTimeout        time.Duration   `yaml:"locator_timeout"`
	BatchTimeout          time.Duration   `yaml:"batch_timeout"`
	UpdateSchemaOnReplace bool            `yaml:"update_schema_on_replace"`
	Salvage               bool            `yaml:"salvage"`
	Collections           []string        `yaml:"collections"`
	DataSelectors         []string        `yaml:"data_selectors"`
	LocatorsPath          string          `yaml:"locators_path"`
	FailedLocatorsPath    string          `yaml:"failed_locators_path"`
	SaveLocatorsPath      string          `yaml:"save_locators_path"`
}

// StatusConfig selects the status store. An empty driver disables it.
type StatusConfig struct {
	storage.Options `yaml:",inline"`
	PasswordKey     string `yaml:"password_key"`
}

// ScheduleConfig drives `serve`.
type ScheduleConfig struct {
	Cron       string        `yaml:"cron"`
	WatchPath  string        `yaml:"watch_path"`
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// SecretsConfig selects where passwords come from.
type SecretsConfig struct {
	Store                string `yaml:"store"`
	DatastorePasswordKey string `yaml:"datastore_password_key"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	batch := etl.DefaultBatchConfig()
	return &Config{
		CatalogPath: "catalog.yaml",
		Datastore: dbclient.Options{
			Driver:   dbclient.DriverMongoDB,
			Host:     "localhost",
			Port:     27017,
			Database: "docloader",
			Timeout:  30 * time.Second,
		},
		Load: LoadConfig{
			Mode:                  batch.Mode,
			Workers:               batch.Workers,
			ChunkSize:             batch.ChunkSize,
			MaxStepLength:         batch.MaxStepLength,
			DocumentStyle:         string(etl.StyleRowwiseByNameWithCardinality),
			ValidationLevel:       batch.ValidationLevel,
			LocatorTimeout:        batch.LocatorTimeout,
			UpdateSchemaOnReplace: batch.UpdateSchemaOnReplace,
			LocatorsPath:          "locators.txt",
		},
		Transform: etl.DefaultTransformPolicy(),
		Sources: sources.Config{
			HTTP: sources.HTTPConfig{Timeout: 30 * time.Second, RetryMax: 3},
		},
		Schedule: ScheduleConfig{RunTimeout: 6 * time.Hour},
		Metrics:  MetricsConfig{Listen: ":9464"},
		Logging:  logging.Config{Level: "info"},
		Secrets: SecretsConfig{
			Store:                "env",
			DatastorePasswordKey: "datastore.password",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigErrorf("config", "failed to parse %s: %v", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if uri := os.Getenv("DOCLOADER_MONGO_URI"); uri != "" {
		c.Datastore.URI = uri
	}
	if db := os.Getenv("DOCLOADER_DATABASE"); db != "" {
		c.Datastore.Database = db
	}
	if w := os.Getenv("DOCLOADER_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			c.Load.Workers = n
		}
	}
	if dsn := os.Getenv("DOCLOADER_STATUS_DSN"); dsn != "" {
		c.Status.DSN = dsn
	}
	if lvl := os.Getenv("DOCLOADER_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c *Config) Validate() error {
	switch c.Load.Mode {
	case domain.LoadFull, domain.LoadReplace:
	default:
		return domain.ConfigErrorf("load.mode", "invalid mode %q (valid: full, replace)", c.Load.Mode)
	}
	if c.Load.Workers < 1 {
		return domain.ConfigErrorf("load.workers", "must be at least 1, got %d", c.Load.Workers)
	}
	if c.Load.ChunkSize < 1 {
		return domain.ConfigErrorf("load.chunk_size", "must be at least 1, got %d", c.Load.ChunkSize)
	}
	if c.Load.MaxStepLength < 1 {
		return domain.ConfigErrorf("load.max_step_length", "must be at least 1, got %d", c.Load.MaxStepLength)
	}
	if c.Load.PruneDocumentSizeMB < 0 {
		return domain.ConfigErrorf("load.prune_document_size_mb", "must not be negative")
	}
	if !etl.DocumentStyle(c.Load.DocumentStyle).Valid() {
		return domain.ConfigErrorf("load.document_style", "unknown style %q", c.Load.DocumentStyle)
	}
	switch c.Load.ValidationLevel {
	case catalog.ValidationNone, catalog.ValidationMin, catalog.ValidationFull:
	default:
		return domain.ConfigErrorf("load.validation_level", "invalid level %q (valid: none, min, full)", c.Load.ValidationLevel)
	}
	switch c.Datastore.Driver {
	case dbclient.DriverMongoDB, dbclient.DriverMemory:
	default:
		return domain.ConfigErrorf("datastore.driver", "unsupported driver %q", c.Datastore.Driver)
	}
	if c.Datastore.Database == "" {
		return domain.ConfigErrorf("datastore.database", "database name is required")
	}
	if c.CatalogPath == "" {
		return domain.ConfigErrorf("catalog_path", "catalog path is required")
	}
	switch c.Status.Driver {
	case "", storage.DriverSQLite, storage.DriverMySQL, storage.DriverPostgres:
	default:
		return domain.ConfigErrorf("status.driver", "unsupported driver %q", c.Status.Driver)
	}
	if c.Logging.Level != "" {
		switch strings.ToLower(c.Logging.Level) {
		case "debug", "info", "warn", "error":
		default:
			return domain.ConfigErrorf("logging.level", "invalid level %q", c.Logging.Level)
		}
	}
	return nil
}

// BatchConfig converts the load section for the BatchLoader.
func (c *Config) BatchConfig() etl.BatchConfig {
	l := c.Load
	return etl.BatchConfig{
		Mode:                  l.Mode,
		Workers:               l.Workers,
		ChunkSize:             l.ChunkSize,
		MaxStepLength:         l.MaxStepLength,
		PruneDocumentSizeMB:   l.PruneDocumentSizeMB,
		ValidationLevel:       l.ValidationLevel,
		ReadBackCheck:         l.ReadBackCheck,
		UpdateSchemaOnReplace: l.UpdateSchemaOnReplace,
		Salvage:               l.Salvage,
		LocatorTimeout:        l.LocatorTimeout,
		BatchTimeout:          l.BatchTimeout,
		Collections:           l.Collections,
		FailedLocatorsPath:    l.FailedLocatorsPath,
		SaveLocatorsPath:      l.SaveLocatorsPath,
	}
}
