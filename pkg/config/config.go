package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for stroymon-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Ingest controls the batch run over feed files.
	Ingest IngestConfig `yaml:"ingest"`

	// Risk controls the deadline windows used by derived flags and colors.
	Risk RiskConfig `yaml:"risk"`

	// Hierarchy controls the control-point synchronizer.
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"stroymon"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"stroymon_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// IngestConfig holds batch ingestion settings.
type IngestConfig struct {
	// Dir is the directory scanned for feed files (*.json).
	Dir string `yaml:"dir" env:"INGEST_DIR" env-default:"feeds"`

	// Workers bounds the per-project worker pool. Records for the same
	// project always run on one worker; 1 disables parallelism.
	Workers int `yaml:"workers" env:"INGEST_WORKERS" env-default:"4"`

	// ErrorSamples is how many representative per-record errors are kept
	// for the run summary.
	ErrorSamples int `yaml:"error_samples" env:"INGEST_ERROR_SAMPLES" env-default:"10"`
}

// RiskConfig holds the windows used by the deadline-status deriver and the
// read-model color classification.
type RiskConfig struct {
	// ApproachingDeadline is the look-ahead window for yellow coloring and
	// for the "due soon, not started" half of the high-risk flag.
	ApproachingDeadline time.Duration `yaml:"approaching_deadline" env:"RISK_APPROACHING_DEADLINE" env-default:"720h"`

	// LateThreshold is how far past its plan a finished control point must
	// be to count as historically late for the high-risk flag.
	LateThreshold time.Duration `yaml:"late_threshold" env:"RISK_LATE_THRESHOLD" env-default:"720h"`
}

// HierarchyConfig holds control-point synchronizer settings.
type HierarchyConfig struct {
	// MappedParents is the allow-list of parent control-point names that
	// must exist for every project before aggregation. Names are compared
	// after normalization.
	MappedParents []string `yaml:"mapped_parents"`
}

// DefaultMappedParents is used when the config file lists none.
var DefaultMappedParents = []string{
	"Подготовка территории",
	"Строительно-монтажные работы",
	"Благоустройство",
	"Ввод в эксплуатацию",
}

// Load reads configuration from the given YAML file with environment
// variable overrides. The version parameter is injected at build time and
// set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(cfg.Hierarchy.MappedParents) == 0 {
		cfg.Hierarchy.MappedParents = DefaultMappedParents
	}
	if cfg.Ingest.Workers < 1 {
		cfg.Ingest.Workers = 1
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
