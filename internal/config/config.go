package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Azure DevOps
	DevOpsURI         string
	DevOpsPAT         string
	APIVersion        string
	MaxProjects       int
	Concurrency       int
	RequestsPerSecond float64
	HTTPTimeout       time.Duration

	// Snapshot artifacts
	SnapshotDir string

	// Run ledger
	StorageType string // "sqlite", "postgres" or "none"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
}

type fileConfig struct {
	DevOps struct {
		URI               string  `yaml:"uri"`
		PAT               string  `yaml:"pat"`
		APIVersion        string  `yaml:"api_version"`
		MaxProjects       int     `yaml:"max_projects"`
		Concurrency       int     `yaml:"concurrency"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Timeout           string  `yaml:"timeout"`
	} `yaml:"devops"`
	Snapshot struct {
		Dir string `yaml:"dir"`
	} `yaml:"snapshot"`
	Storage struct {
		Type        string `yaml:"type"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresURL string `yaml:"postgres_url"`
	} `yaml:"storage"`
	API struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"api"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	snapshotDir := "."
	if home := os.Getenv("HOME"); strings.TrimSpace(home) != "" {
		snapshotDir = home
	}

	return &Config{
		APIVersion:        "6.1-preview",
		MaxProjects:       750,
		Concurrency:       4,
		RequestsPerSecond: 10,
		HTTPTimeout:       30 * time.Second,
		SnapshotDir:       snapshotDir,
		StorageType:       "sqlite",
		SQLitePath:        "./activity.db",
		APIPort:           "8080",
		APIHost:           "localhost",
		APIEndpoint:       "http://localhost:8080",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load loads the configuration from an optional file and environment variables.
// An empty path loads .env from the working directory if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch {
	case path == "":
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	case isYAML(path):
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	default:
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.DevOpsURI = strings.TrimRight(strings.TrimSpace(cfg.DevOpsURI), "/")
	cfg.DevOpsPAT = strings.TrimSpace(cfg.DevOpsPAT)
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.DevOpsURI, fc.DevOps.URI)
	setString(&cfg.DevOpsPAT, fc.DevOps.PAT)
	setString(&cfg.APIVersion, fc.DevOps.APIVersion)
	if fc.DevOps.MaxProjects != 0 {
		cfg.MaxProjects = fc.DevOps.MaxProjects
	}
	if fc.DevOps.Concurrency != 0 {
		cfg.Concurrency = fc.DevOps.Concurrency
	}
	if fc.DevOps.RequestsPerSecond != 0 {
		cfg.RequestsPerSecond = fc.DevOps.RequestsPerSecond
	}
	if fc.DevOps.Timeout != "" {
		d, err := time.ParseDuration(fc.DevOps.Timeout)
		if err != nil {
			return fmt.Errorf("invalid devops.timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	setString(&cfg.SnapshotDir, fc.Snapshot.Dir)
	setString(&cfg.StorageType, fc.Storage.Type)
	setString(&cfg.SQLitePath, fc.Storage.SQLitePath)
	setString(&cfg.PostgresURL, fc.Storage.PostgresURL)
	setString(&cfg.APIHost, fc.API.Host)
	setString(&cfg.APIPort, fc.API.Port)
	setString(&cfg.APIEndpoint, fc.API.Endpoint)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DevOpsURI = getEnv("AZDEVOPS_URI", getEnv("azDevOpsUri", cfg.DevOpsURI))
	cfg.DevOpsPAT = getEnv("AZDEVOPS_PAT", getEnv("azDevOpsPat", cfg.DevOpsPAT))
	cfg.APIVersion = getEnv("AZDEVOPS_API_VERSION", cfg.APIVersion)
	cfg.SnapshotDir = getEnv("SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.StorageType = getEnv("STORAGE_TYPE", cfg.StorageType)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.APIPort = getEnv("API_PORT", cfg.APIPort)
	cfg.APIHost = getEnv("API_HOST", cfg.APIHost)
	cfg.APIEndpoint = getEnv("API_ENDPOINT", cfg.APIEndpoint)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if v := os.Getenv("MAX_PROJECTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "MAX_PROJECTS", Message: "must be an integer"}
		}
		cfg.MaxProjects = n
	}
	if v := os.Getenv("CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "CONCURRENCY", Message: "must be an integer"}
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "REQUESTS_PER_SECOND", Message: "must be a number"}
		}
		cfg.RequestsPerSecond = f
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "HTTP_TIMEOUT", Message: "must be a duration such as 30s"}
		}
		cfg.HTTPTimeout = d
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the settings the collector needs before any network call
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DevOpsURI) == "" || strings.TrimSpace(c.DevOpsPAT) == "" {
		return &ConfigError{
			Field:   "AZDEVOPS_URI/AZDEVOPS_PAT",
			Message: "set the Azure DevOps URI and personal access token first",
		}
	}
	u, err := url.Parse(c.DevOpsURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "AZDEVOPS_URI", Message: "must be an absolute http(s) URL"}
	}
	if c.MaxProjects <= 0 {
		return &ConfigError{Field: "MAX_PROJECTS", Message: "must be positive"}
	}
	if c.Concurrency <= 0 {
		return &ConfigError{Field: "CONCURRENCY", Message: "must be positive"}
	}
	if c.RequestsPerSecond <= 0 {
		return &ConfigError{Field: "REQUESTS_PER_SECOND", Message: "must be positive"}
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the run ledger settings
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case "sqlite", "none":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'none'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
