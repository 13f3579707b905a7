// Package config holds the runtime configuration for the tabload pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Job store (SurrealDB)
	JobStoreURL       string `yaml:"jobstore_url"`
	JobStoreNamespace string `yaml:"jobstore_namespace"`
	JobStoreDatabase  string `yaml:"jobstore_database"`
	JobStoreUser      string `yaml:"jobstore_user"`
	JobStorePass      string `yaml:"jobstore_pass"`
	JobStoreAuthLevel string `yaml:"jobstore_auth_level"`

	// Tabular datastore (Postgres)
	DatastoreURL string `yaml:"datastore_url"`

	// Catalog collaborator
	CatalogURL    string `yaml:"catalog_url"`
	CatalogAPIKey string `yaml:"catalog_api_key"`

	// Trigger API server
	ListenPort  string `yaml:"listen_port"`
	Workers     int    `yaml:"workers"`
	QueueDepth  int    `yaml:"queue_depth"`
	CallbackURL string `yaml:"callback_url"` // base URL jobs report back to (this server)

	// Fetcher
	MaxContentLength   int64         `yaml:"max_content_length"`
	MaxExcerptLines    int           `yaml:"max_excerpt_lines"`
	MaxExcerptBytes    int64         `yaml:"max_excerpt_bytes"`
	DownloadTimeout    time.Duration `yaml:"download_timeout"`
	DownloadProxy      string        `yaml:"download_proxy"`
	SSLVerify          bool          `yaml:"ssl_verify"`
	StillProcessingMax time.Duration `yaml:"still_processing_max"` // total backoff budget for HTTP 202

	// Loader
	MaxTypeGuessLength int64         `yaml:"max_type_guess_length"` // above this, skip the direct bulk path
	ForceTypeCast      bool          `yaml:"force_type_cast"`       // always use the row-by-row path
	BatchSize          int           `yaml:"batch_size"`
	DateDayFirst       bool          `yaml:"date_day_first"`
	DateYearFirst      bool          `yaml:"date_year_first"`

	// Orchestrator
	JobTimeout         time.Duration `yaml:"job_timeout"`         // resources not yet in the datastore
	JobTimeoutRefresh  time.Duration `yaml:"job_timeout_refresh"` // resources already loaded once
	MaxRetries         int           `yaml:"max_retries"`         // bounded error -> pending requeues
	StillbornThreshold time.Duration `yaml:"stillborn_threshold"` // pending job missing from queue
	StaleThreshold     time.Duration `yaml:"stale_threshold"`     // pending job regardless of queue

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables, overlaid by an
// optional YAML file named in TABLOAD_CONFIG.
func Load() (Config, error) {
	cfg := Config{
		JobStoreURL:       getEnv("TABLOAD_JOBSTORE_URL", "ws://localhost:8000/rpc"),
		JobStoreNamespace: getEnv("TABLOAD_JOBSTORE_NAMESPACE", "tabload"),
		JobStoreDatabase:  getEnv("TABLOAD_JOBSTORE_DATABASE", "jobs"),
		JobStoreUser:      getEnv("TABLOAD_JOBSTORE_USER", "root"),
		JobStorePass:      getEnv("TABLOAD_JOBSTORE_PASS", "root"),
		JobStoreAuthLevel: getEnv("TABLOAD_JOBSTORE_AUTH_LEVEL", "root"),

		DatastoreURL: getEnv("TABLOAD_DATASTORE_URL", "postgres://localhost:5432/datastore"),

		CatalogURL:    getEnv("TABLOAD_CATALOG_URL", "http://localhost:5000"),
		CatalogAPIKey: getEnv("TABLOAD_CATALOG_API_KEY", ""),

		ListenPort:  getEnv("TABLOAD_PORT", "8800"),
		Workers:     getEnvInt("TABLOAD_WORKERS", 2),
		QueueDepth:  getEnvInt("TABLOAD_QUEUE_DEPTH", 64),
		CallbackURL: getEnv("TABLOAD_CALLBACK_URL", "http://localhost:8800"),

		MaxContentLength:   getEnvInt64("TABLOAD_MAX_CONTENT_LENGTH", 10*1024*1024),
		MaxExcerptLines:    getEnvInt("TABLOAD_MAX_EXCERPT_LINES", 100),
		MaxExcerptBytes:    getEnvInt64("TABLOAD_MAX_EXCERPT_BYTES", 1024*1024),
		DownloadTimeout:    getEnvDuration("TABLOAD_DOWNLOAD_TIMEOUT", 30*time.Second),
		DownloadProxy:      getEnv("TABLOAD_DOWNLOAD_PROXY", ""),
		SSLVerify:          getEnv("TABLOAD_SSL_VERIFY", "true") == "true",
		StillProcessingMax: getEnvDuration("TABLOAD_STILL_PROCESSING_MAX", 2*time.Minute),

		MaxTypeGuessLength: getEnvInt64("TABLOAD_MAX_TYPE_GUESS_LENGTH", 5*1024*1024),
		ForceTypeCast:      getEnv("TABLOAD_FORCE_TYPE_CAST", "false") == "true",
		BatchSize:          getEnvInt("TABLOAD_BATCH_SIZE", 250),
		DateDayFirst:       getEnv("TABLOAD_DATE_DAY_FIRST", "false") == "true",
		DateYearFirst:      getEnv("TABLOAD_DATE_YEAR_FIRST", "false") == "true",

		JobTimeout:         getEnvDuration("TABLOAD_JOB_TIMEOUT", 15*time.Minute),
		JobTimeoutRefresh:  getEnvDuration("TABLOAD_JOB_TIMEOUT_REFRESH", time.Hour),
		MaxRetries:         getEnvInt("TABLOAD_MAX_RETRIES", 3),
		StillbornThreshold: getEnvDuration("TABLOAD_STILLBORN_THRESHOLD", 5*time.Minute),
		StaleThreshold:     getEnvDuration("TABLOAD_STALE_THRESHOLD", 2*time.Hour),

		LogFile:  getEnv("TABLOAD_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("TABLOAD_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("TABLOAD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 250
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
