// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for state, journal and cache (always absolute)
	LogLevel        string
	Host            string // Status API bind address; loopback unless set
	Port            int
	DevMode         bool
	APIToken        string   // Bearer token for POST /api/run; live triggers need it
	CORSOrigins     []string // Origins allowed to call the status API
	PolygonAPIKey   string
	PolygonBaseURL  string
	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaBaseURL   string
	ScanResultsFile string // Scanner output holding dynamic_buckets
	StateFile       string // Persisted risk state (JSON)
	RunSchedule     string // Cron expression with seconds field
	Strategy        StrategyConfig
	Backup          BackupConfig
}

// BackupConfig holds off-site backup settings for S3-compatible storage
type BackupConfig struct {
	Bucket    string
	Endpoint  string // Custom endpoint (R2, MinIO); empty for AWS
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled reports whether a backup target is configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PM_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	strategy := DefaultStrategyConfig()
	if path := getEnv("STRATEGY_CONFIG_FILE", ""); path != "" {
		strategy, err = LoadStrategyFile(path)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		DataDir:         absDataDir,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Host:            getEnv("GO_HOST", "127.0.0.1"),
		Port:            getEnvAsInt("GO_PORT", 8001),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		APIToken:        getEnv("PM_API_TOKEN", ""),
		CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		PolygonAPIKey:   getEnv("POLYGON_API_KEY", ""),
		PolygonBaseURL:  getEnv("POLYGON_BASE_URL", "https://api.polygon.io"),
		AlpacaAPIKey:    getEnv("ALPACA_API_KEY", ""),
		AlpacaSecretKey: getEnv("ALPACA_SECRET_KEY", ""),
		AlpacaBaseURL:   getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		ScanResultsFile: getEnv("SCAN_RESULTS_FILE", "scan_results.json"),
		StateFile:       getEnv("STATE_FILE", filepath.Join(absDataDir, "pm_state.json")),
		RunSchedule:     getEnv("RUN_SCHEDULE", "0 45 15 * * MON-FRI"),
		Strategy:        strategy,
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "portfolio-manager/"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.StateFile == "" {
		return fmt.Errorf("STATE_FILE must not be empty")
	}
	if c.Backup.Enabled() && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return fmt.Errorf("BACKUP_S3_BUCKET is set but credentials are missing")
	}
	return c.Strategy.Validate()
}

// JournalPath returns the path of the run journal database
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// CachePath returns the path of the price cache database
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// LockPath returns the path of the run lock file
func (c *Config) LockPath() string {
	return c.StateFile + ".lock"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
