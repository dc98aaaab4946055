package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Report store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Data     DataConfig
	Analysis AnalysisConfig
	Reports  ReportsConfig
	Database DatabaseConfig
	CORS     CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DataConfig locates the geographic datasets.
type DataConfig struct {
	Root string
}

// AnalysisConfig tunes the crossing engine.
type AnalysisConfig struct {
	Workers         int
	LegendCacheSize int
	PartialReads    bool
}

// ReportsConfig selects where affection reports are persisted.
type ReportsConfig struct {
	Store string
	Dir   string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_ROOT", "./data")
	v.SetDefault("ANALYZE_WORKERS", 4)
	v.SetDefault("LEGEND_CACHE_SIZE", 64)
	v.SetDefault("PARTIAL_READS", false)
	v.SetDefault("REPORT_STORE", StoreFile)
	v.SetDefault("REPORT_DIR", "./reports")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "affections")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Data: DataConfig{
			Root: v.GetString("DATA_ROOT"),
		},
		Analysis: AnalysisConfig{
			Workers:         v.GetInt("ANALYZE_WORKERS"),
			LegendCacheSize: v.GetInt("LEGEND_CACHE_SIZE"),
			PartialReads:    v.GetBool("PARTIAL_READS"),
		},
		Reports: ReportsConfig{
			Store: strings.ToLower(strings.TrimSpace(v.GetString("REPORT_STORE"))),
			Dir:   v.GetString("REPORT_DIR"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if strings.TrimSpace(c.Data.Root) == "" {
		return fmt.Errorf("DATA_ROOT is required")
	}

	if c.Analysis.Workers < 1 {
		return fmt.Errorf("ANALYZE_WORKERS must be at least 1")
	}
	if c.Analysis.LegendCacheSize < 1 {
		return fmt.Errorf("LEGEND_CACHE_SIZE must be at least 1")
	}

	switch c.Reports.Store {
	case StoreFile:
		if strings.TrimSpace(c.Reports.Dir) == "" {
			return fmt.Errorf("REPORT_DIR is required when REPORT_STORE is %s", StoreFile)
		}
	case StorePostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("REPORT_STORE must be %q or %q, got %q", StoreFile, StorePostgres, c.Reports.Store)
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

// UsesDatabase reports whether reports are stored in PostgreSQL.
func (c *Config) UsesDatabase() bool {
	return c.Reports.Store == StorePostgres
}

// Validate checks the PostgreSQL settings.
func (d DatabaseConfig) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
