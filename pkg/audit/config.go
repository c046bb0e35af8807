package audit

import (
	"os"
	"strconv"
)

// Config controls audit behavior.
type Config struct {
	Enabled       bool   // Whether audit middleware is active
	LogDenied     bool   // Whether to record 4xx outcomes
	RetentionDays int    // Default 90
	DB            string // Datasource name, dialect-specific
	Dialect       string // sqlite (default), mysql, postgres
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		LogDenied:     true,
		RetentionDays: 90,
		DB:            "clawgate_audit.db",
		Dialect:       "sqlite",
	}
}

// ConfigFromEnv loads config from environment variables:
// CLAWGATE_AUDIT_ENABLED, AUDIT_LOG_DENIED, CLAWGATE_AUDIT_RETENTION_DAYS,
// CLAWGATE_AUDIT_DB, CLAWGATE_AUDIT_DIALECT.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("CLAWGATE_AUDIT_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("AUDIT_LOG_DENIED"); v != "" {
		cfg.LogDenied, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("CLAWGATE_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}

	if v := os.Getenv("CLAWGATE_AUDIT_DB"); v != "" {
		cfg.DB = v
	}

	if v := os.Getenv("CLAWGATE_AUDIT_DIALECT"); v != "" {
		cfg.Dialect = v
	}

	return cfg
}
