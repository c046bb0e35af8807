package cache

import (
	"os"
	"strconv"
	"time"
)

// Config controls the discovery response cache.
type Config struct {
	Enabled      bool          // Whether discovery responses are cached
	DiscoveryTTL time.Duration // TTL for the plugin list
	ManifestTTL  time.Duration // TTL for per-plugin manifest and capability payloads
	MaxSize      int           // Max entries per cache instance
}

// DefaultConfig returns the default configuration. Manifests never change
// after registration, so they keep a longer TTL than the plugin list.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		DiscoveryTTL: 60 * time.Second,
		ManifestTTL:  5 * time.Minute,
		MaxSize:      256,
	}
}

// ConfigFromEnv loads config from environment variables:
// CLAWGATE_CACHE_ENABLED, CLAWGATE_CACHE_DISCOVERY_TTL,
// CLAWGATE_CACHE_MANIFEST_TTL (both in seconds), CLAWGATE_CACHE_MAX_SIZE.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("CLAWGATE_CACHE_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("CLAWGATE_CACHE_DISCOVERY_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.DiscoveryTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("CLAWGATE_CACHE_MANIFEST_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ManifestTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("CLAWGATE_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
