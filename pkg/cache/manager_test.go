package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	if NewManager(nil) != nil {
		t.Fatal("expected nil manager for nil config")
	}
	if NewManager(&Config{Enabled: false}) != nil {
		t.Fatal("expected nil manager when disabled")
	}
	if NewManager(DefaultConfig()) == nil {
		t.Fatal("expected manager for default config")
	}
}

func TestManagerCachesAreIndependent(t *testing.T) {
	m := NewManager(&Config{
		Enabled:      true,
		DiscoveryTTL: time.Second,
		ManifestTTL:  time.Second,
		MaxSize:      10,
	})

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	})

	// Warm the discovery cache.
	discovery := m.DiscoveryMiddleware()(handler)
	rec := httptest.NewRecorder()
	discovery.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/plugins", nil))

	// The manifest cache must not see the discovery entry even under the
	// same key.
	manifests := m.ManifestMiddleware()(handler)
	rec2 := httptest.NewRecorder()
	manifests.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/v1/plugins", nil))

	if calls != 2 {
		t.Fatalf("expected both caches to miss once, handler called %d times", calls)
	}
	if rec2.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS from manifest cache, got %q", rec2.Header().Get("X-Cache"))
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := ConfigFromEnv()
		if !cfg.Enabled {
			t.Fatal("expected caching enabled by default")
		}
		if cfg.DiscoveryTTL != 60*time.Second {
			t.Fatalf("expected 60s discovery TTL, got %s", cfg.DiscoveryTTL)
		}
		if cfg.ManifestTTL != 5*time.Minute {
			t.Fatalf("expected 5m manifest TTL, got %s", cfg.ManifestTTL)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("CLAWGATE_CACHE_ENABLED", "false")
		t.Setenv("CLAWGATE_CACHE_DISCOVERY_TTL", "10")
		t.Setenv("CLAWGATE_CACHE_MANIFEST_TTL", "20")
		t.Setenv("CLAWGATE_CACHE_MAX_SIZE", "5")

		cfg := ConfigFromEnv()
		if cfg.Enabled {
			t.Fatal("expected caching disabled")
		}
		if cfg.DiscoveryTTL != 10*time.Second {
			t.Fatalf("expected 10s discovery TTL, got %s", cfg.DiscoveryTTL)
		}
		if cfg.ManifestTTL != 20*time.Second {
			t.Fatalf("expected 20s manifest TTL, got %s", cfg.ManifestTTL)
		}
		if cfg.MaxSize != 5 {
			t.Fatalf("expected max size 5, got %d", cfg.MaxSize)
		}
	})

	t.Run("InvalidValuesKeepDefaults", func(t *testing.T) {
		t.Setenv("CLAWGATE_CACHE_DISCOVERY_TTL", "-1")
		t.Setenv("CLAWGATE_CACHE_MAX_SIZE", "abc")

		cfg := ConfigFromEnv()
		if cfg.DiscoveryTTL != 60*time.Second {
			t.Fatalf("expected default discovery TTL, got %s", cfg.DiscoveryTTL)
		}
		if cfg.MaxSize != 256 {
			t.Fatalf("expected default max size, got %d", cfg.MaxSize)
		}
	})
}
