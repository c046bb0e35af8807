package cache

import "net/http"

// Manager holds one cache per TTL class on the discovery surface. The plugin
// list and the per-plugin payloads expire independently; there is no flush
// API because registration is the only event that changes either, and it
// happens before the server starts serving.
type Manager struct {
	discovery *LRUCache
	manifests *LRUCache
}

// NewManager builds a Manager from cfg. A nil or disabled cfg returns nil,
// which callers treat as caching off.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		discovery: NewLRUCache(cfg.MaxSize, cfg.DiscoveryTTL),
		manifests: NewLRUCache(cfg.MaxSize, cfg.ManifestTTL),
	}
}

// DiscoveryMiddleware caches the plugin list response.
func (m *Manager) DiscoveryMiddleware() func(http.Handler) http.Handler {
	return Middleware(m.discovery)
}

// ManifestMiddleware caches per-plugin manifest and capability responses.
func (m *Manager) ManifestMiddleware() func(http.Handler) http.Handler {
	return Middleware(m.manifests)
}
