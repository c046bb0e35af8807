// Package main provides the clawgate server entry point.
// This server hosts all registered plugins behind one mediated HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/openclaw/clawgate/pkg/audit"
	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/cache"
	"github.com/openclaw/clawgate/pkg/config"
	"github.com/openclaw/clawgate/pkg/gateway"
	"github.com/openclaw/clawgate/pkg/plugin"
	"github.com/openclaw/clawgate/pkg/policy"
	"github.com/openclaw/clawgate/pkg/sidecar"

	"github.com/openclaw/clawgate/plugins/applemusic"
	"github.com/openclaw/clawgate/plugins/bluebubbles"
	"github.com/openclaw/clawgate/plugins/findmy"
	"github.com/openclaw/clawgate/plugins/gmail"
)

func main() {
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	auth, err := buildAuth(cfg)
	if err != nil {
		glog.Fatalf("Failed to configure auth: %v", err)
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		glog.Fatalf("Failed to build plugin registry: %v", err)
	}

	policyInputs := policy.Inputs{
		Limits: policy.Limits{
			DefaultLimit:        cfg.DefaultLimit,
			MaxLimit:            cfg.MaxLimit,
			DefaultBodyMaxChars: cfg.DefaultBodyMaxChars,
		},
		RawReadEnabled: cfg.EnableRawRead,
		DefaultsJSON:   cfg.ActionApprovalDefaultsJSON,
		OverridesJSON:  cfg.ActionApprovalOverridesJSON,
		BlockedJSON:    cfg.BlockedDomainsJSON,
		File:           cfg.PolicyFile,
	}
	engine, err := policy.Build(policyInputs)
	if err != nil {
		glog.Fatalf("Failed to build policy engine: %v", err)
	}
	policies := policy.NewStore(engine)
	go policy.Watch(ctx, policies, policyInputs, logger)

	var serverOpts []gateway.ServerOption
	auditCfg := audit.ConfigFromEnv()
	if auditCfg.Enabled {
		db, err := audit.Open(auditCfg.DB, auditCfg.Dialect)
		if err != nil {
			glog.Fatalf("Failed to open audit database: %v", err)
		}
		store := audit.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			glog.Fatalf("Failed to migrate audit database: %v", err)
		}
		serverOpts = append(serverOpts, gateway.WithAudit(store, auditCfg))
		go audit.NewRetentionWorker(store, auditCfg.RetentionDays, logger).Run(ctx)
	}
	serverOpts = append(serverOpts, gateway.WithDiscoveryCache(cache.ConfigFromEnv()))

	server := gateway.NewServer(cfg, registry, policies, auth, logger, serverOpts...)
	router := server.MountRoutes()

	logger.Info("clawgate server ready",
		"listen", cfg.Addr(),
		"prefix", cfg.APIPrefix,
		"plugins", pluginIDs(registry),
		"require_auth", cfg.RequireAuth,
	)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("clawgate server stopped")
}

// buildRegistry assembles the in-process plugins plus any sidecars named in
// SIDECAR_PLUGINS_JSON. Sidecar manifests are fetched during startup, so a
// misconfigured or unreachable sidecar fails the boot rather than surfacing
// as 404s later.
func buildRegistry(ctx context.Context, cfg *config.Config) (*plugin.Registry, error) {
	plugins := []plugin.Plugin{
		gmail.New(),
		bluebubbles.New(bluebubbles.NewClientFromEnv()),
		applemusic.New(applemusic.OsaScriptRunner{}),
		findmy.NewFromEnv(),
	}

	sidecarConfigs, err := sidecar.ParseConfigs(cfg.SidecarPluginsJSON)
	if err != nil {
		return nil, err
	}
	sidecars, err := sidecar.LoadPlugins(ctx, sidecarConfigs)
	if err != nil {
		return nil, err
	}
	plugins = append(plugins, sidecars...)

	return plugin.NewRegistry(plugins...)
}

func buildAuth(cfg *config.Config) (*authz.Service, error) {
	tokens := map[string]authz.TokenRecord{}
	if cfg.AgentTokensJSON != "" {
		parsed, err := authz.ParseTokenTable(cfg.AgentTokensJSON)
		if err != nil {
			return nil, err
		}
		tokens = parsed
	}

	var verifier *authz.JWTVerifier
	if cfg.AgentJWTPublicKey != "" {
		pemData, err := os.ReadFile(cfg.AgentJWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read jwt public key: %w", err)
		}
		verifier, err = authz.NewJWTVerifier(pemData)
		if err != nil {
			return nil, err
		}
	}

	return authz.NewService(cfg.RequireAuth, tokens, verifier), nil
}

func pluginIDs(registry *plugin.Registry) []string {
	summaries := registry.List()
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	return ids
}
