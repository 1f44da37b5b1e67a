package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/haukened/mxbl/internal/mxbl/common/clock"
	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/config"
	"github.com/haukened/mxbl/internal/mxbl/gateways/enforcer"
	"github.com/haukened/mxbl/internal/mxbl/gateways/transport"
	"github.com/haukened/mxbl/internal/mxbl/gateways/upstream"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist/bloom"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist/bolt"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist/lru"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist/postgres"
	"github.com/haukened/mxbl/internal/mxbl/repos/dnscache"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "mxbld"

	defaultShutdownTimeout = 10 * time.Second
	storeConnectTimeout    = 10 * time.Second
)

// Application holds all the components of the checker daemon
type Application struct {
	config    *config.AppConfig
	store     blocklist.Store
	admin     *admin.Service
	transport *transport.HTTPTransport
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and configures global logging.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

// buildApplication constructs all components and wires them together
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	repos, err := buildRepositories(ctx, cfg, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	gw, err := buildGateways(cfg, logger)
	if err != nil {
		_ = repos.store.Close()
		return nil, fmt.Errorf("failed to build gateways: %w", err)
	}

	var resolver checker.Resolver = gw.upstream
	if cfg.LookupCacheSize > 0 {
		cached, err := dnscache.New(gw.upstream, cfg.LookupCacheSize, cfg.LookupCacheMaxTTL, clk)
		if err != nil {
			_ = repos.store.Close()
			return nil, fmt.Errorf("failed to create lookup cache: %w", err)
		}
		resolver = cached
		log.Info(map[string]any{
			"size":    cfg.LookupCacheSize,
			"max_ttl": cfg.LookupCacheMaxTTL,
		}, "DNS answer cache configured")
	}

	walker := checker.NewWalker(checker.WalkerOptions{
		Resolver:     resolver,
		Logger:       logger,
		QueryTimeout: cfg.QueryTimeout,
		MaxLookups:   cfg.MaxLookups,
		Budget:       cfg.WalkBudget,
	})

	checkerService := checker.New(checker.Options{
		Rules:             repos.rules,
		Hits:              repos.store,
		Cache:             repos.decisions,
		Walker:            walker,
		Clock:             clk,
		Logger:            logger,
		InvalidateWorkers: cfg.InvalidateWorkers,
		Coalesce:          cfg.Coalesce,
	})

	adminService := admin.New(admin.Options{
		Store:    repos.store,
		Checker:  checkerService,
		Cache:    repos.decisions,
		Enforcer: gw.enforcer,
		Clock:    clk,
		Logger:   logger,
		Operator: cfg.Operator,
	})
	if err := adminService.ReloadSettings(ctx); err != nil {
		_ = repos.store.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &Application{
		config:    cfg,
		store:     repos.store,
		admin:     adminService,
		transport: transport.NewHTTPTransport(cfg.Listen, adminService, logger),
	}, nil
}

// repositories holds all repository implementations
type repositories struct {
	store     blocklist.Store
	rules     *blocklist.Repository
	decisions blocklist.DecisionCache
}

// gateways holds all gateway implementations
type gateways struct {
	upstream *upstream.Resolver
	enforcer admin.Enforcer
}

// openStore opens the configured rule store.
func openStore(ctx context.Context, cfg *config.AppConfig) (blocklist.Store, error) {
	switch cfg.Store {
	case "bolt":
		return bolt.New(cfg.BoltPath)
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		return postgres.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(ctx context.Context, cfg *config.AppConfig, clk clock.Clock) (*repositories, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	log.Info(map[string]any{
		"store": cfg.Store,
	}, "Rule store opened")

	decisions, err := lru.New(cfg.CacheSize, cfg.CacheTTL, clk)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	log.Info(map[string]any{
		"size": cfg.CacheSize,
		"ttl":  cfg.CacheTTL,
	}, "Decision cache configured")

	return &repositories{
		store:     store,
		rules:     blocklist.NewRepository(store, bloom.NewFactory(), cfg.BloomFPRate),
		decisions: decisions,
	}, nil
}

// buildGateways creates and configures all gateway implementations
func buildGateways(cfg *config.AppConfig, logger log.Logger) (*gateways, error) {
	upstreamClient, err := upstream.NewResolver(upstream.Options{
		Servers: cfg.Servers,
		Timeout: cfg.QueryTimeout,
		Rate:    cfg.QueryRate,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	log.Info(map[string]any{
		"servers": cfg.Servers,
		"timeout": cfg.QueryTimeout,
		"rate":    cfg.QueryRate,
	}, "Upstream DNS client configured")

	return &gateways{
		upstream: upstreamClient,
		enforcer: enforcer.NewLogEnforcer(logger),
	}, nil
}

// Close releases the rule store.
func (app *Application) Close() error {
	return app.store.Close()
}

// Run starts the HTTP API and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	if err := app.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "HTTP",
	}, "mxbl server started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- errors.Join(app.transport.Stop(), app.Close())
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err}, "Error during shutdown")
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
