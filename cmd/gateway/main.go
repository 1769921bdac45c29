// cmd/gateway/main.go
//
// Multi-tenant GraphQL gateway – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load configuration (.env → conf/gateway.yaml → GATEWAY_* env, with
//     `vault:` references resolved).  Any invalid storage descriptor
//     aborts here.
//
//  2. Start the daily rotating logger (tees to console in a TTY).
//
//  3. Register every bundled storage backend with the adapter registry.
//
//  4. Build the tenant directory and connection cache.  Both are lazy:
//     nothing is dialled until the first request for a host.
//
//  5. Build the query engine, identity providers, and the chi router.
//
//  6. Serve until SIGINT/SIGTERM, then drain and close every tenant.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/auth"
	"github.com/yanizio/appgate/internal/config"
	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/database/memory"
	"github.com/yanizio/appgate/internal/database/mongodb"
	"github.com/yanizio/appgate/internal/database/mysql"
	"github.com/yanizio/appgate/internal/database/postgres"
	"github.com/yanizio/appgate/internal/database/redis"
	"github.com/yanizio/appgate/internal/gateway"
	"github.com/yanizio/appgate/internal/graphql"
	"github.com/yanizio/appgate/internal/identity"
	"github.com/yanizio/appgate/internal/logger"
	"github.com/yanizio/appgate/internal/requestinfo"
	"github.com/yanizio/appgate/internal/server"
	"github.com/yanizio/appgate/internal/session"
	"github.com/yanizio/appgate/internal/tenant"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

const shutdownGrace = 15 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run(ctx context.Context) error {
	//
	// ── 1.  Configuration ──────────────────────────────────────────────
	//
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	//
	// ── 2.  Logger ─────────────────────────────────────────────────────
	//
	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.Paths.Root, "logs")
	}
	zl, err := logger.New(logger.Options{
		Dir:     logDir,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console || runningInTTY(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	//
	// ── 3.  Storage backends ───────────────────────────────────────────
	//
	reg := database.NewRegistry()
	mysql.Register(reg)
	postgres.Register(reg)
	mongodb.Register(reg)
	redis.Register(reg)

	// One shared Memory adapter so seeded admin rows are visible.
	mem := memory.New()
	reg.Register(database.TypeMemory, func(database.Descriptor) (database.Adapter, error) { return mem, nil })
	seedMemoryAdmin(zl, cfg, mem)
	zl.Info("storage backends registered", zap.Strings("types", reg.Types()))

	//
	// ── 4.  Directory + connection cache ───────────────────────────────
	//
	dir := tenant.NewDirectory(reg, tenant.DirectoryOptions{
		Admin:             cfg.Database.Admin,
		AdminDatabase:     cfg.Database.AdminDatabase,
		Clusters:          cfg.Database.ClusterSet,
		DefaultType:       cfg.Database.DefaultDatabaseType,
		ReservedHosts:     cfg.Directory.ReservedHosts,
		ReservedDatabases: cfg.Directory.ReservedDatabases,
		PositiveTTL:       cfg.Directory.PositiveTTL,
		NegativeTTL:       cfg.Directory.NegativeTTL,
		Size:              cfg.Directory.Size,
		LookupTimeout:     cfg.Directory.LookupTimeout,
		Logger:            zl,
	})
	defer func() { _ = dir.Close() }()

	cache, err := tenant.NewCache(dir, reg, tenant.CacheOptions{
		FailureCooldown: cfg.Cache.FailureCooldown,
		ConnectTimeout:  cfg.Cache.ConnectTimeout,
		IdleTTL:         cfg.Cache.IdleTTL,
		MaxEntries:      cfg.Cache.MaxEntries,
		EvictInterval:   cfg.Cache.EvictInterval,
		Logger:          zl,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	//
	// ── 5.  Engine, providers, router ──────────────────────────────────
	//
	engine, err := graphql.NewExecutor(zl)
	if err != nil {
		return err
	}

	ri, err := requestinfo.New(cfg.GeoIP.Path, zl)
	if err != nil {
		return err
	}
	defer func() { _ = ri.Close() }()

	gw, err := gateway.New(gateway.Options{
		Cache:           cache,
		Auth:            auth.NewGateway(zl),
		Engine:          engine,
		Identity:        identity.NewService(zl),
		Providers:       providers(zl, cfg),
		RequestInfo:     ri,
		SuccessRedirect: cfg.Auth.SuccessRedirect,
		TokenTTL:        cfg.Auth.TokenTTL,
		ForceHTTPS:      cfg.HTTP.ForceHTTPS,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		AdminKey:        cfg.App.Key,
		Logger:          zl,
	})
	if err != nil {
		return err
	}

	//
	// ── 6.  Serve until signalled ──────────────────────────────────────
	//
	srv := server.New(cfg.HTTP, gw, zl)
	errc := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}

// providers returns the login providers.  Simulated login vouches for
// any `?id=` and must never be enabled in production.
func providers(zl *zap.Logger, cfg *config.Config) *identity.Providers {
	if cfg.Auth.SimulatedLogin {
		zl.Warn("simulated login enabled; provider handshakes are skipped")
		return identity.NewProviders(
			&identity.Simulated{ProviderName: "github"},
			&identity.Simulated{ProviderName: "google"},
		)
	}
	states := session.New(cfg.Auth.CookiePassword, cfg.Auth.HandshakeTTL)
	return identity.NewProviders(identity.GitHub(states), identity.Google(states))
}

// seedMemoryAdmin writes database.seed_apps into a Memory admin database.
func seedMemoryAdmin(zl *zap.Logger, cfg *config.Config, mem *memory.Adapter) {
	if len(cfg.Database.SeedApps) == 0 {
		return
	}
	if cfg.Database.Admin.Type != database.TypeMemory {
		zl.Warn("database.seed_apps ignored; admin database is not Memory",
			zap.String("type", cfg.Database.Admin.Type))
		return
	}
	admin := mem.Open(cfg.Database.AdminDatabase)
	now := time.Now().UTC()
	for _, a := range cfg.Database.SeedApps {
		rec := meta.Record{
			Hostname:  tenant.NormalizeHost(a.Hostname),
			Secret:    a.Secret,
			Database:  a.Database,
			Cluster:   a.Cluster,
			Providers: make(map[string]meta.ProviderConfig, len(a.Providers)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, p := range a.Providers {
			rec.Providers[p] = meta.ProviderConfig{Enabled: true}
		}
		admin.PutApp(rec)
		zl.Info("seeded tenant", zap.String("host", rec.Hostname), zap.String("database", rec.Database))
	}
}
