package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/config"
	"github.com/campusfriends/backend/internal/db"
	"github.com/campusfriends/backend/internal/handlers"
	"github.com/campusfriends/backend/internal/middleware"
	"github.com/campusfriends/backend/internal/notify"
	"github.com/campusfriends/backend/internal/relationships"
	"github.com/campusfriends/backend/internal/repositories"
	"github.com/campusfriends/backend/internal/repositories/sqlite"
	"github.com/campusfriends/backend/internal/storage"
)

// backend groups the persistence for one store driver.
type backend struct {
	users    repositories.UserRepository
	sessions auth.SessionStore
	store    relationships.Store
	health   func(ctx context.Context) error
	close    func()
}

type sessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, err
		}
		return backend{
			users:    repositories.NewPostgresUserRepository(pool),
			sessions: repositories.NewPostgresSessionStore(pool),
			store:    repositories.NewPostgresRelationshipStore(pool),
			health:   func(ctx context.Context) error { return db.Ping(ctx, pool) },
			close:    pool.Close,
		}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return backend{}, err
		}
		return backend{
			users:    store.Users(),
			sessions: store.Sessions(),
			store:    store,
			health:   store.DB().PingContext,
			close:    func() { _ = store.Close() },
		}, nil
	case config.DriverMemory:
		return backend{
			users:    repositories.NewInMemoryUserRepository(),
			sessions: auth.NewInMemorySessionStore(),
			store:    relationships.NewInMemoryStore(),
			close:    func() {},
		}, nil
	default:
		return backend{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains pending notifications and closes the store.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return handlers.Dependencies{}, nil, errors.New("jwt secret is required (CAMPUSFRIENDS_JWT_SECRET)")
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	if purger, ok := b.sessions.(sessionPurger); ok {
		if purged, err := purger.PurgeExpired(ctx, time.Now().UTC()); err != nil {
			logger.Warn("purge expired sessions", "error", err)
		} else if purged > 0 {
			logger.Info("purged expired sessions", "count", purged)
		}
	}

	var archiver relationships.Archiver
	if cfg.ObjectStore.Bucket != "" {
		archive, err := storage.NewS3Archive(ctx, cfg.ObjectStore)
		if err != nil {
			b.close()
			return handlers.Dependencies{}, nil, err
		}
		archiver = archive
	}

	hub := notify.NewHub(notify.HubConfig{QueueSize: cfg.NotifyQueueSize, Workers: cfg.NotifyWorkers}, logger)
	counts := relationships.NewCachingCounter(b.store, cfg.CountCacheTTL)
	hub.SubscribeAll(counts.Observe)

	service := relationships.NewService(b.store, relationships.ServiceConfig{
		Notifier: hub,
		Archiver: archiver,
		Counter:  counts,
	})
	manager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, b.sessions)

	limits := middleware.RateLimitConfig{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window,
		Burst:    cfg.RateLimit.Burst,
		TTL:      10 * cfg.RateLimit.Window,
	}

	deps := handlers.Dependencies{
		Users:         b.users,
		Sessions:      manager,
		Verifier:      manager,
		Relationships: service,
		Changes:       hub,
		AuthLimiter:   middleware.NewKeyedRateLimiter(limits),
		SendLimiter:   middleware.NewKeyedRateLimiter(limits),
		HealthCheck:   b.health,
		CheckOrigin:   originChecker(cfg.AllowedOrigins),
	}

	cleanup := func(ctx context.Context) error {
		err := hub.Shutdown(ctx)
		b.close()
		return err
	}
	return deps, cleanup, nil
}

// originChecker accepts same-host origins plus the configured allowlist. It
// returns nil, selecting the upgrader's same-origin default, when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
