package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/upb/authgate/auth"
	"github.com/upb/authgate/config"
	"github.com/upb/authgate/handlers"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/origin"
	"github.com/upb/authgate/repositories"
	"github.com/upb/authgate/repositories/postgres"
	"github.com/upb/authgate/revocation"
	"github.com/upb/authgate/services"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/token"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger
	Clock  abtime.AbstractTime

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	TxManager repositories.TransactionManager

	// Access boundary
	Allowlist      *origin.Allowlist
	Codec          *token.Codec
	Envelope       *session.Envelope
	Revocations    revocation.Store
	AuthService    *services.AuthService
	AuthMiddleware *middleware.AuthMiddleware
	Issuer         *auth.Issuer

	// HTTP handlers
	AuthHandler   *handlers.AuthHandler
	HealthHandler *handlers.HealthHandler
}

// NewDependencies connects to PostgreSQL (and Redis when configured) and
// wires all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := factory.DB().InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = revocation.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = factory.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to initialize redis: ping failed: %w", err)
		}
		logger.Info("revocation denylist enabled")
	} else {
		logger.Warn("REDIS_URL not set, credential revocation disabled")
	}

	deps, err := Assemble(cfg, logger, factory, rdb, abtime.NewRealTime())
	if err != nil {
		_ = factory.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// Assemble wires dependencies over already-open connections. rdb may be nil.
func Assemble(cfg *config.Config, logger *zap.Logger, factory *postgres.RepositoryFactory, rdb *redis.Client, clock abtime.AbstractTime) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Clock:       clock,
		RepoFactory: factory,
		DB:          factory.DB(),
		Redis:       rdb,
	}

	repos := factory.NewRepositories()
	deps.Users = repos.Users
	deps.TxManager = repos.Transactions

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initHandlers()
	return deps, nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	codec, err := token.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.CookieTTL)
	if err != nil {
		return err
	}
	d.Codec = codec

	policy := session.PolicyFromConfig(cfg.Auth)
	envelope, err := session.NewEnvelope(cfg.Auth.SessionSecret, policy, d.Clock, d.Logger)
	if err != nil {
		return err
	}
	d.Envelope = envelope

	d.Allowlist = origin.NewAllowlist(cfg.Auth.AllowedOrigins, d.Logger)
	if len(d.Allowlist.Origins()) == 0 {
		d.Logger.Warn("no allowed origins configured, all cross-origin requests will be denied")
	}

	if d.Redis != nil {
		d.Revocations = revocation.NewRedisStore(d.Redis, cfg.Redis.KeyPrefix)
	} else {
		d.Revocations = revocation.Noop{}
	}

	d.AuthService = services.NewAuthService(d.Users, d.TxManager, 0, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(codec, d.AuthService, d.Revocations, d.Clock, d.Logger)
	d.Issuer = auth.NewIssuer(codec, policy, d.Logger)

	d.Logger.Info("auth initialized",
		zap.Strings("allowed_origins", d.Allowlist.Origins()),
		zap.Bool("cookie_secure", policy.Secure),
		zap.Duration("credential_ttl", codec.TTL()),
		zap.Int("trust_proxy_hops", cfg.Auth.TrustProxyHops))
	return nil
}

func (d *Dependencies) initHandlers() {
	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, d.Issuer, d.Envelope, d.Codec, d.Revocations, d.Clock, d.Logger)

	checks := map[string]handlers.Checker{
		"database": d.DB,
		"redis":    nil,
	}
	if store, ok := d.Revocations.(*revocation.RedisStore); ok {
		checks["redis"] = handlers.CheckerFunc(store.Ping)
	}
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
