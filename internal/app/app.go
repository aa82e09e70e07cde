package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-identity-service/internal/config"
	"go-identity-service/internal/database"
	"go-identity-service/internal/handler"
	"go-identity-service/internal/metrics"
	"go-identity-service/internal/middleware"
	"go-identity-service/internal/notify"
	"go-identity-service/internal/password"
	"go-identity-service/internal/repository"
	"go-identity-service/internal/retry"
	"go-identity-service/internal/router"
	"go-identity-service/internal/service"
	"go-identity-service/internal/session"
	"go-identity-service/internal/token"
	"go-identity-service/internal/usercache"
	"go-identity-service/internal/verification"
)

const shutdownTimeout = 10 * time.Second

// userRepository is what the services and the readiness check need from
// either user store.
type userRepository interface {
	service.UserStore
	Ping(ctx context.Context) error
}

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.cleanup()
		}
	}()

	slog.Info("connecting to Redis", "addr", cfg.RedisAddr)
	rdb, err := database.NewRedis(ctx, database.RedisOptions{
		Addr:             cfg.RedisAddr,
		Username:         cfg.RedisUsername,
		Password:         cfg.RedisPassword,
		DB:               cfg.RedisDB,
		ConnectTimeout:   cfg.StoreConnectTimeout,
		OperationTimeout: cfg.StoreOperationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	})

	users, err := a.openUserStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	policy := retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		OnRetry: func(op string, err error) {
			m.RecordRetry(op)
			slog.Warn("retrying store operation", "operation", op, "error", err)
		},
	}

	hasher, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		Secret:     cfg.SecretKey,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	cache := usercache.New(rdb, users, usercache.Options{
		TTL:     cfg.UserCacheTTL,
		Retry:   policy,
		Metrics: m,
		Logger:  slog.Default(),
	})

	authService := service.NewAuthService(service.AuthDeps{
		Users:    users,
		Cache:    cache,
		Hasher:   hasher,
		Tokens:   codec,
		Sessions: session.NewRedisStore(rdb),
		Pending:  verification.NewRedisStore(rdb),
		Notifier: newNotifier(cfg),
		Metrics:  m,
	}, service.AuthConfig{
		VerificationTTL: cfg.VerificationCodeTTL,
		CodeDigits:      cfg.VerificationCodeDigits,
		Retry:           policy,
	})
	userService := service.NewUserService(users, cache, hasher, policy)

	bootstrapper := service.NewBootstrapper(users, hasher, service.AdminAccount{
		Username: cfg.BootstrapAdminUsername,
		Password: cfg.BootstrapAdminPassword,
		Email:    cfg.BootstrapAdminEmail,
	})
	if _, err := bootstrapper.EnsureAdmin(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap admin account: %w", err)
	}

	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"users": users.Ping,
	}, cfg.StoreOperationTimeout)

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(userService),
		Health: healthHandler,
	}, m)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	ok = true
	return a, nil
}

// openUserStore picks PostgreSQL when DATABASE_URL is set and the in-memory
// store otherwise.
func (a *App) openUserStore(ctx context.Context, cfg *config.Config) (userRepository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, users are kept in memory and lost on restart")
		return repository.NewMemoryUserRepository(), nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, cfg.DatabaseURL, database.Options{
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectTimeout: cfg.StoreConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("database ready")

	return repository.NewUserRepository(db.Pool, cfg.StoreOperationTimeout), nil
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, verification codes are written to the log")
		return notify.NewLogNotifier(slog.Default())
	}
	return notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
}

// Handler exposes the fully wired router.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Close releases the stores without starting the server.
func (a *App) Close() {
	a.cleanup()
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown requested", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// In-flight requests still use the stores, so they close last.
	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
