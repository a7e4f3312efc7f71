package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"kontakt.org/internal/auth"
	"kontakt.org/internal/config"
	"kontakt.org/internal/contacts"
	"kontakt.org/internal/httpapi"
	"kontakt.org/internal/identity"
	"kontakt.org/internal/mail"
	"kontakt.org/internal/obs"
	"kontakt.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// логгер ещё не настроен
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.Dev())
	if err != nil {
		zap.NewExample().Fatal("logger", zap.Error(err))
	}
	defer obs.SetLogger(logger)()
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (регистрация метрик, build_info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api_exit", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Credentials and contacts live in Postgres when a DSN is set, in memory otherwise (dev only).
	var (
		credentials auth.Store
		book        contacts.Service
		probe       httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		credentials = auth.NewPGStore(store.DB())
		book = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		if !cfg.Dev() {
			return errors.New("KONTAKT_PG_DSN is required outside dev mode")
		}
		logger.Warn("storage_in_memory")
		credentials = auth.NewMemoryStore()
		book = contacts.NewInMemory()
	}

	cfg.CacheEnabled, cfg.RateLimitEnabled = probeRedis(ctx, cfg, logger)
	var backend identity.Backend
	if cfg.CacheEnabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Password: cfg.RedisPass})
		defer client.Close()
		backend = identity.NewRedisBackend(client)
	}
	cache := identity.NewCache(backend, identity.WithTTL(cfg.CacheTTL), identity.WithLogger(logger))

	svc, err := auth.NewService(credentials,
		auth.WithTokenSecret(cfg.TokenSecret),
		auth.WithAccessTTL(cfg.EffectiveAccessTTL()),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithEmailTTL(cfg.EmailTTL),
	)
	if err != nil {
		return err
	}

	mailer := mail.NewDispatcher(mail.NewLogSender(logger), 30*time.Second, logger)
	defer mailer.Wait()

	api := httpapi.New(probe, version, httpapi.Deps{
		Identity: identity.NewResolver(svc, credentials, cache),
		Contacts: book,
		Mailer:   mailer,
	},
		httpapi.WithBaseURL(cfg.BaseURL),
		httpapi.WithCookies(cfg.SetCookies),
		httpapi.WithRateLimit(cfg.RateLimitEnabled, cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithLocalOrigins(cfg.Dev()),
		httpapi.WithTrustedProxy(cfg.TrustProxy),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(probe, version).Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	logger.Info("api_start",
		zap.String("version", version),
		zap.String("http_addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("mode", cfg.Mode),
		zap.Bool("cache_enabled", cfg.CacheEnabled),
		zap.Bool("rate_limit_enabled", cfg.RateLimitEnabled),
	)

	errc := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("api_shutdown", zap.String("signal", sig.String()))
	case err := <-errc:
		logger.Error("server_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("api_stopped")
	return nil
}

// probeRedis settles the cache and rate-limit capabilities once. An unreachable
// Redis disables both; the service keeps running.
func probeRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) (cacheOK, rateLimitOK bool) {
	if cfg.RedisAddr == "" {
		return false, false
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Password: cfg.RedisPass})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis_unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return false, false
	}
	return true, true
}
