package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opengeoguess/core/internal/auth"
	"github.com/opengeoguess/core/internal/config"
	"github.com/opengeoguess/core/internal/db"
	"github.com/opengeoguess/core/internal/gateway"
	"github.com/opengeoguess/core/internal/geo"
	"github.com/opengeoguess/core/internal/locationstore"
	"github.com/opengeoguess/core/internal/logging"
	"github.com/opengeoguess/core/internal/metrics"
	"github.com/opengeoguess/core/internal/sessioncache"
	"github.com/opengeoguess/core/internal/supervisor"
)

const ConfigPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "shutting down: signal=%s\n", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("OPENGEOGUESS_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.LogLevel, os.Stdout)

	store, err := db.New(ctx, cfg.Database.ConnString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	if err := db.RunMigrations(ctx, cfg.Database.ConnString()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	locStore, err := buildLocationStore(ctx, cfg, store, log)
	if err != nil {
		return fmt.Errorf("building location store: %w", err)
	}
	if err := locStore.Warmup(ctx, "world"); err != nil {
		log.Warn().Err(err).Msg("warming up location store")
	}

	cache, closeCache, err := buildSessionCache(cfg)
	if err != nil {
		return fmt.Errorf("building session cache: %w", err)
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	resolver := auth.NewJWTResolver(cfg.JWTSigningSecret)
	instance := sessioncache.InstanceID(instanceID())

	supCfg := supervisor.Config{
		InterRoundDelay:    cfg.InterRoundDelay(),
		AbandonmentTimeout: cfg.AbandonmentTimeout(),
		Metrics:            collectors,
	}
	registry := gateway.NewRegistry(cache, instance, locStore, store, geo.DefaultScoringConfig(), supCfg, log)

	wsHandler := gateway.NewHandler(resolver, registry, log)
	restHandler := gateway.NewRESTHandler(resolver, registry, log)

	router := mux.NewRouter()
	restHandler.Register(router)
	router.Handle("/ws", wsHandler)

	srv := &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.BindAddress).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func buildLocationStore(ctx context.Context, cfg config.Config, store *db.Store, log zerolog.Logger) (*locationstore.Store, error) {
	var objects locationstore.ObjectStore
	switch cfg.PackBackend {
	case config.PackBackendHTTP:
		objects = locationstore.NewHTTPObjectStore(cfg.PackBaseURL, nil)
	default:
		objects = locationstore.NewFSObjectStore(cfg.PackLocalDir)
	}

	disabled, err := locationstore.NewDisabledSet(cfg.DisabledSetCap, store, 3)
	if err != nil {
		return nil, fmt.Errorf("building disabled set: %w", err)
	}
	if err := disabled.Warmup(ctx, cfg.DisabledSetCap); err != nil {
		log.Warn().Err(err).Msg("warming up disabled location set")
	}

	return locationstore.New(objects, disabled, locationstore.Config{Version: cfg.PackVersion})
}

func buildSessionCache(cfg config.Config) (sessioncache.Cache, func(), error) {
	switch cfg.SessionBackend {
	case "redis":
		rc, err := sessioncache.NewRedisCache(context.Background(), cfg.RedisAddr, "", 0, "opengeoguess")
		if err != nil {
			return nil, func() {}, fmt.Errorf("connecting to redis: %w", err)
		}
		return rc, func() { _ = rc.Close() }, nil
	default:
		mc := sessioncache.NewMemoryCache(0)
		return mc, func() { _ = mc.Close() }, nil
	}
}

func instanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("instance-%d", os.Getpid())
	}
	return host
}
