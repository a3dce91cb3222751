package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/breaker"
	"github.com/metrapark/facility-sync/pkg/config"
	"github.com/metrapark/facility-sync/pkg/geocode"
	"github.com/metrapark/facility-sync/pkg/logging"
	"github.com/metrapark/facility-sync/pkg/pool"
	"github.com/metrapark/facility-sync/pkg/provider"
	"github.com/metrapark/facility-sync/pkg/retry"
	"github.com/metrapark/facility-sync/pkg/scheduler"
	"github.com/metrapark/facility-sync/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("facility-sync failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Format == "console",
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	store, err := storage.NewPostgres(ctx, storage.PostgresConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Database connected")

	// Resilience layer: retry inside, breaker outside.
	retryExec := retry.NewExecutor(retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff(),
		MaxBackoff:     cfg.Retry.MaxBackoff(),
		Multiplier:     cfg.Retry.Multiplier,
		Retryable:      retry.DefaultPolicy().Retryable,
	}, nil)

	breakers := breaker.NewRegistry(breaker.Config{
		ResetTimeout:       cfg.Breaker.ResetTimeout(),
		ErrorRateThreshold: cfg.Breaker.ErrorRateThreshold,
		MinSampleSize:      int64(cfg.Breaker.MinSampleSize),
	})
	for name, o := range cfg.Breaker.Overrides {
		override := breaker.Config{
			ResetTimeout:       cfg.Breaker.ResetTimeout(),
			ErrorRateThreshold: cfg.Breaker.ErrorRateThreshold,
			MinSampleSize:      int64(cfg.Breaker.MinSampleSize),
		}
		if o.ResetTimeoutSeconds > 0 {
			override.ResetTimeout = time.Duration(o.ResetTimeoutSeconds) * time.Second
		}
		if o.ErrorRateThreshold > 0 {
			override.ErrorRateThreshold = o.ErrorRateThreshold
		}
		if o.MinSampleSize > 0 {
			override.MinSampleSize = int64(o.MinSampleSize)
		}
		breakers.Configure(name, override)
	}

	// Providers.
	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := provider.NewHTTP(provider.Config{
			Name:                 pc.Name,
			BaseURL:              pc.BaseURL,
			AuthToken:            pc.AuthToken,
			ReadSize:             pc.ReadSize,
			OffersCurrentParking: pc.OffersCurrentParking,
			ReadTimeout:          pc.ReadTimeout(),
			HealthTimeout:        pc.HealthTimeout(),
		}, retryExec, breakers)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}

	// Geocoder, with a Redis cache in front when Redis is configured.
	geocoder, redisClient, err := buildGeocoder(ctx, cfg, retryExec)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Worker pool shared by all providers.
	workers := pool.New(pool.Config{
		MinWorkers:    cfg.Pool.MinWorkers,
		MaxWorkers:    cfg.Pool.MaxWorkers,
		ShutdownGrace: cfg.Pool.ShutdownGrace(),
	})

	// Diagnostics server.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Diagnostics server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Diagnostics server failed")
		}
	}()

	sched := scheduler.New(providers, geocoder, store, workers)
	logger.Info().
		Int("providers", len(providers)).
		Dur("interval", cfg.Schedule.Interval()).
		Msg("facility-sync started")

	sched.Run(ctx, cfg.Schedule.Interval())

	// Shutdown: stop accepting diagnostics traffic, then drain in-flight
	// page tasks up to the grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Diagnostics server shutdown failed")
	}
	if drained := workers.Shutdown(); !drained {
		logger.Warn().Msg("Worker pool shutdown grace expired with tasks in flight")
	}
	logger.Info().Msg("facility-sync stopped")
	return nil
}

// buildGeocoder assembles the coordinate lookup chain. Without a geocoder
// base URL every record would be excluded during enrichment, so the URL is
// required; Redis is optional and only adds caching.
func buildGeocoder(ctx context.Context, cfg *config.AppConfig, retryExec *retry.Executor) (geocode.Geocoder, *redis.Client, error) {
	inner, err := geocode.NewHTTP(geocode.HTTPConfig{
		BaseURL: cfg.Geocoder.BaseURL,
		AuthKey: cfg.Geocoder.AuthKey,
		Timeout: cfg.Geocoder.Timeout(),
	}, retryExec)
	if err != nil {
		return nil, nil, fmt.Errorf("geocoder: %w", err)
	}

	if cfg.Redis.Addr == "" {
		return inner, nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return geocode.NewCached(inner, redisClient, cfg.Geocoder.CacheTTL()), redisClient, nil
}
