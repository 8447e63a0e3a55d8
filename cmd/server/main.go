package main

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

	"github.com/KanavDutta/tollgate/api"
	"github.com/KanavDutta/tollgate/metrics"
	"github.com/KanavDutta/tollgate/observability"
	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"github.com/KanavDutta/tollgate/store"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const serviceName = "tollgate"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cfg.logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTelStdout {
		shutdown, err := observability.Init(ctx, observability.Options{ServiceName: serviceName})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Error("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	stats := metrics.NewMetrics()
	otelRecorder, err := metrics.NewOTel(nil)
	if err != nil {
		return err
	}

	opts := append(cfg.limiterOptions(),
		tollgate.WithStore(backend),
		tollgate.WithLogger(logger),
		tollgate.WithRecorder(metrics.Multi{stats, otelRecorder}),
	)
	limiter, err := tollgate.New(opts...)
	if err != nil {
		backend.Close()
		return fmt.Errorf("create limiter: %w", err)
	}
	defer limiter.Close()

	mux := http.NewServeMux()
	api.NewHandler(limiter, logger).Register(mux)
	mux.Handle("GET /v1/metrics", api.NewMetricsHandler(stats))
	mux.HandleFunc("GET /dashboard", dashboardHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.WithRequestID(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("tollgate listening",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("failure_policy", limiter.FailurePolicy().String()),
		slog.Int("classes", len(limiter.Classes())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// openStore connects to Redis when REDIS_URL is set, otherwise keeps buckets
// in process.
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (store.Store, error) {
	if cfg.RedisURL == "" {
		logger.Warn("using in-memory store; buckets are not shared between instances",
			slog.Int("shards", cfg.MemoryShards))
		return store.NewMemoryStore(store.WithShards(cfg.MemoryShards)), nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	// Redis expiry matches idle eviction
	ttl, err := cfg.maxIdle()
	if err != nil {
		return nil, err
	}

	s := store.NewRedisStore(redis.NewClient(redisOpts),
		store.WithPrefix(cfg.RedisPrefix),
		store.WithTTL(ttl),
	)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis",
		slog.String("addr", redisOpts.Addr),
		slog.String("prefix", cfg.RedisPrefix),
		slog.Duration("ttl", ttl),
	)
	return s, nil
}
