package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// config is read from the environment, after an optional .env file.
type config struct {
	HTTPAddr        string                 `env:"HTTP_ADDR" envDefault:":8080"`
	ConfigFile      string                 `env:"TOLLGATE_CONFIG"`
	FailurePolicy   tollgate.FailurePolicy `env:"FAILURE_POLICY"`
	RedisURL        string                 `env:"REDIS_URL"`
	RedisPrefix     string                 `env:"REDIS_PREFIX" envDefault:"tollgate:"`
	MemoryShards    int                    `env:"MEMORY_SHARDS" envDefault:"64"`
	StoreTimeout    time.Duration          `env:"STORE_TIMEOUT"`
	MaxIdle         time.Duration          `env:"MAX_IDLE"`
	SweepInterval   time.Duration          `env:"SWEEP_INTERVAL"`
	LogLevel        slog.Level             `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string                 `env:"LOG_FORMAT" envDefault:"json"`
	OTelStdout      bool                   `env:"OTEL_STDOUT"`
	ShutdownTimeout time.Duration          `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func loadConfig() (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// limiterOptions turns the environment into limiter options. The config
// file is applied first so explicit variables override it.
func (c config) limiterOptions() []tollgate.Option {
	var opts []tollgate.Option
	if c.ConfigFile != "" {
		opts = append(opts, tollgate.WithConfigFile(c.ConfigFile))
	}
	if c.FailurePolicy != 0 {
		opts = append(opts, tollgate.WithFailurePolicy(c.FailurePolicy))
	}
	if c.StoreTimeout > 0 {
		opts = append(opts, tollgate.WithStoreTimeout(c.StoreTimeout))
	}
	if c.MaxIdle > 0 {
		opts = append(opts, tollgate.WithMaxIdle(c.MaxIdle))
	}
	if c.SweepInterval > 0 {
		opts = append(opts, tollgate.WithSweepInterval(c.SweepInterval))
	}
	return opts
}

// maxIdle is the idle eviction age the limiter will use: MAX_IDLE, else the
// config file's max_idle, else the library default.
func (c config) maxIdle() (time.Duration, error) {
	if c.MaxIdle > 0 {
		return c.MaxIdle, nil
	}
	if c.ConfigFile != "" {
		fileConfig, err := tollgate.LoadConfigFromFile(c.ConfigFile)
		if err != nil {
			return 0, err
		}
		if fileConfig.MaxIdle > 0 {
			return fileConfig.MaxIdle, nil
		}
	}
	return tollgate.NewConfig().MaxIdle, nil
}

func (c config) logger() *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
}
