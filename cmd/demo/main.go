package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/searchktools/mini-server/app"
	"github.com/searchktools/mini-server/config"
	"github.com/searchktools/mini-server/core/middleware"
	"github.com/searchktools/mini-server/internal/demo"
	"github.com/searchktools/mini-server/logging"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			config.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		slog.Error("demo server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	application := app.New(cfg, logger)
	engine := application.Engine()

	// Middleware first: every request passes through them
	engine.Use("", middleware.Logger(logging.WithComponent(logger, "access")))
	engine.Use("", middleware.RequestID())
	if cfg.CORS {
		engine.Use("", middleware.CORS())
	}
	if cfg.RateLimit > 0 {
		engine.Use("", middleware.RateLimiter(cfg.RateLimit))
	}

	demo.New(demo.Options{
		Store:     store,
		StaticDir: cfg.StaticDir,
		Stats:     engine.Stats,
		Logger:    logger,
	}).Register(engine)

	return application.Run(context.Background())
}

// newStore picks the Redis tally when an address is configured
func newStore(cfg *config.Config, logger *slog.Logger) (demo.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("gamble tally kept in memory")
		return demo.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("gamble tally kept in redis", "addr", cfg.RedisAddr)
	return demo.NewRedisStore(client, ""), func() { client.Close() }, nil
}
