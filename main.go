package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"market-replay-broker/config"
	"market-replay-broker/internal/api"
	"market-replay-broker/internal/auth"
	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/events"
	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/session"
	"market-replay-broker/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("failed to load configuration", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys := auth.NewRegistryFromEnv()
	if keys.Empty() {
		logger.Fatal("no API keys configured; set ApiKeys__0__Key and ApiKeys__0__Secret")
	}

	sessionStore, err := buildSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize session store", "error", err)
	}

	barStore, err := buildBarStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize bar store", "error", err)
	}

	bus := events.NewBus()
	controller := session.NewController(sessionStore, barStore, bus, logger)
	go controller.RunPlayback(ctx, cfg.SimulationConfig.PlaybackTickInterval)

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, controller, barStore, bus, keys, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildSessionStore selects the durable store: Postgres behind retries and a
// circuit breaker, or in-memory for development.
func buildSessionStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.SessionStore, error) {
	if cfg.SessionStore.UseInMemory {
		logger.Warn("using in-memory session store; sessions will not survive restarts")
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.SessionStore.ConnectionString)
	if err != nil {
		return nil, err
	}
	logger.Info("session store connected")
	return store.NewResilientStore(pg), nil
}

// buildBarStore opens the historical bar store and optionally layers the
// Redis read-through cache over it.
func buildBarStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (bars.BarStore, error) {
	if cfg.BarStoreConfig.ConnectionString == "" {
		logger.Warn("POSTGRES_CONNECTION_STRING not set; using empty in-memory bar store")
		return bars.NewMemoryBarStore(), nil
	}

	pg, err := bars.NewPostgresBarStore(ctx, cfg.BarStoreConfig.ConnectionString)
	if err != nil {
		return nil, err
	}
	logger.Info("bar store connected")

	if !cfg.RedisConfig.Enabled {
		return pg, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, serving bars without cache", "error", err)
		return pg, nil
	}
	logger.Info("bar cache connected", "addr", cfg.RedisConfig.Address)
	return bars.NewCachedBarStore(pg, client, logger), nil
}
