package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/ratelimit"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/storage"
	mongostore "github.com/dytto-app/dytto/internal/storage/mongo"
	"github.com/dytto-app/dytto/internal/storage/postgres"
	redisstore "github.com/dytto-app/dytto/internal/storage/redis"
	"github.com/dytto-app/dytto/internal/storage/sqlite"
	"github.com/dytto-app/dytto/migrations"
)

// backend is the opened storage plus the redis client when the backend is
// redis, so the rate limiter can share it.
type backend struct {
	store storage.Store
	redis *goredis.Client
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		logger.Warn("storage: memory (data is lost on restart)")
		return backend{store: storage.NewMemory()}, nil

	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL, logger, postgres.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		if _, err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close(ctx)
			return backend{}, fmt.Errorf("storage: migrate: %w", err)
		}
		logger.Info("storage: postgres")
		return backend{store: db}, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: sqlite", "path", cfg.SQLitePath)
		return backend{store: s}, nil

	case config.BackendRedis:
		s, err := redisstore.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: redis")
		return backend{store: s, redis: s.Client()}, nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: mongo", "database", cfg.MongoDatabase)
		return backend{store: s}, nil
	}
	return backend{}, fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
}

// newLimiter shares the redis connection when there is one, so every
// replica sees the same counters. Otherwise limits are per process.
func newLimiter(cfg config.Config, b backend, logger *slog.Logger) ratelimit.Limiter {
	switch {
	case cfg.RateLimitRPS <= 0:
		logger.Info("rate limiting: disabled")
		return ratelimit.NoopLimiter{}
	case b.redis != nil:
		limit := max(int(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: redis (fixed window)", "limit", limit, "window", time.Second)
		return ratelimit.NewRedisLimiter(b.redis, limit, time.Second)
	default:
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		return ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

// newProvider selects the text-analysis provider. Auto prefers Anthropic when
// a key is set, then a reachable Ollama, then the keyword classifier.
func newProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) analysis.Provider {
	switch cfg.AnalysisProvider {
	case config.ProviderAnthropic:
		logger.Info("analysis provider: anthropic", "model", cfg.AnthropicModel)
		return analysis.NewAnthropicProvider(cfg.AnthropicURL, cfg.AnthropicAPIKey, cfg.AnthropicModel)

	case config.ProviderOllama:
		logger.Info("analysis provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return analysis.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)

	case config.ProviderKeyword:
		logger.Info("analysis provider: keyword")
		return analysis.NewKeywordProvider()
	}

	if cfg.AnthropicAPIKey != "" {
		logger.Info("analysis provider: anthropic (auto-detected)", "model", cfg.AnthropicModel)
		return analysis.NewAnthropicProvider(cfg.AnthropicURL, cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	ollama := analysis.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ollama.Ping(pingCtx); err == nil {
		logger.Info("analysis provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return ollama
	}
	logger.Warn("no model provider available, using keyword classifier")
	return analysis.NewKeywordProvider()
}
