// forecastmarket runs the forecasting pipeline and trading simulation HTTP
// API. A flag-configurable config directory, a .env overlay loaded with
// godotenv, gin bound to HTTP_PORT, then a graceful shutdown on
// SIGINT/SIGTERM via signal.NotifyContext and http.Server.Shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sibylline/forecastmarket/pkg/api"
	"github.com/sibylline/forecastmarket/pkg/config"
	"github.com/sibylline/forecastmarket/pkg/events"
	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/metrics"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/services"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/sibylline/forecastmarket/pkg/trading"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a clean shutdown, 1 on a fatal
// configuration error, 2 if the store cannot be reached at startup.
func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file at %s, continuing with process environment", envPath)
	}

	cfg, err := config.Load(filepath.Join(*configDir, "config.yaml"))
	if err != nil {
		log.Printf("fatal: load config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(ctx, store.Config{
		URL:             cfg.StoreURL,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		log.Printf("fatal: connect store: %v", err)
		return 2
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", "error", err)
		}
	}()

	var llmOpts []llm.HTTPClientOption
	if cfg.LLMBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLMBaseURL))
	}
	rawLLM, err := llm.NewHTTPRawClient(llmOpts...)
	if err != nil {
		log.Printf("fatal: construct llm client: %v", err)
		return 1
	}
	structuredLLM := llm.NewStructuredClient(rawLLM, llm.WithRateLimit(5, 10))

	res := resources.Resources{
		Store:               st,
		LLM:                 structuredLLM,
		SentimentProvider:   trading.DeterministicSentimentProvider{},
		AccountFeedProvider: trading.StaticAccountFeedProvider{},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("fatal: parse REDIS_URL: %v", err)
			return 1
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("close redis client", "error", err)
			}
		}()
	}

	m := metrics.New()
	broadcaster := events.NewBroadcaster()

	orchestratorCfg := forecast.Config{
		AgentTimeout:     cfg.AgentTimeout,
		MaxConcurrentLLM: cfg.MaxConcurrentLLM,
	}

	sessions := services.NewSessionService(
		res,
		broadcaster,
		m,
		services.NewIdempotencyGuard(redisClient),
		orchestratorCfg,
		cfg.DefaultAgentCounts,
		cfg.DefaultForecasterClass,
		cfg.TradingInterval,
	)

	retention := services.NewRetentionService(services.DefaultRetentionConfig(), st)
	retention.Start(ctx)
	defer retention.Stop()

	server := api.NewServer(sessions, broadcaster, m)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "port", cfg.HTTPPort)
		errCh <- server.Start(":" + cfg.HTTPPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Printf("fatal: http server: %v", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}

	return 0
}
