package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/codehive-dev/codehive/internal/httpapi"
	"github.com/codehive-dev/codehive/internal/realtime"
	"github.com/codehive-dev/codehive/pkg/assistant"
	"github.com/codehive-dev/codehive/pkg/config"
	"github.com/codehive-dev/codehive/pkg/executor"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/store"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	// Command line flags
	configFile = flag.String("config", getEnv("CONFIG_FILE", ""), "Server configuration file")
	listenAddr = flag.String("listen", "", "Listen address (overrides config)")
	logLevel   = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level")
)

func main() {
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting codehive", "version", Version, "listen", cfg.ListenAddr, "metrics_port", cfg.MetricsPort)

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		logger.Warn("tracing init", "error", err)
	}

	healthChecker := observability.NewHealthChecker()
	healthChecker.RegisterCheck(observability.PingCheck())

	st, err := openStore(cfg, healthChecker, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	tokens, err := identity.NewTokenVerifier([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	if err != nil {
		logger.Error("token verifier", "error", err)
		os.Exit(1)
	}

	var producer assistant.Producer
	if cfg.Assistant.Enabled {
		p, err := assistant.NewOpenAIProducer(cfg.Assistant.APIKey, cfg.Assistant.Model)
		if err != nil {
			logger.Error("assistant producer", "error", err)
			os.Exit(1)
		}
		producer = p
		logger.Info("assistant enabled", "model", cfg.Assistant.Model)
	}

	exec := executor.NewNop()
	defer exec.Close()

	registry := realtime.NewRegistry()
	relay := realtime.NewRelay(registry, logger)
	reconciler := realtime.NewReconciler(registry, relay, exec, logger)
	gate := realtime.NewGatekeeper(tokens, store.NewRoster(st), logger)
	hub := realtime.NewHub(gate, registry, relay, reconciler, producer, logger, realtime.HubOptions{
		SendBuffer: cfg.Relay.SendBuffer,
	})
	wsServer := realtime.NewServer(hub, logger, cfg.Relay.MessagesPerSecond, cfg.Relay.Burst)

	api := httpapi.New(st, tokens, producer, logger)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/ws", wsServer.HandleConnection)

	appServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	obsServer := observability.NewServer(cfg.MetricsPort, healthChecker)

	// Periodic system gauge sampling.
	sampler := cron.New()
	if _, err := sampler.AddFunc("@every 15s", sampleSystemMetrics); err != nil {
		logger.Error("schedule metric sampling", "error", err)
		os.Exit(1)
	}
	sampler.Start()
	defer sampler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := appServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("observability server listening", "port", cfg.MetricsPort)
		if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reconciler.WatchExecutor(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := appServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability server shutdown", "error", err)
		}
		if err := observability.ShutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("codehive stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

// openStore selects Redis when an address is configured and falls back
// to the in-memory store for single-node development.
func openStore(cfg *config.Config, checker *observability.HealthChecker, logger *slog.Logger) (store.Store, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis address configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	rs, err := store.NewRedisStore(store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	checker.RegisterCheck(observability.RedisCheck(rs.Ping))
	logger.Info("redis store connected", "addr", cfg.Redis.Addr)
	return rs, nil
}

func sampleSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	observability.SetMemoryUsage(m.Alloc)
	observability.SetGoroutines(runtime.NumGoroutine())
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
