package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/entrys/gateway/internal/api"
	"github.com/entrys/gateway/internal/audit"
	"github.com/entrys/gateway/internal/auth"
	"github.com/entrys/gateway/internal/chread"
	"github.com/entrys/gateway/internal/dispatch"
	"github.com/entrys/gateway/internal/invoke"
	"github.com/entrys/gateway/internal/metrics"
	"github.com/entrys/gateway/internal/policy"
	"github.com/entrys/gateway/internal/ratelimit"
	"github.com/entrys/gateway/internal/registry"
	"github.com/entrys/gateway/internal/storage"
	"github.com/entrys/gateway/internal/store"
	"github.com/entrys/gateway/internal/webhook"
	"github.com/entrys/gateway/migrations"
)

const healthService = "entrys.gateway.v1.Gateway"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("GATEWAY_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("GATEWAY_HTTP_PORT", "8080")
	metricsPort := envOrDefault("GATEWAY_METRICS_PORT", "9090")
	grpcHealthPort := envOrDefault("GATEWAY_GRPC_HEALTH_PORT", "50051")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	redisURL := os.Getenv("REDIS_URL")
	adminKey := os.Getenv("ADMIN_KEY")
	authCacheTTL := envOrDefaultInt("GATEWAY_AUTH_CACHE_TTL_S", 30)
	toolCacheTTL := envOrDefaultInt("GATEWAY_TOOL_CACHE_TTL_S", 5)
	backendTimeout := envOrDefaultInt("GATEWAY_BACKEND_TIMEOUT_S", 30)
	webhookConcurrency := envOrDefaultInt("GATEWAY_WEBHOOK_CONCURRENCY", 64)
	autoMigrate := os.Getenv("GATEWAY_AUTO_MIGRATE") == "true"

	logger.Info("starting gateway server",
		zap.String("http_port", httpPort),
		zap.Int("tool_cache_ttl_s", toolCacheTTL),
		zap.Int("backend_timeout_s", backendTimeout),
		zap.Bool("admin_api", adminKey != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Postgres (required)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	if autoMigrate {
		if err := migrations.Up(db); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		logger.Info("migrations applied")
	}
	metrics.RegisterDBStats(db)
	pgStore := store.NewStore(db)
	logger.Info("postgres connected")

	// ClickHouse: analytics writer and reader, or LogWriter fallback
	var writer storage.EventWriter
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		conn, err := storage.Open(ctx, clickhouseDSN)
		if err == nil {
			var chWriter *storage.ClickHouseWriter
			chWriter, err = storage.NewClickHouseWriter(ctx, conn, logger)
			if err == nil {
				writer = chWriter
				chReader = chread.NewReader(conn)
				defer func() { _ = conn.Close() }()
				logger.Info("clickhouse connected")
			} else {
				_ = conn.Close()
			}
		}
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
		}
	} else {
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	if writer == nil {
		writer = storage.NewLogWriter(logger)
	}

	// Rate limiter: Redis when shared across replicas, in-process otherwise
	var limiter invoke.Limiter
	if redisURL != "" {
		client, err := ratelimit.NewRedisClient(ctx, redisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		limiter = ratelimit.NewRedisLimiter(client, ratelimit.Config{}, logger)
		logger.Info("redis rate limiter enabled")
	} else {
		mem := ratelimit.NewMemoryLimiter(ratelimit.Config{})
		go mem.Run(ctx, time.Minute)
		limiter = mem
	}

	// Pipeline
	resolver := registry.NewResolver(pgStore, time.Duration(toolCacheTTL)*time.Second, logger)
	dispatcher := dispatch.New(dispatch.Config{Timeout: time.Duration(backendTimeout) * time.Second}, logger)
	notifier := webhook.NewNotifier(pgStore, webhook.Config{Concurrency: int64(webhookConcurrency)}, logger)
	recorder := audit.NewRecorder(pgStore, writer, notifier, logger)
	orchestrator := invoke.NewOrchestrator(resolver, policy.NewEvaluator(pgStore), limiter, dispatcher, recorder, logger)
	authenticator := auth.NewKeyAuthenticator(pgStore, time.Duration(authCacheTTL)*time.Second, logger)

	// HTTP API
	deps := &api.Dependencies{
		Store:     pgStore,
		Invoker:   orchestrator,
		Auth:      authenticator,
		Evictor:   authenticator,
		ToolCache: resolver,
		Reader:    chReader,
		AdminKey:  adminKey,
		Logger:    logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(backendTimeout+10) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Metrics
	metricsServer := metrics.NewServer(":" + metricsPort)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// gRPC health for orchestrators
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	lis, err := net.Listen("tcp", ":"+grpcHealthPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", grpcHealthPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc health server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	// Graceful shutdown: stop intake, then drain webhooks and analytics
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Warn("webhook deliveries still in flight at shutdown", zap.Error(err))
	}
	writer.Close()
	_ = metricsServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	stop()

	logger.Info("gateway server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
