package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richxcame/driver-agent/internal/app"
	"github.com/richxcame/driver-agent/internal/bridge"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/proof"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/errors"
	"github.com/richxcame/driver-agent/pkg/logger"
	redisclient "github.com/richxcame/driver-agent/pkg/redis"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/richxcame/driver-agent/pkg/tracing"
	"go.uber.org/zap"
)

const (
	serviceName = "driver-agent"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting driver agent",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("api_base_url", cfg.Backend.APIBaseURL),
		zap.String("realtime_transport", cfg.Backend.RealtimeTransport),
	)

	sentryConfig := errors.DefaultSentryConfig(serviceName, cfg.Server.Environment)
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Enabled:        true,
		}, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	healthChecks := make(map[string]func() error)

	var store storage.Store = storage.NewMemoryStore()
	if cfg.Redis.Enabled() {
		redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}()
		store = storage.NewRedisStore(redisClient, cfg.Redis.Prefix)
		healthChecks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.PingContext(ctx)
		}
		logger.Info("Using redis storage", zap.String("addr", cfg.Redis.RedisAddr()))
	} else {
		logger.Info("Redis not configured, sessions will not survive a restart")
	}

	var uploader app.ProofUploader
	if cfg.Proof.Bucket != "" {
		s3Uploader, err := proof.NewS3Uploader(context.Background(), cfg.Proof)
		if err != nil {
			logger.Warn("Proof upload disabled", zap.Error(err))
		} else {
			uploader = s3Uploader
			logger.Info("Proof upload enabled", zap.String("bucket", cfg.Proof.Bucket))
		}
	}

	hub := bridge.NewHub()
	provider := location.NewBridgeProvider(nil)

	agent, err := app.New(app.Options{
		Config:   cfg,
		Store:    store,
		Emitter:  hub,
		Location: provider,
		Uploader: uploader,
	})
	if err != nil {
		logger.Fatal("Failed to create agent", zap.Error(err))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := agent.Start(startCtx); err != nil {
		logger.Warn("Failed to restore session", zap.Error(err))
	}
	cancelStart()

	router := bridge.NewRouter(bridge.RouterConfig{
		ServiceName:    serviceName,
		Version:        version,
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins(),
		HealthChecks:   healthChecks,
	}, bridge.NewHandler(agent, provider, hub))

	// WriteTimeout stays zero: the event stream is long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Bridge listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down driver agent...")

	agent.Close()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Driver agent stopped")
}
