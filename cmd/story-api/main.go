// Package main 故事生成 API 服务入口
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tale-weaver-api/internal/application/storyjob"
	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/infrastructure/llm"
	"tale-weaver-api/internal/infrastructure/messaging"
	"tale-weaver-api/internal/infrastructure/persistence/postgres"
	"tale-weaver-api/internal/infrastructure/persistence/redis"
	"tale-weaver-api/internal/interfaces/http/handler"
	"tale-weaver-api/internal/interfaces/http/middleware"
	"tale-weaver-api/internal/interfaces/http/router"
	einoobs "tale-weaver-api/internal/observability/eino"
	"tale-weaver-api/internal/workflow/orchestrator"
	"tale-weaver-api/pkg/errreport"
	"tale-weaver-api/pkg/logger"
	"tale-weaver-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting story-api",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	flushErrors, err := errreport.Init(errreport.Config{
		DSN:         cfg.Observability.ErrorReporting.DSN,
		Environment: cfg.App.Env,
		Release:     Version,
		SampleRate:  cfg.Observability.ErrorReporting.SampleRate,
	})
	if err != nil {
		log.Warn("error reporting disabled", "error", err)
	}
	defer flushErrors()

	// 初始化 Eino 全局 callbacks（指标/追踪）
	einoobs.Init()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	workflow, err := orchestrator.Build(cfg, llm.NewEinoFactory(&cfg.LLM), redis.NewVerdictCache(redisClient))
	if err != nil {
		logger.Fatal(ctx, "failed to build story workflow", err)
	}

	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	jobs := storyjob.NewService(postgres.NewJobRepository(pgClient), producer, workflow).
		WithTransactor(postgres.NewTxManager(pgClient))

	r := router.New(cfg, router.Deps{
		Story: handler.NewStoryHandler(workflow),
		Jobs:  handler.NewJobHandler(jobs),
		Health: handler.NewHealthHandler(Version, map[string]handler.HealthChecker{
			"postgres": pgClient,
			"redis":    redisClient,
		}),
		Limiter: redis.NewRateLimiter(redisClient),
		RateKey: middleware.ClientKey(redis.BuildRateLimitKey),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "http server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
