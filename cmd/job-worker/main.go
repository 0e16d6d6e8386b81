// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tale-weaver-api/internal/application/storyjob"
	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/infrastructure/llm"
	"tale-weaver-api/internal/infrastructure/messaging"
	"tale-weaver-api/internal/infrastructure/persistence/postgres"
	"tale-weaver-api/internal/infrastructure/persistence/redis"
	einoobs "tale-weaver-api/internal/observability/eino"
	"tale-weaver-api/internal/workflow/orchestrator"
	"tale-weaver-api/pkg/errreport"
	"tale-weaver-api/pkg/logger"
	"tale-weaver-api/pkg/tracer"
)

const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "job-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	flushErrors, err := errreport.Init(errreport.Config{
		DSN:         cfg.Observability.ErrorReporting.DSN,
		Environment: cfg.App.Env,
		Release:     cfg.App.Version,
		SampleRate:  cfg.Observability.ErrorReporting.SampleRate,
	})
	if err != nil {
		logger.Warn(ctx, "error reporting disabled", "error", err.Error())
	}
	defer flushErrors()

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

	streamCfg := cfg.Messaging.RedisStream
	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamStoryGen,
		Group:         messaging.GroupName(streamCfg.ConsumerGroupPrefix, messaging.ConsumerGroupStoryWorker),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    streamCfg.RetryBackoff.Initial,
			Max:        streamCfg.RetryBackoff.Max,
			Multiplier: streamCfg.RetryBackoff.Multiplier,
		},
	})
	consumer.RegisterHandler(messaging.MessageTypeStoryGen, jobs.HandleMessage)

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	go consumer.MonitorDLQ(ctx, dlqAlertThreshold)

	logger.Info(ctx, "job-worker started", "stream", string(messaging.StreamStoryGen))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "job-worker shutting down")
	consumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
