package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"hireflow/internal/config"
	"hireflow/internal/database"
	"hireflow/internal/events"
	"hireflow/internal/llm"
	"hireflow/internal/metrics"
	"hireflow/internal/pipeline"
	"hireflow/internal/scoring"
	"hireflow/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	generator, err := llm.NewGeminiGenerator(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		log.Fatalf("init gemini client: %v", err)
	}
	log.Printf("gemini client ready, model=%s", generator.Model())

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	publisher := events.NewPublisher(asynqClient, logger, cfg.Pipeline.MaxRetry)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Pipeline.Concurrency,
		RetryDelayFunc: events.RetryDelay(cfg.Pipeline.RetryBaseDelay),
	})

	notifier := pipeline.NewNotifier(redisClient)
	weights := scoring.WeightsFromConfig(cfg.Scoring)

	jdHandler := pipeline.NewJDExtractHandler(db, publisher, generator, cfg.Pipeline.LLMTimeout, logger)
	parseHandler := pipeline.NewResumeParseHandler(db, storageClient, publisher, generator, cfg.Pipeline.LLMTimeout, logger)
	scoreHandler := pipeline.NewMatchScoreHandler(db, publisher, weights, cfg.Pipeline.StaleClaimAfter, logger)
	reportHandler := pipeline.NewReportHandler(db, notifier, logger)
	failedHandler := pipeline.NewResumeFailedHandler(db, notifier, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(events.SubjectJDSubmitted, jdHandler)
	mux.Handle(events.SubjectResumeSubmitted, parseHandler)
	mux.Handle(events.SubjectJDExtracted, scoreHandler)
	mux.Handle(events.SubjectResumeParsed, scoreHandler)
	mux.Handle(events.SubjectMatchScored, reportHandler)
	mux.Handle(events.SubjectResumeFailed, failedHandler)

	logger.Info("pipeline worker started",
		slog.String("redis_addr", redisAddr),
		slog.Int("concurrency", cfg.Pipeline.Concurrency),
		slog.Int("max_retry", cfg.Pipeline.MaxRetry),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
