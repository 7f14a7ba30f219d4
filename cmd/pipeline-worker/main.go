package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/resolvd/support-ai-platform/cmd/mainconfig"
	"github.com/resolvd/support-ai-platform/internal/audit"
	"github.com/resolvd/support-ai-platform/internal/breaker"
	appconfig "github.com/resolvd/support-ai-platform/internal/config"
	"github.com/resolvd/support-ai-platform/internal/escalation"
	"github.com/resolvd/support-ai-platform/internal/llm"
	"github.com/resolvd/support-ai-platform/internal/notify"
	"github.com/resolvd/support-ai-platform/internal/observability/metrics"
	"github.com/resolvd/support-ai-platform/internal/pipeline"
	"github.com/resolvd/support-ai-platform/internal/tenancy"
	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting pipeline worker",
		"env", cfg.Env,
		"port", cfg.Port,
		"workers", cfg.WorkerCount,
	)

	ctx := context.Background()

	// Storage and tenant config: Postgres in production, in-memory for
	// local development without a database.
	var (
		store   ticket.Store
		tenants tenancy.Provider
		auditor *audit.Service
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store = ticket.NewPostgresStore(pool)
		tenants = tenancy.NewPostgresProvider(pool)

		auditDB, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open audit db", "error", err)
			os.Exit(1)
		}
		defer auditDB.Close()
		auditor = audit.NewService(auditDB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = ticket.NewMemoryStore()
		tenants = tenancy.NewStaticProvider()
	}

	if cfg.RedisAddr != "" && cfg.DatabaseURL != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		tenants = tenancy.NewCachedProvider(redisClient, tenants, cfg.TenantCacheTTL, logger.Logger)
	}

	// One breaker per inference dependency, shared by every concurrent
	// pipeline run.
	breakerMetrics := metrics.NewBreakerMetrics(nil)
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
	}, logger.Logger,
		breaker.WithStateChangeHook(func(name string, from, to breaker.State) {
			breakerMetrics.ObserveStateChange(name, string(from), string(to))
		}),
		breaker.WithRejectionHook(breakerMetrics.ObserveRejection),
		breaker.WithFallbackHook(breakerMetrics.ObserveFallback),
	)

	client, modelID := buildLLMClient(ctx, cfg, logger)

	engine := escalation.NewEngine(client, registry.Get("advisor"), modelID, cfg.InferenceTimeout, logger)
	stages := []pipeline.Stage{
		pipeline.NewTriageStage(client, registry.Get("completion"), modelID, cfg.InferenceTimeout, logger),
		pipeline.NewRouteStage(logger),
		pipeline.NewResolveStage(client, registry.Get("completion"), modelID, cfg.InferenceTimeout, logger),
		pipeline.NewEscalateStage(engine, logger),
	}

	var notifier notify.EscalationNotifier = notify.NewStubNotifier(logger)
	if sg := notify.NewSendGridNotifier(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		notifier = sg
	}

	pipelineMetrics := metrics.NewPipelineMetrics(nil)
	orchestratorOpts := []pipeline.OrchestratorOption{
		pipeline.WithMaxRetries(cfg.CommitMaxRetries),
		pipeline.WithMetrics(pipelineMetrics),
		pipeline.WithNotifier(notifier),
	}
	if auditor != nil {
		orchestratorOpts = append(orchestratorOpts, pipeline.WithAuditor(auditor))
	}
	orchestrator := pipeline.NewOrchestrator(store, tenants, stages, logger, orchestratorOpts...)

	consumer := buildConsumer(ctx, cfg, logger, orchestrator)
	consumer.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consumer.Shutdown(shutdownCtx); err != nil {
		logger.Error("consumer shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

// buildLLMClient picks the inference provider. Development deployments
// without provider credentials get a scripted client so the pipeline
// still runs end to end.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (llm.Client, string) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		return client, cfg.GeminiModelID
	case "bedrock":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), cfg.BedrockModelID
	default:
		logger.Warn("unknown LLM provider, using scripted client", "provider", cfg.LLMProvider)
		return llm.NewScriptedClient(llm.Response{
			Text: `{"priority":"medium","category":"general","sentiment":0}`,
		}), "scripted"
	}
}

// buildConsumer wires the intake queue. SQS is the production path; the
// in-memory queue keeps local development free of AWS dependencies.
func buildConsumer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, orchestrator *pipeline.Orchestrator) *pipeline.Consumer {
	opts := []pipeline.ConsumerOption{pipeline.WithWorkerCount(cfg.WorkerCount)}

	if cfg.UseMemoryQueue || cfg.TicketQueueURL == "" {
		logger.Warn("using in-memory ticket queue")
		return pipeline.NewConsumer(orchestrator, pipeline.NewMemoryQueue(0), logger, opts...)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config for SQS", "error", err)
		os.Exit(1)
	}
	queue := pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.TicketQueueURL)
	return pipeline.NewConsumer(orchestrator, queue, logger, opts...)
}

func newRouter(registry *breaker.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/breakers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.States())
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
