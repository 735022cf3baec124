// Command processor runs the per-dialogue qualification state machine,
// claiming dialogues with pending candidate messages and driving each to
// its next turn via the knowledge base and the LLM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/hhclient"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/llmclient"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/ratelimit"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/processor"
)

const serviceName = "processor"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg, serviceName)
	slog.SetDefault(logger)

	shutdownTracer, err := observability.SetupTracing(cfg, serviceName)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	observability.InitMetrics()
	go serveHealth(cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	dialogues := postgres.NewDialogueRepo(pool)
	candidates := postgres.NewCandidateRepo(pool)
	vacancies := postgres.NewVacancyRepo(pool)
	recruiters := postgres.NewRecruiterRepo(pool)
	usageLogs := postgres.NewLlmUsageLogRepo(pool)
	qualifiedQueue := postgres.NewQualifiedQueueRepo(pool)
	rejectedQueue := postgres.NewRejectedQueueRepo(pool)
	inactiveQueue := postgres.NewInactiveQueueRepo(pool)
	reminderRepo := postgres.NewInterviewReminderRepo(pool)

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	hh := hhclient.New(cfg, recruiters, ratelimit.New(redisClient, nil))
	llm := llmclient.New(cfg)

	kbClient, err := kb.New(cfg.KnowledgeBaseURL, cfg.KnowledgeBaseTTL, cfg.KnowledgeBaseCache, nil, kb.Library{})
	if err != nil {
		slog.Error("knowledge base client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer kbClient.Close()

	p := processor.New(
		cfg,
		cfg.Recruiters,
		dialogues,
		candidates,
		vacancies,
		recruiters,
		usageLogs,
		qualifiedQueue,
		rejectedQueue,
		inactiveQueue,
		reminderRepo,
		hh,
		llm,
		kbClient,
	)

	slog.Info("starting processor", slog.String("env", cfg.AppEnv), slog.Int("recruiters", len(cfg.Recruiters)))
	p.Run(ctx)
	slog.Info("processor stopped")
}

func serveHealth(port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("processor health server error", slog.Any("error", err))
	}
}
