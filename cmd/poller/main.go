// Command poller runs the job-board polling loop: for every tracked
// recruiter it refreshes the active vacancy set and ingests new and
// updated candidate responses into dialogues, never touching the LLM.
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
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/ratelimit"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/poller"
)

const serviceName = "poller"

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

	recruiters := postgres.NewRecruiterRepo(pool)
	vacancies := postgres.NewVacancyRepo(pool)
	dialogues := postgres.NewDialogueRepo(pool)
	candidates := postgres.NewCandidateRepo(pool)
	appSettings := postgres.NewAppSettingsRepo(pool)
	alerts := postgres.NewAdminAlertRepo(pool)

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	hh := hhclient.New(cfg, recruiters, ratelimit.New(redisClient, nil))

	p := poller.New(
		cfg.PollerInterval,
		cfg.PollerRecruiterConcurrency,
		cfg.VacancyCacheWindow,
		cfg.Recruiters,
		cfg.Location(),
		recruiters,
		vacancies,
		dialogues,
		candidates,
		appSettings,
		alerts,
		hh,
	)

	slog.Info("starting poller", slog.String("env", cfg.AppEnv), slog.Int("recruiters", len(cfg.Recruiters)))
	p.Run(ctx)
	slog.Info("poller stopped")
}

func serveHealth(port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("poller health server error", slog.Any("error", err))
	}
}
