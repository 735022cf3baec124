// Command reminders runs the two reminder loops: the short/long dojim
// ladder for silent candidates, and the scheduled interview reminder
// sender, both ticking independently until shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/hhclient"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/ratelimit"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/reminders"
)

const serviceName = "reminders"

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
	recruiters := postgres.NewRecruiterRepo(pool)
	vacancies := postgres.NewVacancyRepo(pool)
	inactiveQueue := postgres.NewInactiveQueueRepo(pool)
	appSettings := postgres.NewAppSettingsRepo(pool)
	reminderRepo := postgres.NewInterviewReminderRepo(pool)

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	hh := hhclient.New(cfg, recruiters, ratelimit.New(redisClient, nil))

	dojim := reminders.NewDojimRunner(
		cfg.DojimPoll,
		cfg.DojimConcurrency,
		cfg.Recruiters,
		cfg.Location(),
		dialogues,
		recruiters,
		inactiveQueue,
		appSettings,
		hh,
	)
	interviewSender := reminders.NewInterviewSender(
		cfg.InterviewPoll,
		cfg.InterviewBatchSize,
		cfg.Location(),
		reminderRepo,
		dialogues,
		vacancies,
		recruiters,
		hh,
	)

	slog.Info("starting reminders", slog.String("env", cfg.AppEnv), slog.Int("recruiters", len(cfg.Recruiters)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dojim.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		interviewSender.Run(ctx)
	}()
	wg.Wait()

	slog.Info("reminders stopped")
}

func serveHealth(port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("reminders health server error", slog.Any("error", err))
	}
}
