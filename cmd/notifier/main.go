// Command notifier drains the qualified/rejected/inactive notification
// queues into the recruiter's Telegram forum topics, supervises its own
// consumer loops with a liveness watchdog, and prunes old dialogue history
// on a daily schedule.
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

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/messenger"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/notifier"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

const serviceName = "notifier"

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
	qualifiedQueue := postgres.NewQualifiedQueueRepo(pool)
	rejectedQueue := postgres.NewRejectedQueueRepo(pool)
	inactiveQueue := postgres.NewInactiveQueueRepo(pool)

	msgr := messenger.New(cfg)

	watchdog := notifier.NewWatchdog(cfg.HeartbeatLiveness, cfg.WatchdogInterval)

	qualifiedSender := notifier.NewQualifiedSender(
		cfg.NotifierPoll, cfg.NotifierBatchSize,
		qualifiedQueue, dialogues, candidates, vacancies, recruiters, msgr,
		func() { watchdog.Heartbeat("qualified_sender") },
	)
	rejectedSender := notifier.NewRejectedSender(
		cfg.NotifierPoll, cfg.NotifierBatchSize,
		rejectedQueue, dialogues, candidates, vacancies, recruiters, msgr,
		func() { watchdog.Heartbeat("rejected_sender") },
	)
	inactiveSender := notifier.NewInactiveSender(
		cfg.NotifierPoll, cfg.NotifierBatchSize,
		inactiveQueue, dialogues, candidates, vacancies, recruiters, msgr,
		func() { watchdog.Heartbeat("inactive_sender") },
	)

	cleaner := notifier.NewHistoryCleaner(dialogues, cfg.HistoryRetentionDays, cfg.HistoryCleanupAtHour, nil)
	if err := cleaner.Start(); err != nil {
		slog.Error("history cleaner start failed", slog.Any("error", err))
	}
	defer cleaner.Stop()

	slog.Info("starting notifier", slog.String("env", cfg.AppEnv))

	watchdog.Run(ctx,
		notifier.Worker{Name: "qualified_sender", Run: qualifiedSender.Run},
		notifier.Worker{Name: "rejected_sender", Run: rejectedSender.Run},
		notifier.Worker{Name: "inactive_sender", Run: inactiveSender.Run},
	)

	slog.Info("notifier stopped")
}

func serveHealth(port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("notifier health server error", slog.Any("error", err))
	}
}
