// Package observability provides logging, metrics, tracing, and circuit
// breaker helpers shared by all four pipeline binaries (poller, processor,
// reminders, notifier).
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with the service name and
// environment, matching every binary's fields so logs from all four
// pipelines can be correlated in one sink.
func SetupLogger(cfg config.Config, service string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", cfg.AppEnv),
	)
}
