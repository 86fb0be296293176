package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/answer-pipeline/internal/config"
	"github.com/kirillkom/answer-pipeline/internal/core/domain"
	natssink "github.com/kirillkom/answer-pipeline/internal/infrastructure/telemetry/nats"
	"github.com/kirillkom/answer-pipeline/internal/observability/logging"
)

// The worker tails the telemetry subject and turns stage events into
// structured log lines, one per stage transition.
func main() {
	cfg := config.Load()
	logging.Setup("answer-pipeline-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := natssink.New(cfg.NATSURL, cfg.TelemetrySubject)
	if err != nil {
		slog.Error("telemetry_connect_failed", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	slog.Info("worker_subscribed", "subject", cfg.TelemetrySubject)
	err = sink.Subscribe(ctx, func(_ context.Context, event domain.StageEvent) {
		slog.Info("stage_event",
			"run_id", event.RunID,
			"stage", event.Stage,
			"attempt", event.Attempt,
			"duration_ms", event.DurationMillis,
			"input_size", event.InputSize,
			"output_size", event.OutputSize,
			"outcome", event.Outcome,
		)
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
