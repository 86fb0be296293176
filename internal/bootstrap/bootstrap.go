package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/answer-pipeline/internal/config"
	"github.com/kirillkom/answer-pipeline/internal/core/ports"
	"github.com/kirillkom/answer-pipeline/internal/core/usecase"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/snapshot/postgres"
	natssink "github.com/kirillkom/answer-pipeline/internal/infrastructure/telemetry/nats"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/answer-pipeline/internal/observability/metrics"
)

// App holds the wired collaborators for one process.
type App struct {
	Config   config.Config
	Pipeline ports.AnswerService
	Metrics  *metrics.PipelineMetrics

	closeFn func()
}

// New wires the pipeline use case to its adapters. The telemetry sink and the
// snapshot store are optional collaborators: if either is unreachable the app
// starts without it and logs the degradation.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	limits, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	limits.RunDeadline = time.Duration(cfg.RunDeadlineSeconds) * time.Second
	limits.RetrievalSubTimeout = time.Duration(cfg.RetrievalSubTimeoutSeconds) * time.Second

	executor := resilience.NewExecutor(resilience.DefaultPolicy())
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel).WithExecutor(executor)

	analyzer := ollama.NewAnalyzer(ollamaClient)
	judge := ollama.NewJudge(ollamaClient)
	synthesizer := ollama.NewSynthesizer(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)

	search := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder)

	var telemetry ports.TelemetrySink
	sink, err := natssink.New(cfg.NATSURL, cfg.TelemetrySubject)
	if err != nil {
		slog.Warn("telemetry_sink_unavailable", "error", err)
	} else {
		telemetry = sink
	}

	var snapshots ports.SnapshotStore
	var db *sql.DB
	if cfg.SnapshotsEnabled {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			slog.Warn("snapshot_store_unavailable", "error", err)
		} else {
			store := postgres.NewSnapshotStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure snapshot schema: %w", err)
			}
			snapshots = store
		}
	}

	pipeline := usecase.NewPipelineUseCase(analyzer, search, judge, synthesizer, telemetry, snapshots, limits)

	return &App{
		Config:   cfg,
		Pipeline: pipeline,
		Metrics:  metrics.NewPipelineMetrics("answer-pipeline-api"),

		closeFn: func() {
			if sink != nil {
				sink.Close()
			}
			if db != nil {
				_ = db.Close()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
