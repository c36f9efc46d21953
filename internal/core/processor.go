package core

import (
	"context"
	"database/sql"
	"editbench/internal/config"
	"editbench/internal/database"
	"editbench/internal/messaging"
	"editbench/internal/storage"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskProcessor runs evaluation runs submitted through the queue.
type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever
	models    Models
	dataDir   string
}

type ProcessorOption func(*TaskProcessor)

// WithDataDir confines the data path of queued runs to dir. Configs are
// checked as submitted configs and their data path is resolved under dir.
func WithDataDir(dir string) ProcessorOption {
	return func(proc *TaskProcessor) {
		proc.dataDir = dir
	}
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, reciever messaging.Reciever, models Models, opts ...ProcessorOption) *TaskProcessor {
	proc := &TaskProcessor{
		db:        db,
		storage:   storage,
		publisher: publisher,
		reciever:  reciever,
		models:    models,
	}
	for _, opt := range opts {
		opt(proc)
	}
	return proc
}

// RunStore is where the artifacts of a queued run are kept.
func RunStore(store storage.ObjectStore, runId uuid.UUID) storage.ObjectStore {
	return storage.NewPrefixedObjectStore(store, "runs/"+runId.String())
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.EvaluationQueue:
		var payload messaging.EvaluationTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling evaluation task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processEvaluationTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processEvaluationTask(ctx context.Context, payload messaging.EvaluationTaskPayload) error {
	runId := payload.RunId

	var run database.Run
	if err := proc.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		slog.Error("error fetching run", "run_id", runId, "error", err)
		return fmt.Errorf("error getting run: %w", err)
	}

	if run.Status == database.RunCompleted && !payload.Resume {
		slog.Info("run already completed, skipping", "run_id", runId)
		return nil
	}

	slog.Info("processing evaluation run", "run_id", runId, "name", run.Name, "resume", payload.Resume)

	cfg, err := config.ParseBenchmarkConfig([]byte(run.Config))
	if err != nil {
		return proc.failRun(ctx, runId, fmt.Errorf("invalid run config: %w", err))
	}
	if proc.dataDir != "" {
		if err := cfg.CheckSubmitted(); err != nil {
			return proc.failRun(ctx, runId, fmt.Errorf("invalid run config: %w", err))
		}
		cfg.Benchmark.DataPath = filepath.Join(proc.dataDir, cfg.Benchmark.DataPath)
	}
	if payload.Resume {
		cfg.Evaluation.ResumeFromCheckpoint = true
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunRunning); err != nil {
		return fmt.Errorf("error updating run status: %w", err)
	}

	pipeline := NewPipeline(cfg, RunStore(proc.storage, runId),
		WithModels(proc.models),
		WithRecorder(&runRecorder{db: proc.db, runId: runId}),
		WithProgressOutput(io.Discard),
	)

	if _, err := pipeline.Run(ctx); err != nil {
		return proc.failRun(ctx, runId, err)
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunCompleted); err != nil {
		return fmt.Errorf("error updating run status: %w", err)
	}

	slog.Info("evaluation run complete", "run_id", runId)
	return nil
}

func (proc *TaskProcessor) failRun(ctx context.Context, runId uuid.UUID, err error) error {
	database.SaveRunError(ctx, proc.db, runId, err.Error())
	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunFailed); err != nil {
		slog.Error("error marking run failed", "run_id", runId, "error", err)
	}
	return err
}

// runRecorder persists pipeline progress for a queued run.
type runRecorder struct {
	db    *gorm.DB
	runId uuid.UUID
}

func (r *runRecorder) RecordCategory(ctx context.Context, result CategoryResult, stats map[string]float64) error {
	failed := make(map[string]ItemFailure, len(result.Failures))
	for _, f := range result.Failures {
		failed[f.PairId] = f
	}

	resumed := make(map[string]bool, len(result.ResumedIds))
	for _, pairId := range result.ResumedIds {
		resumed[pairId] = true
	}

	pairs := make([]database.PairResult, 0, len(result.PairIds))
	for i, pairId := range result.PairIds {
		// Rows of resumed pairs were written by the interrupted attempt,
		// failures included.
		if resumed[pairId] {
			continue
		}
		pair := database.PairResult{
			RunId:    r.runId,
			PairId:   pairId,
			Category: result.Category,
			Score:    result.Scores[i],
			Edited:   true,
		}
		if f, ok := failed[pairId]; ok {
			pair.Edited = f.Stage != StageEdit
			pair.Failure = sql.NullString{String: f.Error(), Valid: true}
		}
		pairs = append(pairs, pair)
	}

	category := database.CategoryScore{
		RunId:         r.runId,
		Category:      result.Category,
		NumPairs:      len(result.Scores),
		EditFailures:  result.EditFailures(),
		ScoreFailures: result.ScoreFailures(),
		Resumed:       result.Resumed,
		Mean:          Mean(result.Scores),
	}

	if len(result.ResumedIds) > 0 {
		var prior []database.PairResult
		if err := r.db.WithContext(ctx).
			Where("run_id = ? AND category = ? AND failure IS NOT NULL", r.runId, result.Category).
			Where("pair_id IN ?", result.ResumedIds).
			Find(&prior).Error; err != nil {
			return fmt.Errorf("error loading resumed pair results: %w", err)
		}
		for _, p := range prior {
			if p.Edited {
				category.ScoreFailures++
			} else {
				category.EditFailures++
			}
		}
	}

	return database.SaveCategoryResult(ctx, r.db, category, stats, pairs)
}

func (r *runRecorder) RecordReport(ctx context.Context, report Report, location string) error {
	return database.SetRunReport(ctx, r.db, r.runId, location)
}

var _ ResultRecorder = (*runRecorder)(nil)
