package api

import (
	"editbench/internal/config"
	"editbench/internal/core"
	"editbench/internal/database"
	"editbench/internal/messaging"
	"editbench/internal/storage"
	"editbench/pkg/api"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type BackendService struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	models    core.Models
}

func NewBackendService(db *gorm.DB, storage storage.ObjectStore, pub messaging.Publisher, models core.Models) *BackendService {
	return &BackendService{db: db, storage: storage, publisher: pub, models: models}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Get("/models", RestHandler(s.ListModelTypes))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Post("/{run_id}/resume", RestHandler(s.ResumeRun))
		r.Get("/{run_id}/pairs", RestHandler(s.ListPairResults))
		r.Get("/{run_id}/report", RestHandler(s.GetReport))
	})
}

func (s *BackendService) ListModelTypes(r *http.Request) (any, error) {
	res := api.ModelTypes{}
	for t := range s.models.Editors {
		res.Editors = append(res.Editors, string(t))
	}
	for t := range s.models.Judges {
		res.Judges = append(res.Judges, string(t))
	}
	slices.Sort(res.Editors)
	slices.Sort(res.Judges)
	return res, nil
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	cfg, err := config.ParseBenchmarkConfig([]byte(req.Config))
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid benchmark config: %v", err)
	}
	if err := cfg.CheckSubmitted(); err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid benchmark config: %v", err)
	}

	if err := s.models.Check(cfg.DiffusionModel.Type, cfg.RewardModel.Type); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	ctx := r.Context()

	run := database.Run{
		Id:           uuid.New(),
		Name:         req.Name,
		Status:       database.RunQueued,
		EditorType:   cfg.DiffusionModel.Type,
		JudgeType:    cfg.RewardModel.Type,
		Config:       req.Config,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishEvaluationTask(ctx, messaging.EvaluationTaskPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing evaluation task", "run_id", run.Id, "error", err)
		database.SaveRunError(ctx, s.db, run.Id, fmt.Sprintf("error queueing run: %v", err))
		if err := database.UpdateRunStatus(ctx, s.db, run.Id, database.RunFailed); err != nil {
			slog.Error("error marking run failed", "run_id", run.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue evaluation run")
	}

	slog.Info("submitted evaluation run", "run_id", run.Id, "name", run.Name, "categories", len(cfg.Benchmark.Categories))

	return api.SubmitRunResponse{Id: run.Id}, nil
}

func (s *BackendService) ResumeRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	run, err := s.getRun(r, runId)
	if err != nil {
		return nil, err
	}
	if run.Status == database.RunRunning || run.Status == database.RunQueued {
		return nil, CodedErrorf(http.StatusConflict, "run is %s", run.Status)
	}

	if err := database.UpdateRunStatus(ctx, s.db, runId, database.RunQueued); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error updating run status")
	}

	if err := s.publisher.PublishEvaluationTask(ctx, messaging.EvaluationTaskPayload{RunId: runId, Resume: true}); err != nil {
		slog.Error("error publishing evaluation task", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue evaluation run")
	}

	slog.Info("resumed evaluation run", "run_id", runId)
	return api.SubmitRunResponse{Id: runId}, nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC").Limit(limit)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var runs []database.Run
	if err := query.Find(&runs).Error; err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run records")
	}

	return convertRuns(runs), nil
}

func (s *BackendService) getRun(r *http.Request, runId uuid.UUID, preload ...string) (database.Run, error) {
	query := s.db.WithContext(r.Context())
	for _, p := range preload {
		query = query.Preload(p)
	}

	var run database.Run
	if err := query.First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return run, CodedErrorf(http.StatusNotFound, "run not found")
		}
		slog.Error("error getting run", "run_id", runId, "error", err)
		return run, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}
	return run, nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.getRun(r, runId, "Categories", "Errors")
	if err != nil {
		return nil, err
	}

	return convertRun(run)
}

func (s *BackendService) ListPairResults(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListPairsParams](r)
	if err != nil {
		return nil, err
	}

	if _, err := s.getRun(r, runId); err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Where("run_id = ?", runId).Order("category, pair_id")
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.Failed {
		query = query.Where("failure IS NOT NULL")
	}

	var pairs []database.PairResult
	if err := query.Find(&pairs).Error; err != nil {
		slog.Error("error listing pair results", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pair results")
	}

	return convertPairResults(pairs), nil
}

func (s *BackendService) GetReport(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.getRun(r, runId)
	if err != nil {
		return nil, err
	}
	if !run.ReportKey.Valid {
		return nil, CodedErrorf(http.StatusNotFound, "run has no report yet, status is %s", run.Status)
	}

	obj, err := core.RunStore(s.storage, runId).GetObject(r.Context(), run.ReportKey.String)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "report not found in artifact store")
		}
		slog.Error("error opening report", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving report")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		slog.Error("error reading report", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving report")
	}

	var report core.Report
	if err := json.Unmarshal(data, &report); err != nil {
		slog.Error("error parsing report", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving report")
	}

	return report, nil
}
