package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	backend "editbench/internal/api"
	"editbench/internal/core"
	"editbench/internal/database"
	"editbench/internal/messaging"
	"editbench/internal/storage"
	"editbench/pkg/api"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const validConfig = `
benchmark:
  data_path: data/benchmark.json
  categories: [物理, 环境]
diffusion_model:
  type: reference
reward_model:
  type: constant
  params:
    score: 7
prompts:
  物理:
    system_prompt: judge physics
    user_prompt_template: "{edit_instruction}"
  环境:
    system_prompt: judge environment
    user_prompt_template: "{original_description} -> {edit_instruction}"
`

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := database.NewDatabase("sqlite://file::memory:")
	require.NoError(t, err)

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type testEnv struct {
	db     *gorm.DB
	store  storage.ObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func newTestEnv(t *testing.T, create ...any) *testEnv {
	db := createDB(t, create...)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, store, queue, core.ServiceModels(core.Launchers{}))
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testEnv{db: db, store: store, queue: queue, router: router}
}

func (e *testEnv) do(method, url string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}

	req := httptest.NewRequest(method, url, &payload)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListModelTypes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[api.ModelTypes](t, rec)
	// No plugin command is configured for the service.
	assert.Equal(t, []string{"http", "reference"}, res.Editors)
	assert.Equal(t, []string{"api", "constant", "subprocess"}, res.Judges)
}

func TestSubmitRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/runs", api.SubmitRunRequest{Name: "nightly-1", Config: validConfig})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[api.SubmitRunResponse](t, rec)

	var run database.Run
	require.NoError(t, env.db.First(&run, "id = ?", res.Id).Error)
	assert.Equal(t, "nightly-1", run.Name)
	assert.Equal(t, database.RunQueued, run.Status)
	assert.Equal(t, "reference", run.EditorType)
	assert.Equal(t, "constant", run.JudgeType)
	assert.Equal(t, validConfig, run.Config)

	select {
	case task := <-env.queue.Tasks():
		assert.Equal(t, messaging.EvaluationQueue, task.Type())
		var payload messaging.EvaluationTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, res.Id, payload.RunId)
		assert.False(t, payload.Resume)
	case <-time.After(time.Second):
		t.Fatal("no task published")
	}
}

func TestSubmitRunErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]struct {
		req  api.SubmitRunRequest
		code int
	}{
		"bad name":       {api.SubmitRunRequest{Name: "nightly run!", Config: validConfig}, http.StatusBadRequest},
		"bad yaml":       {api.SubmitRunRequest{Name: "r1", Config: "benchmark: ["}, http.StatusUnprocessableEntity},
		"missing prompt": {api.SubmitRunRequest{Name: "r1", Config: "benchmark: {data_path: x, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: constant}"}, http.StatusUnprocessableEntity},
		"unknown judge":  {api.SubmitRunRequest{Name: "r1", Config: "benchmark: {data_path: x, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: oracle}\nprompts: {a: {system_prompt: s, user_prompt_template: u}}"}, http.StatusUnprocessableEntity},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/runs", tc.req)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(http.MethodPost, "/runs", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var count int64
	require.NoError(t, env.db.Model(&database.Run{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitRunRejectsLaunchers(t *testing.T) {
	env := newTestEnv(t)

	withModels := func(models string) string {
		return "benchmark: {data_path: data/bench.json, categories: [a]}\n" + models +
			"\nprompts: {a: {system_prompt: s, user_prompt_template: u}}"
	}

	tests := map[string]string{
		"judge command":     withModels("diffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {command: [sh, -c, 'touch /tmp/pwned']}}"),
		"judge script":      withModels("diffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {python_path: /usr/bin/python3, script_path: /tmp/x.py}}"),
		"judge conda":       withModels("diffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {conda_env: base}}"),
		"judge env":         withModels("diffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {env: [LD_PRELOAD=/tmp/x.so]}}"),
		"plugin command":    withModels("diffusion_model: {type: plugin, params: {command: [/bin/sh]}}\nreward_model: {type: constant}"),
		"plugin not served": withModels("diffusion_model: {type: plugin}\nreward_model: {type: constant}"),
		"absolute data":     "benchmark: {data_path: /etc/passwd, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: constant}\nprompts: {a: {system_prompt: s, user_prompt_template: u}}",
		"escaping data":     "benchmark: {data_path: ../../secrets.json, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: constant}\nprompts: {a: {system_prompt: s, user_prompt_template: u}}",
	}

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/runs", api.SubmitRunRequest{Name: "r1", Config: cfg})
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&database.Run{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitRunQueueClosed(t *testing.T) {
	env := newTestEnv(t)
	env.queue.Close()

	rec := env.do(http.MethodPost, "/runs", api.SubmitRunRequest{Name: "r1", Config: validConfig})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var run database.Run
	require.NoError(t, env.db.Preload("Errors").First(&run).Error)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.Len(t, run.Errors, 1)
}

func TestListRuns(t *testing.T) {
	now := time.Now().UTC()
	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()
	env := newTestEnv(t,
		&database.Run{Id: id1, Name: "a", Status: database.RunCompleted, EditorType: "reference", JudgeType: "constant", Config: "x", CreationTime: now.Add(-2 * time.Hour)},
		&database.Run{Id: id2, Name: "b", Status: database.RunFailed, EditorType: "http", JudgeType: "api", Config: "x", CreationTime: now.Add(-time.Hour)},
		&database.Run{Id: id3, Name: "c", Status: database.RunCompleted, EditorType: "plugin", JudgeType: "subprocess", Config: "x", CreationTime: now},
	)

	rec := env.do(http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.Run](t, rec)
	require.Len(t, runs, 3)
	assert.Equal(t, []uuid.UUID{id3, id2, id1}, []uuid.UUID{runs[0].Id, runs[1].Id, runs[2].Id})

	rec = env.do(http.MethodGet, "/runs?status=COMPLETED&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs = decode[[]api.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, id3, runs[0].Id)

	rec = env.do(http.MethodGet, "/runs?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	runId := uuid.New()
	now := time.Now().UTC()
	env := newTestEnv(t,
		&database.Run{
			Id: runId, Name: "nightly", Status: database.RunCompleted, EditorType: "reference", JudgeType: "constant", Config: "x",
			CreationTime:   now,
			StartTime:      sql.NullTime{Time: now, Valid: true},
			CompletionTime: sql.NullTime{Time: now.Add(time.Minute), Valid: true},
			ReportKey:      sql.NullString{String: "results/evaluation_report_20250101_000000.json", Valid: true},
		},
		&database.CategoryScore{RunId: runId, Category: "物理", NumPairs: 2, EditFailures: 1, Mean: 3.5, Statistics: datatypes.JSON(`{"mean": 3.5, "num_samples": 2}`)},
		&database.RunError{RunId: runId, ErrorId: uuid.New(), Error: "checkpoint write failed", Timestamp: now},
	)

	rec := env.do(http.MethodGet, "/runs/"+runId.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	run := decode[api.Run](t, rec)
	assert.Equal(t, "nightly", run.Name)
	assert.NotNil(t, run.StartTime)
	assert.NotNil(t, run.CompletionTime)
	assert.Equal(t, "results/evaluation_report_20250101_000000.json", run.ReportKey)
	require.Len(t, run.Categories, 1)
	assert.Equal(t, api.CategoryScore{
		Category: "物理", NumPairs: 2, EditFailures: 1, Mean: 3.5,
		Statistics: map[string]float64{"mean": 3.5, "num_samples": 2},
	}, run.Categories[0])
	assert.Equal(t, []string{"checkpoint write failed"}, run.Errors)

	rec = env.do(http.MethodGet, "/runs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPairResults(t *testing.T) {
	runId := uuid.New()
	env := newTestEnv(t,
		&database.Run{Id: runId, Name: "r", Status: database.RunCompleted, EditorType: "reference", JudgeType: "constant", Config: "x", CreationTime: time.Now()},
		&database.PairResult{RunId: runId, PairId: "p1", Category: "a", Score: 7, Edited: true},
		&database.PairResult{RunId: runId, PairId: "p2", Category: "a", Score: 0, Edited: false, Failure: sql.NullString{String: "edit failed", Valid: true}},
		&database.PairResult{RunId: runId, PairId: "p3", Category: "b", Score: 0, Edited: true, Failure: sql.NullString{String: "score failed", Valid: true}},
	)

	rec := env.do(http.MethodGet, "/runs/"+runId.String()+"/pairs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pairs := decode[[]api.PairResult](t, rec)
	assert.Len(t, pairs, 3)

	rec = env.do(http.MethodGet, "/runs/"+runId.String()+"/pairs?category=a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pairs = decode[[]api.PairResult](t, rec)
	assert.Equal(t, []api.PairResult{
		{Category: "a", PairId: "p1", Score: 7, Edited: true},
		{Category: "a", PairId: "p2", Score: 0, Edited: false, Failure: "edit failed"},
	}, pairs)

	rec = env.do(http.MethodGet, "/runs/"+runId.String()+"/pairs?failed=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pairs = decode[[]api.PairResult](t, rec)
	require.Len(t, pairs, 2)
	assert.Equal(t, "p2", pairs[0].PairId)
	assert.Equal(t, "p3", pairs[1].PairId)

	rec = env.do(http.MethodGet, "/runs/"+uuid.New().String()+"/pairs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	runId, pendingId := uuid.New(), uuid.New()
	env := newTestEnv(t,
		&database.Run{Id: runId, Name: "r", Status: database.RunCompleted, EditorType: "reference", JudgeType: "constant", Config: "x", CreationTime: time.Now()},
		&database.Run{Id: pendingId, Name: "p", Status: database.RunRunning, EditorType: "reference", JudgeType: "constant", Config: "x", CreationTime: time.Now()},
	)

	report := core.BuildReport([]core.CategoryResult{{Category: "a", Scores: []float64{4, 6}}}, []string{"mean"}, nil, time.Now().UTC())
	reportKey, err := core.NewReportWriter(core.RunStore(env.store, runId), "results").Save(context.Background(), report)
	require.NoError(t, err)
	require.NoError(t, database.SetRunReport(context.Background(), env.db, runId, reportKey))

	rec := env.do(http.MethodGet, "/runs/"+runId.String()+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[core.Report](t, rec)
	assert.Equal(t, 2, got.Summary.TotalSamples)
	assert.InDelta(t, 5.0, got.Summary.OverallMean, 1e-9)

	rec = env.do(http.MethodGet, "/runs/"+pendingId.String()+"/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.store.DeleteObjects(context.Background(), "runs/"+runId.String()))
	rec = env.do(http.MethodGet, "/runs/"+runId.String()+"/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeRun(t *testing.T) {
	failedId, runningId := uuid.New(), uuid.New()
	env := newTestEnv(t,
		&database.Run{Id: failedId, Name: "f", Status: database.RunFailed, EditorType: "reference", JudgeType: "constant", Config: validConfig, CreationTime: time.Now()},
		&database.Run{Id: runningId, Name: "r", Status: database.RunRunning, EditorType: "reference", JudgeType: "constant", Config: validConfig, CreationTime: time.Now()},
	)

	rec := env.do(http.MethodPost, "/runs/"+failedId.String()+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run database.Run
	require.NoError(t, env.db.First(&run, "id = ?", failedId).Error)
	assert.Equal(t, database.RunQueued, run.Status)

	task := <-env.queue.Tasks()
	var payload messaging.EvaluationTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, messaging.EvaluationTaskPayload{RunId: failedId, Resume: true}, payload)

	rec = env.do(http.MethodPost, "/runs/"+runningId.String()+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
