package judges

import (
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"editbench/internal/scorer"
	"fmt"
	"sync"
)

type APIJudgeParams struct {
	Backend           string `yaml:"backend"`
	Endpoint          string `yaml:"endpoint"`
	APIKey            string `yaml:"api_key"`
	ModelName         string `yaml:"model_name"`
	MaxNewTokens      int    `yaml:"max_new_tokens"`
	BatchSize         int    `yaml:"batch_size"`
	UseBatchInference bool   `yaml:"use_batch_inference"`
	Seed              *int64 `yaml:"seed"`
}

// APIJudge scores in-process against a served vision language model. It is
// the lightweight alternative to SubprocessJudge when the judge already runs
// behind an API.
type APIJudge struct {
	types.NoResidency

	mu     sync.Mutex
	scorer *scorer.Scorer
}

func NewAPIJudge(params map[string]any) (*APIJudge, error) {
	cfg := APIJudgeParams{
		Backend:           string(scorer.OpenAI),
		MaxNewTokens:      128,
		BatchSize:         4,
		UseBatchInference: true,
	}
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("api judge requires model_name")
	}

	backend, err := scorer.NewBackend(scorer.BackendConfig{
		Type:     scorer.BackendType(cfg.Backend),
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.ModelName,
	})
	if err != nil {
		return nil, err
	}

	return NewAPIJudgeWithBackend(backend, scorer.Config{
		BatchSize:         cfg.BatchSize,
		UseBatchInference: cfg.UseBatchInference,
		MaxNewTokens:      cfg.MaxNewTokens,
		Seed:              cfg.Seed,
	}), nil
}

func NewAPIJudgeWithBackend(backend scorer.Backend, cfg scorer.Config) *APIJudge {
	return &APIJudge{scorer: scorer.NewScorer(backend, cfg)}
}

func (j *APIJudge) Score(ctx context.Context, req types.ScoreRequest) (float64, error) {
	scores, err := j.BatchScore(ctx, []types.ScoreRequest{req})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (j *APIJudge) BatchScore(ctx context.Context, reqs []types.ScoreRequest) ([]float64, error) {
	tasks, err := workerTasks(reqs)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.scorer.ScoreTasks(ctx, tasks)
}

func (j *APIJudge) Release() {}

var _ types.BatchJudge = (*APIJudge)(nil)
