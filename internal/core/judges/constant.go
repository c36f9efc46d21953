package judges

import (
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"fmt"
)

type ConstantJudgeParams struct {
	Score float64 `yaml:"score"`
}

// ConstantJudge gives every edit the same score. It stands in for a real
// judge when testing editors and pipeline wiring.
type ConstantJudge struct {
	types.NoResidency
	score float64
}

func NewConstantJudge(params map[string]any) (*ConstantJudge, error) {
	cfg := ConstantJudgeParams{Score: 5.0}
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Score < 0 || cfg.Score > 10 {
		return nil, fmt.Errorf("constant judge score %v is outside [0, 10]", cfg.Score)
	}
	return &ConstantJudge{score: cfg.Score}, nil
}

func (j *ConstantJudge) Score(ctx context.Context, req types.ScoreRequest) (float64, error) {
	if req.EditedImage == nil {
		return 0, fmt.Errorf("score request has no edited image")
	}
	return j.score, nil
}

func (j *ConstantJudge) BatchScore(ctx context.Context, reqs []types.ScoreRequest) ([]float64, error) {
	scores := make([]float64, len(reqs))
	for i, req := range reqs {
		score, err := j.Score(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		scores[i] = score
	}
	return scores, nil
}

func (j *ConstantJudge) Release() {}

var _ types.BatchJudge = (*ConstantJudge)(nil)
