package scorer

import (
	"context"
	"editbench/internal/core/utils"
	"editbench/pkg/api"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
)

type Config struct {
	BatchSize         int
	UseBatchInference bool
	MaxNewTokens      int
	Seed              *int64
}

type Scorer struct {
	backend Backend
	cfg     Config

	unparsed int
}

func NewScorer(backend Backend, cfg Config) *Scorer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Scorer{backend: backend, cfg: cfg}
}

// Unparsed is the number of responses so far that held no usable score and
// were given DefaultScore.
func (s *Scorer) Unparsed() int {
	return s.unparsed
}

func (s *Scorer) options() GenerateOptions {
	return GenerateOptions{MaxNewTokens: s.cfg.MaxNewTokens, Seed: s.cfg.Seed}
}

func buildPrompt(task api.WorkerTask) (Prompt, error) {
	data, err := utils.DecodeBase64(task.ImageB64)
	if err != nil {
		return Prompt{}, err
	}

	mime, err := DetectImageMIME(data)
	if err != nil {
		return Prompt{}, err
	}

	return Prompt{System: task.SystemPrompt, Image: data, ImageMIME: mime, User: task.UserPrompt}, nil
}

func (s *Scorer) score(text string) float64 {
	score, ok := ExtractScore(text)
	if !ok {
		s.unparsed++
		slog.Warn("no score parsed from judge response, using default", "default", DefaultScore, "response", truncate(text, 200))
	}
	return score
}

// ScoreTasks returns one score per task in task order. Any decoding or
// generation error fails the whole call.
func (s *Scorer) ScoreTasks(ctx context.Context, tasks []api.WorkerTask) ([]float64, error) {
	prompts := make([]Prompt, len(tasks))
	for i, task := range tasks {
		prompt, err := buildPrompt(task)
		if err != nil {
			return nil, fmt.Errorf("error preparing task %d: %w", i, err)
		}
		prompts[i] = prompt
	}

	if !s.cfg.UseBatchInference || s.cfg.BatchSize == 1 {
		return s.scoreSerial(ctx, prompts)
	}
	return s.scoreBatched(ctx, prompts)
}

func (s *Scorer) scoreSerial(ctx context.Context, prompts []Prompt) ([]float64, error) {
	scores := make([]float64, 0, len(prompts))
	for i, prompt := range prompts {
		slog.Info(fmt.Sprintf("[Progress] %d/%d", i+1, len(prompts)))

		text, err := s.backend.Generate(ctx, prompt, s.options())
		if err != nil {
			return nil, fmt.Errorf("error scoring task %d: %w", i, err)
		}
		scores = append(scores, s.score(text))
	}
	return scores, nil
}

func (s *Scorer) scoreBatched(ctx context.Context, prompts []Prompt) ([]float64, error) {
	restore := acquirePadding(s.backend, "left")
	defer restore()

	scores := make([]float64, 0, len(prompts))
	numBatches := (len(prompts) + s.cfg.BatchSize - 1) / s.cfg.BatchSize

	for b, batch := range slices.Collect(slices.Chunk(prompts, s.cfg.BatchSize)) {
		texts, err := s.generateBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("error scoring batch %d/%d: %w", b+1, numBatches, err)
		}
		if len(texts) != len(batch) {
			return nil, fmt.Errorf("batch %d/%d returned %d outputs for %d prompts", b+1, numBatches, len(texts), len(batch))
		}

		sum := 0.0
		for _, text := range texts {
			score := s.score(text)
			scores = append(scores, score)
			sum += score
			slog.Info("scored sample", "batch", b+1, "sample", len(scores), "score", score)
		}

		slog.Info(fmt.Sprintf("[Batch %d/%d] done", b+1, numBatches), "batch_average", sum/float64(len(batch)), "completed", len(scores), "total", len(prompts))
	}

	return scores, nil
}

func (s *Scorer) generateBatch(ctx context.Context, prompts []Prompt) ([]string, error) {
	if batcher, ok := s.backend.(BatchBackend); ok {
		return batcher.GenerateBatch(ctx, prompts, s.options())
	}

	texts := make([]string, len(prompts))
	for i, prompt := range prompts {
		text, err := s.backend.Generate(ctx, prompt, s.options())
		if err != nil {
			return nil, err
		}
		texts[i] = text
	}
	return texts, nil
}

// Run reads the task file at inputPath, scores it and writes the result
// file to outputPath. A failure is also written to outputPath before being
// returned, so the caller always finds an output artifact.
func Run(ctx context.Context, s *Scorer, inputPath, outputPath string) error {
	scores, err := runTasks(ctx, s, inputPath)
	if err != nil {
		slog.Error("scoring failed", "error", err)
		if werr := writeOutput(outputPath, api.WorkerOutput{Status: api.WorkerStatusError, Error: err.Error(), Scores: []float64{}}); werr != nil {
			slog.Error("error writing error output", "path", outputPath, "error", werr)
		}
		return err
	}

	logSummary(scores, s.Unparsed())

	return writeOutput(outputPath, api.WorkerOutput{Status: api.WorkerStatusSuccess, Scores: scores, NumTasks: len(scores)})
}

func runTasks(ctx context.Context, s *Scorer, inputPath string) ([]float64, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("error reading input file: %w", err)
	}

	var input api.WorkerInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("error parsing input file: %w", err)
	}

	slog.Info("loaded scoring tasks", "tasks", len(input.Tasks), "batch_size", s.cfg.BatchSize, "batch_inference", s.cfg.UseBatchInference)

	return s.ScoreTasks(ctx, input.Tasks)
}

func writeOutput(path string, output api.WorkerOutput) error {
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("error serializing output: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}
	return nil
}

func logSummary(scores []float64, unparsed int) {
	if len(scores) == 0 {
		slog.Info("scoring complete", "tasks", 0)
		return
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}

	slog.Info("scoring complete",
		"tasks", len(scores),
		"mean", sum/float64(len(scores)),
		"min", slices.Min(scores),
		"max", slices.Max(scores),
		"unparsed", unparsed,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
