package core

import (
	"bytes"
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"editbench/internal/storage"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
)

type Stage string

const (
	StageEdit  Stage = "edit"
	StageScore Stage = "score"
)

// ItemFailure is a pair that could not be edited or scored. The pair keeps
// a score of 0 and the run continues.
type ItemFailure struct {
	Category string
	PairId   string
	Stage    Stage
	Err      error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("%s failed for pair '%s' in category '%s': %v", f.Stage, f.PairId, f.Category, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// CategoryResult holds one score per pair, in benchmark order. Pairs whose
// score was taken from the checkpoint are listed in ResumedIds.
type CategoryResult struct {
	Category   string
	PairIds    []string
	Scores     []float64
	Failures   []ItemFailure
	Resumed    int
	ResumedIds []string
}

func (r CategoryResult) countFailures(stage Stage) int {
	n := 0
	for _, f := range r.Failures {
		if f.Stage == stage {
			n++
		}
	}
	return n
}

func (r CategoryResult) EditFailures() int {
	return r.countFailures(StageEdit)
}

func (r CategoryResult) ScoreFailures() int {
	return r.countFailures(StageScore)
}

// ResultRecorder is notified as categories complete, for example to persist
// progress of a queued run.
type ResultRecorder interface {
	RecordCategory(ctx context.Context, result CategoryResult, stats map[string]float64) error

	RecordReport(ctx context.Context, report Report, location string) error
}

type RunResult struct {
	Results   []CategoryResult
	Report    Report
	ReportKey string
}

type Pipeline struct {
	cfg       *config.BenchmarkConfig
	store     storage.ObjectStore
	models    Models
	recorder  ResultRecorder
	residency *ResidencyManager
	prompts   *PromptManager
	progress  io.Writer

	editor types.Editor
	judge  types.Judge
}

type PipelineOption func(*Pipeline)

func WithModels(models Models) PipelineOption {
	return func(p *Pipeline) { p.models = models }
}

func WithRecorder(recorder ResultRecorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = recorder }
}

// WithProgressOutput sets where progress bars are drawn, stdout by default.
func WithProgressOutput(w io.Writer) PipelineOption {
	return func(p *Pipeline) { p.progress = w }
}

// NewPipeline creates a pipeline that writes its artifacts (checkpoint,
// edited images and reports) to store.
func NewPipeline(cfg *config.BenchmarkConfig, store storage.ObjectStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		models:    DefaultModels(),
		residency: NewResidencyManager(),
		prompts:   NewPromptManager(cfg.Prompts),
		progress:  os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Residency() *ResidencyManager {
	return p.residency
}

// Run executes the benchmark. Item level failures are absorbed into the
// results; configuration, data, model and checkpoint errors abort the run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	categories := p.cfg.Benchmark.Categories

	if err := p.models.Check(p.cfg.DiffusionModel.Type, p.cfg.RewardModel.Type); err != nil {
		return nil, err
	}
	if err := p.prompts.Validate(categories); err != nil {
		return nil, &config.ConfigError{Field: "prompts", Msg: err.Error()}
	}

	bench, err := LoadBenchmark(p.cfg.Benchmark.DataPath, categories)
	if err != nil {
		return nil, err
	}

	ckpt := NewCheckpoint()
	if p.cfg.Evaluation.ResumeFromCheckpoint {
		if ckpt, err = LoadCheckpoint(ctx, p.store, p.cfg.Evaluation.CheckpointPath); err != nil {
			return nil, err
		}
	}

	if err := p.loadModels(); err != nil {
		return nil, err
	}
	defer p.release()

	if err := p.editorToAccelerator(ctx); err != nil {
		return nil, err
	}

	results := make([]CategoryResult, 0, len(categories))
	for i, category := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := p.runCategory(ctx, category, bench.Pairs[category], ckpt, i == len(categories)-1)
		if err != nil {
			return nil, err
		}
		results = append(results, result)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ckpt.Save(ctx, p.store, p.cfg.Evaluation.CheckpointPath); err != nil {
			slog.Error("error saving checkpoint", "category", category, "error", err)
		}

		stats := ComputeStatistics(result.Scores, p.cfg.Evaluation.Metrics)
		slog.Info("category complete", "category", category, "pairs", len(result.Scores), "mean", Mean(result.Scores), "edit_failures", result.EditFailures(), "score_failures", result.ScoreFailures(), "resumed", result.Resumed)

		if p.recorder != nil {
			if err := p.recorder.RecordCategory(ctx, result, stats); err != nil {
				slog.Error("error recording category result", "category", category, "error", err)
			}
		}
	}

	report := BuildReport(results, p.cfg.Evaluation.Metrics, map[string]any{
		"data_path":        p.cfg.Benchmark.DataPath,
		"diffusion_model":  p.cfg.DiffusionModel.Type,
		"reward_model":     p.cfg.RewardModel.Type,
		"duration_seconds": time.Since(start).Seconds(),
		"resumed":          p.cfg.Evaluation.ResumeFromCheckpoint,
	}, time.Now())

	reportKey, err := NewReportWriter(p.store, p.cfg.Evaluation.ResultsDir).Save(ctx, report)
	if err != nil {
		return nil, err
	}
	slog.Info("saved report", "location", p.store.Location(reportKey))

	if p.recorder != nil {
		if err := p.recorder.RecordReport(ctx, report, reportKey); err != nil {
			slog.Error("error recording report", "error", err)
		}
	}

	return &RunResult{Results: results, Report: report, ReportKey: reportKey}, nil
}

func (p *Pipeline) loadModels() error {
	editor, err := p.models.LoadEditor(p.cfg.DiffusionModel.Type, p.cfg.DiffusionModel.Params)
	if err != nil {
		return err
	}

	judge, err := p.models.LoadJudge(p.cfg.RewardModel.Type, p.cfg.RewardModel.Params)
	if err != nil {
		editor.Release()
		return err
	}

	p.editor, p.judge = editor, judge
	return nil
}

func (p *Pipeline) release() {
	if p.editor != nil {
		p.editor.Release()
	}
	if p.judge != nil {
		p.judge.Release()
	}
}

// The host move always comes first so both models are never on the
// accelerator together.
func (p *Pipeline) editorToAccelerator(ctx context.Context) error {
	if err := p.residency.ToHost(ctx, p.judge); err != nil {
		return err
	}
	return p.residency.ToAccelerator(ctx, p.editor)
}

func (p *Pipeline) judgeToAccelerator(ctx context.Context) error {
	if err := p.residency.ToHost(ctx, p.editor); err != nil {
		return err
	}
	return p.residency.ToAccelerator(ctx, p.judge)
}

func (p *Pipeline) runCategory(ctx context.Context, category string, pairs []types.Pair, ckpt *Checkpoint, last bool) (CategoryResult, error) {
	result := CategoryResult{Category: category}

	var pending []types.Pair
	var slots []int
	for _, pair := range pairs {
		if ckpt.IsProcessed(pair.Id) {
			if score, ok := ckpt.Score(pair.Id); ok {
				result.PairIds = append(result.PairIds, pair.Id)
				result.Scores = append(result.Scores, score)
				result.ResumedIds = append(result.ResumedIds, pair.Id)
				result.Resumed++
				continue
			}
			slog.Warn("checkpointed pair has no recorded score, running it again", "category", category, "pair_id", pair.Id)
		}
		slots = append(slots, len(result.Scores))
		result.PairIds = append(result.PairIds, pair.Id)
		result.Scores = append(result.Scores, 0)
		pending = append(pending, pair)
	}

	slog.Info("processing category", "category", category, "pairs", len(pairs), "pending", len(pending))
	if len(pending) == 0 {
		return result, nil
	}

	if err := p.editorToAccelerator(ctx); err != nil {
		return result, err
	}

	originals, edited, failures := p.editStage(ctx, category, pending)
	result.Failures = append(result.Failures, failures...)

	// Edits cut short by cancellation are not real failures and must not
	// reach the checkpoint.
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := p.judgeToAccelerator(ctx); err != nil {
		return result, err
	}

	scores, failures := p.scoreStage(ctx, category, pending, originals, edited)
	result.Failures = append(result.Failures, failures...)

	// Interrupted workers report sentinel scores.
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if !last {
		if err := p.editorToAccelerator(ctx); err != nil {
			return result, err
		}
	}

	for i, pair := range pending {
		result.Scores[slots[i]] = scores[i]
		ckpt.Record(pair.Id, scores[i])
	}

	return result, nil
}

func (p *Pipeline) newProgressBar(n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *Pipeline) editOptions() types.EditOptions {
	opts := p.cfg.DiffusionModel.EditOptions
	return types.EditOptions{Seed: opts.Seed, Params: opts.Params}
}

// editStage returns the decoded originals and the edited images, nil where
// the pair failed.
func (p *Pipeline) editStage(ctx context.Context, category string, pairs []types.Pair) ([]image.Image, []image.Image, []ItemFailure) {
	var failures []ItemFailure
	fail := func(pair types.Pair, err error) {
		slog.Error("edit failed", "category", category, "pair_id", pair.Id, "error", err)
		failures = append(failures, ItemFailure{Category: category, PairId: pair.Id, Stage: StageEdit, Err: err})
	}

	originals := make([]image.Image, len(pairs))
	var valid []int
	for i, pair := range pairs {
		img, err := utils.DecodeBase64Image(pair.OriginalImageB64)
		if err != nil {
			fail(pair, fmt.Errorf("error decoding original image: %w", err))
			continue
		}
		originals[i] = img
		valid = append(valid, i)
	}

	edited := make([]image.Image, len(pairs))
	if len(valid) == 0 {
		return originals, edited, failures
	}

	opts := p.editOptions()

	if batcher, ok := p.editor.(types.BatchEditor); ok {
		imgs := make([]image.Image, len(valid))
		instructions := make([]string, len(valid))
		for k, i := range valid {
			imgs[k] = originals[i]
			instructions[k] = pairs[i].EditInstruction
		}

		out, err := batcher.BatchEdit(ctx, imgs, instructions, opts)
		if err == nil && len(out) != len(valid) {
			err = fmt.Errorf("batch edit returned %d images for %d inputs", len(out), len(valid))
		}
		if err == nil {
			for k, i := range valid {
				if out[k] == nil {
					fail(pairs[i], errors.New("editor returned no image"))
					continue
				}
				edited[i] = out[k]
			}
			p.saveImages(ctx, category, pairs, edited)
			return originals, edited, failures
		}
		slog.Warn("batch edit failed, falling back to per item edits", "category", category, "pairs", len(valid), "error", err)
	}

	bar := p.newProgressBar(len(valid), fmt.Sprintf("editing %s", category))
	for k, i := range valid {
		out, err := p.editor.Edit(ctx, originals[i], pairs[i].EditInstruction, opts.WithSeed(opts.SeedFor(k)))
		if err == nil && out == nil {
			err = errors.New("editor returned no image")
		}
		if err != nil {
			fail(pairs[i], err)
		} else {
			edited[i] = out
		}
		_ = bar.Add(1)
	}

	p.saveImages(ctx, category, pairs, edited)
	return originals, edited, failures
}

func (p *Pipeline) saveImages(ctx context.Context, category string, pairs []types.Pair, edited []image.Image) {
	if !p.cfg.Evaluation.SaveGeneratedImages {
		return
	}

	for i, img := range edited {
		if img == nil {
			continue
		}
		data, err := utils.EncodePNG(img)
		if err != nil {
			slog.Warn("error encoding edited image", "category", category, "pair_id", pairs[i].Id, "error", err)
			continue
		}
		key := path.Join(p.cfg.Evaluation.ImagesDir, category, pairs[i].Id+".png")
		if err := p.store.PutObject(ctx, key, bytes.NewReader(data)); err != nil {
			slog.Warn("error saving edited image", "category", category, "pair_id", pairs[i].Id, "error", err)
		}
	}
}

// scoreStage returns one score per pair. Pairs without an edited image, or
// whose scoring failed, score 0.
func (p *Pipeline) scoreStage(ctx context.Context, category string, pairs []types.Pair, originals, edited []image.Image) ([]float64, []ItemFailure) {
	var failures []ItemFailure
	fail := func(pair types.Pair, err error) {
		slog.Error("scoring failed", "category", category, "pair_id", pair.Id, "error", err)
		failures = append(failures, ItemFailure{Category: category, PairId: pair.Id, Stage: StageScore, Err: err})
	}

	scores := make([]float64, len(pairs))

	systemPrompt, err := p.prompts.SystemPrompt(category)
	if err != nil {
		for i, pair := range pairs {
			if edited[i] != nil {
				fail(pair, err)
			}
		}
		return scores, failures
	}

	var reqs []types.ScoreRequest
	var valid []int
	for i, pair := range pairs {
		if edited[i] == nil {
			continue
		}
		userPrompt, err := p.prompts.UserPrompt(category, pair.OriginalDescription, pair.EditInstruction)
		if err != nil {
			fail(pair, err)
			continue
		}
		reqs = append(reqs, types.ScoreRequest{
			EditedImage:         edited[i],
			OriginalImage:       originals[i],
			OriginalDescription: pair.OriginalDescription,
			Instruction:         pair.EditInstruction,
			SystemPrompt:        systemPrompt,
			UserPrompt:          userPrompt,
		})
		valid = append(valid, i)
	}

	if len(reqs) == 0 {
		return scores, failures
	}

	if batcher, ok := p.judge.(types.BatchJudge); ok {
		out, err := batcher.BatchScore(ctx, reqs)
		if err == nil && len(out) != len(reqs) {
			err = fmt.Errorf("batch score returned %d scores for %d requests", len(out), len(reqs))
		}
		if err == nil {
			for k, i := range valid {
				scores[i] = out[k]
			}
			return scores, failures
		}
		slog.Warn("batch scoring failed, falling back to per item scoring", "category", category, "pairs", len(reqs), "error", err)
	}

	bar := p.newProgressBar(len(reqs), fmt.Sprintf("scoring %s", category))
	for k, i := range valid {
		score, err := p.judge.Score(ctx, reqs[k])
		if err != nil {
			fail(pairs[i], err)
		} else {
			scores[i] = score
		}
		_ = bar.Add(1)
	}

	return scores, failures
}
