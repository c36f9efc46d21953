package judges

import (
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"editbench/internal/dispatch"
	"editbench/pkg/api"
	"fmt"
	"log/slog"
	"time"
)

type SubprocessJudgeParams struct {
	// Command overrides the launcher built from the fields below.
	Command    []string `yaml:"command"`
	PythonPath string   `yaml:"python_path"`
	CondaEnv   string   `yaml:"conda_env"`
	ScriptPath string   `yaml:"script_path"`

	ModelName         string   `yaml:"model_name"`
	Dtype             string   `yaml:"dtype"`
	BatchSize         int      `yaml:"batch_size"`
	MaxNewTokens      int      `yaml:"max_new_tokens"`
	UseBatchInference bool     `yaml:"use_batch_inference"`
	DeviceIds         []int    `yaml:"device_ids"`
	Timeout           int      `yaml:"timeout"`
	BatchTimeout      int      `yaml:"batch_timeout"`
	Seed              *int64   `yaml:"seed"`
	ExtraArgs         []string `yaml:"extra_args"`
	Env               []string `yaml:"env"`
	TempDir           string   `yaml:"temp_dir"`
}

func defaultSubprocessParams() SubprocessJudgeParams {
	return SubprocessJudgeParams{
		Dtype:             "bfloat16",
		BatchSize:         4,
		MaxNewTokens:      128,
		UseBatchInference: true,
		DeviceIds:         []int{0},
		Timeout:           int(dispatch.DefaultSingleTimeout / time.Second),
		BatchTimeout:      int(dispatch.DefaultBatchTimeout / time.Second),
	}
}

// command resolves the scorer launcher. An explicit command wins, then a
// script run through conda or python, then the bundled scorer binary.
func (p SubprocessJudgeParams) command() []string {
	switch {
	case len(p.Command) > 0:
		return p.Command
	case p.ScriptPath != "" && p.CondaEnv != "":
		return []string{"conda", "run", "--no-capture-output", "-n", p.CondaEnv, "python", p.ScriptPath}
	case p.ScriptPath != "":
		python := p.PythonPath
		if python == "" {
			python = "python"
		}
		return []string{python, p.ScriptPath}
	default:
		return []string{"editbench-scorer"}
	}
}

// SubprocessJudge scores in scorer processes, one per device. The model is
// loaded inside each process, so the judge itself holds no accelerator
// memory.
type SubprocessJudge struct {
	types.NoResidency

	devices []int
	single  *dispatch.Dispatcher
	batch   *dispatch.Dispatcher
}

func NewSubprocessJudge(params map[string]any) (*SubprocessJudge, error) {
	cfg := defaultSubprocessParams()
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("subprocess judge requires model_name")
	}
	if len(cfg.DeviceIds) == 0 {
		return nil, fmt.Errorf("subprocess judge requires at least one device id")
	}

	invoker, err := dispatch.NewProcessInvoker(dispatch.InvokerConfig{
		Command:           cfg.command(),
		ModelName:         cfg.ModelName,
		Dtype:             cfg.Dtype,
		BatchSize:         cfg.BatchSize,
		MaxNewTokens:      cfg.MaxNewTokens,
		UseBatchInference: cfg.UseBatchInference,
		Seed:              cfg.Seed,
		ExtraArgs:         cfg.ExtraArgs,
		Env:               cfg.Env,
		TempDir:           cfg.TempDir,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating scorer invoker: %w", err)
	}

	slog.Info("subprocess judge ready", "model", cfg.ModelName, "devices", cfg.DeviceIds, "batch_size", cfg.BatchSize, "use_batch_inference", cfg.UseBatchInference)

	return newSubprocessJudge(invoker, cfg), nil
}

func newSubprocessJudge(invoker dispatch.Invoker, cfg SubprocessJudgeParams) *SubprocessJudge {
	return &SubprocessJudge{
		devices: cfg.DeviceIds,
		single:  dispatch.NewDispatcher(invoker, time.Duration(cfg.Timeout)*time.Second),
		batch:   dispatch.NewDispatcher(invoker, time.Duration(cfg.BatchTimeout)*time.Second),
	}
}

// Score runs a single request on the first device. A failed worker yields
// the sentinel score rather than an error.
func (j *SubprocessJudge) Score(ctx context.Context, req types.ScoreRequest) (float64, error) {
	task, err := workerTask(req)
	if err != nil {
		return 0, err
	}

	scores, err := j.single.Dispatch(ctx, []api.WorkerTask{task}, j.devices[:1])
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (j *SubprocessJudge) BatchScore(ctx context.Context, reqs []types.ScoreRequest) ([]float64, error) {
	tasks, err := workerTasks(reqs)
	if err != nil {
		return nil, err
	}
	return j.batch.Dispatch(ctx, tasks, j.devices)
}

func (j *SubprocessJudge) Release() {}

var _ types.BatchJudge = (*SubprocessJudge)(nil)
