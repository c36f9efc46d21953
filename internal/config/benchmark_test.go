package config_test

import (
	"editbench/internal/config"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
benchmark:
  data_path: data/benchmark.json
  categories: [物理, 环境]

diffusion_model:
  type: http
  params:
    endpoint: http://localhost:9000
    timeout_seconds: 120
  edit_options:
    seed: 42

reward_model:
  type: subprocess
  params:
    model_name: Qwen/Qwen3-VL-30B-Instruct
    device_ids: [0, 1, 2]
    batch_size: 8

prompts:
  物理:
    system_prompt: You are a strict judge.
    user_prompt_template: "Original: {original_description}. Instruction: {edit_instruction}."
  环境:
    system_prompt: You are a strict judge.
    user_prompt_template: "{edit_instruction}"

evaluation:
  output_dir: outputs
  results_dir: outputs/results
  images_dir: outputs/images
  checkpoint_path: outputs/checkpoint.json
  save_generated_images: true
  metrics: [mean, std, median, min, max]

logging:
  level: DEBUG
  file_output: true
`

func TestParseBenchmarkConfig(t *testing.T) {
	cfg, err := config.ParseBenchmarkConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "data/benchmark.json", cfg.Benchmark.DataPath)
	assert.Equal(t, []string{"物理", "环境"}, cfg.Benchmark.Categories)
	assert.Equal(t, "http", cfg.DiffusionModel.Type)
	require.NotNil(t, cfg.DiffusionModel.EditOptions.Seed)
	assert.Equal(t, int64(42), *cfg.DiffusionModel.EditOptions.Seed)
	assert.Equal(t, "subprocess", cfg.RewardModel.Type)

	assert.Equal(t, "results", cfg.Evaluation.ResultsDir)
	assert.Equal(t, "images", cfg.Evaluation.ImagesDir)
	assert.Equal(t, "checkpoint.json", cfg.Evaluation.CheckpointPath)
	assert.True(t, cfg.Evaluation.SaveGeneratedImages)
	assert.Equal(t, "outputs/logs/evaluation.log", cfg.Logging.LogFile)
}

func TestParseBenchmarkConfigDefaults(t *testing.T) {
	cfg, err := config.ParseBenchmarkConfig([]byte(`
benchmark: {data_path: d.json, categories: [a]}
diffusion_model: {type: reference}
reward_model: {type: constant}
prompts:
  a: {system_prompt: s, user_prompt_template: u}
`))
	require.NoError(t, err)

	assert.Equal(t, "outputs", cfg.Evaluation.OutputDir)
	assert.Equal(t, "results", cfg.Evaluation.ResultsDir)
	assert.Equal(t, "images", cfg.Evaluation.ImagesDir)
	assert.Equal(t, "checkpoint.json", cfg.Evaluation.CheckpointPath)
	assert.Equal(t, []string{"mean", "std", "median"}, cfg.Evaluation.Metrics)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.False(t, cfg.Evaluation.ResumeFromCheckpoint)
}

func TestParseBenchmarkConfigErrors(t *testing.T) {
	base := `
diffusion_model: {type: reference}
reward_model: {type: constant}
prompts:
  a: {system_prompt: s, user_prompt_template: u}
`
	cases := map[string]string{
		"benchmark.data_path":     `benchmark: {categories: [a]}` + base,
		"benchmark.categories":    `benchmark: {data_path: d.json}` + base,
		"prompts.b":               `benchmark: {data_path: d.json, categories: [a, b]}` + base,
		"diffusion_model.type":    "benchmark: {data_path: d.json, categories: [a]}\ndiffusion_model: {}\nreward_model: {type: constant}\nprompts:\n  a: {system_prompt: s, user_prompt_template: u}\n",
		"evaluation.metrics":      `benchmark: {data_path: d.json, categories: [a]}` + base + "evaluation: {metrics: [mode]}\n",
		"prompts.a.system_prompt": "benchmark: {data_path: d.json, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: constant}\nprompts:\n  a: {user_prompt_template: u}\n",
	}

	for field, data := range cases {
		_, err := config.ParseBenchmarkConfig([]byte(data))
		var cerr *config.ConfigError
		require.ErrorAs(t, err, &cerr, field)
		assert.Equal(t, field, cerr.Field)
	}

	_, err := config.ParseBenchmarkConfig([]byte("benchmark: [not, a, map"))
	assert.Error(t, err)
}

func TestCheckSubmitted(t *testing.T) {
	models := "\ndiffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {model_name: judge}}\nprompts:\n  a: {system_prompt: s, user_prompt_template: u}\n"

	cfg, err := config.ParseBenchmarkConfig([]byte(`benchmark: {data_path: sets/d.json, categories: [a]}` + models))
	require.NoError(t, err)
	assert.NoError(t, cfg.CheckSubmitted())

	cases := []struct {
		field string
		data  string
	}{
		{"benchmark.data_path", `benchmark: {data_path: /etc/passwd, categories: [a]}` + models},
		{"benchmark.data_path", `benchmark: {data_path: sets/../../d.json, categories: [a]}` + models},
		{"reward_model.params.command", "benchmark: {data_path: d.json, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {command: [sh]}}\nprompts:\n  a: {system_prompt: s, user_prompt_template: u}\n"},
		{"reward_model.params.env", "benchmark: {data_path: d.json, categories: [a]}\ndiffusion_model: {type: reference}\nreward_model: {type: subprocess, params: {env: {PATH: /tmp}}}\nprompts:\n  a: {system_prompt: s, user_prompt_template: u}\n"},
		{"diffusion_model.params.command", "benchmark: {data_path: d.json, categories: [a]}\ndiffusion_model: {type: plugin, params: {command: [sh]}}\nreward_model: {type: constant}\nprompts:\n  a: {system_prompt: s, user_prompt_template: u}\n"},
	}

	for _, tc := range cases {
		cfg, err := config.ParseBenchmarkConfig([]byte(tc.data))
		require.NoError(t, err, tc.field)

		var cerr *config.ConfigError
		require.ErrorAs(t, cfg.CheckSubmitted(), &cerr, tc.field)
		assert.Equal(t, tc.field, cerr.Field)
	}
}

func TestLoadBenchmarkConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := config.LoadBenchmarkConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Prompts, 2)

	_, err = config.LoadBenchmarkConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDecodeParams(t *testing.T) {
	type params struct {
		ModelName string `yaml:"model_name"`
		DeviceIds []int  `yaml:"device_ids"`
		BatchSize int    `yaml:"batch_size"`
		Dtype     string `yaml:"dtype"`
	}

	out := params{Dtype: "bfloat16", BatchSize: 4}
	err := config.DecodeParams(map[string]any{"model_name": "judge", "device_ids": []any{0, 1}, "batch_size": 8}, &out)
	require.NoError(t, err)
	assert.Equal(t, params{ModelName: "judge", DeviceIds: []int{0, 1}, BatchSize: 8, Dtype: "bfloat16"}, out)

	require.NoError(t, config.DecodeParams(nil, &out))
	assert.Error(t, config.DecodeParams(map[string]any{"batch_size": "many"}, &out))
}

func TestLoadServiceConfig(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("ARTIFACT_BUCKET", "results")

	cfg, err := config.LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "results", cfg.ArtifactBucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "./outputs", cfg.ArtifactDir)
	assert.Equal(t, "./data", cfg.BenchmarkDataDir)
	assert.Empty(t, cfg.ScorerCommand)

	t.Setenv("SCORER_COMMAND", "python3 /opt/scorer/serve.py")
	cfg, err = config.LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "/opt/scorer/serve.py"}, cfg.ScorerCommand)

	t.Setenv("PORT", "not-a-port")
	_, err = config.LoadServiceConfig()
	assert.Error(t, err)
}
