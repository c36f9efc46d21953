package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Msg)
}

var KnownMetrics = []string{"mean", "std", "median", "min", "max", "count"}

type BenchmarkConfig struct {
	Benchmark      BenchmarkSection          `yaml:"benchmark"`
	DiffusionModel ModelSection              `yaml:"diffusion_model"`
	RewardModel    ModelSection              `yaml:"reward_model"`
	Prompts        map[string]PromptTemplate `yaml:"prompts"`
	Evaluation     EvaluationSection         `yaml:"evaluation"`
	Logging        LoggingSection            `yaml:"logging"`
}

type BenchmarkSection struct {
	DataPath   string   `yaml:"data_path"`
	Categories []string `yaml:"categories"`
}

type ModelSection struct {
	// Registry key of the implementation.
	Type        string         `yaml:"type"`
	Params      map[string]any `yaml:"params"`
	EditOptions EditOptions    `yaml:"edit_options"`
}

type EditOptions struct {
	Seed   *int64         `yaml:"seed"`
	Params map[string]any `yaml:"params"`
}

type PromptTemplate struct {
	SystemPrompt       string `yaml:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template"`
}

// EvaluationSection paths other than OutputDir are object keys relative to
// the artifact store, which is rooted at OutputDir for local runs.
type EvaluationSection struct {
	OutputDir            string   `yaml:"output_dir"`
	ResultsDir           string   `yaml:"results_dir"`
	ImagesDir            string   `yaml:"images_dir"`
	SaveGeneratedImages  bool     `yaml:"save_generated_images"`
	CheckpointPath       string   `yaml:"checkpoint_path"`
	ResumeFromCheckpoint bool     `yaml:"resume_from_checkpoint"`
	Metrics              []string `yaml:"metrics"`
}

type LoggingSection struct {
	Level      string `yaml:"level"`
	FileOutput bool   `yaml:"file_output"`
	LogFile    string `yaml:"log_file"`
}

// LauncherParams are model params that choose what a model process runs.
// They are operator settings and are refused in configs submitted to the
// run service.
var LauncherParams = []string{"command", "python_path", "conda_env", "script_path", "extra_args", "env", "temp_dir"}

// CheckLauncherParams returns a ConfigError naming the first launcher param
// set in params.
func CheckLauncherParams(section string, params map[string]any) error {
	for _, key := range LauncherParams {
		if _, ok := params[key]; ok {
			return &ConfigError{Field: section + ".params." + key, Msg: "is set by the service operator and cannot be submitted"}
		}
	}
	return nil
}

// CheckSubmitted applies the extra rules for configs submitted over the API:
// no launcher params, and a data path relative to the service data dir.
func (c *BenchmarkConfig) CheckSubmitted() error {
	if err := CheckLauncherParams("diffusion_model", c.DiffusionModel.Params); err != nil {
		return err
	}
	if err := CheckLauncherParams("reward_model", c.RewardModel.Params); err != nil {
		return err
	}
	if !filepath.IsLocal(c.Benchmark.DataPath) {
		return &ConfigError{Field: "benchmark.data_path", Msg: fmt.Sprintf("'%s' must be a relative path inside the service data directory", c.Benchmark.DataPath)}
	}
	return nil
}

func LoadBenchmarkConfig(path string) (*BenchmarkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return ParseBenchmarkConfig(data)
}

func ParseBenchmarkConfig(data []byte) (*BenchmarkConfig, error) {
	var cfg BenchmarkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *BenchmarkConfig) applyDefaults() {
	eval := &c.Evaluation
	if eval.OutputDir == "" {
		eval.OutputDir = "outputs"
	}
	if eval.ResultsDir == "" {
		eval.ResultsDir = "results"
	}
	if eval.ImagesDir == "" {
		eval.ImagesDir = "images"
	}
	if eval.CheckpointPath == "" {
		eval.CheckpointPath = "checkpoint.json"
	}
	if len(eval.Metrics) == 0 {
		eval.Metrics = []string{"mean", "std", "median"}
	}

	eval.ResultsDir = relativeKey(eval.OutputDir, eval.ResultsDir)
	eval.ImagesDir = relativeKey(eval.OutputDir, eval.ImagesDir)
	eval.CheckpointPath = relativeKey(eval.OutputDir, eval.CheckpointPath)

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.FileOutput && c.Logging.LogFile == "" {
		c.Logging.LogFile = path.Join(eval.OutputDir, "logs", "evaluation.log")
	}
}

// relativeKey turns "outputs/results" into "results" when the output dir is
// "outputs", so configs written with cwd relative paths keep working.
func relativeKey(outputDir, p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	base := path.Clean(strings.ReplaceAll(outputDir, "\\", "/"))
	if rest, ok := strings.CutPrefix(p, base+"/"); ok {
		return rest
	}
	return strings.TrimPrefix(p, "./")
}

func (c *BenchmarkConfig) Validate() error {
	if c.Benchmark.DataPath == "" {
		return &ConfigError{Field: "benchmark.data_path", Msg: "must be specified"}
	}
	if len(c.Benchmark.Categories) == 0 {
		return &ConfigError{Field: "benchmark.categories", Msg: "must list at least one category"}
	}

	seen := map[string]bool{}
	for _, category := range c.Benchmark.Categories {
		if seen[category] {
			return &ConfigError{Field: "benchmark.categories", Msg: fmt.Sprintf("duplicate category '%s'", category)}
		}
		seen[category] = true

		prompt, ok := c.Prompts[category]
		if !ok {
			return &ConfigError{Field: "prompts." + category, Msg: "no prompt configured for category"}
		}
		if prompt.SystemPrompt == "" {
			return &ConfigError{Field: "prompts." + category + ".system_prompt", Msg: "must be specified"}
		}
		if prompt.UserPromptTemplate == "" {
			return &ConfigError{Field: "prompts." + category + ".user_prompt_template", Msg: "must be specified"}
		}
	}

	if c.DiffusionModel.Type == "" {
		return &ConfigError{Field: "diffusion_model.type", Msg: "must be specified"}
	}
	if c.RewardModel.Type == "" {
		return &ConfigError{Field: "reward_model.type", Msg: "must be specified"}
	}

	for _, metric := range c.Evaluation.Metrics {
		if !slices.Contains(KnownMetrics, metric) {
			return &ConfigError{Field: "evaluation.metrics", Msg: fmt.Sprintf("unknown metric '%s'", metric)}
		}
	}

	return nil
}

// DecodeParams converts a free-form params block into a typed struct using
// its yaml tags. Fields absent from params keep their current value, so
// callers can pre-populate defaults.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}

	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("error encoding params: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding params: %w", err)
	}
	return nil
}
