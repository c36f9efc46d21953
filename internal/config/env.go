package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServiceConfig is read from the environment by every binary.
type ServiceConfig struct {
	// Postgres URL, or a sqlite file path (optionally prefixed with sqlite://).
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://./editbench.db"`

	// Empty selects the in-process queue.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	// When set, artifacts go to this bucket instead of ArtifactDir.
	ArtifactBucket string `env:"ARTIFACT_BUCKET"`
	ArtifactDir    string `env:"ARTIFACT_DIR" envDefault:"./outputs"`

	// Submitted runs read benchmark data from under this directory.
	BenchmarkDataDir string `env:"BENCHMARK_DATA_DIR" envDefault:"./data"`

	// Launchers for queued runs. Submitted configs cannot choose them.
	ScorerCommand       []string `env:"SCORER_COMMAND" envSeparator:" "`
	EditorPluginCommand []string `env:"EDITOR_PLUGIN_COMMAND" envSeparator:" "`

	Port     int    `env:"PORT" envDefault:"8001"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
}

func LoadServiceConfig() (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

// ScorerEnv holds the scorer process settings that are not passed as flags.
type ScorerEnv struct {
	Backend  string `env:"JUDGE_BACKEND" envDefault:"openai"`
	Endpoint string `env:"JUDGE_ENDPOINT"`
	APIKey   string `env:"JUDGE_API_KEY"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
}

func LoadScorerEnv() (ScorerEnv, error) {
	var cfg ScorerEnv
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}
