package main

import (
	"context"
	"editbench/cmd"
	"editbench/internal/config"
	"editbench/internal/scorer"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// Scores one task file on one device. Started by the subprocess judge, which
// reads the output file and streams stderr into its own log.
func main() {
	input := flag.String("input", "", "path of the task file")
	output := flag.String("output", "", "path to write the result file")
	modelName := flag.String("model-name", "", "judge model name")
	device := flag.String("device", "cuda:0", "device the judge runs on")
	dtype := flag.String("dtype", "bfloat16", "judge precision")
	batchSize := flag.Int("batch-size", 4, "prompts per batched generate call")
	maxNewTokens := flag.Int("max-new-tokens", 128, "generation budget per response")
	useBatch := flag.Bool("use-batch-inference", false, "generate in batches when the backend supports it")

	var seed *int64
	flag.Func("seed", "sampling seed", func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		seed = &v
		return nil
	})

	flag.Parse()

	env, err := config.LoadScorerEnv()
	if err != nil {
		log.Fatalf("error parsing environment: %v", err)
	}

	if _, err := cmd.SetupLogging(env.LogLevel, ""); err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}

	if *input == "" || *output == "" {
		log.Fatalf("--input and --output are required")
	}

	deviceIndex := strings.TrimPrefix(*device, "cuda:")

	backend, err := scorer.NewBackend(scorer.BackendConfig{
		Type:     scorer.BackendType(env.Backend),
		Endpoint: strings.ReplaceAll(env.Endpoint, "{device}", deviceIndex),
		APIKey:   env.APIKey,
		Model:    *modelName,
		Device:   *device,
		Dtype:    *dtype,
	})
	if err != nil {
		slog.Error("error creating judge backend", "error", err)
		os.Exit(1)
	}

	s := scorer.NewScorer(backend, scorer.Config{
		BatchSize:         *batchSize,
		UseBatchInference: *useBatch,
		MaxNewTokens:      *maxNewTokens,
		Seed:              seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("scorer started", "input", *input, "device", *device, "model", *modelName, "backend", env.Backend)

	if err := scorer.Run(ctx, s, *input, *output); err != nil {
		stop()
		os.Exit(1)
	}
}
