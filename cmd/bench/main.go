package main

import (
	"context"
	"editbench/cmd"
	"editbench/internal/config"
	"editbench/internal/core"
	"editbench/internal/storage"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func openStore(cfg *config.BenchmarkConfig) storage.ObjectStore {
	svc, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("error parsing environment: %v", err)
	}

	if svc.ArtifactBucket != "" {
		return cmd.OpenObjectStore(svc)
	}

	store, err := storage.NewLocalObjectStore(cfg.Evaluation.OutputDir)
	if err != nil {
		log.Fatalf("Failed to create output dir %s: %v", cfg.Evaluation.OutputDir, err)
	}
	return store
}

func printSummary(result *core.RunResult, store storage.ObjectStore) {
	summary := result.Report.Summary

	fmt.Println()
	fmt.Println("Evaluation summary")
	fmt.Printf("  overall mean: %.4f over %d samples\n", summary.OverallMean, summary.TotalSamples)
	for _, r := range result.Results {
		fmt.Printf("  %-20s mean %.4f  samples %d  edit failures %d  score failures %d\n",
			r.Category, summary.CategoryMeans[r.Category], len(r.Scores), r.EditFailures(), r.ScoreFailures())
	}
	if summary.NumCategories > 0 {
		fmt.Printf("  best: %s  worst: %s\n", summary.BestCategory, summary.WorstCategory)
	}
	fmt.Printf("  report: %s\n", store.Location(result.ReportKey))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the benchmark config")
	resume := flag.Bool("resume", false, "skip pairs recorded in the checkpoint")

	cmd.LoadEnvFile()

	cfg, err := config.LoadBenchmarkConfig(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *resume {
		cfg.Evaluation.ResumeFromCheckpoint = true
	}

	logFile := ""
	if cfg.Logging.FileOutput {
		logFile = cfg.Logging.LogFile
	}
	closeLog, err := cmd.SetupLogging(cfg.Logging.Level, logFile)
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(cfg)

	slog.Info("starting benchmark", "config", *configPath, "categories", len(cfg.Benchmark.Categories), "editor", cfg.DiffusionModel.Type, "judge", cfg.RewardModel.Type, "resume", cfg.Evaluation.ResumeFromCheckpoint)

	start := time.Now()
	result, err := core.NewPipeline(cfg, store).Run(ctx)
	if err != nil {
		slog.Error("benchmark failed", "error", err)
		closeLog()
		os.Exit(1)
	}

	slog.Info("benchmark complete", "duration", time.Since(start).Round(time.Second))
	printSummary(result, store)
}
