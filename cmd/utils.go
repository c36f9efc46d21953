package cmd

import (
	"context"
	"editbench/internal/config"
	"editbench/internal/core"
	"editbench/internal/database"
	"editbench/internal/messaging"
	"editbench/internal/storage"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	return l, nil
}

// SetupLogging installs the default slog handler. When logFile is set logs
// go to stderr and the file. The returned function closes the file.
func SetupLogging(level, logFile string) (func(), error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating directory for log file: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		out = io.MultiWriter(f, os.Stderr)
		closeFn = func() { f.Close() }
	}

	log.SetOutput(out)
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l})))

	return closeFn, nil
}

func OpenDatabase(cfg config.ServiceConfig) *gorm.DB {
	if path, ok := strings.CutPrefix(cfg.DatabaseURL, "sqlite://"); ok {
		if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				log.Fatalf("Failed to create database directory: %v", err)
			}
		}
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return db
}

// OpenObjectStore returns the S3 artifact store when a bucket is configured,
// and a local one rooted at ArtifactDir otherwise.
func OpenObjectStore(cfg config.ServiceConfig) storage.ObjectStore {
	if cfg.ArtifactBucket == "" {
		store, err := storage.NewLocalObjectStore(cfg.ArtifactDir)
		if err != nil {
			log.Fatalf("Failed to create local artifact store: %v", err)
		}
		slog.Info("using local artifact store", "dir", cfg.ArtifactDir)
		return store
	}

	store, err := storage.NewS3ObjectStore(cfg.ArtifactBucket, "", storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 artifact store: %v", err)
	}
	if err := store.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create artifact bucket %s: %v", cfg.ArtifactBucket, err)
	}
	slog.Info("using s3 artifact store", "bucket", cfg.ArtifactBucket, "endpoint", cfg.S3EndpointURL)
	return store
}

// RequeueRuns publishes every run left queued or running, for example after
// a restart of a single process deployment. Running runs resume from their
// checkpoint.
// ServiceModels is the model registry for runs submitted over the API.
func ServiceModels(cfg config.ServiceConfig) core.Models {
	return core.ServiceModels(core.Launchers{
		ScorerCommand:       cfg.ScorerCommand,
		EditorPluginCommand: cfg.EditorPluginCommand,
	})
}

func RequeueRuns(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	var runs []database.Run
	if err := db.WithContext(ctx).Where("status IN ?", []string{database.RunQueued, database.RunRunning}).Order("creation_time").Find(&runs).Error; err != nil {
		return fmt.Errorf("error fetching unfinished runs: %w", err)
	}

	for _, run := range runs {
		payload := messaging.EvaluationTaskPayload{RunId: run.Id, Resume: run.Status == database.RunRunning}
		if err := publisher.PublishEvaluationTask(ctx, payload); err != nil {
			return fmt.Errorf("error requeueing run %s: %w", run.Id, err)
		}
		slog.Info("requeued run", "run_id", run.Id, "status", run.Status)
	}
	return nil
}
