package main

import (
	"context"
	"editbench/cmd"
	"editbench/internal/api"
	"editbench/internal/config"
	"editbench/internal/core"
	"editbench/internal/messaging"
	"editbench/internal/storage"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, models core.Models, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, store, queue, models)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

// Runs the API and a worker in one process with an in-memory queue.
func main() {
	cmd.LoadEnvFile()

	cfg, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	closeLog, err := cmd.SetupLogging(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer closeLog()

	slog.Info("starting local backend", "port", cfg.Port, "artifact_dir", cfg.ArtifactDir, "database", cfg.DatabaseURL)

	db := cmd.OpenDatabase(cfg)
	store := cmd.OpenObjectStore(cfg)
	models := cmd.ServiceModels(cfg)

	queue := messaging.NewInMemoryQueue()
	if err := cmd.RequeueRuns(context.Background(), db, queue); err != nil {
		log.Fatalf("Failed to requeue runs: %v", err)
	}

	worker := core.NewTaskProcessor(db, store, queue, queue, models, core.WithDataDir(cfg.BenchmarkDataDir))
	server := createServer(db, store, queue, models, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
