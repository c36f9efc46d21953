package main

import (
	"editbench/cmd"
	"editbench/internal/config"
	"editbench/internal/core"
	"editbench/internal/messaging"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closeLog, err := cmd.SetupLogging(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer closeLog()

	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set, use cmd/local for a single process deployment")
	}

	db := cmd.OpenDatabase(cfg)
	store := cmd.OpenObjectStore(cfg)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ receiver: %v", err)
	}

	worker := core.NewTaskProcessor(db, store, publisher, receiver, cmd.ServiceModels(cfg), core.WithDataDir(cfg.BenchmarkDataDir))

	slog.Info("starting worker")
	go worker.Start()

	log.Println("Worker started. Waiting for runs. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, stopping worker")
	worker.Stop()

	slog.Info("worker process stopped")
}
