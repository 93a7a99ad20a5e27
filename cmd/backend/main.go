package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainpipe/cmd"
	"trainpipe/internal/api"
	"trainpipe/internal/core"
	"trainpipe/internal/database"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type BackendConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"trainpipe.db"`
	RabbitMQURL string `env:"RABBITMQ_URL" envDefault:""`
	Concurrency int    `env:"CONCURRENCY" envDefault:"2"`
	APIPort     string `env:"API_PORT" envDefault:"8001"`

	Storage cmd.StorageConfig
}

func main() {
	log.Println("Starting training backend...")

	cmd.LoadEnvFile()

	var cfg BackendConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := cmd.CreateObjectStore(cfg.Storage)

	publisher, receiver := cmd.CreateQueue(cfg.RabbitMQURL)
	defer publisher.Close()
	defer receiver.Close()

	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()

	runner := core.NewRunner(db, store, cfg.Concurrency)
	runner.Start(runnerCtx, receiver)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, publisher, store)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Training backend listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
