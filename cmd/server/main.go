package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/lumenhq/taskpilot/internal/config"
	"github.com/lumenhq/taskpilot/internal/db"
	"github.com/lumenhq/taskpilot/internal/export"
	"github.com/lumenhq/taskpilot/internal/importer"
	"github.com/lumenhq/taskpilot/internal/middleware"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/source/asana"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig, err := config.LoadDBConfig(".")
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	serverConfig, err := config.LoadServerConfig(".")
	if err != nil {
		log.Fatalf("Failed to load server config: %v", err)
	}

	conn, err := db.NewConnection(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(dbConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	runRepo := repository.NewImportRunRepository(conn.Pool)
	mappingRepo := repository.NewEntityMappingRepository(conn.Pool)
	directoryRepo := repository.NewDirectoryRepository(conn.Pool)
	auditRepo := repository.NewAuditEventRepository(conn.Pool)
	credentialRepo := repository.NewCredentialRepository(conn.Pool)

	// Source adapter
	asanaOpts := []asana.Option{
		asana.WithHTTPClient(&http.Client{Timeout: serverConfig.AsanaTimeout}),
		asana.WithMaxRetries(uint64(serverConfig.AsanaMaxRetries)),
	}
	if serverConfig.AsanaBaseURL != "" {
		asanaOpts = append(asanaOpts, asana.WithBaseURL(serverConfig.AsanaBaseURL))
	}
	sources := asana.NewFactory(credentialRepo, asanaOpts...)

	// Import pipeline
	service := importer.NewService(
		sources,
		runRepo,
		mappingRepo,
		directoryRepo,
		auditRepo,
		importer.WithWorkerPoolSize(serverConfig.ImportWorkers),
		importer.WithRunTimeout(serverConfig.RunTimeout),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   serverConfig.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	importHandler := importer.NewHTTPHandler(service, export.NewReportWriter())

	mux := http.NewServeMux()
	mux.Handle("/imports/", corsHandler.Handler(middleware.LoggingMiddleware(importHandler)))

	server := &http.Server{
		Addr:         serverConfig.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting import API on %s", serverConfig.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Drain background import runs before releasing the pool.
	service.Wait()

	log.Println("Server exited")
}
