package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiwn/agreementmart/internal/config"
	"github.com/adiwn/agreementmart/internal/db"
	"github.com/adiwn/agreementmart/internal/export"
	"github.com/adiwn/agreementmart/internal/middleware"
	"github.com/adiwn/agreementmart/internal/refresh"
	"github.com/adiwn/agreementmart/internal/repository"
	"github.com/adiwn/agreementmart/internal/snapshot"

	"github.com/rs/cors"
)

func main() {
	once := flag.Bool("once", false, "run a single refresh and exit")
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, cfg.Refresh.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	versionRepo := repository.NewAgreementVersionRepository(conn.Pool)
	runRepo := repository.NewJobRunRepository(conn.Pool)
	qualityRepo := repository.NewDataQualityRepository(conn.Pool)
	exportRepo := repository.NewExportJobRepository(conn.Pool)

	// Create services
	assembler := snapshot.NewQueryAssembler(conn.Pool, cfg.Refresh.StagingSchema)
	refreshService := refresh.NewService(versionRepo, runRepo, qualityRepo, assembler)
	exportService := export.NewService(versionRepo, exportRepo,
		export.WithExportDirectory(cfg.Export.Dir),
		export.WithDownloadTokenTTL(cfg.Export.LinkTTL),
	)

	if *once {
		summary, err := refreshService.Run(ctx)
		if err != nil {
			log.Fatalf("Refresh run failed: %v", err)
		}
		log.Printf("Refresh run %s completed: expired=%d inserted=%d patched=%d current=%d warnings=%d",
			summary.RunID, summary.Expired, summary.Inserted, summary.Patched,
			summary.CurrentRows, summary.Warnings)
		return
	}

	refreshHandler := refresh.NewHTTPHandler(refreshService, versionRepo, runRepo, qualityRepo)
	exportHandler := export.NewHTTPHandler(exportService)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/runs", refreshHandler)
	mux.Handle("/runs/", refreshHandler)
	mux.Handle("/snapshot/upload", refreshHandler)
	mux.Handle("/agreements/", refreshHandler)
	mux.Handle("/exports", exportHandler)
	mux.Handle("/exports/", exportHandler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
