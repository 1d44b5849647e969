package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/collision.report/internal/api"
	"github.com/banshee-data/collision.report/internal/batch"
	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/db"
	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/metrics"
	"github.com/banshee-data/collision.report/internal/report"
	"github.com/banshee-data/collision.report/internal/snapshot"
	"github.com/banshee-data/collision.report/internal/stream"
	"github.com/banshee-data/collision.report/internal/timeutil"
	"github.com/banshee-data/collision.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8000", "Listen address")
	configPath = flag.String("config", "", "Optional JSON config overlay")
	dbPath     = flag.String("db", "", "Sqlite database path (overrides config)")
)

// applyEnv lets deployment environments override the collaborator
// endpoints without a config file.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		cfg.DetectorURL = &v
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.BackendURL = &v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = &v
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	// .env is optional; real environment variables win either way.
	godotenv.Load()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	applyEnv(cfg)

	path := cfg.GetDatabasePath()
	if *dbPath != "" {
		path = *dbPath
	}
	database, err := db.Open(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	store, err := snapshot.NewStore(cfg.GetSnapshotDir(), cfg.GetPublicBaseURL(), nil)
	if err != nil {
		log.Fatalf("Failed to create snapshot store: %v", err)
	}

	mx := metrics.New()
	clock := timeutil.RealClock{}
	detector := detect.NewHTTPDetector(cfg.GetDetectorURL(), nil)

	// Failed deliveries land in the sqlite queue and are retried by the
	// flusher below.
	httpReporter := report.NewHTTPReporter(cfg.GetBackendURL(), nil)
	reporter := report.NewQueueingReporter(httpReporter, database)

	monitor := stream.NewMonitor(cfg, detector, store, reporter, database, clock, mx)
	pipeline := batch.NewPipeline(cfg, detector, store, reporter, database, clock, mx)
	server := api.NewServer(cfg, monitor, pipeline, store, database, mx, nil)

	log.Printf("collision.report %s (%s) starting on %s", version.Version, version.GitSHA, *listen)
	log.Printf("detector=%s backend=%s db=%s", cfg.GetDetectorURL(), cfg.GetBackendURL(), path)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retry loop for queued incident reports.
	wg.Add(1)
	go func() {
		defer wg.Done()
		report.NewFlusher(database, httpReporter, clock, cfg.GetFlushInterval()).Run(ctx)
		log.Print("report flusher terminated")
	}()

	// Keep the queue depth gauge current.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(cfg.GetFlushInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if depth, err := database.QueueDepth(); err == nil {
					mx.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: server.Handler(),
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
