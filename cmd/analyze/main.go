// Command analyze runs the accident pipeline over a video file from the
// command line, without starting the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/banshee-data/collision.report/internal/batch"
	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/db"
	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/report"
	"github.com/banshee-data/collision.report/internal/snapshot"
	"github.com/banshee-data/collision.report/internal/video"
)

var (
	configPath = flag.String("config", "", "Optional JSON config overlay")
	cameraID   = flag.String("camera", "offline", "Camera ID attributed to the incident")
	dbPath     = flag.String("db", "", "Sqlite database path (empty disables persistence)")
	noReport   = flag.Bool("no-report", false, "Skip backend delivery, print the result only")
)

// nullReporter swallows deliveries for dry runs.
type nullReporter struct{}

func (nullReporter) Report(ctx context.Context, inc *report.Incident) (string, error) {
	return "", nil
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: analyze [flags] <video-file>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	videoPath := flag.Arg(0)

	godotenv.Load()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	store, err := snapshot.NewStore(cfg.GetSnapshotDir(), cfg.GetPublicBaseURL(), nil)
	if err != nil {
		log.Fatalf("Failed to create snapshot store: %v", err)
	}

	var records batch.IncidentStore
	if *dbPath != "" {
		database, err := db.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		records = database
	}

	var reporter report.Reporter = nullReporter{}
	if !*noReport {
		reporter = report.NewHTTPReporter(cfg.GetBackendURL(), nil)
	}

	detector := detect.NewHTTPDetector(cfg.GetDetectorURL(), nil)
	pipeline := batch.NewPipeline(cfg, detector, store, reporter, records, nil, nil)

	ctx := context.Background()
	src, err := video.OpenFile(ctx, videoPath)
	if err != nil {
		log.Fatalf("Failed to open video: %v", err)
	}
	reopen := func(ctx context.Context) (batch.VideoSource, error) {
		return video.OpenFile(ctx, videoPath)
	}

	res, err := pipeline.Run(ctx, src, reopen, *cameraID)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	if !res.Confirmed {
		os.Exit(1)
	}
}
