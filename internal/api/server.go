// Package api exposes the service's HTTP surface: frame and video
// ingestion, incident queries, statistics, debug charts, and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/collision.report/internal/batch"
	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/db"
	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/metrics"
	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/security"
	"github.com/banshee-data/collision.report/internal/snapshot"
	"github.com/banshee-data/collision.report/internal/stream"
	"github.com/banshee-data/collision.report/internal/version"
	"github.com/banshee-data/collision.report/internal/video"
)

// maxUploadBytes caps multipart request bodies (frames and videos).
const maxUploadBytes = 200 << 20

// FrameMonitor is the live ingestion pipeline.
type FrameMonitor interface {
	OnFrame(ctx context.Context, cameraID string, frame []byte) (*stream.Outcome, error)
}

// VideoAnalyzer is the pre-recorded video pipeline.
type VideoAnalyzer interface {
	Run(ctx context.Context, src batch.VideoSource, reopen batch.OpenSource, cameraID string) (*batch.Result, error)
}

// IncidentReader reads stored incidents for the query endpoints.
type IncidentReader interface {
	ListRecent(limit int) ([]db.Incident, error)
	CountBySeverity() (map[string]int, error)
	OverlapRatios() ([]float64, error)
	VictimCounts() ([]float64, error)
	QueueDepth() (int, error)
}

type Server struct {
	cfg       *config.Config
	monitor   FrameMonitor
	analyzer  VideoAnalyzer
	store     *snapshot.Store
	incidents IncidentReader
	metrics   *metrics.Metrics
	fs        fsutil.FileSystem

	// openVideo decodes a saved upload into frames. Swappable in tests.
	openVideo func(ctx context.Context, path string) (batch.VideoSource, error)
}

// NewServer wires the HTTP surface. incidents and mx may be nil; the
// endpoints that need them report 503.
func NewServer(cfg *config.Config, monitor FrameMonitor, analyzer VideoAnalyzer, store *snapshot.Store, incidents IncidentReader, mx *metrics.Metrics, fs fsutil.FileSystem) *Server {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Server{
		cfg:       cfg,
		monitor:   monitor,
		analyzer:  analyzer,
		store:     store,
		incidents: incidents,
		metrics:   mx,
		fs:        fs,
		openVideo: func(ctx context.Context, path string) (batch.VideoSource, error) {
			return video.OpenFile(ctx, path)
		},
	}
}

// ServeMux routes the API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/frames", s.handleFrame)
	mux.HandleFunc("/api/videos", s.handleVideo)
	mux.HandleFunc("/api/incidents", s.listIncidents)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/charts/incidents", s.incidentChart)
	mux.HandleFunc("/health", s.health)
	if s.store != nil {
		mux.Handle(snapshot.URLPrefix, s.store.Handler())
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Handler is the mux wrapped with logging and CORS.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(CORSMiddleware(s.cfg.GetAllowedOrigins(), s.ServeMux()))
}

// analysisResponse is the ingestion reply for both frames and videos.
type analysisResponse struct {
	Message           string   `json:"message"`
	AccidentsDetected int      `json:"accidents_detected"`
	IncidentIDs       []string `json:"incident_ids"`
}

// cameraID pulls the camera identifier from a multipart form, accepting
// both snake and camel case.
func cameraID(r *http.Request) string {
	if id := r.FormValue("camera_id"); id != "" {
		return id
	}
	if id := r.FormValue("cameraId"); id != "" {
		return id
	}
	return "cam-default"
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("frame")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'frame' file field")
		return
	}
	defer file.Close()

	frame, err := io.ReadAll(file)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Failed to read frame")
		return
	}

	out, err := s.monitor.OnFrame(r.Context(), cameraID(r), frame)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Frame analysis failed: %v", err))
		return
	}

	resp := analysisResponse{Message: "Frame processed", IncidentIDs: []string{}}
	switch {
	case out.Confirmed:
		resp.Message = "Accident detected"
		resp.AccidentsDetected = 1
		resp.IncidentIDs = append(resp.IncidentIDs, incidentIDString(out.BackendID, out.IncidentID))
	case out.Suppressed:
		resp.Message = "Accident suppressed by cooldown"
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'video' file field")
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to store upload: %v", err))
		return
	}
	defer s.fs.Remove(path)

	src, err := s.openVideo(r.Context(), path)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to decode video: %v", err))
		return
	}

	// The upload outlives the analysis, so the evidence pass can re-read
	// the window around the best frame.
	reopen := func(ctx context.Context) (batch.VideoSource, error) {
		return s.openVideo(ctx, path)
	}
	res, err := s.analyzer.Run(r.Context(), src, reopen, cameraID(r))
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Video analysis failed: %v", err))
		return
	}

	resp := analysisResponse{Message: "Video processed", IncidentIDs: []string{}}
	if res.Confirmed {
		resp.Message = "Accident detected"
		resp.AccidentsDetected = 1
		resp.IncidentIDs = append(resp.IncidentIDs, incidentIDString(res.BackendID, res.IncidentID))
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

// saveUpload writes an uploaded video under the video directory with a
// collision-proof name derived from the original.
func (s *Server) saveUpload(file io.Reader, filename string) (string, error) {
	base, err := security.SanitizeBaseName(filename)
	if err != nil {
		return "", err
	}

	dir := s.cfg.GetVideoDir()
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create video directory: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+"_"+base)
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

func incidentIDString(backendID string, localID int64) string {
	if backendID != "" {
		return backendID
	}
	return strconv.FormatInt(localID, 10)
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.incidents == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Incident storage not configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	incidents, err := s.incidents.ListRecent(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve incidents: %v", err))
		return
	}
	if incidents == nil {
		incidents = []db.Incident{}
	}

	if err := json.NewEncoder(w).Encode(incidents); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write incidents")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

// CORSMiddleware adds the allow headers for configured origins and
// answers preflight requests.
func CORSMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
