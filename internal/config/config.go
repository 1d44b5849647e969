// Package config holds the detection tuning parameters and collaborator
// endpoints. Fields are pointers so a partial JSON overlay can override
// individual values while the rest keep their defaults; use the Get*
// accessors everywhere else in the codebase.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root service configuration. The JSON schema doubles as
// the overlay file format, so partial configs are safe.
type Config struct {
	// Detection params
	ConfThreshold *float64 `json:"conf_threshold,omitempty"`

	// Live temporal logic
	ConfirmFrames     *int    `json:"confirm_frames,omitempty"`
	FrameBufferSize   *int    `json:"frame_buffer_size,omitempty"`
	CandidatePoolSize *int    `json:"candidate_pool_size,omitempty"`
	Cooldown          *string `json:"cooldown,omitempty"` // duration string like "60s"

	// Evidence windows (shared by live and batch)
	PreSnapshotCount  *int `json:"pre_snapshot_count,omitempty"`
	PostCaptureFrames *int `json:"post_capture_frames,omitempty"`

	// Batch (pre-recorded video) params
	VideoConfirmFrames *int `json:"video_confirm_frames,omitempty"`
	FrameStep          *int `json:"frame_step,omitempty"`

	// Collaborator endpoints
	DetectorURL *string `json:"detector_url,omitempty"`
	BackendURL  *string `json:"backend_url,omitempty"`

	// Storage
	SnapshotDir   *string `json:"snapshot_dir,omitempty"`
	VideoDir      *string `json:"video_dir,omitempty"`
	PublicBaseURL *string `json:"public_base_url,omitempty"`
	DatabasePath  *string `json:"database_path,omitempty"`

	// Camera site location forwarded with every incident
	LocationLat *float64 `json:"location_lat,omitempty"`
	LocationLng *float64 `json:"location_lng,omitempty"`

	// Report retry queue
	FlushInterval *string `json:"flush_interval,omitempty"` // duration string like "30s"

	// CORS origins allowed to call the API
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Pointer helpers.
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		ConfThreshold:      ptrFloat64(0.3),
		ConfirmFrames:      ptrInt(3),
		FrameBufferSize:    ptrInt(30),
		CandidatePoolSize:  ptrInt(15),
		Cooldown:           ptrString("60s"),
		PreSnapshotCount:   ptrInt(5),
		PostCaptureFrames:  ptrInt(25),
		VideoConfirmFrames: ptrInt(3),
		FrameStep:          ptrInt(3),
		DetectorURL:        ptrString("http://localhost:8001"),
		BackendURL:         ptrString("http://localhost:8080/api/incidents/ingest"),
		SnapshotDir:        ptrString("snapshots"),
		VideoDir:           ptrString("uploaded_videos"),
		PublicBaseURL:      ptrString("http://localhost:8000"),
		DatabasePath:       ptrString("incidents.db"),
		LocationLat:        ptrFloat64(19.0),
		LocationLng:        ptrFloat64(73.0),
		FlushInterval:      ptrString("30s"),
		AllowedOrigins:     []string{"http://localhost:5173"},
	}
}

// Load reads a JSON overlay from path and applies it over the defaults.
// The file must have a .json extension and stay under the size cap.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges on the tuning values.
func (c *Config) Validate() error {
	if v := c.GetConfThreshold(); v < 0 || v > 1 {
		return fmt.Errorf("conf_threshold must be in [0,1], got %f", v)
	}
	if c.GetConfirmFrames() < 1 {
		return fmt.Errorf("confirm_frames must be >= 1, got %d", c.GetConfirmFrames())
	}
	if c.GetVideoConfirmFrames() < 1 {
		return fmt.Errorf("video_confirm_frames must be >= 1, got %d", c.GetVideoConfirmFrames())
	}
	if c.GetFrameStep() < 1 {
		return fmt.Errorf("frame_step must be >= 1, got %d", c.GetFrameStep())
	}
	if c.GetFrameBufferSize() < c.GetPreSnapshotCount() {
		return fmt.Errorf("frame_buffer_size (%d) must be >= pre_snapshot_count (%d)",
			c.GetFrameBufferSize(), c.GetPreSnapshotCount())
	}
	if c.GetCandidatePoolSize() < c.GetConfirmFrames() {
		return fmt.Errorf("candidate_pool_size (%d) must be >= confirm_frames (%d)",
			c.GetCandidatePoolSize(), c.GetConfirmFrames())
	}
	if _, err := time.ParseDuration(c.getString(c.Cooldown, "60s")); err != nil {
		return fmt.Errorf("invalid cooldown: %w", err)
	}
	if _, err := time.ParseDuration(c.getString(c.FlushInterval, "30s")); err != nil {
		return fmt.Errorf("invalid flush_interval: %w", err)
	}
	return nil
}

func (c *Config) getFloat(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func (c *Config) getInt(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func (c *Config) getString(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func (c *Config) getDuration(p *string, def time.Duration) time.Duration {
	if p == nil {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetConfThreshold returns the detection confidence threshold.
func (c *Config) GetConfThreshold() float64 { return c.getFloat(c.ConfThreshold, 0.3) }

// GetConfirmFrames returns the live-mode confirmation streak length.
func (c *Config) GetConfirmFrames() int { return c.getInt(c.ConfirmFrames, 3) }

// GetFrameBufferSize returns the raw frame ring buffer capacity.
func (c *Config) GetFrameBufferSize() int { return c.getInt(c.FrameBufferSize, 30) }

// GetCandidatePoolSize returns the bounded candidate pool capacity.
func (c *Config) GetCandidatePoolSize() int { return c.getInt(c.CandidatePoolSize, 15) }

// GetCooldown returns the per-camera alert cooldown.
func (c *Config) GetCooldown() time.Duration { return c.getDuration(c.Cooldown, 60*time.Second) }

// GetPreSnapshotCount returns the number of "before" evidence frames.
func (c *Config) GetPreSnapshotCount() int { return c.getInt(c.PreSnapshotCount, 5) }

// GetPostCaptureFrames returns the number of "after" evidence frames.
func (c *Config) GetPostCaptureFrames() int { return c.getInt(c.PostCaptureFrames, 25) }

// GetVideoConfirmFrames returns the batch-mode confirmation threshold.
func (c *Config) GetVideoConfirmFrames() int { return c.getInt(c.VideoConfirmFrames, 3) }

// GetFrameStep returns the batch pass-1 analysis stride.
func (c *Config) GetFrameStep() int { return c.getInt(c.FrameStep, 3) }

// GetDetectorURL returns the YOLO sidecar base URL.
func (c *Config) GetDetectorURL() string { return c.getString(c.DetectorURL, "http://localhost:8001") }

// GetBackendURL returns the incident ingest endpoint.
func (c *Config) GetBackendURL() string {
	return c.getString(c.BackendURL, "http://localhost:8080/api/incidents/ingest")
}

// GetSnapshotDir returns the evidence snapshot directory.
func (c *Config) GetSnapshotDir() string { return c.getString(c.SnapshotDir, "snapshots") }

// GetVideoDir returns the uploaded video directory.
func (c *Config) GetVideoDir() string { return c.getString(c.VideoDir, "uploaded_videos") }

// GetPublicBaseURL returns the base URL snapshots are served under.
func (c *Config) GetPublicBaseURL() string {
	return c.getString(c.PublicBaseURL, "http://localhost:8000")
}

// GetDatabasePath returns the sqlite database path.
func (c *Config) GetDatabasePath() string { return c.getString(c.DatabasePath, "incidents.db") }

// GetLocationLat returns the camera site latitude.
func (c *Config) GetLocationLat() float64 { return c.getFloat(c.LocationLat, 19.0) }

// GetLocationLng returns the camera site longitude.
func (c *Config) GetLocationLng() float64 { return c.getFloat(c.LocationLng, 73.0) }

// GetFlushInterval returns the report retry queue flush interval.
func (c *Config) GetFlushInterval() time.Duration {
	return c.getDuration(c.FlushInterval, 30*time.Second)
}

// GetAllowedOrigins returns the CORS origin allowlist.
func (c *Config) GetAllowedOrigins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return []string{"http://localhost:5173"}
}
