package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/collision.report/internal/annotate"
	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/metrics"
	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/report"
	"github.com/banshee-data/collision.report/internal/score"
	"github.com/banshee-data/collision.report/internal/timeutil"
	"github.com/banshee-data/collision.report/internal/triage"
)

// SnapshotStore saves one evidence image and returns its locator URL.
type SnapshotStore interface {
	Save(name string, data []byte) (string, error)
}

// IncidentStore persists confirmed incidents locally.
type IncidentStore interface {
	InsertIncident(inc *report.Incident, reported bool, backendID string) (int64, error)
}

// Outcome describes what one frame did to the camera's incident state.
type Outcome struct {
	// Score is the frame's scoring result.
	Score score.FrameScore

	// Confirmed is set when this frame completed a confirmation streak
	// and an incident was finalized.
	Confirmed bool

	// Suppressed is set when a streak completed inside the cooldown
	// window, so no incident was raised.
	Suppressed bool

	// Reported is set when the incident reached the backend.
	Reported bool

	// IncidentID is the local database row ID, when persistence is wired.
	IncidentID int64

	// BackendID is the backend-assigned incident ID, when reported.
	BackendID string

	// Incident holds the finalized incident on confirmation.
	Incident *report.Incident
}

// cameraState is the per-camera incident state machine. All fields are
// guarded by mu so concurrent frames for one camera serialize.
type cameraState struct {
	mu            sync.Mutex
	ring          *FrameRing
	pool          []score.Candidate
	streak        int
	lastAlert     time.Time // zero means no prior alert
	postRemaining int
	postIndex     int
	incidentTag   string
}

// Monitor runs the live incident state machine across cameras.
type Monitor struct {
	mu      sync.Mutex
	cameras map[string]*cameraState

	cfg      *config.Config
	detector detect.Detector
	store    SnapshotStore
	reporter report.Reporter
	records  IncidentStore
	clock    timeutil.Clock
	metrics  *metrics.Metrics
}

// NewMonitor wires the live pipeline. records and mx may be nil; a nil
// clock defaults to the real one.
func NewMonitor(cfg *config.Config, detector detect.Detector, store SnapshotStore, reporter report.Reporter, records IncidentStore, clock timeutil.Clock, mx *metrics.Metrics) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{
		cameras:  make(map[string]*cameraState),
		cfg:      cfg,
		detector: detector,
		store:    store,
		reporter: reporter,
		records:  records,
		clock:    clock,
		metrics:  mx,
	}
}

func (m *Monitor) state(cameraID string) *cameraState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.cameras[cameraID]
	if !ok {
		st = &cameraState{ring: NewFrameRing(m.cfg.GetFrameBufferSize())}
		m.cameras[cameraID] = st
	}
	return st
}

// OnFrame feeds one encoded frame from cameraID through the state
// machine. A detector error leaves the streak and pool untouched; the
// frame still enters the ring and still drains any pending post-incident
// capture.
func (m *Monitor) OnFrame(ctx context.Context, cameraID string, frame []byte) (*Outcome, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame from camera %s", cameraID)
	}

	st := m.state(cameraID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.ring.Add(frame)
	m.drainPostCapture(st, frame)

	if m.metrics != nil {
		m.metrics.FramesProcessed.WithLabelValues(report.SourceCCTV).Inc()
	}

	res, err := m.detector.Detect(ctx, frame)
	if err != nil {
		if m.metrics != nil {
			m.metrics.DetectorErrors.Inc()
		}
		return nil, fmt.Errorf("detector failed for camera %s: %w", cameraID, err)
	}

	dets := detect.FilterConfidence(res.Detections, m.cfg.GetConfThreshold())
	fs := score.ScoreFrame(dets)
	out := &Outcome{Score: fs}

	if !fs.AccidentFlag {
		st.streak = 0
		st.pool = nil
		return out, nil
	}

	annotated := res.Annotated
	if len(annotated) == 0 {
		// Sidecar sent no visualisation; draw the boxes locally.
		if drawn, err := annotate.Draw(frame, dets); err == nil {
			annotated = drawn
		} else {
			annotated = frame
		}
	}
	st.streak++
	st.pool = append(st.pool, score.Candidate{
		Score:      fs,
		Annotated:  annotated,
		CapturedAt: m.clock.Now(),
	})
	if max := m.cfg.GetCandidatePoolSize(); len(st.pool) > max {
		st.pool = st.pool[len(st.pool)-max:]
	}

	if st.streak < m.cfg.GetConfirmFrames() {
		return out, nil
	}

	// Streak complete. Inside the cooldown window the incident is
	// suppressed without resetting, so the alert re-raises as soon as
	// the window expires if the scene still looks like an accident.
	if !st.lastAlert.IsZero() && m.clock.Since(st.lastAlert) < m.cfg.GetCooldown() {
		out.Suppressed = true
		if m.metrics != nil {
			m.metrics.IncidentsSuppressed.Inc()
		}
		return out, nil
	}

	m.finalize(ctx, cameraID, st, frame, out)
	return out, nil
}

// drainPostCapture saves the frame as post-incident evidence while a
// capture window is armed. Save failures are logged and skipped.
func (m *Monitor) drainPostCapture(st *cameraState, frame []byte) {
	if st.postRemaining <= 0 {
		return
	}
	name := fmt.Sprintf("accident_post_%s_%d.jpg", st.incidentTag, st.postIndex)
	st.postIndex++
	st.postRemaining--

	if _, err := m.store.Save(name, frame); err != nil {
		monitoring.Logf("failed to save post-incident frame %s: %v", name, err)
	}
}

// finalize raises a confirmed incident: evidence capture, triage,
// delivery, persistence, and state reset.
func (m *Monitor) finalize(ctx context.Context, cameraID string, st *cameraState, frame []byte, out *Outcome) {
	best, ok := score.SelectBest(st.pool)
	if !ok {
		best = score.Candidate{Score: out.Score, Annotated: frame}
	}

	now := m.clock.Now()
	tag := fmt.Sprintf("%s_%d", cameraID, now.Unix())

	// Pre-incident window from the ring, oldest first. The current frame
	// is the newest entry.
	for i, pre := range st.ring.Last(m.cfg.GetPreSnapshotCount()) {
		name := fmt.Sprintf("accident_pre_%s_%d.jpg", tag, i)
		if _, err := m.store.Save(name, pre); err != nil {
			monitoring.Logf("failed to save pre-incident frame %s: %v", name, err)
		}
	}

	mainName := fmt.Sprintf("accident_main_%s_%s.jpg", tag, uuid.New().String())
	snapshotURL, err := m.store.Save(mainName, best.Annotated)
	if err != nil {
		monitoring.Logf("failed to save main incident frame %s: %v", mainName, err)
		snapshotURL = ""
	}

	st.postRemaining = m.cfg.GetPostCaptureFrames()
	st.postIndex = 0
	st.incidentTag = tag

	tri := triage.Assess(triage.Input{
		Severity:          best.Score.Severity,
		VehicleType:       best.Score.PrimaryVehicleType,
		VictimCount:       best.Score.VictimsEstimated,
		CollisionDetected: best.Score.CollisionDetected,
		PersonCount:       best.Score.PersonCount,
	})

	inc := &report.Incident{
		CameraID:     cameraID,
		OccurredAt:   now.UTC(),
		Severity:     best.Score.Severity,
		VictimCount:  best.Score.VictimsEstimated,
		Lat:          m.cfg.GetLocationLat(),
		Lng:          m.cfg.GetLocationLng(),
		SnapshotURL:  snapshotURL,
		Source:       report.SourceCCTV,
		OverlapRatio: best.Score.OverlapRatio,
		Triage:       tri,
	}

	backendID, err := m.reporter.Report(ctx, inc)
	if err != nil {
		monitoring.Logf("incident report for camera %s failed: %v", cameraID, err)
		if m.metrics != nil {
			m.metrics.ReportFailures.Inc()
		}
	} else {
		out.Reported = true
		out.BackendID = backendID
	}

	if m.records != nil {
		id, err := m.records.InsertIncident(inc, out.Reported, backendID)
		if err != nil {
			monitoring.Logf("failed to persist incident for camera %s: %v", cameraID, err)
		} else {
			out.IncidentID = id
		}
	}

	// The cooldown stamp applies even when delivery failed, so a flaky
	// backend cannot cause alert storms.
	st.lastAlert = now
	st.streak = 0
	st.pool = nil

	out.Confirmed = true
	out.Incident = inc
	if m.metrics != nil {
		m.metrics.IncidentsConfirmed.WithLabelValues(string(best.Score.Severity), report.SourceCCTV).Inc()
	}
	monitoring.Logf("incident confirmed on camera %s: severity=%s victims=%d reported=%t",
		cameraID, best.Score.Severity, best.Score.VictimsEstimated, out.Reported)
}
