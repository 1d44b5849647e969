// Package batch analyzes pre-recorded video in two passes: a strided
// detection pass that confirms an accident and picks the best evidence
// frame, then an evidence pass that extracts the frames around it.
package batch

import (
	"context"
	"fmt"
	"io"

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

// VideoSource yields a video's frames as encoded JPEG images. Next
// returns io.EOF when the video is exhausted.
type VideoSource interface {
	Next() ([]byte, error)
	Close() error
}

// OpenSource opens a fresh pass over the same video. The pipeline uses
// it to re-read the frame window around the best frame, so only the
// single best annotated frame is held in memory between passes.
type OpenSource func(ctx context.Context) (VideoSource, error)

// SnapshotStore saves one evidence image and returns its locator URL.
type SnapshotStore interface {
	Save(name string, data []byte) (string, error)
}

// IncidentStore persists confirmed incidents locally.
type IncidentStore interface {
	InsertIncident(inc *report.Incident, reported bool, backendID string) (int64, error)
}

// Result describes one video analysis run.
type Result struct {
	// Confirmed is set when the video contained a confirmed accident.
	Confirmed bool

	// Reported is set when the incident reached the backend.
	Reported bool

	// IncidentID is the local database row ID, when persistence is wired.
	IncidentID int64

	// BackendID is the backend-assigned incident ID, when reported.
	BackendID string

	// Incident holds the finalized incident on confirmation.
	Incident *report.Incident

	// FramesTotal and FramesAnalyzed count the video's frames and the
	// strided subset that went through detection.
	FramesTotal    int
	FramesAnalyzed int

	// BestFrameIndex is the 1-based index of the selected evidence frame.
	BestFrameIndex int
}

// Pipeline is the pre-recorded video analyzer.
type Pipeline struct {
	cfg      *config.Config
	detector detect.Detector
	store    SnapshotStore
	reporter report.Reporter
	records  IncidentStore
	clock    timeutil.Clock
	metrics  *metrics.Metrics
}

// NewPipeline wires the batch analyzer. records and mx may be nil; a
// nil clock defaults to the real one.
func NewPipeline(cfg *config.Config, detector detect.Detector, store SnapshotStore, reporter report.Reporter, records IncidentStore, clock timeutil.Clock, mx *metrics.Metrics) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		cfg:      cfg,
		detector: detector,
		store:    store,
		reporter: reporter,
		records:  records,
		clock:    clock,
		metrics:  mx,
	}
}

// Run analyzes one video attributed to cameraID. src feeds the
// detection pass and is always closed; reopen feeds the evidence pass
// on confirmation. A nil reopen skips the pre/post windows, the main
// evidence frame is kept regardless.
func (p *Pipeline) Run(ctx context.Context, src VideoSource, reopen OpenSource, cameraID string) (*Result, error) {
	res := &Result{}

	best, confirmed, err := p.detectionPass(ctx, src, res)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return res, nil
	}

	p.finalize(ctx, cameraID, reopen, best, res)
	return res, nil
}

// detectionPass streams the video through detection, analyzing every
// FrameStep-th frame. A streak of consecutive analyzed accident frames
// must reach VideoConfirmFrames before a frame may claim the best slot;
// among eligible frames the first strictly-better candidate wins.
// Detector errors skip the frame without touching the streak.
func (p *Pipeline) detectionPass(ctx context.Context, src VideoSource, res *Result) (score.Candidate, bool, error) {
	defer src.Close()

	step := p.cfg.GetFrameStep()
	confirm := p.cfg.GetVideoConfirmFrames()
	threshold := p.cfg.GetConfThreshold()

	var best score.Candidate
	var haveBest bool
	streak := 0

	for {
		frame, err := src.Next()
		if err == io.EOF {
			return best, haveBest, nil
		}
		if err != nil {
			return best, false, fmt.Errorf("failed to read video frame: %w", err)
		}
		res.FramesTotal++
		idx := res.FramesTotal

		if (idx-1)%step != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return best, false, err
		}
		res.FramesAnalyzed++
		if p.metrics != nil {
			p.metrics.FramesProcessed.WithLabelValues(report.SourceVideo).Inc()
		}

		det, err := p.detector.Detect(ctx, frame)
		if err != nil {
			if p.metrics != nil {
				p.metrics.DetectorErrors.Inc()
			}
			monitoring.Logf("detector failed on video frame %d, skipping: %v", idx, err)
			continue
		}

		dets := detect.FilterConfidence(det.Detections, threshold)
		fs := score.ScoreFrame(dets)
		if !fs.AccidentFlag {
			streak = 0
			continue
		}

		// An accident frame competes for the best slot only once its
		// streak has confirmed; a run too short to confirm never
		// contributes evidence.
		streak++
		if streak < confirm {
			continue
		}

		annotated := det.Annotated
		if len(annotated) == 0 {
			// Sidecar sent no visualisation; draw the boxes locally.
			if drawn, err := annotate.Draw(frame, dets); err == nil {
				annotated = drawn
			} else {
				annotated = frame
			}
		}
		if !haveBest || score.Better(fs, best.Score) {
			best = score.Candidate{Score: fs, Annotated: annotated, FrameIndex: idx}
			haveBest = true
		}
	}
}

// evidencePass re-reads the video and saves the raw frames around the
// best frame, stopping once the post window is exhausted. Failures are
// logged and the affected frames omitted.
func (p *Pipeline) evidencePass(ctx context.Context, reopen OpenSource, tag string, best score.Candidate) {
	if reopen == nil {
		return
	}
	src, err := reopen(ctx)
	if err != nil {
		monitoring.Logf("failed to reopen video for evidence extraction: %v", err)
		return
	}
	defer src.Close()

	preStart := best.FrameIndex - p.cfg.GetPreSnapshotCount()
	if preStart < 1 {
		preStart = 1
	}
	postEnd := best.FrameIndex + p.cfg.GetPostCaptureFrames()

	idx, preSaved, postSaved := 0, 0, 0
	for {
		frame, err := src.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			monitoring.Logf("failed to read video frame during evidence extraction: %v", err)
			return
		}
		idx++

		if idx >= preStart && idx < best.FrameIndex {
			name := fmt.Sprintf("video_accident_pre_%s_%d.jpg", tag, preSaved)
			if _, err := p.store.Save(name, frame); err != nil {
				monitoring.Logf("failed to save pre-incident frame %s: %v", name, err)
			}
			preSaved++
		}
		if idx > best.FrameIndex && idx <= postEnd {
			name := fmt.Sprintf("video_accident_post_%s_%d.jpg", tag, postSaved)
			if _, err := p.store.Save(name, frame); err != nil {
				monitoring.Logf("failed to save post-incident frame %s: %v", name, err)
			}
			postSaved++
		}
		if idx > postEnd {
			return
		}
	}
}

// finalize saves the evidence windows, runs triage, delivers the
// report, and persists the incident.
func (p *Pipeline) finalize(ctx context.Context, cameraID string, reopen OpenSource, best score.Candidate, res *Result) {
	now := p.clock.Now()
	tag := fmt.Sprintf("%s_%d", cameraID, now.Unix())

	mainName := fmt.Sprintf("video_accident_main_%s_%s.jpg", tag, uuid.New().String())
	snapshotURL, err := p.store.Save(mainName, best.Annotated)
	if err != nil {
		monitoring.Logf("failed to save main incident frame %s: %v", mainName, err)
		snapshotURL = ""
	}

	p.evidencePass(ctx, reopen, tag, best)

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
		Lat:          p.cfg.GetLocationLat(),
		Lng:          p.cfg.GetLocationLng(),
		SnapshotURL:  snapshotURL,
		Source:       report.SourceVideo,
		OverlapRatio: best.Score.OverlapRatio,
		Triage:       tri,
	}

	backendID, err := p.reporter.Report(ctx, inc)
	if err != nil {
		monitoring.Logf("incident report for video %s failed: %v", cameraID, err)
		if p.metrics != nil {
			p.metrics.ReportFailures.Inc()
		}
	} else {
		res.Reported = true
		res.BackendID = backendID
	}

	if p.records != nil {
		id, err := p.records.InsertIncident(inc, res.Reported, backendID)
		if err != nil {
			monitoring.Logf("failed to persist video incident for %s: %v", cameraID, err)
		} else {
			res.IncidentID = id
		}
	}

	res.Confirmed = true
	res.Incident = inc
	res.BestFrameIndex = best.FrameIndex
	if p.metrics != nil {
		p.metrics.IncidentsConfirmed.WithLabelValues(string(best.Score.Severity), report.SourceVideo).Inc()
	}
	monitoring.Logf("video incident confirmed for %s: severity=%s best_frame=%d reported=%t",
		cameraID, best.Score.Severity, best.FrameIndex, res.Reported)
}
