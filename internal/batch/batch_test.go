package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/geometry"
	"github.com/banshee-data/collision.report/internal/report"
	"github.com/banshee-data/collision.report/internal/score"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

// sliceSource serves frames from a slice.
type sliceSource struct {
	frames [][]byte
	pos    int
	closed bool
}

func (s *sliceSource) Next() ([]byte, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// replayOpener reopens the same frame slice, counting opens so tests
// can check the evidence pass ran (or did not).
func replayOpener(frames [][]byte) (OpenSource, *int) {
	opens := 0
	open := func(ctx context.Context) (VideoSource, error) {
		opens++
		return &sliceSource{frames: frames}, nil
	}
	return open, &opens
}

// indexDetector flags frames whose 1-based index falls in [from, to].
// Frames are tagged "frame-<i>" so the detector can recover the index.
type indexDetector struct {
	from, to int
	errAt    int
}

func (d *indexDetector) Detect(ctx context.Context, frame []byte) (*detect.Result, error) {
	var idx int
	if _, err := fmt.Sscanf(string(frame), "frame-%d", &idx); err != nil {
		return nil, err
	}
	if d.errAt != 0 && idx == d.errAt {
		return nil, errors.New("sidecar timeout")
	}
	if idx < d.from || idx > d.to {
		return &detect.Result{}, nil
	}
	return &detect.Result{
		Detections: []detect.Detection{
			{Label: "car", Confidence: 0.9, Box: geometry.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}},
			{Label: "car", Confidence: 0.8, Box: geometry.Box{XMin: 5, YMin: 5, XMax: 15, YMax: 15}},
		},
		Annotated: []byte(fmt.Sprintf("annotated-%d", idx)),
	}, nil
}

type memStore struct {
	mu    sync.Mutex
	names []string
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func (s *memStore) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.files[name] = append([]byte(nil), data...)
	return "http://localhost:8000/snapshots/" + name, nil
}

func (s *memStore) withPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

type fakeReporter struct {
	incidents []*report.Incident
	err       error
}

func (r *fakeReporter) Report(ctx context.Context, inc *report.Incident) (string, error) {
	r.incidents = append(r.incidents, inc)
	if r.err != nil {
		return "", r.err
	}
	return "vid-1", nil
}

func videoFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte(fmt.Sprintf("frame-%d", i+1))
	}
	return frames
}

func testConfig(step, confirm, pre, post int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.FrameStep = &step
	cfg.VideoConfirmFrames = &confirm
	cfg.PreSnapshotCount = &pre
	cfg.PostCaptureFrames = &post
	return cfg
}

func TestPipeline_ConfirmsAccidentWindow(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, 3, 5, 4)
	store := newMemStore()
	reporter := &fakeReporter{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	p := NewPipeline(cfg, &indexDetector{from: 10, to: 15}, store, reporter, nil, clock, nil)

	frames := videoFrames(20)
	src := &sliceSource{frames: frames}
	reopen, opens := replayOpener(frames)
	res, err := p.Run(context.Background(), src, reopen, "upload-1")
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.True(t, res.Reported)
	assert.Equal(t, "vid-1", res.BackendID)
	assert.Equal(t, 20, res.FramesTotal)
	assert.Equal(t, 20, res.FramesAnalyzed)
	assert.True(t, src.closed)
	assert.Equal(t, 1, *opens)

	// Frames 10-15 are flagged; the streak confirms on frame 12 and the
	// identical scores after it never strictly beat it.
	assert.Equal(t, 12, res.BestFrameIndex)
	require.NotNil(t, res.Incident)
	assert.Equal(t, score.SeverityCritical, res.Incident.Severity)
	assert.Equal(t, report.SourceVideo, res.Incident.Source)
	require.Len(t, reporter.incidents, 1)

	// Pre window: frames 7-11. Post window: frames 13-16.
	pre := store.withPrefix("video_accident_pre_")
	require.Len(t, pre, 5)
	assert.True(t, strings.HasSuffix(pre[0], "_0.jpg"))
	assert.Equal(t, []byte("frame-7"), store.files[pre[0]])
	assert.Equal(t, []byte("frame-11"), store.files[pre[4]])

	main := store.withPrefix("video_accident_main_")
	require.Len(t, main, 1)
	assert.Equal(t, []byte("annotated-12"), store.files[main[0]])

	post := store.withPrefix("video_accident_post_")
	require.Len(t, post, 4)
	assert.True(t, strings.HasSuffix(post[0], "_0.jpg"))
	assert.True(t, strings.HasSuffix(post[3], "_3.jpg"))
	assert.Equal(t, []byte("frame-13"), store.files[post[0]])
	assert.Equal(t, []byte("frame-16"), store.files[post[3]])
}

// highOverlapDetector flags a chosen frame with a near-total overlap, a
// stronger score than indexDetector's standard collision.
type highOverlapDetector struct {
	inner *indexDetector
	at    int
}

func (d *highOverlapDetector) Detect(ctx context.Context, frame []byte) (*detect.Result, error) {
	var idx int
	if _, err := fmt.Sscanf(string(frame), "frame-%d", &idx); err != nil {
		return nil, err
	}
	if idx == d.at {
		return &detect.Result{
			Detections: []detect.Detection{
				{Label: "car", Confidence: 0.9, Box: geometry.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}},
				{Label: "car", Confidence: 0.9, Box: geometry.Box{XMin: 1, YMin: 1, XMax: 11, YMax: 11}},
			},
			Annotated: []byte(fmt.Sprintf("annotated-%d", idx)),
		}, nil
	}
	return d.inner.Detect(ctx, frame)
}

func TestPipeline_UnconfirmedStreakCannotClaimBestFrame(t *testing.T) {
	t.Parallel()

	// Frame 2 is an isolated accident frame with a higher overlap than
	// anything in the confirmed run 10-15. Its streak of one never
	// confirms, so it must not supply the evidence frame.
	cfg := testConfig(1, 3, 2, 2)
	store := newMemStore()
	reporter := &fakeReporter{}
	det := &highOverlapDetector{inner: &indexDetector{from: 10, to: 15}, at: 2}
	p := NewPipeline(cfg, det, store, reporter, nil, nil, nil)

	frames := videoFrames(20)
	reopen, _ := replayOpener(frames)
	res, err := p.Run(context.Background(), &sliceSource{frames: frames}, reopen, "upload-iso")
	require.NoError(t, err)

	require.True(t, res.Confirmed)
	assert.Equal(t, 12, res.BestFrameIndex)

	main := store.withPrefix("video_accident_main_")
	require.Len(t, main, 1)
	assert.Equal(t, []byte("annotated-12"), store.files[main[0]])
}

func TestPipeline_StrideSkipsFrames(t *testing.T) {
	t.Parallel()

	cfg := testConfig(3, 2, 2, 2)
	store := newMemStore()
	reporter := &fakeReporter{}
	p := NewPipeline(cfg, &indexDetector{from: 7, to: 20}, store, reporter, nil, nil, nil)

	frames := videoFrames(21)
	reopen, _ := replayOpener(frames)
	res, err := p.Run(context.Background(), &sliceSource{frames: frames}, reopen, "upload-2")
	require.NoError(t, err)

	// Frames 1,4,7,...,19 are analyzed; the streak confirms on frame 10.
	assert.Equal(t, 7, res.FramesAnalyzed)
	assert.True(t, res.Confirmed)
	assert.Equal(t, 10, res.BestFrameIndex)
}

func TestPipeline_NoAccident(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, 3, 5, 5)
	store := newMemStore()
	reporter := &fakeReporter{}
	p := NewPipeline(cfg, &indexDetector{from: 0, to: -1}, store, reporter, nil, nil, nil)

	frames := videoFrames(10)
	reopen, opens := replayOpener(frames)
	res, err := p.Run(context.Background(), &sliceSource{frames: frames}, reopen, "upload-3")
	require.NoError(t, err)

	assert.False(t, res.Confirmed)
	assert.Equal(t, 0, *opens)
	assert.Empty(t, reporter.incidents)
	assert.Empty(t, store.names)
}

func TestPipeline_StreakBrokenByGap(t *testing.T) {
	t.Parallel()

	// Flagged run of two, then clean, never reaching confirm=3.
	cfg := testConfig(1, 3, 2, 2)
	p := NewPipeline(cfg, &indexDetector{from: 5, to: 6}, newMemStore(), &fakeReporter{}, nil, nil, nil)

	res, err := p.Run(context.Background(), &sliceSource{frames: videoFrames(12)}, nil, "upload-4")
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
}

func TestPipeline_DetectorErrorSkipsFrame(t *testing.T) {
	t.Parallel()

	// Frame 11 errors mid-streak; the streak carries 10,12,13.
	cfg := testConfig(1, 3, 2, 2)
	reporter := &fakeReporter{}
	p := NewPipeline(cfg, &indexDetector{from: 10, to: 15, errAt: 11}, newMemStore(), reporter, nil, nil, nil)

	frames := videoFrames(16)
	reopen, _ := replayOpener(frames)
	res, err := p.Run(context.Background(), &sliceSource{frames: frames}, reopen, "upload-5")
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, 13, res.BestFrameIndex)
	require.Len(t, reporter.incidents, 1)
}

func TestPipeline_ReportFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, 3, 2, 2)
	reporter := &fakeReporter{err: errors.New("backend unreachable")}
	p := NewPipeline(cfg, &indexDetector{from: 3, to: 8}, newMemStore(), reporter, nil, nil, nil)

	frames := videoFrames(10)
	reopen, _ := replayOpener(frames)
	res, err := p.Run(context.Background(), &sliceSource{frames: frames}, reopen, "upload-6")
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.False(t, res.Reported)
	assert.Empty(t, res.BackendID)
}

func TestPipeline_NilReopenKeepsMainEvidence(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, 3, 2, 2)
	store := newMemStore()
	p := NewPipeline(cfg, &indexDetector{from: 3, to: 8}, store, &fakeReporter{}, nil, nil, nil)

	res, err := p.Run(context.Background(), &sliceSource{frames: videoFrames(10)}, nil, "upload-nr")
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.Len(t, store.withPrefix("video_accident_main_"), 1)
	assert.Empty(t, store.withPrefix("video_accident_pre_"))
	assert.Empty(t, store.withPrefix("video_accident_post_"))
}

func TestPipeline_EmptyVideo(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1, 3, 2, 2)
	p := NewPipeline(cfg, &indexDetector{}, newMemStore(), &fakeReporter{}, nil, nil, nil)

	res, err := p.Run(context.Background(), &sliceSource{}, nil, "upload-7")
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 0, res.FramesTotal)
}
