package score

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/geometry"
)

// det builds a detection with a box placed so that boxes built via
// "overlapping" share area and others are disjoint.
func det(label string, box geometry.Box) detect.Detection {
	return detect.Detection{Label: label, Confidence: 0.9, Box: box}
}

// Disjoint box slots along the x axis.
func slot(i int) geometry.Box {
	x := float64(i) * 100
	return geometry.Box{XMin: x, YMin: 0, XMax: x + 50, YMax: 50}
}

func TestScoreFrame_Empty(t *testing.T) {
	fs := ScoreFrame(nil)

	want := FrameScore{
		Severity:         SeverityMinor,
		VictimsEstimated: 1,
	}
	if diff := cmp.Diff(want, fs); diff != "" {
		t.Errorf("ScoreFrame(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestScoreFrame_TwoVehicleCollision(t *testing.T) {
	overlapping := geometry.Box{XMin: 0, YMin: 0, XMax: 60, YMax: 60}
	fs := ScoreFrame([]detect.Detection{
		det("car", geometry.Box{XMin: 0, YMin: 0, XMax: 50, YMax: 50}),
		det("truck", overlapping),
	})

	if !fs.CollisionDetected {
		t.Error("expected collision")
	}
	if !fs.AccidentFlag {
		t.Error("expected accident flag")
	}
	if fs.Severity != SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", fs.Severity)
	}
	if fs.VehicleCount != 2 || fs.PersonCount != 0 || fs.DangerCount != 2 {
		t.Errorf("counts = %d/%d/%d", fs.VehicleCount, fs.PersonCount, fs.DangerCount)
	}
	if fs.PrimaryVehicleType != "car" {
		t.Errorf("primary vehicle = %q, want first-seen car", fs.PrimaryVehicleType)
	}
	if fs.VictimsEstimated != 1 {
		t.Errorf("victims = %d, want 1 (no persons implies one presumed victim)", fs.VictimsEstimated)
	}
	if fs.OverlapRatio <= 0 {
		t.Errorf("overlap ratio = %f, want > 0", fs.OverlapRatio)
	}
}

func TestScoreFrame_VehiclePersonCollision(t *testing.T) {
	fs := ScoreFrame([]detect.Detection{
		det("person", geometry.Box{XMin: 0, YMin: 0, XMax: 20, YMax: 40}),
		det("car", geometry.Box{XMin: 10, YMin: 0, XMax: 60, YMax: 40}),
	})

	if fs.Severity != SeverityMajor {
		t.Errorf("severity = %s, want MAJOR", fs.Severity)
	}
	if !fs.AccidentFlag {
		t.Error("expected accident flag")
	}
	if fs.VictimsEstimated != 1 {
		t.Errorf("victims = %d, want 1", fs.VictimsEstimated)
	}
}

func TestScoreFrame_CrowdedSceneNoCollision(t *testing.T) {
	// vehicle + 2 persons, all disjoint: MEDIUM, and the three-danger
	// rule flags an accident frame even without overlap.
	fs := ScoreFrame([]detect.Detection{
		det("bus", slot(0)),
		det("person", slot(1)),
		det("person", slot(2)),
	})

	if fs.CollisionDetected {
		t.Error("unexpected collision for disjoint boxes")
	}
	if fs.Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", fs.Severity)
	}
	if !fs.AccidentFlag {
		t.Error("expected accident flag via vehicle+person+danger>=3 rule")
	}
	if fs.VictimsEstimated != 2 {
		t.Errorf("victims = %d, want 2", fs.VictimsEstimated)
	}
}

func TestScoreFrame_QuietScene(t *testing.T) {
	fs := ScoreFrame([]detect.Detection{det("car", slot(0))})

	if fs.AccidentFlag {
		t.Error("unexpected accident flag")
	}
	if fs.Severity != SeverityMinor {
		t.Errorf("severity = %s, want MINOR", fs.Severity)
	}
}

// Severity is a pure function of (collision, vehicles, persons); spot
// check the documented truth table.
func TestSeverityTruthTable(t *testing.T) {
	tests := []struct {
		collision bool
		vehicles  int
		persons   int
		want      Severity
	}{
		{true, 2, 0, SeverityCritical},
		{true, 0, 1, SeverityMajor},
		{false, 1, 2, SeverityMedium},
		{false, 0, 0, SeverityMinor},
		{true, 1, 0, SeverityMinor},
		{false, 3, 1, SeverityMinor},
	}

	for _, tt := range tests {
		var dets []detect.Detection
		if tt.collision {
			// Two stacked boxes force a collision; labels chosen below
			// provide the counts.
			base := geometry.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
			labels := make([]string, 0, tt.vehicles+tt.persons)
			for i := 0; i < tt.vehicles; i++ {
				labels = append(labels, "car")
			}
			for i := 0; i < tt.persons; i++ {
				labels = append(labels, "person")
			}
			if len(labels) < 2 {
				// Pad with a non-danger label so two boxes still overlap.
				labels = append(labels, "traffic light")
			}
			for _, l := range labels {
				dets = append(dets, det(l, base))
			}
		} else {
			i := 0
			for v := 0; v < tt.vehicles; v++ {
				dets = append(dets, det("car", slot(i)))
				i++
			}
			for p := 0; p < tt.persons; p++ {
				dets = append(dets, det("person", slot(i)))
				i++
			}
		}

		fs := ScoreFrame(dets)
		if fs.Severity != tt.want {
			t.Errorf("severity(collision=%v, vehicles=%d, persons=%d) = %s, want %s",
				tt.collision, tt.vehicles, tt.persons, fs.Severity, tt.want)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityMinor, SeverityMedium, SeverityMajor, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("rank(%s)=%d not greater than rank(%s)=%d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if Severity("BOGUS").Rank() != 1 {
		t.Error("unknown severity should rank as MINOR")
	}
}
