// Package score converts one frame's filtered detections into the
// collision/severity judgment used by both the live state machine and
// the batch analyzer, and selects the best candidate frame for a
// confirmed incident.
package score

import (
	"github.com/banshee-data/collision.report/internal/detect"
	"github.com/banshee-data/collision.report/internal/geometry"
)

// Severity classifies a scored frame. Ordering is
// MINOR < MEDIUM < MAJOR < CRITICAL.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMedium   Severity = "MEDIUM"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the numeric order of a severity (MINOR=1 .. CRITICAL=4).
// Unknown values rank as MINOR.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// FrameScore is the immutable scoring result for one analyzed frame.
type FrameScore struct {
	VehicleCount       int
	PersonCount        int
	DangerCount        int
	CollisionDetected  bool
	OverlapRatio       float64
	Severity           Severity
	AccidentFlag       bool
	VictimsEstimated   int
	PrimaryVehicleType string
}

// ScoreFrame scores one frame from its confidence-filtered detections.
// It is a pure function: same detections, same score.
func ScoreFrame(dets []detect.Detection) FrameScore {
	var fs FrameScore

	boxes := detect.Boxes(dets)
	for _, d := range dets {
		if detect.IsDanger(d.Label) {
			fs.DangerCount++
		}
		if detect.IsVehicle(d.Label) {
			fs.VehicleCount++
			if fs.PrimaryVehicleType == "" {
				fs.PrimaryVehicleType = d.Label
			}
		}
		if detect.IsPerson(d.Label) {
			fs.PersonCount++
		}
	}

	fs.CollisionDetected = geometry.AnyOverlap(boxes)
	fs.OverlapRatio = geometry.MaxPairwiseIoU(boxes)

	// Single-frame accident decision.
	switch {
	case fs.CollisionDetected && fs.VehicleCount >= 2:
		fs.AccidentFlag = true
	case fs.CollisionDetected && fs.PersonCount >= 1:
		fs.AccidentFlag = true
	case fs.VehicleCount >= 1 && fs.PersonCount >= 1 && fs.DangerCount >= 3:
		fs.AccidentFlag = true
	}

	// Severity ladder, first matching rule wins.
	switch {
	case fs.CollisionDetected && fs.VehicleCount >= 2:
		fs.Severity = SeverityCritical
	case fs.CollisionDetected && fs.PersonCount >= 1:
		fs.Severity = SeverityMajor
	case fs.VehicleCount >= 1 && fs.PersonCount >= 2:
		fs.Severity = SeverityMedium
	default:
		fs.Severity = SeverityMinor
	}

	// An accident always implies at least one presumed victim.
	fs.VictimsEstimated = fs.PersonCount
	if fs.VictimsEstimated < 1 {
		fs.VictimsEstimated = 1
	}

	return fs
}
