// Package detect defines the object-detection contract consumed by the
// incident aggregation engine. The detector itself is an external
// collaborator (a YOLO sidecar reached over HTTP); this package only
// fixes the label vocabulary and the per-frame output shape.
package detect

import (
	"context"

	"github.com/banshee-data/collision.report/internal/geometry"
)

// Label vocabulary used for counting. Detections with other labels are
// carried through but never contribute to vehicle/person/danger counts.
const LabelPerson = "person"

// vehicleLabels are the classes counted as vehicles.
var vehicleLabels = map[string]bool{
	"car":        true,
	"truck":      true,
	"motorcycle": true,
	"bus":        true,
}

// dangerLabels is the superset of labels that contribute to the danger
// count (vehicles plus persons).
var dangerLabels = map[string]bool{
	LabelPerson:  true,
	"car":        true,
	"truck":      true,
	"motorcycle": true,
	"bus":        true,
}

// IsVehicle reports whether label is a vehicle class.
func IsVehicle(label string) bool { return vehicleLabels[label] }

// IsPerson reports whether label is the person class.
func IsPerson(label string) bool { return label == LabelPerson }

// IsDanger reports whether label contributes to the danger count.
func IsDanger(label string) bool { return dangerLabels[label] }

// Detection is a single detected object in one frame.
type Detection struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"-"`
}

// Result is the detector output for one frame. Annotated holds the
// sidecar's box-visualisation of the frame (JPEG) when available.
type Result struct {
	Detections []Detection
	Annotated  []byte
}

// Detector runs object detection on a single encoded frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) (*Result, error)
}

// FilterConfidence returns the detections meeting the confidence
// threshold, preserving order.
func FilterConfidence(dets []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// Boxes extracts the bounding boxes from a detection list.
func Boxes(dets []Detection) []geometry.Box {
	boxes := make([]geometry.Box, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
	}
	return boxes
}
