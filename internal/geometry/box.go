// Package geometry provides axis-aligned bounding box operations used by
// the frame scorer: pairwise overlap tests and intersection-over-union.
package geometry

// Box is an axis-aligned rectangle in image pixel coordinates.
// Invariant: XMax >= XMin and YMax >= YMin.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

// Area returns the box area, clamping negative extents to zero so a
// malformed box never produces a negative area.
func (b Box) Area() float64 {
	w := b.XMax - b.XMin
	h := b.YMax - b.YMin
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return w * h
}

// Overlaps reports whether two boxes intersect. Boxes that merely touch
// along an edge count as overlapping (separation requires a strict gap).
func (b Box) Overlaps(o Box) bool {
	if b.XMax < o.XMin || o.XMax < b.XMin {
		return false
	}
	if b.YMax < o.YMin || o.YMax < b.YMin {
		return false
	}
	return true
}

// intersectionArea returns the area of the intersection of a and b,
// or 0 if they do not overlap.
func intersectionArea(a, b Box) float64 {
	ixMin := max(a.XMin, b.XMin)
	iyMin := max(a.YMin, b.YMin)
	ixMax := min(a.XMax, b.XMax)
	iyMax := min(a.YMax, b.YMax)

	iw := ixMax - ixMin
	ih := iyMax - iyMin
	if iw <= 0 || ih <= 0 {
		return 0
	}
	return iw * ih
}

// MaxPairwiseIoU computes the maximum intersection-over-union across all
// unordered pairs of boxes. Returns 0.0 when fewer than two boxes are
// given or when no pair has a positive intersection. Degenerate
// (zero-area) boxes are skipped.
func MaxPairwiseIoU(boxes []Box) float64 {
	if len(boxes) < 2 {
		return 0.0
	}

	maxRatio := 0.0
	for i := 0; i < len(boxes); i++ {
		area1 := boxes[i].Area()
		if area1 <= 0 {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			area2 := boxes[j].Area()
			if area2 <= 0 {
				continue
			}

			inter := intersectionArea(boxes[i], boxes[j])
			if inter <= 0 {
				continue
			}
			union := area1 + area2 - inter
			if union <= 0 {
				continue
			}

			if ratio := inter / union; ratio > maxRatio {
				maxRatio = ratio
			}
		}
	}
	return maxRatio
}

// AnyOverlap reports whether any two boxes in the set overlap.
func AnyOverlap(boxes []Box) bool {
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].Overlaps(boxes[j]) {
				return true
			}
		}
	}
	return false
}
