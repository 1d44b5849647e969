package score

import "time"

// Candidate is an accident-flagged frame held while a streak accumulates:
// the frame's score, the annotated evidence image, and its position in
// the stream (wall-clock in live mode, 1-based index in batch mode).
type Candidate struct {
	Score      FrameScore
	Annotated  []byte
	CapturedAt time.Time
	FrameIndex int
}

// Better reports whether a strictly beats b under the incident evidence
// ordering: severity rank first, then overlap ratio.
func Better(a, b FrameScore) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.OverlapRatio > b.OverlapRatio
}

// SelectBest picks the candidate maximising (severity rank, overlap
// ratio). Ties resolve to the earliest entry, so selection is stable
// under insertion order. Returns false for an empty pool.
func SelectBest(pool []Candidate) (Candidate, bool) {
	if len(pool) == 0 {
		return Candidate{}, false
	}

	best := pool[0]
	for _, c := range pool[1:] {
		if Better(c.Score, best.Score) {
			best = c
		}
	}
	return best, true
}
