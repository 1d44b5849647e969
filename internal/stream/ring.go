// Package stream implements the live per-camera incident state machine:
// a ring of recent raw frames, a candidate pool accumulated over an
// accident streak, confirmation, cooldown, and evidence capture.
package stream

// FrameRing maintains a sliding window of raw encoded frames so the
// pre-incident evidence window can be recovered once an incident
// confirms.
type FrameRing struct {
	frames   [][]byte
	capacity int
	head     int // next write position
	size     int
}

// NewFrameRing creates a ring holding up to capacity frames.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 1 {
		capacity = 30
	}
	return &FrameRing{
		frames:   make([][]byte, capacity),
		capacity: capacity,
	}
}

// Add stores a frame, overwriting the oldest when at capacity. The ring
// keeps its own copy so callers may reuse the buffer.
func (r *FrameRing) Add(frame []byte) {
	stored := make([]byte, len(frame))
	copy(stored, frame)

	r.frames[r.head] = stored
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Last returns up to n most recent frames, oldest first. Fewer are
// returned when the ring holds fewer.
func (r *FrameRing) Last(n int) [][]byte {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		idx := (r.head - n + i + r.capacity) % r.capacity
		out[i] = r.frames[idx]
	}
	return out
}

// Size returns the number of frames currently stored.
func (r *FrameRing) Size() int {
	return r.size
}

// Clear drops all stored frames.
func (r *FrameRing) Clear() {
	for i := range r.frames {
		r.frames[i] = nil
	}
	r.head = 0
	r.size = 0
}
