package throttle

import (
	"sync"
	"time"
)

const (
	MinTargetRate     = 1
	MaxTargetRate     = 30
	DefaultTargetRate = 10
)

// tolerance absorbs float rounding when callers build timestamps from seconds.
const tolerance = time.Nanosecond

// Throttler admits frames for detection. A frame is admitted when both the
// rate gate (at most targetRate frames per second) and the stride gate (every
// frameStride-th frame) let it through.
type Throttler struct {
	mu            sync.Mutex
	targetRate    int
	frameStride   int
	counter       int
	lastProcessed time.Duration
	hasProcessed  bool
}

// New creates a Throttler. Out-of-range values are clamped.
func New(targetRate, frameStride int) *Throttler {
	return &Throttler{
		targetRate:  ClampRate(targetRate),
		frameStride: ClampStride(frameStride),
	}
}

// ClampRate limits a target rate to [MinTargetRate, MaxTargetRate].
func ClampRate(rate int) int {
	return max(MinTargetRate, min(rate, MaxTargetRate))
}

// ClampStride makes sure the stride is at least 1.
func ClampStride(stride int) int {
	return max(1, stride)
}

// ShouldProcess is called once per delivered frame with a monotonic time offset.
func (t *Throttler) ShouldProcess(now time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter++

	interval := time.Second / time.Duration(t.targetRate)
	rateOK := !t.hasProcessed || now-t.lastProcessed >= interval-tolerance
	strideOK := t.counter%t.frameStride == 0

	if rateOK && strideOK {
		t.lastProcessed = now
		t.hasProcessed = true
		return true
	}
	return false
}

// SetTargetRate changes the rate gate. Takes effect on the next frame.
func (t *Throttler) SetTargetRate(rate int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targetRate = ClampRate(rate)
}

// SetFrameStride changes the stride gate. Takes effect on the next frame.
func (t *Throttler) SetFrameStride(stride int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameStride = ClampStride(stride)
}

// TargetRate returns the effective target rate.
func (t *Throttler) TargetRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetRate
}

// FrameStride returns the effective stride.
func (t *Throttler) FrameStride() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameStride
}

// Reset forgets the frame counter and last admission time.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter = 0
	t.lastProcessed = 0
	t.hasProcessed = false
}
