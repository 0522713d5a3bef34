package pipeline

import (
	"fmt"
	"time"

	"streetvision/internal/detector"
	"streetvision/internal/history"
	"streetvision/internal/throttle"
)

// DefaultReconnectInterval is the wait between stream reconnection attempts.
const DefaultReconnectInterval = 2 * time.Second

// ReconnectPolicy controls how interrupted streams are reopened.
type ReconnectPolicy struct {
	// Interval is the first (or fixed) wait before reopening.
	Interval time.Duration
	// MaxInterval enables exponential backoff capped at this value when it
	// is larger than Interval. Zero keeps the wait fixed.
	MaxInterval time.Duration
	// MaxRetries bounds consecutive failed attempts. Zero retries forever.
	MaxRetries int
}

// Backoff returns the wait before the given attempt, starting at 1.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	if p.MaxInterval <= interval || attempt <= 1 {
		return interval
	}

	shift := min(attempt-1, 30)
	delay := interval * time.Duration(1<<uint(shift))
	if delay <= 0 || delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}

// Config holds the tunables of a Runner.
type Config struct {
	ConfidenceThreshold float64
	TargetRate          int
	FrameStride         int
	MaxHistory          int
	Reconnect           ReconnectPolicy
}

// DefaultConfig returns 10 detections per second, every frame, 1000 results.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: detector.DefaultThreshold,
		TargetRate:          throttle.DefaultTargetRate,
		FrameStride:         1,
		MaxHistory:          history.DefaultCapacity,
		Reconnect: ReconnectPolicy{
			Interval: DefaultReconnectInterval,
		},
	}
}

// Validate reports values the runner cannot work with. Rates and strides are
// clamped rather than rejected.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.MaxHistory < 1 {
		return fmt.Errorf("max history must be at least 1, got %d", c.MaxHistory)
	}
	if c.Reconnect.Interval < 0 || c.Reconnect.MaxInterval < 0 {
		return fmt.Errorf("reconnect intervals must not be negative")
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect max retries must not be negative")
	}
	return nil
}
