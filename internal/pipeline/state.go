package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrPipelineBusy is returned by Start and Run unless the runner is Idle.
	ErrPipelineBusy = errors.New("pipeline busy")
	// ErrNotIdle is returned by operations that need an Idle runner.
	ErrNotIdle = errors.New("pipeline not idle")
	// ErrReconnectExhausted ends a stream run after MaxRetries failed reopens.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of a Runner.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

var stateNames = []string{"idle", "running", "stopping"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the runner.
type Status struct {
	State           State     `json:"state"`
	RunID           string    `json:"run_id,omitempty"`
	Source          string    `json:"source,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	FramesRead      int       `json:"frames_read"`
	FramesProcessed int       `json:"frames_processed"`
	Reconnects      int       `json:"reconnects"`
	TargetRate      int       `json:"target_rate"`
	FrameStride     int       `json:"frame_stride"`
	HistoryLength   int       `json:"history_length"`
	TotalFrames     int       `json:"total_frames,omitempty"`
}
