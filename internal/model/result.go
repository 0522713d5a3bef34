package model

// FrameMetadata identifies a processed frame within one run.
type FrameMetadata struct {
	// SequenceNumber counts delivered frames, starting at 1.
	SequenceNumber int
	// CaptureTimestamp is in seconds: wall-clock for live sources,
	// frame_index / declared_fps for files.
	CaptureTimestamp float64
}

// TrafficLights is the colour breakdown of detected traffic lights.
// Total always equals Red + Green + Yellow.
type TrafficLights struct {
	Total  int `json:"total"`
	Red    int `json:"red"`
	Green  int `json:"green"`
	Yellow int `json:"yellow"`
}

// Add counts one traffic light of the given colour. Unknown colours count as yellow.
func (t *TrafficLights) Add(color string) {
	switch color {
	case ColorRed:
		t.Red++
	case ColorGreen:
		t.Green++
	default:
		t.Yellow++
	}
	t.Total = t.Red + t.Green + t.Yellow
}

// ConfidenceScores holds the mean confidence per category, 0 when nothing was found.
type ConfidenceScores struct {
	People        float64 `json:"people"`
	Vehicles      float64 `json:"vehicles"`
	TrafficLights float64 `json:"traffic_lights"`
}

// DetectionOutcome is the normalized detector output for one frame.
type DetectionOutcome struct {
	PeopleCount      int
	VehicleCount     int
	TrafficLights    TrafficLights
	ConfidenceScores ConfidenceScores
}

// ZeroOutcome is substituted when detection fails on a frame.
func ZeroOutcome() DetectionOutcome {
	return DetectionOutcome{}
}

// ProcessedResult is one entry of the result history.
type ProcessedResult struct {
	FrameMetadata
	DetectionOutcome
	// ProcessingDuration is in seconds.
	ProcessingDuration float64
}
