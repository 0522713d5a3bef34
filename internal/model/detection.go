package model

// Traffic light colours reported by detectors.
const (
	ColorRed    = "red"
	ColorGreen  = "green"
	ColorYellow = "yellow"
)

// Detection represents a single object box returned by a detector.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	// Color is only set for traffic lights.
	Color string `json:"color,omitempty"`
}
