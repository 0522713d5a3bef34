package detector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"streetvision/internal/model"
	"streetvision/internal/source"
)

// DefaultThreshold is the minimum confidence for a detection to count.
const DefaultThreshold = 0.5

// ErrDetection wraps every failure of a wrapped detector.
var ErrDetection = errors.New("detection failed")

// Detector runs an object-detection model on one frame.
type Detector interface {
	Detect(ctx context.Context, frame source.Frame) ([]model.Detection, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, frame source.Frame) ([]model.Detection, error)

// Detect calls f(ctx, frame).
func (f Func) Detect(ctx context.Context, frame source.Frame) ([]model.Detection, error) {
	return f(ctx, frame)
}

// Adapter turns raw detections into a DetectionOutcome. Any failure of the
// wrapped detector, panics included, is returned wrapped in ErrDetection.
type Adapter struct {
	Detector  Detector
	Threshold float64
}

// NewAdapter wraps d with the given confidence threshold.
func NewAdapter(d Detector, threshold float64) *Adapter {
	return &Adapter{Detector: d, Threshold: threshold}
}

// Detect runs the wrapped detector and summarizes its output.
func (a *Adapter) Detect(ctx context.Context, frame source.Frame) (outcome model.DetectionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = model.ZeroOutcome()
			err = fmt.Errorf("%w: panic: %v", ErrDetection, r)
		}
	}()

	if a.Detector == nil {
		return model.ZeroOutcome(), fmt.Errorf("%w: no detector configured", ErrDetection)
	}

	detections, err := a.Detector.Detect(ctx, frame)
	if err != nil {
		return model.ZeroOutcome(), fmt.Errorf("%w: %v", ErrDetection, err)
	}
	return Summarize(detections, a.Threshold), nil
}

// Category groups detector labels.
type Category int

const (
	CategoryOther Category = iota
	CategoryPeople
	CategoryVehicles
	CategoryTrafficLights
)

var categories = map[string]Category{
	"person":        CategoryPeople,
	"bicycle":       CategoryVehicles,
	"car":           CategoryVehicles,
	"motorcycle":    CategoryVehicles,
	"bus":           CategoryVehicles,
	"train":         CategoryVehicles,
	"truck":         CategoryVehicles,
	"traffic light": CategoryTrafficLights,
}

// CategoryOf maps a COCO label to its category.
func CategoryOf(label string) Category {
	return categories[label]
}

// Summarize counts detections at or above threshold per category and averages
// their confidences.
func Summarize(detections []model.Detection, threshold float64) model.DetectionOutcome {
	var (
		outcome                    model.DetectionOutcome
		peopleConf, vehicleConf    float64
		trafficConf                float64
		peopleN, vehicleN, lightsN int
	)

	for _, d := range detections {
		conf := clampConfidence(d.Confidence)
		if conf < threshold {
			continue
		}

		switch CategoryOf(d.Label) {
		case CategoryPeople:
			peopleN++
			peopleConf += conf
		case CategoryVehicles:
			vehicleN++
			vehicleConf += conf
		case CategoryTrafficLights:
			lightsN++
			trafficConf += conf
			outcome.TrafficLights.Add(d.Color)
		}
	}

	outcome.PeopleCount = peopleN
	outcome.VehicleCount = vehicleN
	outcome.ConfidenceScores = model.ConfidenceScores{
		People:        mean(peopleConf, peopleN),
		Vehicles:      mean(vehicleConf, vehicleN),
		TrafficLights: mean(trafficConf, lightsN),
	}
	return outcome
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return clampConfidence(sum / float64(n))
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
