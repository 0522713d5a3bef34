package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"streetvision/internal/model"
)

// Statistics summarizes a history snapshot.
type Statistics struct {
	FrameCount             int     `json:"total_frames_processed"`
	MeanPeople             float64 `json:"average_people"`
	MaxPeople              int     `json:"max_people"`
	MeanVehicles           float64 `json:"average_vehicles"`
	MaxVehicles            int     `json:"max_vehicles"`
	MeanProcessingDuration float64 `json:"average_processing_time"`
	EffectiveFPS           float64 `json:"average_fps"`
}

// Compute derives Statistics from results. Empty input yields the zero value.
func Compute(results []model.ProcessedResult) Statistics {
	if len(results) == 0 {
		return Statistics{}
	}

	people := make([]float64, len(results))
	vehicles := make([]float64, len(results))
	durations := make([]float64, len(results))
	for i, r := range results {
		people[i] = float64(r.PeopleCount)
		vehicles[i] = float64(r.VehicleCount)
		durations[i] = r.ProcessingDuration
	}

	s := Statistics{
		FrameCount:             len(results),
		MeanPeople:             stat.Mean(people, nil),
		MaxPeople:              int(floats.Max(people)),
		MeanVehicles:           stat.Mean(vehicles, nil),
		MaxVehicles:            int(floats.Max(vehicles)),
		MeanProcessingDuration: stat.Mean(durations, nil),
	}
	if s.MeanProcessingDuration > 0 {
		s.EffectiveFPS = 1.0 / s.MeanProcessingDuration
	}
	return s
}
