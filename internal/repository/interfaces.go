package repository

import (
	"context"
	"errors"
	"time"

	"streetvision/internal/export"
	"streetvision/internal/stats"
)

// ErrNotFound is returned when an analysis id does not exist.
var ErrNotFound = errors.New("analysis not found")

// Analysis is one saved export.
type Analysis struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Document  export.Document
}

// AnalysisSummary is an Analysis without its frame results.
type AnalysisSummary struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	CreatedAt    time.Time        `json:"created_at"`
	AnalysisDate string           `json:"analysis_date"`
	TotalFrames  int              `json:"total_frames"`
	Statistics   stats.Statistics `json:"statistics"`
}

// AnalysisRepository stores exported analyses.
type AnalysisRepository interface {
	// Create operations. Save returns the stored id.
	Save(ctx context.Context, a Analysis) (string, error)

	// Read operations
	Get(ctx context.Context, id string) (*AnalysisSummary, error)
	List(ctx context.Context) ([]AnalysisSummary, error)
	FrameResults(ctx context.Context, id string) ([]export.FrameRecord, error)
	Load(ctx context.Context, id string) (export.Document, error)

	// Delete operations
	Delete(ctx context.Context, id string) error
}
