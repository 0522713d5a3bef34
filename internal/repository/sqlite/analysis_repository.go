package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"streetvision/internal/export"
	"streetvision/internal/repository"
)

// AnalysisRepository implements repository.AnalysisRepository for SQLite.
type AnalysisRepository struct {
	db *DB
}

var _ repository.AnalysisRepository = (*AnalysisRepository)(nil)

// NewAnalysisRepository creates a new SQLite analysis repository.
func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save stores the analysis and all its frame results in one transaction.
// An empty ID is replaced by a new UUID.
func (r *AnalysisRepository) Save(ctx context.Context, a repository.Analysis) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info := a.Document.AnalysisInfo
	s := info.Statistics
	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (id, source, analysis_date, total_frames, frames_processed,
			average_people, max_people, average_vehicles, max_vehicles,
			average_processing_time, average_fps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Source, info.AnalysisDate, info.TotalFrames, s.FrameCount,
		s.MeanPeople, s.MaxPeople, s.MeanVehicles, s.MaxVehicles,
		s.MeanProcessingDuration, s.EffectiveFPS, a.CreatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert analysis: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frame_results (analysis_id, position, frame_number, timestamp,
			people_count, vehicle_count, lights_total, lights_red, lights_green, lights_yellow,
			confidence_people, confidence_vehicles, confidence_traffic_lights, processing_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, fr := range a.Document.FrameResults {
		if _, err := stmt.ExecContext(ctx, a.ID, i, fr.FrameNumber, fr.Timestamp,
			fr.PeopleCount, fr.VehicleCount,
			fr.TrafficLights.Total, fr.TrafficLights.Red, fr.TrafficLights.Green, fr.TrafficLights.Yellow,
			fr.ConfidenceScores.People, fr.ConfidenceScores.Vehicles, fr.ConfidenceScores.TrafficLights,
			fr.ProcessingTime); err != nil {
			return "", fmt.Errorf("failed to insert frame result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit analysis: %w", err)
	}
	return a.ID, nil
}

const summaryColumns = `id, source, analysis_date, total_frames, frames_processed,
	average_people, max_people, average_vehicles, max_vehicles,
	average_processing_time, average_fps, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (repository.AnalysisSummary, error) {
	var a repository.AnalysisSummary
	s := &a.Statistics
	err := row.Scan(&a.ID, &a.Source, &a.AnalysisDate, &a.TotalFrames, &s.FrameCount,
		&s.MeanPeople, &s.MaxPeople, &s.MeanVehicles, &s.MaxVehicles,
		&s.MeanProcessingDuration, &s.EffectiveFPS, &a.CreatedAt)
	return a, err
}

// Get retrieves one analysis summary.
func (r *AnalysisRepository) Get(ctx context.Context, id string) (*repository.AnalysisSummary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	a, err := scanSummary(r.db.Conn().QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM analyses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	return &a, nil
}

// List returns all analyses, newest first.
func (r *AnalysisRepository) List(ctx context.Context) ([]repository.AnalysisSummary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM analyses ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []repository.AnalysisSummary
	for rows.Next() {
		a, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FrameResults returns the frame results of an analysis in saved order.
func (r *AnalysisRepository) FrameResults(ctx context.Context, id string) ([]export.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var exists int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	if exists == 0 {
		return nil, repository.ErrNotFound
	}

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT frame_number, timestamp, people_count, vehicle_count,
			lights_total, lights_red, lights_green, lights_yellow,
			confidence_people, confidence_vehicles, confidence_traffic_lights, processing_time
		FROM frame_results WHERE analysis_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame results: %w", err)
	}
	defer rows.Close()

	records := []export.FrameRecord{}
	for rows.Next() {
		var fr export.FrameRecord
		if err := rows.Scan(&fr.FrameNumber, &fr.Timestamp, &fr.PeopleCount, &fr.VehicleCount,
			&fr.TrafficLights.Total, &fr.TrafficLights.Red, &fr.TrafficLights.Green, &fr.TrafficLights.Yellow,
			&fr.ConfidenceScores.People, &fr.ConfidenceScores.Vehicles, &fr.ConfidenceScores.TrafficLights,
			&fr.ProcessingTime); err != nil {
			return nil, fmt.Errorf("failed to scan frame result: %w", err)
		}
		records = append(records, fr)
	}
	return records, rows.Err()
}

// Load rebuilds the export document of a saved analysis.
func (r *AnalysisRepository) Load(ctx context.Context, id string) (export.Document, error) {
	summary, err := r.Get(ctx, id)
	if err != nil {
		return export.Document{}, err
	}
	records, err := r.FrameResults(ctx, id)
	if err != nil {
		return export.Document{}, err
	}

	return export.Document{
		AnalysisInfo: export.AnalysisInfo{
			TotalFrames:  summary.TotalFrames,
			AnalysisDate: summary.AnalysisDate,
			Statistics:   summary.Statistics,
		},
		FrameResults: records,
	}, nil
}

// Delete removes an analysis and its frame results.
func (r *AnalysisRepository) Delete(ctx context.Context, id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
