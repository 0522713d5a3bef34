package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetvision/internal/export"
	"streetvision/internal/model"
	"streetvision/internal/repository"
	"streetvision/internal/stats"
)

func newTestRepo(t *testing.T) (*AnalysisRepository, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAnalysisRepository(db), dbPath
}

func sampleDocument(frames ...int) export.Document {
	results := make([]model.ProcessedResult, 0, len(frames))
	for _, n := range frames {
		res := model.ProcessedResult{
			FrameMetadata:      model.FrameMetadata{SequenceNumber: n, CaptureTimestamp: float64(n) / 25},
			ProcessingDuration: 0.02,
		}
		res.PeopleCount = n % 4
		res.VehicleCount = 1
		res.TrafficLights.Add(model.ColorRed)
		res.ConfidenceScores.People = 0.75
		results = append(results, res)
	}
	return export.Build(results, stats.Compute(results), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestDatabase_Connection(t *testing.T) {
	_, dbPath := newTestRepo(t)

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestAnalysisRepository_SaveAndLoad(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	doc := sampleDocument(5, 10, 15, 20)
	id, err := repo.Save(ctx, repository.Analysis{Source: "file:clip.mp4", Document: doc})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	summary, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "file:clip.mp4", summary.Source)
	assert.Equal(t, 4, summary.TotalFrames)
	assert.Equal(t, doc.AnalysisInfo.Statistics, summary.Statistics)
}

func TestAnalysisRepository_FrameResultsKeepOrder(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Save(ctx, repository.Analysis{ID: "run-1", Document: sampleDocument(30, 31, 32, 40)})
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	records, err := repo.FrameResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 4)
	numbers := []int{records[0].FrameNumber, records[1].FrameNumber, records[2].FrameNumber, records[3].FrameNumber}
	assert.Equal(t, []int{30, 31, 32, 40}, numbers)
	assert.Equal(t, 1, records[0].TrafficLights.Red)
	assert.Equal(t, 1, records[0].TrafficLights.Total)
}

func TestAnalysisRepository_EmptyAnalysis(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Save(ctx, repository.Analysis{Document: sampleDocument()})
	require.NoError(t, err)

	records, err := repo.FrameResults(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAnalysisRepository_ListAndDelete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	_, err := repo.Save(ctx, repository.Analysis{ID: "a", CreatedAt: older, Document: sampleDocument(1)})
	require.NoError(t, err)
	_, err = repo.Save(ctx, repository.Analysis{ID: "b", CreatedAt: newer, Document: sampleDocument(1, 2)})
	require.NoError(t, err)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	require.NoError(t, repo.Delete(ctx, "b"))
	assert.ErrorIs(t, repo.Delete(ctx, "b"), repository.ErrNotFound)

	_, err = repo.FrameResults(ctx, "b")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAnalysisRepository_DuplicateID(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, repository.Analysis{ID: "dup", Document: sampleDocument(1)})
	require.NoError(t, err)
	_, err = repo.Save(ctx, repository.Analysis{ID: "dup", Document: sampleDocument(2)})
	assert.Error(t, err)

	records, err := repo.FrameResults(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
