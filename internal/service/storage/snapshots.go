package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"streetvision/internal/logger"
	"streetvision/internal/model"
	"streetvision/internal/source"
)

const (
	// DefaultSnapshotLimit caps how many snapshots are buffered between flushes.
	DefaultSnapshotLimit = 10
	// DefaultFlushInterval defines how often buffered snapshots are written to disk.
	DefaultFlushInterval = 30 * time.Second

	snapshotQuality = 90
)

type snapshot struct {
	takenAt     time.Time
	frameNumber int
	people      int
	vehicles    int
	data        []byte
}

// SnapshotService keeps JPEG snapshots of busy scenes in memory and
// periodically flushes them to disk. A result with people or vehicles arms the
// service; the next delivered frame is encoded and buffered.
type SnapshotService struct {
	dir    string
	limit  int
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	armed   *model.ProcessedResult
	pending []snapshot
	dropped int
}

// NewSnapshotService creates a SnapshotService writing into dir.
func NewSnapshotService(dir string, limit int, logger *logger.Logger) *SnapshotService {
	if limit < 1 {
		limit = DefaultSnapshotLimit
	}
	return &SnapshotService{
		dir:     dir,
		limit:   limit,
		logger:  logger,
		now:     time.Now,
		pending: make([]snapshot, 0, limit),
	}
}

// Run flushes on every interval until ctx is cancelled, then flushes once more.
func (s *SnapshotService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// OnResult arms a snapshot when something was detected.
func (s *SnapshotService) OnResult(result model.ProcessedResult) {
	if result.PeopleCount == 0 && result.VehicleCount == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = &result
}

// OnFrame encodes the frame if a snapshot is armed and the buffer has room.
func (s *SnapshotService) OnFrame(frame source.Frame, meta model.FrameMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed == nil || frame.Image == nil {
		return
	}
	trigger := *s.armed
	s.armed = nil

	if len(s.pending) >= s.limit {
		s.dropped++
		return
	}

	data, err := frame.Image.JPEG(snapshotQuality)
	if err != nil {
		s.logger.Warning("Failed to encode snapshot of frame %d: %v", meta.SequenceNumber, err)
		return
	}

	s.pending = append(s.pending, snapshot{
		takenAt:     s.now(),
		frameNumber: meta.SequenceNumber,
		people:      trigger.PeopleCount,
		vehicles:    trigger.VehicleCount,
		data:        data,
	})
}

// Flush writes buffered snapshots to disk and resets the buffer. It returns
// the number of files written.
func (s *SnapshotService) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		s.logger.Warning("Snapshot buffer full, dropped %d snapshots", s.dropped)
		s.dropped = 0
	}
	if len(s.pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, snap := range s.pending {
		filename := fmt.Sprintf("%s_frame%d_people%d_vehicles%d.jpg",
			snap.takenAt.Format("2006-01-02_15-04-05.000"), snap.frameNumber, snap.people, snap.vehicles)

		if err := os.WriteFile(filepath.Join(s.dir, filename), snap.data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}
		saved++
	}

	s.logger.Info("Flushed %d snapshots to %s", saved, s.dir)
	s.pending = s.pending[:0]
	return saved
}
