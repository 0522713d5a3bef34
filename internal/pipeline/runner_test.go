package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetvision/internal/detector"
	"streetvision/internal/export"
	"streetvision/internal/model"
	"streetvision/internal/source"
)

type stubImage struct{}

func (stubImage) JPEG(int) ([]byte, error) { return []byte{0xff, 0xd8}, nil }

// scriptedSource returns errors for the call numbers listed in failOn, then
// frames. After limit frames it ends (files) or blocks until cancelled.
type scriptedSource struct {
	info   source.Info
	failOn map[int]error
	limit  int

	mu     sync.Mutex
	calls  int
	frames int
	closed int
}

func (s *scriptedSource) Next(ctx context.Context) (source.Frame, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	if err, ok := s.failOn[call]; ok {
		s.mu.Unlock()
		return source.Frame{}, err
	}
	if s.limit > 0 && s.frames >= s.limit {
		s.mu.Unlock()
		if s.info.Kind == source.KindFile {
			return source.Frame{}, source.ErrEndOfStream
		}
		<-ctx.Done()
		return source.Frame{}, fmt.Errorf("%w: %v", source.ErrRead, ctx.Err())
	}
	s.frames++
	s.mu.Unlock()
	return source.Frame{Width: 8, Height: 8, Image: stubImage{}}, nil
}

func (s *scriptedSource) Info() source.Info { return s.info }

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func openerFor(src source.Source) (source.Opener, *atomic.Int32) {
	var opens atomic.Int32
	return source.OpenerFunc(func(ctx context.Context, desc source.Descriptor) (source.Source, error) {
		opens.Add(1)
		return src, nil
	}), &opens
}

func countingDetector(people int) (detector.Func, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context, frame source.Frame) ([]model.Detection, error) {
		calls.Add(1)
		dets := make([]model.Detection, 0, people)
		for range people {
			dets = append(dets, model.Detection{Label: "person", Confidence: 0.9})
		}
		return dets, nil
	}, &calls
}


// steppingClock advances by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	var ticks atomic.Int64
	base := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * step)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Reconnect.Interval = time.Millisecond
	return cfg
}

func TestRun_FileEndToEnd(t *testing.T) {
	src := &scriptedSource{
		info:  source.Info{Kind: source.KindFile, TotalFrames: 100, DeclaredFPS: 25},
		limit: 100,
	}
	opener, _ := openerFor(src)
	det, detCalls := countingDetector(2)

	cfg := testConfig()
	cfg.FrameStride = 5
	cfg.TargetRate = 30

	r, err := NewRunner(cfg, opener, det)
	require.NoError(t, err)

	var frames int
	obs := ObserverFuncs{Frame: func(source.Frame, model.FrameMetadata) { frames++ }}

	err = r.Run(context.Background(), source.FileDescriptor("clip.mp4"), obs)
	require.NoError(t, err)

	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 100, frames)
	assert.Equal(t, int32(20), detCalls.Load())

	results := r.Snapshot()
	require.Len(t, results, 20)
	for i, res := range results {
		assert.Equal(t, (i+1)*5, res.SequenceNumber)
		assert.Equal(t, 2, res.PeopleCount)
		assert.InDelta(t, float64(res.SequenceNumber)/25, res.CaptureTimestamp, 1e-9)
	}

	assert.Equal(t, 20, r.Statistics().FrameCount)
	assert.Equal(t, 1, src.closed)
	assert.NoError(t, r.Wait())

	status := r.Status()
	assert.Equal(t, 100, status.FramesRead)
	assert.Equal(t, 20, status.FramesProcessed)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.RunID)
}

func TestRun_FileTimestamps(t *testing.T) {
	tests := []struct {
		name string
		fps  float64
		want []float64
	}{
		{"declared fps", 25, []float64{0.04, 0.08, 0.12, 0.16}},
		{"unknown fps", 0, []float64{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{info: source.Info{Kind: source.KindFile, DeclaredFPS: tt.fps}, limit: 4}
			opener, _ := openerFor(src)
			det, _ := countingDetector(1)

			cfg := testConfig()
			cfg.TargetRate = 30
			r, err := NewRunner(cfg, opener, det)
			require.NoError(t, err)
			require.NoError(t, r.Run(context.Background(), source.FileDescriptor("clip.mp4"), nil))

			results := r.Snapshot()
			require.Len(t, results, len(tt.want))
			for i, res := range results {
				assert.Equal(t, i+1, res.SequenceNumber)
				assert.InDelta(t, tt.want[i], res.CaptureTimestamp, 1e-9)
			}
		})
	}
}

func TestNewRunner_NilLoggerKeepsDefault(t *testing.T) {
	src := &scriptedSource{info: source.Info{Kind: source.KindFile, DeclaredFPS: 10}, limit: 3}
	opener, _ := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det, WithLogger(nil))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, r.Run(context.Background(), source.FileDescriptor("clip.mp4"), nil))
	})
	assert.NotEmpty(t, r.Snapshot())
}

func TestRun_StreamReconnects(t *testing.T) {
	src := &scriptedSource{
		info: source.Info{Kind: source.KindStream},
		failOn: map[int]error{
			1: source.ErrRead,
			2: source.ErrRead,
			3: source.ErrRead,
		},
		limit: 3,
	}
	opener, opens := openerFor(src)
	det, _ := countingDetector(1)

	var (
		r     *Runner
		waits []State
		lens  []int
		mu    sync.Mutex
	)
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, r.State())
		lens = append(lens, len(r.Snapshot()))
		mu.Unlock()
		return nil
	}

	r, err := NewRunner(testConfig(), opener, det, WithSleep(sleep), WithClock(steppingClock(time.Second)))
	require.NoError(t, err)

	got := make(chan model.ProcessedResult, 10)
	obs := ObserverFuncs{Result: func(res model.ProcessedResult) { got <- res }}

	require.NoError(t, r.Start(context.Background(), source.StreamDescriptor("rtsp://cam/1"), obs))

	for range 3 {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	assert.Equal(t, Running, r.State())

	r.Stop()
	require.NoError(t, r.Wait())
	assert.Equal(t, Idle, r.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Running, Running, Running}, waits)
	assert.Equal(t, []int{0, 0, 0}, lens)
	assert.Equal(t, int32(4), opens.Load())
	assert.Len(t, r.Snapshot(), 3)
	assert.Equal(t, 3, r.Status().Reconnects)
}

func TestRun_ReconnectExhausted(t *testing.T) {
	first := &scriptedSource{
		info:   source.Info{Kind: source.KindStream},
		failOn: map[int]error{1: source.ErrRead},
	}
	var opens atomic.Int32
	opener := source.OpenerFunc(func(ctx context.Context, desc source.Descriptor) (source.Source, error) {
		if opens.Add(1) == 1 {
			return first, nil
		}
		return nil, fmt.Errorf("%w: connection refused", source.ErrSourceUnavailable)
	})
	det, _ := countingDetector(0)

	cfg := testConfig()
	cfg.Reconnect.MaxRetries = 2

	var waits atomic.Int32
	r, err := NewRunner(cfg, opener, det, WithSleep(func(context.Context, time.Duration) error {
		waits.Add(1)
		return nil
	}))
	require.NoError(t, err)

	err = r.Run(context.Background(), source.StreamDescriptor("rtsp://cam/1"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, int32(2), waits.Load())
	assert.Equal(t, int32(3), opens.Load())
	assert.Equal(t, Idle, r.State())
	assert.Contains(t, r.Status().LastError, "reconnect")
}

func TestRun_StopInterruptsBackoff(t *testing.T) {
	src := &scriptedSource{
		info:   source.Info{Kind: source.KindStream},
		failOn: map[int]error{1: source.ErrRead},
	}
	opener, _ := openerFor(src)
	det, _ := countingDetector(0)

	cfg := testConfig()
	cfg.Reconnect.Interval = time.Hour

	r, err := NewRunner(cfg, opener, det)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background(), source.StreamDescriptor("rtsp://cam/1"), nil))

	require.Eventually(t, func() bool { return r.Status().Reconnects == 1 }, 5*time.Second, time.Millisecond)
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not interrupt the reconnect wait")
	}
	assert.NoError(t, r.Wait())
	assert.Equal(t, Idle, r.State())
}

func TestRun_DeviceReadErrorIsFatal(t *testing.T) {
	src := &scriptedSource{
		info:   source.Info{Kind: source.KindDevice},
		failOn: map[int]error{3: errors.New("camera unplugged")},
	}
	opener, opens := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)

	err = r.Run(context.Background(), source.DeviceDescriptor(0), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrRead)
	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 1, src.closed)
}

func TestRun_FileReadErrorIsFatal(t *testing.T) {
	src := &scriptedSource{
		info:   source.Info{Kind: source.KindFile, DeclaredFPS: 25},
		failOn: map[int]error{2: fmt.Errorf("%w: corrupt packet", source.ErrRead)},
	}
	opener, _ := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)

	err = r.Run(context.Background(), source.FileDescriptor("clip.mp4"), nil)
	assert.ErrorIs(t, err, source.ErrRead)
	assert.Len(t, r.Snapshot(), 1)
}

func TestRun_DetectionFailureRecordsZeroOutcome(t *testing.T) {
	src := &scriptedSource{
		info:  source.Info{Kind: source.KindFile, DeclaredFPS: 1},
		limit: 3,
	}
	opener, _ := openerFor(src)

	var calls atomic.Int32
	det := detector.Func(func(ctx context.Context, frame source.Frame) ([]model.Detection, error) {
		switch calls.Add(1) {
		case 2:
			return nil, errors.New("model crashed")
		case 3:
			panic("corrupt tensor")
		}
		return []model.Detection{{Label: "car", Confidence: 0.8}}, nil
	})

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), source.FileDescriptor("clip.mp4"), nil))

	results := r.Snapshot()
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].VehicleCount)
	for _, res := range results[1:] {
		assert.Equal(t, model.ZeroOutcome(), res.DetectionOutcome)
		assert.Zero(t, res.ProcessingDuration)
		tl := res.TrafficLights
		assert.Equal(t, tl.Red+tl.Green+tl.Yellow, tl.Total)
	}
}

func TestStart_SourceUnavailableStaysIdle(t *testing.T) {
	opener := source.OpenerFunc(func(ctx context.Context, desc source.Descriptor) (source.Source, error) {
		return nil, errors.New("no such device")
	})
	det, _ := countingDetector(0)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)

	err = r.Start(context.Background(), source.DeviceDescriptor(3), nil)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	assert.Equal(t, Idle, r.State())
	assert.NoError(t, r.Wait())
}

func TestStart_BusyAndStopIdempotent(t *testing.T) {
	src := &scriptedSource{info: source.Info{Kind: source.KindDevice}, limit: 1}
	opener, opens := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background(), source.DeviceDescriptor(0), nil))

	require.Eventually(t, func() bool { return len(r.Snapshot()) == 1 }, 5*time.Second, time.Millisecond)
	before := r.Snapshot()

	err = r.Start(context.Background(), source.DeviceDescriptor(1), nil)
	assert.ErrorIs(t, err, ErrPipelineBusy)
	assert.ErrorIs(t, r.Run(context.Background(), source.DeviceDescriptor(1), nil), ErrPipelineBusy)
	assert.Equal(t, Running, r.State())
	assert.Equal(t, before, r.Snapshot())
	assert.Equal(t, int32(1), opens.Load())

	assert.ErrorIs(t, r.Reset(), ErrNotIdle)

	r.Stop()
	r.Stop()
	require.NoError(t, r.Wait())
	r.Stop()
	assert.Equal(t, Idle, r.State())

	require.NoError(t, r.Reset())
	assert.Empty(t, r.Snapshot())
}

func TestRun_ContextCancelStops(t *testing.T) {
	src := &scriptedSource{info: source.Info{Kind: source.KindStream}, limit: 1}
	opener, _ := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	obs := ObserverFuncs{Result: func(model.ProcessedResult) { cancel() }}

	assert.NoError(t, r.Run(ctx, source.StreamDescriptor("rtsp://cam/1"), obs))
	assert.Equal(t, Idle, r.State())
}

func TestRun_HistoryKeepsAcrossRuns(t *testing.T) {
	det, _ := countingDetector(1)
	opener := source.OpenerFunc(func(ctx context.Context, desc source.Descriptor) (source.Source, error) {
		return &scriptedSource{info: source.Info{Kind: source.KindFile, DeclaredFPS: 1}, limit: 2}, nil
	})

	cfg := testConfig()
	cfg.MaxHistory = 3
	r, err := NewRunner(cfg, opener, det)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background(), source.FileDescriptor("a.mp4"), nil))
	require.NoError(t, r.Run(context.Background(), source.FileDescriptor("b.mp4"), nil))

	results := r.Snapshot()
	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 1, 2}, []int{results[0].SequenceNumber, results[1].SequenceNumber, results[2].SequenceNumber})
}

func TestRunner_SettingsAndExport(t *testing.T) {
	src := &scriptedSource{info: source.Info{Kind: source.KindFile, DeclaredFPS: 5}, limit: 4}
	opener, _ := openerFor(src)
	det, _ := countingDetector(1)

	r, err := NewRunner(testConfig(), opener, det)
	require.NoError(t, err)

	assert.Equal(t, 30, r.SetTargetRate(100))
	assert.Equal(t, 1, r.SetTargetRate(0))
	assert.Equal(t, 10, r.SetTargetRate(10))
	assert.Equal(t, 1, r.SetFrameStride(-4))

	require.NoError(t, r.Run(context.Background(), source.FileDescriptor("clip.mp4"), nil))

	var buf bytes.Buffer
	require.NoError(t, r.Export(&buf, export.JSON{Indent: "  "}))

	doc, err := export.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, doc.FrameResults, 4)
	for i := 1; i < len(doc.FrameResults); i++ {
		assert.Greater(t, doc.FrameResults[i].FrameNumber, doc.FrameResults[i-1].FrameNumber)
	}
	assert.Equal(t, 4, doc.AnalysisInfo.TotalFrames)
}

func TestNewRunner_Validation(t *testing.T) {
	det, _ := countingDetector(0)
	opener, _ := openerFor(&scriptedSource{})

	_, err := NewRunner(testConfig(), nil, det)
	assert.Error(t, err)
	_, err = NewRunner(testConfig(), opener, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.MaxHistory = 0
	_, err = NewRunner(cfg, opener, det)
	assert.Error(t, err)
}

func TestReconnectPolicy_Backoff(t *testing.T) {
	fixed := ReconnectPolicy{Interval: 2 * time.Second}
	assert.Equal(t, 2*time.Second, fixed.Backoff(1))
	assert.Equal(t, 2*time.Second, fixed.Backoff(9))

	exp := ReconnectPolicy{Interval: time.Second, MaxInterval: 10 * time.Second}
	assert.Equal(t, time.Second, exp.Backoff(1))
	assert.Equal(t, 2*time.Second, exp.Backoff(2))
	assert.Equal(t, 8*time.Second, exp.Backoff(4))
	assert.Equal(t, 10*time.Second, exp.Backoff(5))
	assert.Equal(t, 10*time.Second, exp.Backoff(200))

	assert.Equal(t, DefaultReconnectInterval, ReconnectPolicy{}.Backoff(1))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "unknown", State(9).String())
}
