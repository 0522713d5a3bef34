package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"streetvision/internal/detector"
	"streetvision/internal/export"
	"streetvision/internal/history"
	"streetvision/internal/logger"
	"streetvision/internal/metrics"
	"streetvision/internal/model"
	"streetvision/internal/source"
	"streetvision/internal/stats"
	"streetvision/internal/throttle"
)

// progressEvery is how often file progress is logged, in delivered frames.
const progressEvery = 30

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithSleep replaces the reconnection wait. The function must return early
// with ctx.Err() when ctx is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// Runner drives one source at a time through throttling, detection and the
// result history.
type Runner struct {
	cfg      Config
	opener   source.Opener
	adapter  *detector.Adapter
	throttle *throttle.Throttler
	history  *history.History
	logger   *logger.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   State
	opening bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	status  Status
}

// NewRunner creates an Idle runner.
func NewRunner(cfg Config, opener source.Opener, det detector.Detector, opts ...Option) (*Runner, error) {
	if opener == nil {
		return nil, fmt.Errorf("source opener is required")
	}
	if det == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		opener:   opener,
		adapter:  detector.NewAdapter(det, cfg.ConfidenceThreshold),
		throttle: throttle.New(cfg.TargetRate, cfg.FrameStride),
		history:  history.New(cfg.MaxHistory),
		logger:   logger.NewNop(),
		clock:    time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics.SetState(Idle.String(), stateNames...)
	return r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run opens the source and processes it on the calling goroutine until the
// source ends, fails, Stop is called or ctx is cancelled. Stopping and a
// file's end of stream return nil.
func (r *Runner) Run(ctx context.Context, desc source.Descriptor, obs Observer) error {
	src, runCtx, err := r.begin(ctx, ctx, desc)
	if err != nil {
		return err
	}
	return r.loop(runCtx, src, desc, obs)
}

// Start opens the source synchronously and processes it on a new goroutine.
// ctx bounds the open only; the run lasts until Stop or the source ends.
func (r *Runner) Start(ctx context.Context, desc source.Descriptor, obs Observer) error {
	src, runCtx, err := r.begin(ctx, context.WithoutCancel(ctx), desc)
	if err != nil {
		return err
	}
	go r.loop(runCtx, src, desc, obs)
	return nil
}

// begin moves Idle to Running around a successful open.
func (r *Runner) begin(openCtx, parent context.Context, desc source.Descriptor) (source.Source, context.Context, error) {
	r.mu.Lock()
	if r.state != Idle || r.opening {
		r.mu.Unlock()
		return nil, nil, ErrPipelineBusy
	}
	r.opening = true
	r.mu.Unlock()

	src, err := r.opener.Open(openCtx, desc)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.opening = false

	if err != nil {
		if !errors.Is(err, source.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
		}
		r.status.LastError = err.Error()
		r.logger.Error("Failed to open %s: %v", desc, err)
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(parent)
	info := src.Info()

	r.state = Running
	r.cancel = cancel
	r.done = make(chan struct{})
	r.runErr = nil
	r.status = Status{
		RunID:       uuid.NewString(),
		Source:      desc.String(),
		StartedAt:   r.clock(),
		TotalFrames: info.TotalFrames,
	}
	r.throttle.Reset()
	r.metrics.SetState(Running.String(), stateNames...)

	if info.Kind == source.KindFile {
		r.logger.Info("Analyzing %s: %d frames at %.1f FPS", desc, info.TotalFrames, info.DeclaredFPS)
	} else {
		r.logger.Info("Starting %s analysis of %s", info.Kind, desc)
	}
	return src, runCtx, nil
}

func (r *Runner) loop(ctx context.Context, src source.Source, desc source.Descriptor, obs Observer) (err error) {
	if obs == nil {
		obs = nopObserver{}
	}

	defer func() {
		if src != nil {
			if cerr := src.Close(); cerr != nil {
				r.logger.Warning("Error closing source: %v", cerr)
			}
		}
		r.finish(err)
	}()

	info := src.Info()
	start := r.clock()
	seq := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, readErr := src.Next(ctx)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case desc.Kind == source.KindFile && errors.Is(readErr, source.ErrEndOfStream):
				r.logger.Info("Finished %s after %d frames", desc, seq)
				return nil
			case desc.Kind == source.KindStream:
				src, err = r.reconnect(ctx, src, desc, readErr)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				info = src.Info()
				continue
			default:
				if !errors.Is(readErr, source.ErrRead) {
					readErr = fmt.Errorf("%w: %v", source.ErrRead, readErr)
				}
				return readErr
			}
		}

		seq++
		meta := model.FrameMetadata{SequenceNumber: seq}
		var offset time.Duration
		if info.Kind == source.KindFile {
			// The timestamp is frame_index / fps with a 1-based index; the
			// throttle clock starts at 0 like the live one.
			stamp, elapsed := float64(seq), float64(seq-1)
			if info.DeclaredFPS > 0 {
				stamp /= info.DeclaredFPS
				elapsed /= info.DeclaredFPS
			}
			meta.CaptureTimestamp = stamp
			offset = time.Duration(elapsed * float64(time.Second))
		} else {
			now := r.clock()
			meta.CaptureTimestamp = float64(now.UnixNano()) / float64(time.Second)
			offset = now.Sub(start)
		}

		r.metrics.FrameRead()
		r.mu.Lock()
		r.status.FramesRead = seq
		r.mu.Unlock()

		obs.OnFrame(frame, meta)

		if !r.throttle.ShouldProcess(offset) {
			r.metrics.FrameThrottled()
			continue
		}

		result, ok := r.process(ctx, frame, meta)
		if !ok {
			return nil
		}
		r.history.Append(result)
		r.metrics.SetHistoryLength(r.history.Len())
		r.mu.Lock()
		r.status.FramesProcessed++
		r.mu.Unlock()

		obs.OnResult(result)

		if info.Kind == source.KindFile && info.TotalFrames > 0 && seq%progressEvery == 0 {
			progress := float64(seq) / float64(info.TotalFrames) * 100
			r.logger.Info("Progress: %.1f%% (%d/%d)", progress, seq, info.TotalFrames)
		}
	}
}

// process runs detection on one admitted frame. It reports false when the
// run was cancelled during detection and the result must be dropped.
func (r *Runner) process(ctx context.Context, frame source.Frame, meta model.FrameMetadata) (model.ProcessedResult, bool) {
	began := r.clock()
	outcome, err := r.adapter.Detect(ctx, frame)
	elapsed := r.clock().Sub(began)

	if err != nil {
		if ctx.Err() != nil {
			return model.ProcessedResult{}, false
		}
		r.logger.Warning("Detection failed on frame %d: %v", meta.SequenceNumber, err)
		r.metrics.DetectionFailed()
		return model.ProcessedResult{
			FrameMetadata:    meta,
			DetectionOutcome: model.ZeroOutcome(),
		}, true
	}

	r.metrics.FrameProcessed(elapsed)
	return model.ProcessedResult{
		FrameMetadata:      meta,
		DetectionOutcome:   outcome,
		ProcessingDuration: elapsed.Seconds(),
	}, true
}

// reconnect closes a failed stream and reopens it according to the policy.
func (r *Runner) reconnect(ctx context.Context, src source.Source, desc source.Descriptor, cause error) (source.Source, error) {
	if err := src.Close(); err != nil {
		r.logger.Warning("Error closing interrupted stream: %v", err)
	}
	r.logger.Warning("Stream %s interrupted: %v", desc, cause)

	policy := r.cfg.Reconnect
	for attempt := 1; ; attempt++ {
		if policy.MaxRetries > 0 && attempt > policy.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, policy.MaxRetries, cause)
		}

		delay := policy.Backoff(attempt)
		r.logger.Info("Reconnecting to %s in %s (attempt %d)", desc, delay, attempt)
		r.metrics.Reconnect()
		r.mu.Lock()
		r.status.Reconnects++
		r.mu.Unlock()

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}

		next, err := r.opener.Open(ctx, desc)
		if err == nil {
			r.logger.Info("Reconnected to %s", desc)
			return next, nil
		}
		cause = err
		r.logger.Warning("Reconnect attempt %d failed: %v", attempt, err)
	}
}

// finish moves the runner back to Idle.
func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.status.LastError = err.Error()
		r.logger.Error("Pipeline stopped: %v", err)
	} else {
		r.logger.Info("Pipeline stopped after %d frames, %d processed", r.status.FramesRead, r.status.FramesProcessed)
	}

	r.status.FinishedAt = r.clock()
	r.runErr = err
	r.state = Idle
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	close(r.done)
	r.metrics.SetState(Idle.String(), stateNames...)
}

// Stop asks the running loop to exit. It does not wait; use Wait or Done.
// Calling Stop more than once, or while Idle, is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Running {
		return
	}
	r.state = Stopping
	r.cancel()
	r.metrics.SetState(Stopping.String(), stateNames...)
	r.logger.Info("Stopping pipeline")
}

// Done is closed when the current or last run has ended.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Wait blocks until the current run ends and returns its terminal error.
func (r *Runner) Wait() error {
	<-r.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a copy of the run status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	status := r.status
	status.State = r.state
	r.mu.Unlock()

	status.TargetRate = r.throttle.TargetRate()
	status.FrameStride = r.throttle.FrameStride()
	status.HistoryLength = r.history.Len()
	return status
}

// Snapshot returns the history, oldest first. Safe to call while running.
func (r *Runner) Snapshot() []model.ProcessedResult {
	return r.history.Snapshot()
}

// Recent returns up to n of the newest results, oldest first.
func (r *Runner) Recent(n int) []model.ProcessedResult {
	return r.history.Tail(n)
}

// Statistics summarizes the current history.
func (r *Runner) Statistics() stats.Statistics {
	return stats.Compute(r.history.Snapshot())
}

// Document builds an export document from the current history.
func (r *Runner) Document() export.Document {
	results := r.history.Snapshot()
	return export.Build(results, stats.Compute(results), r.clock())
}

// Export writes the current history with the given exporter.
func (r *Runner) Export(w io.Writer, exporter export.Exporter) error {
	return exporter.Export(w, r.Document())
}

// Reset clears the history. Only allowed while Idle.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle || r.opening {
		return ErrNotIdle
	}
	r.history.Clear()
	r.metrics.SetHistoryLength(0)
	return nil
}

// SetTargetRate changes the detection rate, clamped to [1,30]. Applies to the
// running loop from the next frame.
func (r *Runner) SetTargetRate(rate int) int {
	r.throttle.SetTargetRate(rate)
	return r.throttle.TargetRate()
}

// SetFrameStride changes the stride, minimum 1. Applies from the next frame.
func (r *Runner) SetFrameStride(stride int) int {
	r.throttle.SetFrameStride(stride)
	return r.throttle.FrameStride()
}
