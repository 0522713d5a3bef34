package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"gocv.io/x/gocv"

	"streetvision/internal/source"
)

// Opener opens gocv-backed sources. Device settings are hints; drivers may
// deliver something else.
type Opener struct {
	DeviceWidth  int
	DeviceHeight int
	DeviceFPS    int
}

// DefaultOpener returns an Opener asking devices for 640x480 at 30 FPS.
func DefaultOpener() *Opener {
	return &Opener{DeviceWidth: 640, DeviceHeight: 480, DeviceFPS: 30}
}

// Open implements source.Opener.
func (o *Opener) Open(ctx context.Context, desc source.Descriptor) (source.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	switch desc.Kind {
	case source.KindDevice:
		return o.openDevice(desc.Device)
	case source.KindFile:
		return openFile(desc.Path)
	case source.KindStream:
		return openStream(desc.URL)
	default:
		return nil, fmt.Errorf("%w: unknown source kind", source.ErrSourceUnavailable)
	}
}

func (o *Opener) openDevice(index int) (source.Source, error) {
	capture, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open camera %d: %v", source.ErrSourceUnavailable, index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: could not open camera %d", source.ErrSourceUnavailable, index)
	}

	if o.DeviceWidth > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(o.DeviceWidth))
	}
	if o.DeviceHeight > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(o.DeviceHeight))
	}
	if o.DeviceFPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(o.DeviceFPS))
	}

	return newCaptureSource(capture, source.KindDevice), nil
}

func openFile(path string) (source.Source, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
	}
	if !decodable(mtype) {
		return nil, fmt.Errorf("%w: %s is %s, not a video", source.ErrSourceUnavailable, path, mtype.String())
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open video file %s: %v", source.ErrSourceUnavailable, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: could not open video file %s", source.ErrSourceUnavailable, path)
	}

	return newCaptureSource(capture, source.KindFile), nil
}

func openStream(rawURL string) (source.Source, error) {
	capture, err := gocv.OpenVideoCapture(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect to stream: %v", source.ErrSourceUnavailable, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: could not connect to stream", source.ErrSourceUnavailable)
	}

	// Keep latency low: only the newest frame is buffered.
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return newCaptureSource(capture, source.KindStream), nil
}

// decodable rejects payloads OpenCV will never decode as video.
func decodable(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return false
		}
	}
	return true
}

// captureSource reads frames into a single reused Mat.
type captureSource struct {
	capture *gocv.VideoCapture
	kind    source.Kind
	info    source.Info
	mat     gocv.Mat
	closed  bool
	mu      sync.Mutex
}

func newCaptureSource(capture *gocv.VideoCapture, kind source.Kind) *captureSource {
	info := source.Info{
		Kind:        kind,
		DeclaredFPS: capture.Get(gocv.VideoCaptureFPS),
		Width:       int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if kind == source.KindFile {
		info.TotalFrames = int(capture.Get(gocv.VideoCaptureFrameCount))
	}
	if info.DeclaredFPS < 0 {
		info.DeclaredFPS = 0
	}

	return &captureSource{
		capture: capture,
		kind:    kind,
		info:    info,
		mat:     gocv.NewMat(),
	}
}

// Next implements source.Source.
func (s *captureSource) Next(ctx context.Context) (source.Frame, error) {
	if err := ctx.Err(); err != nil {
		return source.Frame{}, fmt.Errorf("%w: %v", source.ErrRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return source.Frame{}, fmt.Errorf("%w: source closed", source.ErrRead)
	}

	if ok := s.capture.Read(&s.mat); !ok {
		if s.kind == source.KindFile {
			return source.Frame{}, source.ErrEndOfStream
		}
		return source.Frame{}, fmt.Errorf("%w: no frame from %s", source.ErrRead, s.kind)
	}
	if s.mat.Empty() {
		return source.Frame{}, fmt.Errorf("%w: empty frame from %s", source.ErrRead, s.kind)
	}

	return source.Frame{
		Width:  s.mat.Cols(),
		Height: s.mat.Rows(),
		Image:  matImage{mat: s.mat},
	}, nil
}

// Info implements source.Source.
func (s *captureSource) Info() source.Info {
	return s.info
}

// Close implements source.Source. Closing twice is a no-op.
func (s *captureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.capture.Close()
}
