package source

import (
	"context"
	"errors"
)

var (
	// ErrSourceUnavailable means the source could not be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRead means a frame could not be read. Transient for streams, fatal otherwise.
	ErrRead = errors.New("frame read failed")
	// ErrEndOfStream means a file source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Image is the decoded pixel data behind a Frame.
type Image interface {
	// JPEG encodes the image, used by remote detectors and live viewers.
	JPEG(quality int) ([]byte, error)
}

// Frame is one decoded picture. It is owned by the Source that produced it
// and stays valid only until the next call to Next.
type Frame struct {
	Width  int
	Height int
	Image  Image
}

// Info describes an opened source.
type Info struct {
	Kind Kind
	// TotalFrames is 0 when unknown (devices, streams).
	TotalFrames int
	// DeclaredFPS is 0 when unknown.
	DeclaredFPS float64
	Width       int
	Height      int
}

// Source yields frames from a device, a file or a network stream.
type Source interface {
	// Next blocks until a frame is available. It returns ErrEndOfStream when a
	// file is exhausted and an error wrapping ErrRead on read failure.
	Next(ctx context.Context) (Frame, error)
	Info() Info
	Close() error
}

// Opener opens sources from descriptors. Failures wrap ErrSourceUnavailable.
type Opener interface {
	Open(ctx context.Context, desc Descriptor) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, desc Descriptor) (Source, error)

// Open calls f(ctx, desc).
func (f OpenerFunc) Open(ctx context.Context, desc Descriptor) (Source, error) {
	return f(ctx, desc)
}
