package source

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Kind selects the source variant.
type Kind int

const (
	KindDevice Kind = iota
	KindFile
	KindStream
)

// String returns the name used in logs and status responses.
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// streamSchemes lists URL schemes accepted for network streams.
var streamSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"rtmp":  true,
	"http":  true,
	"https": true,
	"udp":   true,
	"tcp":   true,
}

// Descriptor tells an Opener what to open.
type Descriptor struct {
	Kind   Kind
	Device int
	Path   string
	URL    string
}

// DeviceDescriptor describes a capture device by index.
func DeviceDescriptor(index int) Descriptor {
	return Descriptor{Kind: KindDevice, Device: index}
}

// FileDescriptor describes a local video file.
func FileDescriptor(path string) Descriptor {
	return Descriptor{Kind: KindFile, Path: path}
}

// StreamDescriptor describes a network stream.
func StreamDescriptor(rawURL string) Descriptor {
	return Descriptor{Kind: KindStream, URL: rawURL}
}

// ParseDescriptor guesses the source kind from a user string: a non-negative
// integer is a device, a URL with a stream scheme is a stream, anything else is
// a file path. The result is validated.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, fmt.Errorf("%w: empty source", ErrSourceUnavailable)
	}

	var desc Descriptor
	if index, err := strconv.Atoi(s); err == nil {
		desc = DeviceDescriptor(index)
	} else if scheme, _, ok := strings.Cut(s, "://"); ok && streamSchemes[strings.ToLower(scheme)] {
		desc = StreamDescriptor(s)
	} else {
		desc = FileDescriptor(s)
	}

	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// Validate performs the minimal sanity checks for each kind.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindDevice:
		if d.Device < 0 {
			return fmt.Errorf("%w: negative device index %d", ErrSourceUnavailable, d.Device)
		}
	case KindFile:
		if d.Path == "" {
			return fmt.Errorf("%w: empty file path", ErrSourceUnavailable)
		}
		info, err := os.Stat(d.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, d.Path)
		}
	case KindStream:
		u, err := url.Parse(d.URL)
		if err != nil {
			return fmt.Errorf("%w: invalid stream url: %v", ErrSourceUnavailable, err)
		}
		if !streamSchemes[strings.ToLower(u.Scheme)] {
			return fmt.Errorf("%w: unsupported stream scheme %q", ErrSourceUnavailable, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: stream url has no host", ErrSourceUnavailable)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %d", ErrSourceUnavailable, d.Kind)
	}
	return nil
}

// String renders the descriptor for logs. Stream credentials are redacted.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindDevice:
		return fmt.Sprintf("device:%d", d.Device)
	case KindFile:
		return "file:" + d.Path
	case KindStream:
		if u, err := url.Parse(d.URL); err == nil {
			return "stream:" + u.Redacted()
		}
		return "stream:" + d.URL
	default:
		return "unknown"
	}
}
