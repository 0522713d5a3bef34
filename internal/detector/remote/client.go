package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"streetvision/internal/model"
	"streetvision/internal/source"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultRetries     = 2
	DefaultJPEGQuality = 85
)

// Config configures the HTTP detector client.
type Config struct {
	URL         string
	Timeout     time.Duration
	Retries     int
	RetryWait   time.Duration
	JPEGQuality int
	// Confidence is forwarded as a query hint; the adapter still filters.
	Confidence float64
}

// Detector posts JPEG frames to an inference service.
type Detector struct {
	client  *resty.Client
	url     string
	quality int
	conf    float64
}

type box [4]float64

type responseDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        box     `json:"box"`
	Color      string  `json:"color,omitempty"`
}

type detectResponse struct {
	Detections []responseDetection `json:"detections"`
}

// New builds a Detector. The URL is required.
func New(cfg Config) (*Detector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("detector url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4*cfg.RetryWait).
		SetHeader("User-Agent", "streetvision/1.0").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	client.SetTransport(retryClient.HTTPClient.Transport)

	return &Detector{
		client:  client,
		url:     cfg.URL,
		quality: cfg.JPEGQuality,
		conf:    cfg.Confidence,
	}, nil
}

// Detect encodes the frame and returns the service's raw detections.
func (d *Detector) Detect(ctx context.Context, frame source.Frame) ([]model.Detection, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("frame has no image")
	}
	payload, err := frame.Image.JPEG(d.quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	var out detectResponse
	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(payload).
		SetResult(&out)
	if d.conf > 0 {
		req.SetQueryParam("confidence", strconv.FormatFloat(d.conf, 'f', -1, 64))
	}

	resp, err := req.Post(d.url)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode(), resp.String())
	}

	detections := make([]model.Detection, 0, len(out.Detections))
	for _, rd := range out.Detections {
		detections = append(detections, model.Detection{
			Label:      rd.Label,
			Confidence: rd.Confidence,
			X:          int(rd.Box[0]),
			Y:          int(rd.Box[1]),
			Width:      int(rd.Box[2]),
			Height:     int(rd.Box[3]),
			Color:      rd.Color,
		})
	}
	return detections, nil
}
