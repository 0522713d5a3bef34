package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"streetvision/internal/detector/remote"
	"streetvision/internal/logger"
	"streetvision/internal/pipeline"
	"streetvision/internal/throttle"
)

type Config struct {
	Port       int    `envconfig:"PORT" default:"8080"`
	APIToken   string `envconfig:"API_TOKEN"`
	LogDir     string `envconfig:"LOG_DIR" default:"./logs"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev     bool   `envconfig:"LOG_DEV" default:"false"`
	ExportDir  string `envconfig:"EXPORT_DIR" default:"./exports"`
	DBPath     string `envconfig:"DB_PATH" default:"./data/analyses.db"`
	PreviewFPS int    `envconfig:"PREVIEW_FPS" default:"15"`

	// Snapshots of frames with detections; an empty directory disables them.
	SnapshotDir      string        `envconfig:"SNAPSHOT_DIR"`
	SnapshotLimit    int           `envconfig:"SNAPSHOT_LIMIT" default:"10"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"30s"`

	// Local SSD MobileNet graph, used when DetectorURL is empty.
	ModelPath       string `envconfig:"MODEL_PATH" default:"./models/frozen_inference_graph.pb"`
	ModelConfigPath string `envconfig:"MODEL_CONFIG_PATH" default:"./models/ssd_mobilenet_v1_coco_2017_11_17.pbtxt"`

	DetectorURL     string        `envconfig:"DETECTOR_URL"`
	DetectorTimeout time.Duration `envconfig:"DETECTOR_TIMEOUT" default:"10s"`
	DetectorRetries int           `envconfig:"DETECTOR_RETRIES" default:"2"`

	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.5"`
	TargetRate          int     `envconfig:"TARGET_RATE" default:"10"`
	FrameStride         int     `envconfig:"FRAME_STRIDE" default:"1"`
	MaxHistory          int     `envconfig:"MAX_HISTORY" default:"1000"`

	ReconnectInterval    time.Duration `envconfig:"RECONNECT_INTERVAL" default:"2s"`
	ReconnectMaxInterval time.Duration `envconfig:"RECONNECT_MAX_INTERVAL" default:"0s"`
	ReconnectMaxRetries  int           `envconfig:"RECONNECT_MAX_RETRIES" default:"0"`

	DeviceWidth  int `envconfig:"DEVICE_WIDTH" default:"640"`
	DeviceHeight int `envconfig:"DEVICE_HEIGHT" default:"480"`
	DeviceFPS    int `envconfig:"DEVICE_FPS" default:"30"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize clamps values that have a sane nearest setting.
func (c *Config) Normalize() {
	c.TargetRate = throttle.ClampRate(c.TargetRate)
	c.FrameStride = throttle.ClampStride(c.FrameStride)
	if c.PreviewFPS < 1 {
		c.PreviewFPS = 1
	}
}

// Validate rejects settings that cannot be clamped.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.DetectorTimeout < 0 || c.DetectorRetries < 0 {
		return fmt.Errorf("detector timeout and retries must not be negative")
	}
	if err := c.Pipeline().Validate(); err != nil {
		return fmt.Errorf("invalid pipeline settings: %w", err)
	}
	return nil
}

// Pipeline returns the runner settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		ConfidenceThreshold: c.ConfidenceThreshold,
		TargetRate:          c.TargetRate,
		FrameStride:         c.FrameStride,
		MaxHistory:          c.MaxHistory,
		Reconnect: pipeline.ReconnectPolicy{
			Interval:    c.ReconnectInterval,
			MaxInterval: c.ReconnectMaxInterval,
			MaxRetries:  c.ReconnectMaxRetries,
		},
	}
}

// Logging returns the logger settings.
func (c *Config) Logging() logger.Options {
	return logger.Options{
		Directory:   c.LogDir,
		Level:       c.LogLevel,
		Development: c.LogDev,
	}
}

// RemoteDetector returns the HTTP detector settings.
func (c *Config) RemoteDetector() remote.Config {
	return remote.Config{
		URL:        c.DetectorURL,
		Timeout:    c.DetectorTimeout,
		Retries:    c.DetectorRetries,
		Confidence: c.ConfidenceThreshold,
	}
}
