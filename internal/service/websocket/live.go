package websocket

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"streetvision/internal/export"
	"streetvision/internal/logger"
	"streetvision/internal/model"
	"streetvision/internal/source"
)

const previewQuality = 70

// Broadcaster is the part of HubService the live observer needs.
type Broadcaster interface {
	Broadcast(message []byte) bool
	GetClientCount() int
}

type frameMessage struct {
	Type        string `json:"type"`
	FrameNumber int    `json:"frame_number"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Image       string `json:"image"`
}

type resultMessage struct {
	Type string `json:"type"`
	export.FrameRecord
}

// LiveObserver streams preview frames and results to viewers. Frames are
// paced by a token bucket; results are always sent.
type LiveObserver struct {
	hub     Broadcaster
	limiter *rate.Limiter
	logger  *logger.Logger
	now     func() time.Time
}

// NewLiveObserver sends at most previewFPS frames per second.
func NewLiveObserver(hub Broadcaster, previewFPS int, logger *logger.Logger) *LiveObserver {
	if previewFPS < 1 {
		previewFPS = 1
	}
	return &LiveObserver{
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(previewFPS), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// OnFrame implements pipeline.Observer.
func (o *LiveObserver) OnFrame(frame source.Frame, meta model.FrameMetadata) {
	if o.hub.GetClientCount() == 0 || frame.Image == nil {
		return
	}
	if !o.limiter.AllowN(o.now(), 1) {
		return
	}

	jpeg, err := frame.Image.JPEG(previewQuality)
	if err != nil {
		o.logger.Warning("Failed to encode preview frame %d: %v", meta.SequenceNumber, err)
		return
	}

	o.send(frameMessage{
		Type:        "frame",
		FrameNumber: meta.SequenceNumber,
		Width:       frame.Width,
		Height:      frame.Height,
		Image:       base64.StdEncoding.EncodeToString(jpeg),
	})
}

// OnResult implements pipeline.Observer.
func (o *LiveObserver) OnResult(result model.ProcessedResult) {
	if o.hub.GetClientCount() == 0 {
		return
	}
	o.send(resultMessage{Type: "result", FrameRecord: export.Record(result)})
}

func (o *LiveObserver) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		o.logger.Error("Failed to encode live message: %v", err)
		return
	}
	if !o.hub.Broadcast(data) {
		o.logger.Warning("Live queue full, message dropped")
	}
}
