package pipeline

import (
	"streetvision/internal/model"
	"streetvision/internal/source"
)

// Observer receives pipeline output. Both methods run on the pipeline
// goroutine and must return quickly. The frame is only valid during the call.
type Observer interface {
	// OnFrame is called for every delivered frame, throttled or not.
	OnFrame(frame source.Frame, meta model.FrameMetadata)
	// OnResult is called after a result is appended to the history.
	OnResult(result model.ProcessedResult)
}

// Observers fans out to every non-nil observer in order.
type Observers []Observer

func (o Observers) OnFrame(frame source.Frame, meta model.FrameMetadata) {
	for _, obs := range o {
		if obs != nil {
			obs.OnFrame(frame, meta)
		}
	}
}

func (o Observers) OnResult(result model.ProcessedResult) {
	for _, obs := range o {
		if obs != nil {
			obs.OnResult(result)
		}
	}
}

// ObserverFuncs adapts plain functions. Nil fields are skipped.
type ObserverFuncs struct {
	Frame  func(source.Frame, model.FrameMetadata)
	Result func(model.ProcessedResult)
}

func (f ObserverFuncs) OnFrame(frame source.Frame, meta model.FrameMetadata) {
	if f.Frame != nil {
		f.Frame(frame, meta)
	}
}

func (f ObserverFuncs) OnResult(result model.ProcessedResult) {
	if f.Result != nil {
		f.Result(result)
	}
}

type nopObserver struct{}

func (nopObserver) OnFrame(source.Frame, model.FrameMetadata) {}
func (nopObserver) OnResult(model.ProcessedResult)            {}
