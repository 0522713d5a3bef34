package handler

import (
	"encoding/json"
	"net/http"

	"streetvision/internal/logger"
	"streetvision/internal/pipeline"
	"streetvision/internal/source"
)

type startRequest struct {
	Source string `json:"source"`
}

type settingsRequest struct {
	TargetRate  *int `json:"target_rate"`
	FrameStride *int `json:"frame_stride"`
}

type settingsResponse struct {
	TargetRate  int `json:"target_rate"`
	FrameStride int `json:"frame_stride"`
}

// StartPipelineHandler opens the requested source and starts processing it
// in the background. Results are also sent to obs.
func StartPipelineHandler(runner *pipeline.Runner, obs pipeline.Observer, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if req.Source == "" {
			badRequest(w, "source is required")
			return
		}

		desc, err := source.ParseDescriptor(req.Source)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		if err := runner.Start(r.Context(), desc, obs); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Pipeline started on %s", desc)
		writeJSON(w, http.StatusAccepted, runner.Status())
	}
}

// StopPipelineHandler asks the pipeline to stop. Stopping an idle pipeline is fine.
func StopPipelineHandler(runner *pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runner.Stop()
		writeJSON(w, http.StatusOK, runner.Status())
	}
}

func StatusHandler(runner *pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runner.Status())
	}
}

// SettingsHandler updates the throttle settings of the live pipeline. Values
// are clamped; the effective settings are returned.
func SettingsHandler(runner *pipeline.Runner, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		status := runner.Status()
		resp := settingsResponse{TargetRate: status.TargetRate, FrameStride: status.FrameStride}
		if req.TargetRate != nil {
			resp.TargetRate = runner.SetTargetRate(*req.TargetRate)
		}
		if req.FrameStride != nil {
			resp.FrameStride = runner.SetFrameStride(*req.FrameStride)
		}

		logger.Info("Settings updated: target rate %d, frame stride %d", resp.TargetRate, resp.FrameStride)
		writeJSON(w, http.StatusOK, resp)
	}
}
